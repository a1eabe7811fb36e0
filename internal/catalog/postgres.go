package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS problems (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	difficulty TEXT NOT NULL,
	position   INTEGER NOT NULL DEFAULT 0,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DB is the subset of pgxpool.Pool the catalog uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresCatalog keeps each problem as a JSONB document in the problems
// table.
type PostgresCatalog struct {
	db     DB
	logger *zerolog.Logger
}

func NewPostgresCatalog(db DB, logger *zerolog.Logger) *PostgresCatalog {
	return &PostgresCatalog{db: db, logger: logger}
}

func (c *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create problems table: %w", err)
	}
	return nil
}

func (c *PostgresCatalog) List(ctx context.Context) ([]models.ProblemSummary, error) {
	rows, err := c.db.Query(ctx, `SELECT id, title, difficulty FROM problems ORDER BY position, id`)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Internal, "Failed to fetch problems")
	}
	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ProblemSummary, error) {
		var s models.ProblemSummary
		err := row.Scan(&s.ID, &s.Title, &s.Difficulty)
		return s, err
	})
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Internal, "Failed to fetch problems")
	}
	return summaries, nil
}

func (c *PostgresCatalog) Get(ctx context.Context, id string) (*models.Problem, error) {
	if !validID(id) {
		return nil, notFound()
	}
	var body []byte
	err := c.db.QueryRow(ctx, `SELECT body FROM problems WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound()
	}
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Internal, "Failed to fetch problem")
	}

	var p models.Problem
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperr.Wrapf(err, apperr.Internal, "Failed to fetch problem")
	}
	p.ID = id
	return &p, nil
}

// Upsert stores p at position, replacing any previous version.
func (c *PostgresCatalog) Upsert(ctx context.Context, p models.Problem, position int) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode problem %s: %w", p.ID, err)
	}
	_, err = c.db.Exec(ctx, `
INSERT INTO problems (id, title, difficulty, position, body)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET title = EXCLUDED.title, difficulty = EXCLUDED.difficulty,
    position = EXCLUDED.position, body = EXCLUDED.body, updated_at = now()`,
		p.ID, p.Title, string(p.Difficulty), position, body)
	if err != nil {
		return fmt.Errorf("failed to store problem %s: %w", p.ID, err)
	}
	return nil
}

// Import copies every problem of src into the table, keeping index order.
func (c *PostgresCatalog) Import(ctx context.Context, src *FileCatalog) (int, error) {
	problems, err := src.All(ctx)
	if err != nil {
		return 0, err
	}
	for i, p := range problems {
		if err := c.Upsert(ctx, p, i); err != nil {
			return i, err
		}
	}
	c.logger.Info().Int("problems", len(problems)).Msg("catalog imported")
	return len(problems), nil
}
