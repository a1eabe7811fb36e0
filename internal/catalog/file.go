package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/models"
)

const indexFile = "index.json"

// FileCatalog reads index.json and <id>.json from a directory on every call,
// so edits show up without a restart.
type FileCatalog struct {
	fsys fs.FS
}

func NewFileCatalog(dir string) *FileCatalog {
	return &FileCatalog{fsys: os.DirFS(dir)}
}

func (c *FileCatalog) List(ctx context.Context) ([]models.ProblemSummary, error) {
	data, err := fs.ReadFile(c.fsys, indexFile)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Internal, "Failed to fetch problems")
	}
	var index struct {
		Problems []models.ProblemSummary `json:"problems"`
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, apperr.Wrapf(err, apperr.Internal, "Failed to fetch problems")
	}
	return index.Problems, nil
}

func (c *FileCatalog) Get(ctx context.Context, id string) (*models.Problem, error) {
	if !validID(id) {
		return nil, notFound()
	}
	data, err := fs.ReadFile(c.fsys, id+".json")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound()
	}
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Internal, "Failed to fetch problem")
	}

	var p models.Problem
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperr.Wrapf(err, apperr.Internal, "Failed to fetch problem")
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

// All loads every problem listed in the index.
func (c *FileCatalog) All(ctx context.Context) ([]models.Problem, error) {
	summaries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	problems := make([]models.Problem, 0, len(summaries))
	for _, s := range summaries {
		p, err := c.Get(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("problem %s: %w", s.ID, err)
		}
		problems = append(problems, *p)
	}
	return problems, nil
}

// Dir reports whether path is a readable catalog directory.
func Dir(path string) error {
	if _, err := os.Stat(filepath.Join(path, indexFile)); err != nil {
		return fmt.Errorf("catalog %s: %w", path, err)
	}
	return nil
}
