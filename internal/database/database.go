package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/itstheanurag/codemare/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const DatabasePingTimeout = 10

type Database struct {
	Pool *pgxpool.Pool
	log  *zerolog.Logger
}

type multiTracer struct {
	tracers []pgx.QueryTracer
}

func (mt *multiTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	for _, t := range mt.tracers {
		ctx = t.TraceQueryStart(ctx, conn, data)
	}
	return ctx
}

func (mt *multiTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	for _, t := range mt.tracers {
		t.TraceQueryEnd(ctx, conn, data)
	}
}

type queryStartKey struct{}

type queryStart struct {
	sql   string
	start time.Time
}

// queryLogger logs every statement with its duration at debug level and
// failures at warn level.
type queryLogger struct {
	log *zerolog.Logger
}

func (q *queryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, start: time.Now()})
}

func (q *queryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	if data.Err != nil {
		q.log.Warn().Err(data.Err).Str("sql", qs.sql).Dur("duration", time.Since(qs.start)).Msg("query failed")
		return
	}
	q.log.Debug().Str("sql", qs.sql).Str("tag", data.CommandTag.String()).Dur("duration", time.Since(qs.start)).Msg("query")
}

// DSN builds the connection string for conf.Db.
func DSN(conf *config.Config) string {
	host := net.JoinHostPort(conf.Db.Host, strconv.Itoa(conf.Db.Port))
	encodedPassword := url.QueryEscape(conf.Db.Password)

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		conf.Db.User,
		encodedPassword,
		host,
		conf.Db.Name,
		conf.Db.SSLMode,
	)
}

func New(conf *config.Config, log *zerolog.Logger) (*Database, error) {
	pgxPoolConfig, err := pgxpool.ParseConfig(DSN(conf))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pgxPoolConfig.ConnConfig.RuntimeParams["application_name"] = "codemare"
	if conf.Db.MaxConns > 0 {
		pgxPoolConfig.MaxConns = conf.Db.MaxConns
	}
	if conf.Db.LogQuery {
		pgxPoolConfig.ConnConfig.Tracer = &multiTracer{
			tracers: []pgx.QueryTracer{&queryLogger{log: log}},
		}
	}

	pgxPoolConfig.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		return dialer.DialContext(ctx, network, addr)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), pgxPoolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DatabasePingTimeout*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", conf.Db.Host).Str("database", conf.Db.Name).Msg("database connection established")

	return &Database{Pool: pool, log: log}, nil
}

func (db *Database) Close() error {
	db.log.Info().Msg("Closing database connection pool")
	db.Pool.Close()
	return nil
}
