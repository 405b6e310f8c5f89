package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface repositories and the credential store use.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// DefaultSlowQuery is the duration above which a statement is logged at warn.
const DefaultSlowQuery = 500 * time.Millisecond

var (
	markerRegexp = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

	errEmptyQuery    = errors.New("sql: empty query")
	errMissingMarker = errors.New("sql: marker missing or invalid")
)

// SQLRunner executes sqlinline queries on a pool. Statements without a
// marker are rejected; every statement is logged by its marker.
type SQLRunner struct {
	Pool      *pgxpool.Pool
	Logger    zerolog.Logger
	SlowQuery time.Duration
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger, SlowQuery: DefaultSlowQuery}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := splitMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, body, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("sql: exec failed")
		return tag, err
	}
	r.observe(marker, "exec", start).Int64("rows", tag.RowsAffected()).Msg("sql: exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := splitMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return scanLogger{row: r.Pool.QueryRow(ctx, body, args...), runner: r, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := splitMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.Pool.Query(ctx, body, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("sql: query failed")
		return nil, err
	}
	return &closeLogger{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// Ping checks that the pool can reach the database.
func (r *SQLRunner) Ping(ctx context.Context) error {
	return r.Pool.Ping(ctx)
}

// observe picks debug or warn depending on how long the statement took.
func (r *SQLRunner) observe(marker, op string, start time.Time) *zerolog.Event {
	elapsed := time.Since(start)
	ev := r.Logger.Debug()
	if r.SlowQuery > 0 && elapsed >= r.SlowQuery {
		ev = r.Logger.Warn().Bool("slow", true)
	}
	return ev.Str("sql", marker).Str("op", op).Dur("elapsed", elapsed)
}

type scanLogger struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (s scanLogger) Scan(dest ...any) error {
	err := s.row.Scan(dest...)
	switch {
	case err == nil:
		s.runner.observe(s.marker, "query_row", s.start).Msg("sql: query_row")
	case !IsNoRows(err):
		s.runner.Logger.Error().Err(err).Str("sql", s.marker).Msg("sql: scan failed")
	}
	return err
}

type closeLogger struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	closed bool
}

func (c *closeLogger) Close() {
	c.Rows.Close()
	if c.closed {
		return
	}
	c.closed = true
	c.runner.observe(c.marker, "query", c.start).Msg("sql: query")
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// splitMarker separates the leading "--sql <uuid>" line from the statement.
func splitMarker(query string) (marker, body string, err error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", errEmptyQuery
	}
	first, rest, _ := strings.Cut(trimmed, "\n")
	m := markerRegexp.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", "", errMissingMarker
	}
	return m[1], rest, nil
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ SQLExecutor = (*SQLRunner)(nil)
