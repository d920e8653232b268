// Package coststore implements the relational cost/latency metrics store.
// It supports SQLite (default) and PostgreSQL, selected by the scheme of a
// single DATABASE_URL, and is fail-soft: every write swallows its own error
// and logs to stderr rather than propagating to the caller.
package coststore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect distinguishes SQL placeholder style and DDL id-column syntax.
type Dialect string

const (
	SQLite     Dialect = "sqlite"
	PostgreSQL Dialect = "postgresql"
)

// CostRow mirrors one row of the costs table.
type CostRow struct {
	ID           int64
	Timestamp    time.Time
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	LatencyMS    int
	HeinzelID    string
	SessionID    string
	TaskID       string
	Status       string // success | error | rate_limit
	ErrorMessage string
}

// Store wraps a *sql.DB with the costs table's CRUD surface. A Store whose
// DB is nil is fully inert: every method becomes a silent no-op,
// matching the original's "connect failed, disabled" behavior.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// ResolveURL turns a DATABASE_URL-style string into a dialect and driver DSN,
// resolving relative sqlite paths against dataDir.
func ResolveURL(databaseURL, dataDir string) (Dialect, string) {
	if strings.HasPrefix(databaseURL, "postgresql://") || strings.HasPrefix(databaseURL, "postgres://") {
		return PostgreSQL, databaseURL
	}
	path := databaseURL
	if strings.HasPrefix(databaseURL, "sqlite:///") {
		path = databaseURL[len("sqlite:///"):]
	}
	if !strings.HasPrefix(path, "/") {
		path = dataDir + "/" + path
	}
	return SQLite, path
}

const createTableSQLite = `
CREATE TABLE IF NOT EXISTS costs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER DEFAULT 0,
	output_tokens INTEGER DEFAULT 0,
	latency_ms    INTEGER DEFAULT 0,
	heinzel_id    TEXT,
	session_id    TEXT,
	task_id       TEXT,
	status        TEXT DEFAULT 'success',
	error_message TEXT
)`

const createTablePostgres = `
CREATE TABLE IF NOT EXISTS costs (
	id            SERIAL PRIMARY KEY,
	ts            TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER DEFAULT 0,
	output_tokens INTEGER DEFAULT 0,
	latency_ms    INTEGER DEFAULT 0,
	heinzel_id    TEXT,
	session_id    TEXT,
	task_id       TEXT,
	status        TEXT DEFAULT 'success',
	error_message TEXT
)`

// Connect opens the store, creating the costs table if absent. Connection
// failure is not fatal: it disables the store and logs to stderr, mirroring
// the original CostLogger's fail-soft startup.
func Connect(ctx context.Context, dialect Dialect, dsn string) *Store {
	driver := "sqlite"
	ddl := createTableSQLite
	if dialect == PostgreSQL {
		driver = "pgx"
		ddl = createTablePostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coststore: connect error, disabled: %v\n", err)
		return &Store{}
	}
	if dialect == PostgreSQL {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		fmt.Fprintf(os.Stderr, "coststore: create table error, disabled: %v\n", err)
		db.Close()
		return &Store{}
	}
	return &Store{db: db, dialect: dialect}
}

// Disconnect closes the underlying pool, if any.
func (s *Store) Disconnect() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) placeholder(n int) string {
	if s.dialect == PostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// LogRequest inserts one cost row. Errors are swallowed and logged to
// stderr, never returned to the caller: an observability failure must
// never affect the request it is recording.
func (s *Store) LogRequest(ctx context.Context, row CostRow) {
	if s.db == nil {
		return
	}
	query := fmt.Sprintf(
		`INSERT INTO costs (provider, model, input_tokens, output_tokens, latency_ms, heinzel_id, session_id, task_id, status, error_message)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
		s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10),
	)
	_, err := s.db.ExecContext(ctx, query,
		row.Provider, row.Model, row.InputTokens, row.OutputTokens, row.LatencyMS,
		nullable(row.HeinzelID), nullable(row.SessionID), nullable(row.TaskID),
		row.Status, nullable(row.ErrorMessage),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coststore: log error (non-fatal): %v\n", err)
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// sqlTimeLayout matches the "YYYY-MM-DD HH:MM:SS" text both drivers store
// for CURRENT_TIMESTAMP, so string comparison orders correctly.
const sqlTimeLayout = "2006-01-02 15:04:05"

func parseRowTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(sqlTimeLayout, t); err == nil {
			return parsed
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	case []byte:
		return parseRowTime(string(t))
	}
	return time.Time{}
}

// QueryFilter selects cost rows for Query / Summary.
type QueryFilter struct {
	SessionID string
	HeinzelID string
	Provider  string
	Model     string
	Status    string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

func (s *Store) buildWhere(f QueryFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = %s", col, s.placeholder(len(args))))
	}
	add("session_id", f.SessionID)
	add("heinzel_id", f.HeinzelID)
	add("provider", f.Provider)
	add("model", f.Model)
	add("status", f.Status)
	if f.Since != nil {
		args = append(args, f.Since.UTC().Format(sqlTimeLayout))
		conds = append(conds, fmt.Sprintf("ts >= %s", s.placeholder(len(args))))
	}
	if f.Until != nil {
		args = append(args, f.Until.UTC().Format(sqlTimeLayout))
		conds = append(conds, fmt.Sprintf("ts <= %s", s.placeholder(len(args))))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Query returns rows matching f, newest first, capped at 1000.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]CostRow, error) {
	if s.db == nil {
		return nil, nil
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if f.Limit > 1000 {
		limit = 1000
	}
	where, args := s.buildWhere(f)
	query := fmt.Sprintf("SELECT id, ts, provider, model, input_tokens, output_tokens, latency_ms, heinzel_id, session_id, task_id, status, error_message FROM costs %s ORDER BY ts DESC LIMIT %d", where, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coststore: query error: %v\n", err)
		return nil, nil
	}
	defer rows.Close()

	var out []CostRow
	for rows.Next() {
		var r CostRow
		var heinzelID, sessionID, taskID, errMsg sql.NullString
		var ts interface{}
		if err := rows.Scan(&r.ID, &ts, &r.Provider, &r.Model, &r.InputTokens, &r.OutputTokens, &r.LatencyMS,
			&heinzelID, &sessionID, &taskID, &r.Status, &errMsg); err != nil {
			continue
		}
		r.Timestamp = parseRowTime(ts)
		r.HeinzelID = heinzelID.String
		r.SessionID = sessionID.String
		r.TaskID = taskID.String
		r.ErrorMessage = errMsg.String
		out = append(out, r)
	}
	return out, nil
}

// Summary aggregates rows matching f.
type Summary struct {
	TotalRequests    int
	TotalInputTokens int
	TotalOutputTokens int
	AvgLatencyMS     float64
	ErrorCount       int
}

// Summarize returns the aggregate metrics pinned by the spec's testable
// properties: count, summed tokens, average latency, error count.
func (s *Store) Summarize(ctx context.Context, f QueryFilter) (Summary, error) {
	if s.db == nil {
		return Summary{}, nil
	}
	where, args := s.buildWhere(f)
	query := fmt.Sprintf(`SELECT
		COUNT(*),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COALESCE(AVG(latency_ms), 0),
		SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
		FROM costs %s`, where)
	row := s.db.QueryRowContext(ctx, query, args...)
	var sum Summary
	var errorCount sql.NullInt64
	if err := row.Scan(&sum.TotalRequests, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.AvgLatencyMS, &errorCount); err != nil {
		fmt.Fprintf(os.Stderr, "coststore: summary error: %v\n", err)
		return Summary{}, nil
	}
	sum.ErrorCount = int(errorCount.Int64)
	return sum, nil
}

// DeleteOlderThan deletes cost rows with ts before cutoff, returning the
// number of rows removed. Used by the retention sweeper.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if s.db == nil {
		return 0, nil
	}
	query := fmt.Sprintf("DELETE FROM costs WHERE ts < %s", s.placeholder(1))
	res, err := s.db.ExecContext(ctx, query, cutoff.UTC().Format(sqlTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("coststore: delete older than: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
