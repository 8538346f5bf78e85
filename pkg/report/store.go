package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/armorclaw/errsink/pkg/errchain"
)

// ErrNotFound is returned when no report has the requested trace ID
var ErrNotFound = errors.New("report not found")

// Store persists crash reports to SQLite
type Store struct {
	db            *sql.DB
	path          string
	mu            sync.RWMutex
	retentionDays int
}

// StoreConfig configures the report store
type StoreConfig struct {
	Path          string // Path to SQLite database file
	RetentionDays int    // Days to keep resolved reports (0 = default 30)
}

// OpenStore opens or creates the report database
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:            db,
		path:          cfg.Path,
		retentionDays: cfg.RetentionDays,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS reports (
			trace_id     TEXT PRIMARY KEY,
			fingerprint  TEXT NOT NULL,
			kind         TEXT NOT NULL,
			origin       TEXT NOT NULL,
			message      TEXT NOT NULL,
			report_json  TEXT NOT NULL,
			first_seen   TIMESTAMP NOT NULL,
			last_seen    TIMESTAMP NOT NULL,
			occurrences  INTEGER DEFAULT 1,
			resolved     BOOLEAN DEFAULT FALSE,
			resolved_by  TEXT,
			resolved_at  TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_reports_fingerprint ON reports(fingerprint);
		CREATE INDEX IF NOT EXISTS idx_reports_kind ON reports(kind);
		CREATE INDEX IF NOT EXISTS idx_reports_resolved ON reports(resolved);
		CREATE INDEX IF NOT EXISTS idx_reports_last_seen ON reports(last_seen);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// StoredReport is a report as kept in the store
type StoredReport struct {
	TraceID     string        `json:"trace_id"`
	Fingerprint string        `json:"fingerprint"`
	Kind        errchain.Kind `json:"kind"`
	Origin      Origin        `json:"origin"`
	Message     string        `json:"message"`
	Report      *Report       `json:"report,omitempty"`
	FirstSeen   time.Time     `json:"first_seen"`
	LastSeen    time.Time     `json:"last_seen"`
	Occurrences int           `json:"occurrences"`
	Resolved    bool          `json:"resolved"`
	ResolvedBy  string        `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// Save persists r. An unresolved report with the same fingerprint absorbs
// it as one more occurrence; r.TraceID is then set to that report's ID.
// The trace ID the report is stored under is returned.
func (s *Store) Save(ctx context.Context, r *Report) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRowContext(ctx,
		"SELECT trace_id FROM reports WHERE fingerprint = ? AND resolved = FALSE ORDER BY last_seen DESC LIMIT 1",
		r.Fingerprint,
	).Scan(&existing)

	switch {
	case err == nil:
		r.TraceID = existing
		data, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("failed to serialize report: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE reports SET
				report_json = ?,
				message = ?,
				last_seen = ?,
				occurrences = occurrences + 1
			WHERE trace_id = ?
		`, string(data), r.Message, r.Timestamp.UTC(), existing)
		if err != nil {
			return "", fmt.Errorf("update failed: %w", err)
		}
		return existing, nil

	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("lookup failed: %w", err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to serialize report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (trace_id, fingerprint, kind, origin, message, report_json, first_seen, last_seen, occurrences)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		r.TraceID,
		r.Fingerprint,
		string(r.Kind),
		string(r.Origin),
		r.Message,
		string(data),
		r.Timestamp.UTC(),
		r.Timestamp.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert failed: %w", err)
	}
	return r.TraceID, nil
}

// ReportQuery defines parameters for querying reports
type ReportQuery struct {
	TraceID     string        // Exact trace ID
	Kind        errchain.Kind // Filter by innermost kind
	Origin      Origin        // Filter by origin
	Fingerprint string        // Filter by fingerprint
	Resolved    *bool         // Filter by resolved status (nil = all)
	Since       time.Time     // Only reports last seen after this time
	Until       time.Time     // Only reports last seen before this time
	Limit       int           // Max results (default 20, max 1000)
	Offset      int           // Pagination offset
	OrderBy     string        // "first_seen", "last_seen", "occurrences" (default "last_seen")
	OrderAsc    bool          // Sort ascending (default descending)
}

// Query retrieves reports matching the query parameters
func (s *Store) Query(ctx context.Context, q ReportQuery) ([]StoredReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}

	query := "SELECT trace_id, fingerprint, kind, origin, message, report_json, first_seen, last_seen, occurrences, resolved, resolved_by, resolved_at FROM reports WHERE 1=1"
	args := []any{}

	if q.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, q.TraceID)
	}
	if q.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(q.Kind))
	}
	if q.Origin != "" {
		query += " AND origin = ?"
		args = append(args, string(q.Origin))
	}
	if q.Fingerprint != "" {
		query += " AND fingerprint = ?"
		args = append(args, q.Fingerprint)
	}
	if q.Resolved != nil {
		query += " AND resolved = ?"
		args = append(args, *q.Resolved)
	}
	if !q.Since.IsZero() {
		query += " AND last_seen >= ?"
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query += " AND last_seen <= ?"
		args = append(args, q.Until.UTC())
	}

	orderCol := "last_seen"
	switch q.OrderBy {
	case "first_seen", "occurrences":
		orderCol = q.OrderBy
	}
	orderDir := "DESC"
	if q.OrderAsc {
		orderDir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, trace_id ASC", orderCol, orderDir)

	query += " LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []StoredReport
	for rows.Next() {
		var sr StoredReport
		var kind, origin, reportJSON string
		var resolvedAt sql.NullTime
		var resolvedBy sql.NullString

		err := rows.Scan(
			&sr.TraceID,
			&sr.Fingerprint,
			&kind,
			&origin,
			&sr.Message,
			&reportJSON,
			&sr.FirstSeen,
			&sr.LastSeen,
			&sr.Occurrences,
			&sr.Resolved,
			&resolvedBy,
			&resolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		sr.Kind = errchain.Kind(kind)
		sr.Origin = Origin(origin)

		var r Report
		if json.Unmarshal([]byte(reportJSON), &r) == nil {
			sr.Report = &r
		}
		if resolvedBy.Valid {
			sr.ResolvedBy = resolvedBy.String
		}
		if resolvedAt.Valid {
			sr.ResolvedAt = &resolvedAt.Time
		}

		results = append(results, sr)
	}

	return results, rows.Err()
}

// Get retrieves a single report by trace ID
func (s *Store) Get(ctx context.Context, traceID string) (*StoredReport, error) {
	if traceID == "" {
		return nil, fmt.Errorf("%w: empty trace ID", ErrNotFound)
	}
	results, err := s.Query(ctx, ReportQuery{TraceID: traceID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, traceID)
	}
	return &results[0], nil
}

// Resolve marks a report as resolved
func (s *Store) Resolve(ctx context.Context, traceID, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE reports SET
			resolved = TRUE,
			resolved_by = ?,
			resolved_at = ?
		WHERE trace_id = ?
	`, resolvedBy, time.Now().UTC(), traceID)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}
	return requireAffected(result, traceID)
}

// Unresolve marks a report as unresolved (for reopening)
func (s *Store) Unresolve(ctx context.Context, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE reports SET
			resolved = FALSE,
			resolved_by = NULL,
			resolved_at = NULL
		WHERE trace_id = ?
	`, traceID)
	if err != nil {
		return fmt.Errorf("unresolve failed: %w", err)
	}
	return requireAffected(result, traceID)
}

// Delete removes a report permanently
func (s *Store) Delete(ctx context.Context, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE trace_id = ?", traceID)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return requireAffected(result, traceID)
}

func requireAffected(result sql.Result, traceID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, traceID)
	}
	return nil
}

// Cleanup removes resolved reports older than the retention period
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	return s.cleanupBefore(ctx, time.Now().UTC().AddDate(0, 0, -s.retentionDays))
}

func (s *Store) cleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM reports WHERE resolved = TRUE AND resolved_at < ?",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return result.RowsAffected()
}

// StoreStats holds statistics about the report store
type StoreStats struct {
	TotalReports      int            `json:"total_reports"`
	UnresolvedReports int            `json:"unresolved_reports"`
	TotalOccurrences  int            `json:"total_occurrences"`
	UniqueFingerprint int            `json:"unique_fingerprints"`
	ByKind            map[string]int `json:"by_kind"`
	ByOrigin          map[string]int `json:"by_origin"`
}

// Stats returns statistics about stored reports
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats StoreStats

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN resolved = FALSE THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(occurrences), 0),
			COUNT(DISTINCT fingerprint)
		FROM reports
	`).Scan(&stats.TotalReports, &stats.UnresolvedReports, &stats.TotalOccurrences, &stats.UniqueFingerprint)
	if err != nil {
		return stats, err
	}

	if stats.ByKind, err = s.countBy(ctx, "kind"); err != nil {
		return stats, err
	}
	if stats.ByOrigin, err = s.countBy(ctx, "origin"); err != nil {
		return stats, err
	}

	return stats, nil
}

// countBy groups reports by a fixed column name
func (s *Store) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM reports GROUP BY %s", column, column),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}
