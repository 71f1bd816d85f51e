// Package history persists a bounded run history and the blocked-execution
// event log for trend reporting and audit. Persistence is strictly a side
// effect: every failure here is logged and swallowed by callers, and must
// never alter or delay a verdict already computed.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"shapetrace/internal/logging"
	"shapetrace/internal/report"
)

// DefaultCap bounds the runs table to the most recent runs.
const DefaultCap = 50

// Store manages the control-plane history database.
type Store struct {
	db   *sql.DB
	path string
	cap  int
	mu   sync.Mutex
}

// NewStore creates or opens the history store under the given directory.
func NewStore(dir string, runCap int) (*Store, error) {
	if runCap <= 0 {
		runCap = DefaultCap
	}
	dbPath := filepath.Join(dir, "shapetrace_history.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: dbPath, cap: runCap}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	schema := `
	-- Bounded run history, pruned to the most recent runs on every insert
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		gate_verdict TEXT NOT NULL,
		overall_action TEXT NOT NULL,
		global_rsr REAL NOT NULL,
		wire_blocked INTEGER NOT NULL,
		pixel_blocked INTEGER NOT NULL,
		record_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);

	-- Append-only audit log, one row per blocked execution
	CREATE TABLE IF NOT EXISTS blocked_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blocked_run ON blocked_events(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RunSummary is one row of the bounded history, without the full record.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	Timestamp     time.Time `json:"timestamp"`
	GateVerdict   string    `json:"gate_verdict"`
	OverallAction string    `json:"overall_action"`
	GlobalRSR     float64   `json:"global_rsr"`
	WireBlocked   bool      `json:"wire_blocked"`
	PixelBlocked  bool      `json:"pixel_blocked"`
}

// RecordRun appends one decision record and prunes the table back to the
// configured cap (read-modify-write, oldest rows first).
func (s *Store) RecordRun(record *report.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := record.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, timestamp, gate_verdict, overall_action,
			global_rsr, wire_blocked, pixel_blocked, record_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, record.RunID, record.Timestamp, string(record.Gate.Verdict),
		string(record.Enforcement.OverallAction), record.Metrics.GlobalRSR,
		record.ExecutionDecision.WireBlocked, record.ExecutionDecision.PixelBlocked,
		string(data))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM runs WHERE run_id NOT IN (
			SELECT run_id FROM runs ORDER BY timestamp DESC, run_id DESC LIMIT ?
		)
	`, s.cap)
	if err != nil {
		return fmt.Errorf("failed to prune run history: %w", err)
	}

	logging.History("recorded run %s (action=%s)", record.RunID, record.Enforcement.OverallAction)
	return nil
}

// RecentRuns returns the newest run summaries, newest first.
func (s *Store) RecentRuns(limit int) ([]RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = s.cap
	}
	rows, err := s.db.Query(`
		SELECT run_id, timestamp, gate_verdict, overall_action, global_rsr,
			wire_blocked, pixel_blocked
		FROM runs
		ORDER BY timestamp DESC, run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Timestamp, &r.GateVerdict, &r.OverallAction,
			&r.GlobalRSR, &r.WireBlocked, &r.PixelBlocked); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BlockedEvent is one append-only audit record.
type BlockedEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	EventType string    `json:"event_type"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendBlockedEvent records one blocked execution for audit.
func (s *Store) AppendBlockedEvent(runID, eventType, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO blocked_events (run_id, event_type, reason, created_at)
		VALUES (?, ?, ?, ?)
	`, runID, eventType, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append blocked event: %w", err)
	}
	return nil
}

// BlockedEvents returns the newest audit records, newest first.
func (s *Store) BlockedEvents(limit int) ([]BlockedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, event_type, reason, created_at
		FROM blocked_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlockedEvent
	for rows.Next() {
		var e BlockedEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.EventType, &e.Reason, &e.CreatedAt); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordRunBestEffort wraps RecordRun for callers on the decision path:
// the failure is logged and dropped.
func (s *Store) RecordRunBestEffort(record *report.DecisionRecord) {
	if err := s.RecordRun(record); err != nil {
		logging.HistoryWarn("failed to persist run %s: %v", record.RunID, err)
	}
}

// AppendBlockedEventBestEffort wraps AppendBlockedEvent the same way.
func (s *Store) AppendBlockedEventBestEffort(runID, eventType, reason string) {
	if err := s.AppendBlockedEvent(runID, eventType, reason); err != nil {
		logging.HistoryWarn("failed to append blocked event for run %s: %v", runID, err)
	}
}
