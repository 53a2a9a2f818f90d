// Package store implements the Event Log and Prefix/FTS Lookup (spec.md
// §4.A, §4.B) over SQLite, plus the derived pattern-statistics, sequence,
// and feedback tables that back the Suggestion Engine's tiers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors, mapped onto the protocol error-kind enum by callers.
var (
	ErrNotFound     = errors.New("store: event not found")
	ErrStorageFull  = errors.New("store: storage full")
	ErrCorrupt      = errors.New("store: database corrupt")
	ErrSchemaTooNew = errors.New("store: schema version newer than this build supports")
)

// ShellKind enumerates the recognized session shells.
type ShellKind string

const (
	ShellZsh   ShellKind = "zsh"
	ShellBash  ShellKind = "bash"
	ShellFish  ShellKind = "fish"
	ShellOther ShellKind = "other"
)

// Event is an immutable, committed history entry (spec.md §3).
type Event struct {
	ID          int64
	SessionID   string
	Timestamp   time.Time
	Command     string
	CWD         string
	Fingerprint string
	ExitCode    *int32
	DurationNS  *uint64
	Redacted    bool
}

// AppendInput carries the fields needed to commit a new Event. ID and
// Timestamp are assigned by the store.
type AppendInput struct {
	SessionID   string
	Command     string
	CWD         string
	Fingerprint string
	ExitCode    *int32
	DurationNS  *uint64
	Redacted    bool
}

// PatternStats are the derived, eventually-consistent counters for one
// (fingerprint, cwd) pair.
type PatternStats struct {
	Fingerprint  string
	CWD          string
	ExecCount    int64
	SuccessCount int64
	LastTS       time.Time
	AcceptCount  int64
	RejectCount  int64
}

// RecentFilter narrows Recent's result set.
type RecentFilter struct {
	SessionID       string
	CWD             string
	ExcludeRedacted bool
}

// Snapshot is an opaque read-consistency token: the highest Event id
// visible at the moment it was taken. Reads bounded by a Snapshot never
// observe Events committed after it, letting the Scheduler rebuild the ANN
// index without losing or double-counting an Event (spec.md §4.A).
type Snapshot struct {
	MaxID int64
}

// Store owns the single writable connection to the Event Log database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	appendStmt *sql.Stmt
	byIDStmt   *sql.Stmt
}

// Open opens (creating if absent) the SQLite database at path and brings
// its schema up to date. The daemon is expected to hold the only *Store
// for a given path; the connection pool is capped at one connection,
// matching SQLite's single-writer model.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return classifyErr(err)
	}

	var current int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return classifyErr(err)
	}
	if current > SchemaVersion {
		return ErrSchemaTooNew
	}
	if current < SchemaVersion {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations(version, applied_ts) VALUES (?, ?)`,
			SchemaVersion, time.Now().UnixNano())
		if err != nil {
			return classifyErr(err)
		}
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error
	s.appendStmt, err = s.db.Prepare(`
		INSERT INTO event (session_id, ts_ns, command, cwd, fingerprint, exit_code, duration_ns, redacted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return classifyErr(err)
	}
	s.byIDStmt, err = s.db.Prepare(`
		SELECT id, session_id, ts_ns, command, cwd, fingerprint, exit_code, duration_ns, redacted
		FROM event WHERE id = ?`)
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB exposes the underlying connection for components (ANN rebuild,
// scheduler) that need raw read access beyond this package's surface.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Append commits a new Event and updates its pattern statistics and
// session k-gram sequence table. It returns the assigned, strictly
// increasing id.
func (s *Store) Append(ctx context.Context, in AppendInput) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classifyErr(err)
	}
	defer tx.Rollback()

	now := time.Now()
	command := in.Command
	if in.Redacted {
		command = ""
	}

	res, err := tx.StmtContext(ctx, s.appendStmt).ExecContext(ctx,
		in.SessionID, now.UnixNano(), command, in.CWD, in.Fingerprint,
		nullableInt32(in.ExitCode), nullableUint64(in.DurationNS), boolToInt(in.Redacted))
	if err != nil {
		return 0, classifyErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classifyErr(err)
	}

	if err := upsertPatternStats(ctx, tx, in.Fingerprint, in.CWD, in.ExitCode, now); err != nil {
		return 0, err
	}

	if !in.Redacted {
		if err := recordSequence(ctx, tx, in.SessionID, in.Fingerprint, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classifyErr(err)
	}
	return id, nil
}

func upsertPatternStats(ctx context.Context, tx *sql.Tx, fingerprint, cwd string, exitCode *int32, ts time.Time) error {
	success := 0
	if exitCode != nil && *exitCode == 0 {
		success = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pattern_stats (fingerprint, cwd, exec_count, success_count, last_ts, accept_count, reject_count)
		VALUES (?, ?, 1, ?, ?, 0, 0)
		ON CONFLICT(fingerprint, cwd) DO UPDATE SET
			exec_count = exec_count + 1,
			success_count = success_count + excluded.success_count,
			last_ts = excluded.last_ts`,
		fingerprint, cwd, success, ts.UnixNano())
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

// sequenceHistoryDepth is the maximum k-gram order tracked (spec.md §3:
// "Ordered k-gram (k=2,3)").
const sequenceHistoryDepth = 3

func recordSequence(ctx context.Context, tx *sql.Tx, sessionID, fingerprint string, ts time.Time) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT fingerprint FROM event
		WHERE session_id = ? AND redacted = 0
		ORDER BY id DESC LIMIT ?`, sessionID, sequenceHistoryDepth)
	if err != nil {
		return classifyErr(err)
	}
	var prior []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			rows.Close()
			return classifyErr(err)
		}
		prior = append(prior, fp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classifyErr(err)
	}

	for k := 2; k <= sequenceHistoryDepth; k++ {
		if len(prior) < k-1 {
			continue
		}
		kgramFPs := make([]string, 0, k-1)
		for i := k - 2; i >= 0; i-- {
			kgramFPs = append(kgramFPs, prior[i])
		}
		kgram := strings.Join(kgramFPs, "\x1f")
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sequence_stats (kgram, next_fingerprint, count, last_ts)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(kgram, next_fingerprint) DO UPDATE SET
				count = count + 1,
				last_ts = excluded.last_ts`,
			kgram, fingerprint, ts.UnixNano())
		if err != nil {
			return classifyErr(err)
		}
	}
	return nil
}

// ByID returns a single Event by id.
func (s *Store) ByID(ctx context.Context, id int64) (Event, error) {
	row := s.byIDStmt.QueryRowContext(ctx, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, classifyErr(err)
	}
	return ev, nil
}

// Recent returns up to n Events matching filter, most recent first.
func (s *Store) Recent(ctx context.Context, n int, filter RecentFilter) ([]Event, error) {
	query := `SELECT id, session_id, ts_ns, command, cwd, fingerprint, exit_code, duration_ns, redacted FROM event WHERE 1=1`
	var args []any
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.CWD != "" {
		query += ` AND cwd = ?`
		args = append(args, filter.CWD)
	}
	if filter.ExcludeRedacted {
		query += ` AND redacted = 0`
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Search runs a full-text query over non-redacted command text, ranked by
// FTS5 bm25, most relevant first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.session_id, e.ts_ns, e.command, e.cwd, e.fingerprint, e.exit_code, e.duration_ns, e.redacted
		FROM event_fts f
		JOIN event e ON e.id = f.rowid
		WHERE event_fts MATCH ? AND e.redacted = 0
		ORDER BY bm25(event_fts)
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// PrefixSearch implements the Prefix/FTS Lookup contract (spec.md §4.B):
// candidates whose command starts with p (case-sensitive, byte-wise),
// ranked first by cwd ancestry, then recency, limited to limit.
func (s *Store) PrefixSearch(ctx context.Context, p, cwd string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, ts_ns, command, cwd, fingerprint, exit_code, duration_ns, redacted
		FROM event
		WHERE redacted = 0 AND command GLOB ?
		ORDER BY id DESC
		LIMIT ?`, globPrefix(p), limit*4)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	sortByCWDAncestryThenRecency(events, cwd)
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func globPrefix(p string) string {
	escaped := strings.NewReplacer("*", "[*]", "?", "[?]", "[", "[[]").Replace(p)
	return escaped + "*"
}

func sortByCWDAncestryThenRecency(events []Event, cwd string) {
	rank := func(e Event) int {
		if e.CWD == cwd {
			return 0
		}
		if isAncestorDir(cwd, e.CWD) || isAncestorDir(e.CWD, cwd) {
			return 1
		}
		return 2
	}
	for i := 1; i < len(events); i++ {
		for j := i; j > 0; j-- {
			if rank(events[j]) < rank(events[j-1]) {
				events[j], events[j-1] = events[j-1], events[j]
			} else {
				break
			}
		}
	}
}

func isAncestorDir(ancestor, path string) bool {
	if ancestor == path {
		return true
	}
	return strings.HasPrefix(path, ancestor+string(filepath.Separator))
}

// Stats returns the pattern statistics for fingerprint. If cwd is empty,
// counts are aggregated across every cwd the fingerprint has been seen in.
func (s *Store) Stats(ctx context.Context, fingerprint, cwd string) (PatternStats, error) {
	var row *sql.Row
	if cwd != "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT fingerprint, cwd, exec_count, success_count, last_ts, accept_count, reject_count
			FROM pattern_stats WHERE fingerprint = ? AND cwd = ?`, fingerprint, cwd)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT ?, '', COALESCE(SUM(exec_count),0), COALESCE(SUM(success_count),0),
			       COALESCE(MAX(last_ts),0), COALESCE(SUM(accept_count),0), COALESCE(SUM(reject_count),0)
			FROM pattern_stats WHERE fingerprint = ?`, fingerprint, fingerprint)
	}

	var ps PatternStats
	var lastTSNanos int64
	err := row.Scan(&ps.Fingerprint, &ps.CWD, &ps.ExecCount, &ps.SuccessCount, &lastTSNanos, &ps.AcceptCount, &ps.RejectCount)
	if errors.Is(err, sql.ErrNoRows) {
		return PatternStats{}, ErrNotFound
	}
	if err != nil {
		return PatternStats{}, classifyErr(err)
	}
	ps.LastTS = time.Unix(0, lastTSNanos)
	return ps, nil
}

// TopSuccessors returns, for a k-gram of fingerprints (most recent last),
// the most frequent successor fingerprints with their occurrence counts,
// used by the Suggestion Engine's contextual tier (spec.md §4.F tier 3).
func (s *Store) TopSuccessors(ctx context.Context, kgramFingerprints []string, limit int) ([]SequenceSuccessor, error) {
	reversed := make([]string, len(kgramFingerprints))
	for i, fp := range kgramFingerprints {
		reversed[len(kgramFingerprints)-1-i] = fp
	}
	kgram := strings.Join(reversed, "\x1f")

	rows, err := s.db.QueryContext(ctx, `
		SELECT next_fingerprint, count FROM sequence_stats
		WHERE kgram = ? ORDER BY count DESC LIMIT ?`, kgram, limit)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []SequenceSuccessor
	var total int64
	for rows.Next() {
		var succ SequenceSuccessor
		if err := rows.Scan(&succ.Fingerprint, &succ.Count); err != nil {
			return nil, classifyErr(err)
		}
		out = append(out, succ)
		total += succ.Count
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	for i := range out {
		if total > 0 {
			out[i].RelativeFrequency = float64(out[i].Count) / float64(total)
		}
	}
	return out, nil
}

// SequenceSuccessor is one candidate successor fingerprint within a
// k-gram bucket.
type SequenceSuccessor struct {
	Fingerprint       string
	Count             int64
	RelativeFrequency float64
}

// RecordFeedback updates pattern_stats accept/reject counters for
// fingerprint and attaches a feedback record (spec.md §4.F). It never
// rewrites prior scores.
func (s *Store) RecordFeedback(ctx context.Context, suggestionID, fingerprint, cwd string, accepted bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyErr(err)
	}
	defer tx.Rollback()

	col := "reject_count"
	if accepted {
		col = "accept_count"
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO pattern_stats (fingerprint, cwd, exec_count, success_count, last_ts, %s)
		VALUES (?, ?, 0, 0, 0, 1)
		ON CONFLICT(fingerprint, cwd) DO UPDATE SET %s = %s + 1`, col, col, col),
		fingerprint, cwd)
	if err != nil {
		return classifyErr(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO feedback (suggestion_id, fingerprint, accepted, ts_ns) VALUES (?, ?, ?, ?)`,
		suggestionID, fingerprint, boolToInt(accepted), time.Now().UnixNano())
	if err != nil {
		return classifyErr(err)
	}

	return classifyErr(tx.Commit())
}

// Prune deletes Events older than cutoff and returns how many were
// removed. It is idempotent (spec.md §4.A).
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event WHERE ts_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, classifyErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classifyErr(err)
	}
	return n, nil
}

// Snapshot returns a read-consistency token bounding subsequent reads to
// Events committed at or before this call.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	var maxID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM event`).Scan(&maxID)
	if err != nil {
		return Snapshot{}, classifyErr(err)
	}
	return Snapshot{MaxID: maxID.Int64}, nil
}

// Count returns the total number of non-redacted Events stored, surfaced
// by the protocol's `status` response (spec.md §6.1).
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event WHERE redacted = 0`).Scan(&n)
	if err != nil {
		return 0, classifyErr(err)
	}
	return n, nil
}

// CountSuccessfulSince returns the number of non-redacted, zero-exit Events
// with id > afterID, used by the incremental-retrain job to decide whether
// enough new successful history has accumulated (spec.md §4.I).
func (s *Store) CountSuccessfulSince(ctx context.Context, afterID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM event
		WHERE id > ? AND redacted = 0 AND exit_code = 0`, afterID).Scan(&n)
	if err != nil {
		return 0, classifyErr(err)
	}
	return n, nil
}

// RepresentativeEvents returns one Event per distinct fingerprint visible
// as of snap, each the most recent successful (exit_code = 0) occurrence,
// falling back to the most recent occurrence of any exit code if none
// succeeded. Used to rebuild the ANN index from the Event Log (spec.md
// §4.E).
func (s *Store) RepresentativeEvents(ctx context.Context, snap Snapshot) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, ts_ns, command, cwd, fingerprint, exit_code, duration_ns, redacted
		FROM event e
		WHERE id <= ? AND redacted = 0 AND id = (
			SELECT id FROM event e2
			WHERE e2.fingerprint = e.fingerprint AND e2.id <= ? AND e2.redacted = 0
			ORDER BY (CASE WHEN e2.exit_code = 0 THEN 0 ELSE 1 END), e2.id DESC
			LIMIT 1
		)`, snap.MaxID, snap.MaxID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestByFingerprint returns the most recent non-redacted Event matching
// fingerprint, used by the Suggestion Engine's contextual tier to resolve a
// canonical example for a k-gram successor (spec.md §4.F tier 3).
func (s *Store) LatestByFingerprint(ctx context.Context, fingerprint string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, ts_ns, command, cwd, fingerprint, exit_code, duration_ns, redacted
		FROM event WHERE fingerprint = ? AND redacted = 0
		ORDER BY id DESC LIMIT 1`, fingerprint)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, classifyErr(err)
	}
	return ev, nil
}

// UpsertSession creates or refreshes a session row.
func (s *Store) UpsertSession(ctx context.Context, sessionID string, shellKind ShellKind, startTS time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, start_ts, end_ts, shell_kind) VALUES (?, ?, NULL, ?)
		ON CONFLICT(id) DO NOTHING`, sessionID, startTS.UnixNano(), string(shellKind))
	return classifyErr(err)
}

// CloseSession stamps a session's end_ts.
func (s *Store) CloseSession(ctx context.Context, sessionID string, endTS time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE session SET end_ts = ? WHERE id = ?`, endTS.UnixNano(), sessionID)
	return classifyErr(err)
}

func scanEvent(row *sql.Row) (Event, error) {
	var ev Event
	var ts int64
	var exitCode sql.NullInt64
	var durationNS sql.NullInt64
	var redacted int
	var command sql.NullString
	err := row.Scan(&ev.ID, &ev.SessionID, &ts, &command, &ev.CWD, &ev.Fingerprint, &exitCode, &durationNS, &redacted)
	if err != nil {
		return Event{}, err
	}
	ev.Timestamp = time.Unix(0, ts)
	ev.Command = command.String
	ev.Redacted = redacted != 0
	if exitCode.Valid {
		v := int32(exitCode.Int64)
		ev.ExitCode = &v
	}
	if durationNS.Valid {
		v := uint64(durationNS.Int64)
		ev.DurationNS = &v
	}
	return ev, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var ev Event
		var ts int64
		var exitCode sql.NullInt64
		var durationNS sql.NullInt64
		var redacted int
		var command sql.NullString
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ts, &command, &ev.CWD, &ev.Fingerprint, &exitCode, &durationNS, &redacted); err != nil {
			return nil, classifyErr(err)
		}
		ev.Timestamp = time.Unix(0, ts)
		ev.Command = command.String
		ev.Redacted = redacted != 0
		if exitCode.Valid {
			v := int32(exitCode.Int64)
			ev.ExitCode = &v
		}
		if durationNS.Valid {
			v := uint64(durationNS.Int64)
			ev.DurationNS = &v
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "malformed") || strings.Contains(msg, "corrupt"):
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	case strings.Contains(msg, "disk full") || strings.Contains(msg, "full disk") || strings.Contains(msg, "no space"):
		return fmt.Errorf("%w: %v", ErrStorageFull, err)
	default:
		return err
	}
}

func nullableInt32(v *int32) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableUint64(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
