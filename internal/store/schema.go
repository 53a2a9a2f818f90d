package store

// SchemaVersion is the schema version this build expects. Open refuses to
// run against a database stamped with a higher version.
const SchemaVersion = 1

// schema creates every table and index the Event Log (spec.md §4.A) and its
// derived tables (pattern statistics, sequences, feedback) need. Tables are
// additive-only at the SQL level; Events are never updated, only inserted
// and, during retention pruning, deleted.
const schema = `
CREATE TABLE IF NOT EXISTS session (
  id          TEXT PRIMARY KEY,
  start_ts    INTEGER NOT NULL,
  end_ts      INTEGER,
  shell_kind  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id    TEXT NOT NULL,
  ts_ns         INTEGER NOT NULL,
  command       TEXT,
  cwd           TEXT NOT NULL,
  fingerprint   TEXT NOT NULL,
  exit_code     INTEGER,
  duration_ns   INTEGER,
  redacted      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_event_ts ON event(ts_ns);
CREATE INDEX IF NOT EXISTS idx_event_session ON event(session_id);
CREATE INDEX IF NOT EXISTS idx_event_cwd ON event(cwd);
CREATE INDEX IF NOT EXISTS idx_event_exit_code ON event(exit_code);
CREATE INDEX IF NOT EXISTS idx_event_fingerprint_cwd ON event(fingerprint, cwd);

CREATE VIRTUAL TABLE IF NOT EXISTS event_fts USING fts5(
  command,
  content='event',
  content_rowid='id',
  tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS event_ai AFTER INSERT ON event BEGIN
  INSERT INTO event_fts(rowid, command) VALUES (new.id, new.command);
END;

CREATE TRIGGER IF NOT EXISTS event_ad AFTER DELETE ON event BEGIN
  INSERT INTO event_fts(event_fts, rowid, command) VALUES ('delete', old.id, old.command);
END;

CREATE TABLE IF NOT EXISTS pattern_stats (
  fingerprint   TEXT NOT NULL,
  cwd           TEXT NOT NULL,
  exec_count    INTEGER NOT NULL DEFAULT 0,
  success_count INTEGER NOT NULL DEFAULT 0,
  last_ts       INTEGER NOT NULL DEFAULT 0,
  accept_count  INTEGER NOT NULL DEFAULT 0,
  reject_count  INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY(fingerprint, cwd)
);

CREATE TABLE IF NOT EXISTS sequence_stats (
  kgram            TEXT NOT NULL,
  next_fingerprint TEXT NOT NULL,
  count            INTEGER NOT NULL DEFAULT 0,
  last_ts          INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY(kgram, next_fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_sequence_kgram ON sequence_stats(kgram, count DESC);

CREATE TABLE IF NOT EXISTS feedback (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  suggestion_id   TEXT NOT NULL,
  fingerprint     TEXT NOT NULL,
  accepted        INTEGER NOT NULL,
  ts_ns           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_fingerprint ON feedback(fingerprint);

CREATE TABLE IF NOT EXISTS schema_migrations (
  version     INTEGER PRIMARY KEY,
  applied_ts  INTEGER NOT NULL
);
`
