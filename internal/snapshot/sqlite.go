package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/streamwarden/internal/pattern"
	"github.com/you/streamwarden/internal/raid"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS warnings (
  username TEXT NOT NULL,
  ts TEXT NOT NULL,
  reason TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trusted_users (
  username TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS raid_history (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  raider TEXT NOT NULL,
  viewers INTEGER NOT NULL,
  ts TEXT NOT NULL,
  suspicious INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS chat_stats (
  username TEXT PRIMARY KEY,
  messages INTEGER NOT NULL,
  first_seen TEXT NOT NULL,
  last_active TEXT NOT NULL,
  recent_json TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS spam_patterns (
  id TEXT PRIMARY KEY,
  count INTEGER NOT NULL,
  severity REAL NOT NULL,
  last_seen TEXT
);
CREATE TABLE IF NOT EXISTS escalation_levels (
  username TEXT PRIMARY KEY,
  level INTEGER NOT NULL,
  expires_at TEXT,
  history_json TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS banned_words (
  word TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS shadowbanned (
  username TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`

// SQLiteGateway stores the snapshot document in a local SQLite file. Each
// Persist replaces the whole document in one transaction, so the last writer
// wins and a partial write can never be observed.
type SQLiteGateway struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteGateway, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteGateway{db: db}, nil
}

func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&current); err != nil {
		return errors.Wrap(err, "read user_version")
	}
	if current > schemaVersion {
		return errors.Errorf("snapshot: database schema %d is newer than supported %d", current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}
	// future versions add their ALTERs here, gated on current
	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, schemaVersion)); err != nil {
		return errors.Wrap(err, "set user_version")
	}
	return nil
}

func (g *SQLiteGateway) Close() error { return g.db.Close() }

func (g *SQLiteGateway) Ping() error { return g.db.Ping() }

func (g *SQLiteGateway) Persist(snap Snapshot) error {
	ctx := context.Background()
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{
		"warnings", "trusted_users", "raid_history", "chat_stats",
		"spam_patterns", "escalation_levels", "banned_words", "shadowbanned",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+";"); err != nil {
			return errors.Wrapf(err, "clear %s", table)
		}
	}

	for username, warns := range snap.Warnings {
		for _, w := range warns {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO warnings (username, ts, reason) VALUES (?, ?, ?);`,
				username, fmtTime(w.Ts), w.Reason); err != nil {
				return errors.Wrap(err, "insert warning")
			}
		}
	}

	for _, username := range snap.TrustedUsers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trusted_users (username) VALUES (?) ON CONFLICT(username) DO NOTHING;`,
			username); err != nil {
			return errors.Wrap(err, "insert trusted user")
		}
	}

	for _, ev := range snap.RaidHistory {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO raid_history (raider, viewers, ts, suspicious) VALUES (?, ?, ?, ?);`,
			ev.Raider, ev.Viewers, fmtTime(ev.Ts), boolInt(ev.Suspicious)); err != nil {
			return errors.Wrap(err, "insert raid event")
		}
	}

	for username, stat := range snap.ChatStats {
		recent, err := json.Marshal(stat.Recent)
		if err != nil {
			return errors.Wrap(err, "encode recent messages")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_stats (username, messages, first_seen, last_active, recent_json) VALUES (?, ?, ?, ?, ?);`,
			username, stat.Messages, fmtTime(stat.FirstSeen), fmtTime(stat.LastActive), string(recent)); err != nil {
			return errors.Wrap(err, "insert chat stat")
		}
	}

	for _, stat := range snap.SpamPatterns {
		var lastSeen any
		if stat.LastSeen != nil {
			lastSeen = fmtTime(*stat.LastSeen)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO spam_patterns (id, count, severity, last_seen) VALUES (?, ?, ?, ?);`,
			stat.ID, stat.Count, stat.Severity, lastSeen); err != nil {
			return errors.Wrap(err, "insert pattern stat")
		}
	}

	for username, state := range snap.EscalationLevels {
		history, err := json.Marshal(state.History)
		if err != nil {
			return errors.Wrap(err, "encode escalation history")
		}
		var expires any
		if state.ExpiresAt != nil {
			expires = fmtTime(*state.ExpiresAt)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO escalation_levels (username, level, expires_at, history_json) VALUES (?, ?, ?, ?);`,
			username, state.Level, expires, string(history)); err != nil {
			return errors.Wrap(err, "insert escalation state")
		}
	}

	for _, word := range snap.BannedWords {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO banned_words (word) VALUES (?) ON CONFLICT(word) DO NOTHING;`, word); err != nil {
			return errors.Wrap(err, "insert banned word")
		}
	}

	for _, username := range snap.Shadowbanned {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shadowbanned (username) VALUES (?) ON CONFLICT(username) DO NOTHING;`, username); err != nil {
			return errors.Wrap(err, "insert shadowban")
		}
	}

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('saved_at', ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
		fmtTime(savedAt)); err != nil {
		return errors.Wrap(err, "record saved_at")
	}

	return errors.Wrap(tx.Commit(), "commit")
}

func (g *SQLiteGateway) Load() (Snapshot, error) {
	ctx := context.Background()
	snap := Snapshot{
		Warnings:         make(map[string][]Warning),
		ChatStats:        make(map[string]ChatStat),
		EscalationLevels: make(map[string]EscalationState),
	}

	var savedAt string
	err := g.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='saved_at';`).Scan(&savedAt)
	switch {
	case err == sql.ErrNoRows:
		// fresh database
	case err != nil:
		return snap, errors.Wrap(err, "read saved_at")
	default:
		snap.SavedAt = parseTime(savedAt)
	}

	rows, err := g.db.QueryContext(ctx, `SELECT username, ts, reason FROM warnings;`)
	if err != nil {
		return snap, errors.Wrap(err, "list warnings")
	}
	for rows.Next() {
		var username, ts, reason string
		if err := rows.Scan(&username, &ts, &reason); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "scan warning")
		}
		snap.Warnings[username] = append(snap.Warnings[username], Warning{Ts: parseTime(ts), Reason: reason})
	}
	if err := closeRows(rows); err != nil {
		return snap, errors.Wrap(err, "iterate warnings")
	}

	rows, err = g.db.QueryContext(ctx, `SELECT username FROM trusted_users ORDER BY username;`)
	if err != nil {
		return snap, errors.Wrap(err, "list trusted users")
	}
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "scan trusted user")
		}
		snap.TrustedUsers = append(snap.TrustedUsers, username)
	}
	if err := closeRows(rows); err != nil {
		return snap, errors.Wrap(err, "iterate trusted users")
	}

	rows, err = g.db.QueryContext(ctx, `SELECT raider, viewers, ts, suspicious FROM raid_history ORDER BY seq;`)
	if err != nil {
		return snap, errors.Wrap(err, "list raid history")
	}
	for rows.Next() {
		var (
			ev         raid.Event
			ts         string
			suspicious int
		)
		if err := rows.Scan(&ev.Raider, &ev.Viewers, &ts, &suspicious); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "scan raid event")
		}
		ev.Ts = parseTime(ts)
		ev.Suspicious = suspicious != 0
		snap.RaidHistory = append(snap.RaidHistory, ev)
	}
	if err := closeRows(rows); err != nil {
		return snap, errors.Wrap(err, "iterate raid history")
	}

	rows, err = g.db.QueryContext(ctx, `SELECT username, messages, first_seen, last_active, recent_json FROM chat_stats;`)
	if err != nil {
		return snap, errors.Wrap(err, "list chat stats")
	}
	for rows.Next() {
		var (
			username, firstSeen, lastActive, recentJSON string
			stat                                        ChatStat
		)
		if err := rows.Scan(&username, &stat.Messages, &firstSeen, &lastActive, &recentJSON); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "scan chat stat")
		}
		stat.FirstSeen = parseTime(firstSeen)
		stat.LastActive = parseTime(lastActive)
		if err := json.Unmarshal([]byte(recentJSON), &stat.Recent); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "decode recent messages")
		}
		snap.ChatStats[username] = stat
	}
	if err := closeRows(rows); err != nil {
		return snap, errors.Wrap(err, "iterate chat stats")
	}

	rows, err = g.db.QueryContext(ctx, `SELECT id, count, severity, last_seen FROM spam_patterns ORDER BY id;`)
	if err != nil {
		return snap, errors.Wrap(err, "list pattern stats")
	}
	for rows.Next() {
		var (
			stat     pattern.Stat
			lastSeen sql.NullString
		)
		if err := rows.Scan(&stat.ID, &stat.Count, &stat.Severity, &lastSeen); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "scan pattern stat")
		}
		if lastSeen.Valid {
			t := parseTime(lastSeen.String)
			stat.LastSeen = &t
		}
		snap.SpamPatterns = append(snap.SpamPatterns, stat)
	}
	if err := closeRows(rows); err != nil {
		return snap, errors.Wrap(err, "iterate pattern stats")
	}

	rows, err = g.db.QueryContext(ctx, `SELECT username, level, expires_at, history_json FROM escalation_levels;`)
	if err != nil {
		return snap, errors.Wrap(err, "list escalation levels")
	}
	for rows.Next() {
		var (
			username, historyJSON string
			expires               sql.NullString
			state                 EscalationState
		)
		if err := rows.Scan(&username, &state.Level, &expires, &historyJSON); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "scan escalation state")
		}
		if expires.Valid {
			t := parseTime(expires.String)
			state.ExpiresAt = &t
		}
		if err := json.Unmarshal([]byte(historyJSON), &state.History); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "decode escalation history")
		}
		snap.EscalationLevels[username] = state
	}
	if err := closeRows(rows); err != nil {
		return snap, errors.Wrap(err, "iterate escalation levels")
	}

	rows, err = g.db.QueryContext(ctx, `SELECT word FROM banned_words ORDER BY word;`)
	if err != nil {
		return snap, errors.Wrap(err, "list banned words")
	}
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "scan banned word")
		}
		snap.BannedWords = append(snap.BannedWords, word)
	}
	if err := closeRows(rows); err != nil {
		return snap, errors.Wrap(err, "iterate banned words")
	}

	rows, err = g.db.QueryContext(ctx, `SELECT username FROM shadowbanned ORDER BY username;`)
	if err != nil {
		return snap, errors.Wrap(err, "list shadowbanned")
	}
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			rows.Close()
			return snap, errors.Wrap(err, "scan shadowban")
		}
		snap.Shadowbanned = append(snap.Shadowbanned, username)
	}
	if err := closeRows(rows); err != nil {
		return snap, errors.Wrap(err, "iterate shadowbanned")
	}

	return snap, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
