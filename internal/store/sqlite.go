package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	interview_id TEXT NOT NULL DEFAULT '',
	user_id      TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL,
	questions    TEXT NOT NULL,
	transcript   TEXT NOT NULL,
	answers      TEXT NOT NULL,
	feedback     TEXT,
	started_at   TEXT NOT NULL,
	ended_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_user_idx ON sessions (user_id, ended_at);
CREATE TABLE IF NOT EXISTS interviews (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL DEFAULT '',
	level      TEXT NOT NULL DEFAULT '',
	questions  TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

// SQLite stores sessions in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) SaveSession(ctx context.Context, rec Record) error {
	if rec.SessionID == "" {
		return ErrNoID
	}
	r, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	var feedback any
	if r.feedback != nil {
		feedback = string(r.feedback)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, interview_id, user_id, name, role, state, questions, transcript, answers, feedback, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			interview_id = excluded.interview_id, user_id = excluded.user_id, name = excluded.name,
			role = excluded.role, state = excluded.state, questions = excluded.questions,
			transcript = excluded.transcript, answers = excluded.answers, feedback = excluded.feedback,
			started_at = excluded.started_at, ended_at = excluded.ended_at`,
		rec.SessionID, rec.InterviewID, rec.UserID, rec.Name, rec.Role, rec.State,
		string(r.questions), string(r.transcript), string(r.answers), feedback,
		formatTime(rec.StartedAt), formatTime(rec.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", rec.SessionID, err)
	}
	return nil
}

const sqliteSessionColumns = `id, interview_id, user_id, name, role, state, questions, transcript, answers, feedback, started_at, ended_at`

func (s *SQLite) GetSession(ctx context.Context, id string) (Record, error) {
	rec, err := scanSQLiteSession(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLite) ListSessions(ctx context.Context, userID string, limit int) ([]Record, error) {
	var rows *sql.Rows
	var err error
	if userID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteSessionColumns+` FROM sessions WHERE user_id = ? ORDER BY ended_at DESC LIMIT ?`,
			userID, clampLimit(limit))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteSessionColumns+` FROM sessions ORDER BY ended_at DESC LIMIT ?`,
			clampLimit(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveInterview(ctx context.Context, iv Interview) error {
	if iv.ID == "" {
		return ErrNoID
	}
	qs, err := json.Marshal(nonNil(iv.Questions))
	if err != nil {
		return fmt.Errorf("store: encode questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interviews (id, user_id, role, level, questions, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, role = excluded.role,
			level = excluded.level, questions = excluded.questions`,
		iv.ID, iv.UserID, iv.Role, iv.ExperienceLevel, string(qs), formatTime(iv.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: save interview %s: %w", iv.ID, err)
	}
	return nil
}

func (s *SQLite) GetInterview(ctx context.Context, id string) (Interview, error) {
	var iv Interview
	var qs, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, role, level, questions, created_at FROM interviews WHERE id = ?`, id,
	).Scan(&iv.ID, &iv.UserID, &iv.Role, &iv.ExperienceLevel, &qs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Interview{}, fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Interview{}, fmt.Errorf("store: get interview %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(qs), &iv.Questions); err != nil {
		return Interview{}, fmt.Errorf("store: decode questions: %w", err)
	}
	iv.CreatedAt = parseTime(created)
	return iv, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(sc scanner) (Record, error) {
	var rec Record
	var questions, transcript, answers, started, ended string
	var feedback sql.NullString
	err := sc.Scan(&rec.SessionID, &rec.InterviewID, &rec.UserID, &rec.Name, &rec.Role, &rec.State,
		&questions, &transcript, &answers, &feedback, &started, &ended)
	if err != nil {
		return Record{}, err
	}
	r := row{questions: []byte(questions), transcript: []byte(transcript), answers: []byte(answers)}
	if feedback.Valid {
		r.feedback = []byte(feedback.String)
	}
	if err := decodeRecord(&rec, r); err != nil {
		return Record{}, err
	}
	rec.StartedAt = parseTime(started)
	rec.EndedAt = parseTime(ended)
	return rec, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
