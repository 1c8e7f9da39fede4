package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS interview_sessions (
	id           TEXT PRIMARY KEY,
	interview_id TEXT NOT NULL DEFAULT '',
	user_id      TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL,
	questions    JSONB NOT NULL,
	transcript   JSONB NOT NULL,
	answers      JSONB NOT NULL,
	feedback     JSONB,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS interview_sessions_user_idx ON interview_sessions (user_id, ended_at DESC);
CREATE TABLE IF NOT EXISTS interviews (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL DEFAULT '',
	level      TEXT NOT NULL DEFAULT '',
	questions  JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);`

// Postgres stores sessions in a Postgres database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool and creates the tables.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse DATABASE_URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("store: create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	log.Printf("store: postgres connected (%s)", config.ConnConfig.Host)
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) SaveSession(ctx context.Context, rec Record) error {
	if rec.SessionID == "" {
		return ErrNoID
	}
	r, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO interview_sessions (id, interview_id, user_id, name, role, state, questions, transcript, answers, feedback, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			interview_id = EXCLUDED.interview_id, user_id = EXCLUDED.user_id, name = EXCLUDED.name,
			role = EXCLUDED.role, state = EXCLUDED.state, questions = EXCLUDED.questions,
			transcript = EXCLUDED.transcript, answers = EXCLUDED.answers, feedback = EXCLUDED.feedback,
			started_at = EXCLUDED.started_at, ended_at = EXCLUDED.ended_at`,
		rec.SessionID, rec.InterviewID, rec.UserID, rec.Name, rec.Role, rec.State,
		string(r.questions), string(r.transcript), string(r.answers), nullableJSON(r.feedback),
		rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", rec.SessionID, err)
	}
	return nil
}

const postgresSessionColumns = `id, interview_id, user_id, name, role, state, questions, transcript, answers, feedback, started_at, ended_at`

func (p *Postgres) GetSession(ctx context.Context, id string) (Record, error) {
	rec, err := scanPostgresSession(p.pool.QueryRow(ctx,
		`SELECT `+postgresSessionColumns+` FROM interview_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) ListSessions(ctx context.Context, userID string, limit int) ([]Record, error) {
	var rows pgx.Rows
	var err error
	if userID != "" {
		rows, err = p.pool.Query(ctx,
			`SELECT `+postgresSessionColumns+` FROM interview_sessions WHERE user_id = $1 ORDER BY ended_at DESC LIMIT $2`,
			userID, clampLimit(limit))
	} else {
		rows, err = p.pool.Query(ctx,
			`SELECT `+postgresSessionColumns+` FROM interview_sessions ORDER BY ended_at DESC LIMIT $1`,
			clampLimit(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanPostgresSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveInterview(ctx context.Context, iv Interview) error {
	if iv.ID == "" {
		return ErrNoID
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO interviews (id, user_id, role, level, questions, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, role = EXCLUDED.role,
			level = EXCLUDED.level, questions = EXCLUDED.questions`,
		iv.ID, iv.UserID, iv.Role, iv.ExperienceLevel, nonNil(iv.Questions), iv.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save interview %s: %w", iv.ID, err)
	}
	return nil
}

func (p *Postgres) GetInterview(ctx context.Context, id string) (Interview, error) {
	var iv Interview
	err := p.pool.QueryRow(ctx,
		`SELECT id, user_id, role, level, questions, created_at FROM interviews WHERE id = $1`, id,
	).Scan(&iv.ID, &iv.UserID, &iv.Role, &iv.ExperienceLevel, &iv.Questions, &iv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Interview{}, fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Interview{}, fmt.Errorf("store: get interview %s: %w", id, err)
	}
	return iv, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPostgresSession(sc pgx.Row) (Record, error) {
	var rec Record
	var r row
	err := sc.Scan(&rec.SessionID, &rec.InterviewID, &rec.UserID, &rec.Name, &rec.Role, &rec.State,
		&r.questions, &r.transcript, &r.answers, &r.feedback, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		return Record{}, err
	}
	if err := decodeRecord(&rec, r); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
