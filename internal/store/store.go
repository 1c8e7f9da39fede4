// Package store persists finished interview sessions and interview
// question banks.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrNoID     = errors.New("store: id required")
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Record is one finished session.
type Record struct {
	SessionID   string                        `json:"sessionId"`
	InterviewID string                        `json:"interviewId,omitempty"`
	UserID      string                        `json:"userId,omitempty"`
	Name        string                        `json:"name,omitempty"`
	Role        string                        `json:"role,omitempty"`
	State       string                        `json:"state"`
	Questions   []string                      `json:"questions"`
	Transcript  []interview.TranscriptMessage `json:"transcript"`
	Answers     []interview.QA                `json:"answers"`
	Feedback    *coach.Feedback               `json:"feedback,omitempty"`
	StartedAt   time.Time                     `json:"startedAt"`
	EndedAt     time.Time                     `json:"endedAt"`
}

// Interview is a question bank prepared ahead of a session.
type Interview struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId,omitempty"`
	Role            string    `json:"role"`
	ExperienceLevel string    `json:"experienceLevel,omitempty"`
	Questions       []string  `json:"questions"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Store interface {
	SaveSession(ctx context.Context, rec Record) error
	GetSession(ctx context.Context, id string) (Record, error)
	// ListSessions returns the user's sessions, newest first. An empty
	// userID lists every session.
	ListSessions(ctx context.Context, userID string, limit int) ([]Record, error)
	SaveInterview(ctx context.Context, iv Interview) error
	GetInterview(ctx context.Context, id string) (Interview, error)
	Close() error
}

// Config selects the backing database. DatabaseURL wins over SQLitePath.
type Config struct {
	DatabaseURL string
	SQLitePath  string
}

// Open returns a Postgres store when DatabaseURL is set and a SQLite store
// otherwise.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.DatabaseURL != "" {
		pg, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	path := cfg.SQLitePath
	if path == "" {
		var err error
		if path, err = DefaultSQLitePath(); err != nil {
			return nil, err
		}
	}
	lite, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

// DefaultSQLitePath is ~/.prepflash/sessions.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: home dir: %w", err)
	}
	return filepath.Join(home, ".prepflash", "sessions.db"), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return defaultListLimit
	}
	return limit
}

// row is a Record with its nested values encoded as JSON, the shape both
// SQL backends store.
type row struct {
	questions  []byte
	transcript []byte
	answers    []byte
	feedback   []byte
}

func encodeRecord(rec Record) (row, error) {
	var r row
	var err error
	if r.questions, err = json.Marshal(nonNil(rec.Questions)); err != nil {
		return r, fmt.Errorf("store: encode questions: %w", err)
	}
	if r.transcript, err = json.Marshal(nonNil(rec.Transcript)); err != nil {
		return r, fmt.Errorf("store: encode transcript: %w", err)
	}
	if r.answers, err = json.Marshal(nonNil(rec.Answers)); err != nil {
		return r, fmt.Errorf("store: encode answers: %w", err)
	}
	if rec.Feedback != nil {
		if r.feedback, err = json.Marshal(rec.Feedback); err != nil {
			return r, fmt.Errorf("store: encode feedback: %w", err)
		}
	}
	return r, nil
}

func decodeRecord(rec *Record, r row) error {
	if err := json.Unmarshal(r.questions, &rec.Questions); err != nil {
		return fmt.Errorf("store: decode questions: %w", err)
	}
	if err := json.Unmarshal(r.transcript, &rec.Transcript); err != nil {
		return fmt.Errorf("store: decode transcript: %w", err)
	}
	if err := json.Unmarshal(r.answers, &rec.Answers); err != nil {
		return fmt.Errorf("store: decode answers: %w", err)
	}
	if len(r.feedback) > 0 && string(r.feedback) != "null" {
		rec.Feedback = &coach.Feedback{}
		if err := json.Unmarshal(r.feedback, rec.Feedback); err != nil {
			return fmt.Errorf("store: decode feedback: %w", err)
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
