package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(id, user string, ended time.Time) Record {
	return Record{
		SessionID: id,
		UserID:    user,
		Name:      "Asha",
		Role:      "SRE",
		State:     "completed",
		Questions: []string{"Q1?", "Q2?"},
		Transcript: []interview.TranscriptMessage{
			{Role: interview.RoleAssistant, Kind: interview.KindQuestion, Text: "Q1?", QuestionIndex: 0, At: ended.Add(-time.Minute)},
			{Role: interview.RoleUser, Kind: interview.KindAnswer, Text: "A1", IsFinal: true, QuestionIndex: 0, At: ended.Add(-30 * time.Second)},
		},
		Answers:   []interview.QA{{Question: "Q1?", Answer: "A1", Answered: true}, {Question: "Q2?"}},
		StartedAt: ended.Add(-2 * time.Minute),
		EndedAt:   ended,
	}
}

func TestSQLite_SaveAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	ended := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rec := sampleRecord("s1", "u1", ended)
	require.NoError(t, s.SaveSession(ctx, rec))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, rec.Questions, got.Questions)
	assert.Equal(t, rec.Answers, got.Answers)
	require.Len(t, got.Transcript, 2)
	assert.Equal(t, interview.KindAnswer, got.Transcript[1].Kind)
	assert.True(t, got.EndedAt.Equal(ended))
	assert.Nil(t, got.Feedback)

	rec.Feedback = &coach.Feedback{ID: "f1", SessionID: "s1", OverallScore: 7.5}
	require.NoError(t, s.SaveSession(ctx, rec))
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, 7.5, got.Feedback.OverallScore)
}

func TestSQLite_NotFoundAndMissingID(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetInterview(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SaveSession(ctx, Record{}), ErrNoID)
	assert.ErrorIs(t, s.SaveInterview(ctx, Interview{}), ErrNoID)
}

func TestSQLite_ListNewestFirstPerUser(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveSession(ctx, sampleRecord("a", "u1", base)))
	require.NoError(t, s.SaveSession(ctx, sampleRecord("b", "u1", base.Add(time.Hour))))
	require.NoError(t, s.SaveSession(ctx, sampleRecord("c", "u2", base.Add(2*time.Hour))))

	got, err := s.ListSessions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].SessionID)
	assert.Equal(t, "a", got[1].SessionID)

	all, err := s.ListSessions(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].SessionID)

	none, err := s.ListSessions(ctx, "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_Interviews(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	iv := Interview{ID: "iv1", UserID: "u1", Role: "Backend", Questions: []string{"Why Go?"}, CreatedAt: time.Now()}
	require.NoError(t, s.SaveInterview(ctx, iv))

	got, err := s.GetInterview(ctx, "iv1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Why Go?"}, got.Questions)
	assert.Equal(t, "Backend", got.Role)
}

type fakeUploader struct {
	keys []string
	data [][]byte
	err  error
}

func (f *fakeUploader) Upload(key, _ string, data []byte) error {
	f.keys = append(f.keys, key)
	f.data = append(f.data, data)
	return f.err
}

func TestArchive_UploadsJSONAndToleratesFailures(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	up := &fakeUploader{}
	a := NewArchive(s, up)

	rec := sampleRecord("s9", "u1", time.Now().UTC())
	require.NoError(t, a.SaveSession(ctx, rec))
	require.Equal(t, []string{"sessions/s9.json"}, up.keys)

	var decoded Record
	require.NoError(t, json.Unmarshal(up.data[0], &decoded))
	assert.Equal(t, "s9", decoded.SessionID)

	up.err = errors.New("bucket gone")
	require.NoError(t, a.SaveSession(ctx, sampleRecord("s10", "u1", time.Now().UTC())))
	_, err := a.GetSession(ctx, "s10")
	assert.NoError(t, err)
}

func TestOpen_DefaultsToSQLite(t *testing.T) {
	st, err := Open(context.Background(), Config{SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer st.Close()
	_, ok := st.(*SQLite)
	assert.True(t, ok)
}
