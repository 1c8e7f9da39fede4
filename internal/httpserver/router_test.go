package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/internships"
	"github.com/sumans-19/PrepFlash-sub003/internal/llm"
	"github.com/sumans-19/PrepFlash-sub003/internal/store"
)

type cannedGen struct{ reply string }

func (g cannedGen) Generate(context.Context, llm.Request) (string, error) { return g.reply, nil }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Origin", "http://localhost:8080")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	e := New(Deps{Store: newTestStore(t)})
	rec := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestQuestions_StoresInterviewBank(t *testing.T) {
	st := newTestStore(t)
	e := New(Deps{
		Store:       st,
		Coach:       coach.New(cannedGen{reply: "1. What is Go?\n2. What is a goroutine?"}),
		CORSOrigins: []string{"http://localhost:8080"},
	})

	rec := do(t, e, http.MethodPost, "/api/questions", `{"jobRole":"Backend","experienceLevel":"junior","questionCount":2,"userId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	var resp questionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"What is Go?", "What is a goroutine?"}, resp.Questions)

	iv, err := st.GetInterview(context.Background(), resp.InterviewID)
	require.NoError(t, err)
	assert.Equal(t, "Backend", iv.Role)
	assert.Equal(t, "junior", iv.ExperienceLevel)
	assert.Equal(t, "u1", iv.UserID)

	rec = do(t, e, http.MethodGet, "/api/interviews/"+resp.InterviewID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuestions_NoModel(t *testing.T) {
	e := New(Deps{Store: newTestStore(t)})
	rec := do(t, e, http.MethodPost, "/api/questions", `{"jobRole":"Backend"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFeedback(t *testing.T) {
	e := New(Deps{Store: newTestStore(t)})

	rec := do(t, e, http.MethodPost, "/api/feedback", `{"question":"Why Go?","answer":"Simplicity","responseTimeMs":4000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var fb coach.AnswerFeedback
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fb))
	assert.Equal(t, 5.0, fb.OverallScore)
	assert.Equal(t, 4.0, fb.ResponseTime)

	rec = do(t, e, http.MethodPost, "/api/feedback", `{"question":"Why Go?"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessions(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, st.SaveSession(context.Background(), store.Record{
		SessionID: "s1", UserID: "u1", State: "completed", StartedAt: now, EndedAt: now,
	}))
	e := New(Deps{Store: st})

	rec := do(t, e, http.MethodGet, "/api/sessions/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got store.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "completed", got.State)

	rec = do(t, e, http.MethodGet, "/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, e, http.MethodGet, "/api/sessions?userId=u1&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodGet, "/api/sessions", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodGet, "/api/sessions?userId=u1&limit=x", "").Code)
}

func TestInternships(t *testing.T) {
	page := `<div class="individual_internship">
  <h3 class="job-internship-name"><a>Go Intern</a></h3>
  <div class="company_name"><p class="company-name">Acme</p></div>
  <div class="locations"><a>Pune</a></div>
</div>`
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "keywords-acme") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(page))
	}))
	defer site.Close()

	sc := internships.NewScraper(nil)
	sc.BaseURL = site.URL
	sc.Limiter = nil
	sc.InitialInterval = time.Millisecond
	e := New(Deps{Store: newTestStore(t), Internships: sc, CORSOrigins: []string{"http://localhost:8080"}})

	rec := do(t, e, http.MethodGet, "/api/internships?company=acme&location=pune", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []internships.Internship
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Go Intern", list[0].Title)

	rec = do(t, e, http.MethodGet, "/api/internships?company=blocked", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"Error fetching internships"}`, rec.Body.String())
}
