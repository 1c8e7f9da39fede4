package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/store"
)

type handlers struct {
	deps Deps
}

type questionsRequest struct {
	coach.Params
	UserID string `json:"userId,omitempty"`
}

type questionsResponse struct {
	InterviewID string   `json:"interviewId"`
	Questions   []string `json:"questions"`
}

// questions generates a question bank and stores it so a later session or
// phone call can use it by interview id.
func (h *handlers) questions(c echo.Context) error {
	var req questionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !h.deps.Coach.Available() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, coach.ErrUnavailable.Error())
	}
	ctx := c.Request().Context()
	qs, err := h.deps.Coach.GenerateQuestions(ctx, req.Params)
	if err != nil {
		c.Logger().Errorf("generate questions: %v", err)
		return echo.NewHTTPError(http.StatusBadGateway, "could not generate questions")
	}
	iv := store.Interview{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Role:            req.JobRole,
		ExperienceLevel: req.ExperienceLevel,
		Questions:       qs,
		CreatedAt:       time.Now(),
	}
	if err := h.deps.Store.SaveInterview(ctx, iv); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, questionsResponse{InterviewID: iv.ID, Questions: qs})
}

type feedbackRequest struct {
	Question        string `json:"question"`
	Answer          string `json:"answer"`
	JobRole         string `json:"jobRole"`
	ExperienceLevel string `json:"experienceLevel"`
	// ResponseTimeMs is how long the candidate took to answer.
	ResponseTimeMs int64 `json:"responseTimeMs"`
}

func (h *handlers) feedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question and answer are required")
	}
	rt := time.Duration(req.ResponseTimeMs) * time.Millisecond
	fb := h.deps.Coach.AnalyzeAnswer(c.Request().Context(), req.Question, req.Answer, req.JobRole, req.ExperienceLevel, rt)
	return c.JSON(http.StatusOK, fb)
}

func (h *handlers) getInterview(c echo.Context) error {
	iv, err := h.deps.Store.GetInterview(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, iv)
}

func (h *handlers) getSession(c echo.Context) error {
	rec, err := h.deps.Store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *handlers) listSessions(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a number")
		}
		limit = n
	}
	recs, err := h.deps.Store.ListSessions(c.Request().Context(), userID, limit)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *handlers) internships(c echo.Context) error {
	list, err := h.deps.Internships.Scrape(c.Request().Context(), c.QueryParam("company"), c.QueryParam("location"))
	if err != nil {
		c.Logger().Errorf("Error scraping internships: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Error fetching internships"})
	}
	return c.JSON(http.StatusOK, list)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNoID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
