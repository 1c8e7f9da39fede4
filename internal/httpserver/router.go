package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/internships"
	twiliosig "github.com/sumans-19/PrepFlash-sub003/internal/middleware"
	"github.com/sumans-19/PrepFlash-sub003/internal/phone"
	"github.com/sumans-19/PrepFlash-sub003/internal/store"
)

// Deps are the services behind the HTTP routes. Nil services leave their
// routes unregistered, except Store which is required.
type Deps struct {
	Store       store.Store
	Coach       *coach.Coach
	Internships *internships.Scraper
	// Live serves the interview WebSocket.
	Live  http.Handler
	Phone *phone.Service

	CORSOrigins     []string
	TwilioAuthToken string
	BaseURL         string
}

// New creates a configured Echo server instance.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	h := &handlers{deps: d}
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api", middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: d.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	api.POST("/questions", h.questions)
	api.POST("/feedback", h.feedback)
	api.GET("/interviews/:id", h.getInterview)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:id", h.getSession)
	if d.Internships != nil {
		api.GET("/internships", h.internships)
	}

	if d.Live != nil {
		e.GET("/interview/ws", echo.WrapHandler(d.Live))
	}
	if d.Phone != nil {
		token := d.TwilioAuthToken
		d.Phone.Register(e.Group("/twilio", twiliosig.TwilioAuth(func() string { return token }, d.BaseURL)))
	}
	return e
}
