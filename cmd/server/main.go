package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/config"
	"github.com/sumans-19/PrepFlash-sub003/internal/httpserver"
	"github.com/sumans-19/PrepFlash-sub003/internal/internships"
	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
	"github.com/sumans-19/PrepFlash-sub003/internal/live"
	"github.com/sumans-19/PrepFlash-sub003/internal/llm"
	"github.com/sumans-19/PrepFlash-sub003/internal/phone"
	"github.com/sumans-19/PrepFlash-sub003/internal/rtc"
	"github.com/sumans-19/PrepFlash-sub003/internal/store"
	"github.com/sumans-19/PrepFlash-sub003/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{DatabaseURL: cfg.DatabaseURL, SQLitePath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer db.Close()

	var st store.Store = db
	var bucket store.Uploader
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		b, err := store.NewSupabaseBucket(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseBucket)
		if err != nil {
			log.Printf("Warning: session archive disabled: %v", err)
		} else {
			bucket = b
			st = store.NewArchive(db, b)
		}
	}

	gen, err := llm.New(ctx, llm.Config{
		Provider:       cfg.LLMProvider,
		GeminiAPIKey:   cfg.GeminiKey,
		GeminiModel:    cfg.GeminiModel,
		CerebrasAPIKey: cfg.CerebrasKey,
		CerebrasModel:  cfg.CerebrasModelID,
	})
	if err != nil {
		log.Printf("Warning: language model disabled: %v", err)
	}
	interviewCoach := coach.New(gen)

	synth, err := tts.New(tts.Config{
		Provider:          cfg.TTSProvider,
		DeepgramAPIKey:    cfg.DeepgramKey,
		DeepgramModel:     cfg.DeepgramModel,
		ElevenLabsAPIKey:  cfg.ElevenLabsKey,
		ElevenLabsVoiceID: cfg.ElevenLabsVoiceID,
	})
	if err != nil {
		log.Printf("Warning: spoken questions disabled: %v", err)
	}

	timings := interview.Timings{
		ConnectDelay: cfg.ConnectDelay,
		AdvanceDelay: cfg.AdvanceDelay,
		ListenWindow: cfg.ListenWindow,
	}

	liveServer := live.NewServer(live.Deps{
		AuthPassword:  cfg.AuthPassword,
		Timings:       timings,
		Store:         st,
		Coach:         interviewCoach,
		RTC:           rtc.NewHandler(cfg.ICEServersJSON),
		Synth:         synth,
		AssemblyAIKey: cfg.AssemblyAIKey,
	})

	cache := internships.NewCache(ctx, cfg.RedisURL, 0)
	defer cache.Close()

	var phoneService *phone.Service
	if cfg.TwilioAuthToken != "" {
		var calls phone.CallControl
		if cfg.TwilioAccountSID != "" {
			calls = phone.NewCallControl(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		}
		// the engine's listen window is left to the phone default
		phoneTimings := timings
		phoneTimings.ListenWindow = 0
		phoneService = phone.New(phone.Deps{
			Store:      st,
			Coach:      interviewCoach,
			Timings:    phoneTimings,
			Calls:      calls,
			Recordings: bucket,
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			BaseURL:    cfg.BaseURL,
		})
	}

	e := httpserver.New(httpserver.Deps{
		Store:           st,
		Coach:           interviewCoach,
		Internships:     internships.NewScraper(cache),
		Live:            liveServer,
		Phone:           phoneService,
		CORSOrigins:     cfg.CORSOrigins,
		TwilioAuthToken: cfg.TwilioAuthToken,
		BaseURL:         cfg.BaseURL,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	// hijacked sockets are not drained by Shutdown
	liveServer.Close()
	if phoneService != nil {
		phoneService.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
