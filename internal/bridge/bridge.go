// Package bridge exposes the guardian to the app shell over a loopback HTTP
// and WebSocket surface.
//
// The bridge is not a public API: it binds 127.0.0.1 and trusts its caller
// to be the companion UI on the same device. It still carries request IDs,
// structured request logs, panic recovery, and an IP rate limiter so a
// misbehaving shell cannot starve the engines.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/fsm"
	"github.com/GalSened/RoamWise-sub002/internal/guardian"
	"github.com/GalSened/RoamWise-sub002/internal/offtrail"
	"github.com/GalSened/RoamWise-sub002/internal/pack"
	"github.com/GalSened/RoamWise-sub002/internal/sunset"
)

// DefaultAddr serves the app shell on the loopback interface.
const DefaultAddr = "127.0.0.1:7173"

// DefaultRateLimit is requests per client per minute across the whole
// surface.
const DefaultRateLimit = 600

// Config holds bridge server configuration.
type Config struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string

	// Version is reported by /healthz.
	Version string

	// RateLimit is requests per minute per client IP. Defaults to
	// DefaultRateLimit.
	RateLimit int

	Logger zerolog.Logger

	// Guardian is the orchestrator every endpoint drives.
	Guardian *guardian.Guardian

	// Packs resolves id-only trail payloads from the package cache.
	Packs *pack.Manager
}

// Server is the loopback bridge.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	guardian *guardian.Guardian
	packs    *pack.Manager
	hub      *Hub
	http     *http.Server
	started  time.Time
}

// New builds the bridge, subscribes the event stream to the guardian
// listener registry, and prepares the HTTP server. Call ListenAndServe to
// serve.
func New(cfg Config) (*Server, error) {
	if cfg.Guardian == nil {
		return nil, errors.New("bridge: guardian is required")
	}
	if cfg.Packs == nil {
		return nil, errors.New("bridge: pack manager is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}

	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "bridge").Logger(),
		guardian: cfg.Guardian,
		packs:    cfg.Packs,
		started:  time.Now(),
	}
	s.hub = newHub(s.log)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.subscribe()
	return s, nil
}

func (s *Server) router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(requestLogger(s.log))
	r.Use(recovery(s.log))
	r.Use(chimiddleware.RealIP)
	r.Use(rateLimiter(s.cfg.RateLimit))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/trail", func(r chi.Router) {
			r.Post("/select", s.handleSelectTrail)
			r.Post("/download", s.handleDownloadTrail)
		})

		r.Route("/hike", func(r chi.Router) {
			r.Post("/start", s.handleStartHike)
			r.Post("/stop", s.handleStopHike)
			r.Post("/complete", s.handleCompleteHike)
			r.Post("/emergency", s.handleEmergency)
			r.Post("/emergency/resolve", s.handleResolveEmergency)
		})

		r.Post("/location", s.handleLocation)
		r.Post("/battery", s.handleBattery)

		r.Get("/events/ws", s.handleEvents)
	})

	return r
}

// subscribe forwards guardian events onto the WebSocket stream.
func (s *Server) subscribe() {
	s.guardian.OnAlert(func(ev guardian.AlertEvent) {
		s.hub.Broadcast(Envelope{Type: EventAlert, Payload: ev})
	})
	s.guardian.OnStateChange(func(from, to fsm.State, ev fsm.Event) {
		s.hub.Broadcast(Envelope{Type: EventState, Payload: stateChange{From: from, To: to, Event: ev}})
	})
	s.guardian.OnAssessment(func(a sunset.Assessment) {
		s.hub.Broadcast(Envelope{Type: EventAssessment, Payload: a})
	})
	s.guardian.OnOffTrail(func(st offtrail.Status) {
		s.hub.Broadcast(Envelope{Type: EventOffTrail, Payload: st})
	})
}

// Handler returns the bridge routes; tests mount them on httptest servers.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// ListenAndServe blocks serving the bridge. It returns
// http.ErrServerClosed after a clean Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("bridge listening")
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests, drains in-flight handlers, and hangs
// up every event stream.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.close()
	return err
}
