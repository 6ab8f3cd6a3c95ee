// Package api exposes the recognition session over HTTP: control
// commands, the latest annotated frame and a WebSocket event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/andresmejia3/facegate/internal/session"
)

// CommandTimeout bounds how long a handler waits on the control loop.
var CommandTimeout = 5 * time.Second

// Server is the HTTP control surface.
type Server struct {
	commands   chan<- session.Command
	frames     *FrameHolder
	hub        *Hub
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer builds the router. Commands go to the loop reading from
// commands.
func NewServer(addr string, commands chan<- session.Command) *Server {
	r := chi.NewRouter()
	s := &Server{
		commands: commands,
		frames:   &FrameHolder{},
		hub:      NewHub(),
		router:   r,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.health)

	s.router.Route("/api/v1", func(r chi.Router) {
		// The event stream is long-lived and stays outside the timeout.
		r.Get("/events", s.hub.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(30 * time.Second))

			r.Get("/state", s.command(session.CmdState))
			r.Get("/help", s.command(session.CmdHelp))
			r.Post("/select/{label}", s.selectUser)
			r.Post("/capture", s.command(session.CmdCapture))
			r.Post("/train", s.command(session.CmdTrain))
			r.Post("/recognition/toggle", s.command(session.CmdToggle))
			r.Post("/exit", s.command(session.CmdExit))
			r.Get("/frame.jpg", s.frame)
		})
	})
}

// Frames is the sink the controller feeds annotated frames into.
func (s *Server) Frames() *FrameHolder {
	return s.frames
}

// Events is the sink the controller publishes recognition events to.
func (s *Server) Events() *Hub {
	return s.hub
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	slog.Info("starting http control api", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown closes the event stream and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
