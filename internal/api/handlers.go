package api

import (
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/andresmejia3/facegate/internal/session"
)

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusOf maps a command outcome onto an HTTP status.
func statusOf(r session.Reply) int {
	switch r.Code {
	case session.Success:
		return http.StatusOK
	case session.InitFailed:
		return http.StatusServiceUnavailable
	case session.CaptureFailed, session.TrainingFailed:
		return http.StatusUnprocessableEntity
	case session.ModelNotFound:
		return http.StatusConflict
	}
	switch {
	case errors.Is(r.Err, session.ErrTerminated):
		return http.StatusGone
	case errors.Is(r.Err, session.ErrInvalidLabel), errors.Is(r.Err, session.ErrUnknownCommand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// command returns a handler that forwards kind to the control loop.
func (s *Server) command(kind session.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.dispatch(w, r, kind, 0)
	}
}

func (s *Server) selectUser(w http.ResponseWriter, r *http.Request) {
	label, err := strconv.Atoi(chi.URLParam(r, "label"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "label must be an integer")
		return
	}
	s.dispatch(w, r, session.CmdSelect, label)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, kind session.Kind, label int) {
	ctx, cancel := context.WithTimeout(r.Context(), CommandTimeout)
	defer cancel()

	reply, err := session.Send(ctx, s.commands, kind, label)
	if err != nil {
		slog.Warn("control loop did not answer", "command", kind, "error", err)
		respondError(w, http.StatusGatewayTimeout, "control loop not responding")
		return
	}
	respondJSON(w, statusOf(reply), reply)
}

func (s *Server) frame(w http.ResponseWriter, r *http.Request) {
	img := s.frames.Latest()
	if img == nil {
		respondError(w, http.StatusServiceUnavailable, "no frame yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 80}); err != nil {
		slog.Warn("failed to encode preview frame", "error", err)
	}
}
