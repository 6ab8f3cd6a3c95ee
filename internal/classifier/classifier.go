// Package classifier owns the live face model for a session: it trains,
// persists and reloads it, and is the single place where a prediction is
// accepted or rejected.
package classifier

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/andresmejia3/facegate/internal/lbph"
)

// DefaultAcceptBelow is the confidence threshold T: a prediction is accepted
// when its confidence is strictly below it.
const DefaultAcceptBelow = 80.0

var (
	ErrEmptySet   = errors.New("no samples to train on")
	ErrNotTrained = errors.New("model has not been trained or loaded")
)

// PersistError reports that training succeeded but the model could not be
// written. The in-memory model stays live.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("model trained but not saved to %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Session holds at most one live model.
type Session struct {
	path        string
	params      lbph.Params
	acceptBelow float64
	model       *lbph.Model
}

// New creates an untrained session. acceptBelow <= 0 selects DefaultAcceptBelow.
func New(path string, params lbph.Params, acceptBelow float64) *Session {
	if acceptBelow <= 0 {
		acceptBelow = DefaultAcceptBelow
	}
	return &Session{path: path, params: params, acceptBelow: acceptBelow}
}

// Path returns the model file location.
func (s *Session) Path() string {
	return s.path
}

// Init loads the model file when it exists. Failures are logged and leave
// the session untrained; they never abort startup.
func (s *Session) Init() {
	if _, err := os.Stat(s.path); err != nil {
		slog.Info("no trained model found, training required", "path", s.path)
		return
	}
	if err := s.Reload(); err != nil {
		slog.Warn("failed to load model, continuing untrained", "path", s.path, "error", err)
		return
	}
	slog.Info("loaded trained model", "path", s.path, "samples", s.model.Len(), "labels", s.model.Labels())
}

// Reload replaces the live model with the file contents. On any error the
// previous model is left untouched.
func (s *Session) Reload() error {
	m, err := lbph.Load(s.path, s.params.IndexMin)
	if err != nil {
		return err
	}
	s.model = m
	return nil
}

// Train builds a new model from samples and labels, swaps it in and writes
// it to disk. An empty set fails with ErrEmptySet before anything is
// written. A write failure returns *PersistError with the new model live.
func (s *Session) Train(samples []*image.Gray, labels []int) error {
	if len(samples) == 0 {
		return ErrEmptySet
	}

	m, err := lbph.Train(s.params, samples, labels)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	s.model = m

	if err := m.Save(s.path); err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	return nil
}

// Predict returns the raw label and distance-like confidence for sample.
// Lower confidence is a better match.
func (s *Session) Predict(sample *image.Gray) (int, float64, error) {
	if s.model == nil {
		return lbph.Unknown, 0, ErrNotTrained
	}
	return s.model.Predict(sample)
}

// IsAccepted is the accept/reject policy for every recognition decision.
func (s *Session) IsAccepted(confidence float64) bool {
	return confidence < s.acceptBelow
}

// Trained reports whether a model is live.
func (s *Session) Trained() bool {
	return s.model != nil
}

// Counts returns training samples per label for the live model.
func (s *Session) Counts() map[int]int {
	if s.model == nil {
		return map[int]int{}
	}
	return s.model.Counts()
}
