package session

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/facegate/internal/classifier"
	"github.com/andresmejia3/facegate/internal/sample"
	"github.com/andresmejia3/facegate/internal/source"
)

var (
	ErrNoDetectorModel = errors.New("face detector model unavailable")
	ErrNoFrameSource   = errors.New("no frame source reachable")

	ErrNoFrame = errors.New("no frame available")
	ErrNoFace  = errors.New("no face detected")

	ErrNotReady       = errors.New("session is not initialized")
	ErrTerminated     = errors.New("session has exited")
	ErrInvalidLabel   = errors.New("label must be a non-negative integer")
	ErrUnknownCommand = errors.New("unknown command")
)

// InitError is returned by Initialize when a required resource cannot be
// acquired. Kind is ErrNoDetectorModel or ErrNoFrameSource.
type InitError struct {
	Kind error
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init failed: %v: %v", e.Kind, e.Err)
}

func (e *InitError) Unwrap() []error { return []error{e.Kind, e.Err} }

// ResultCode is the appliance result taxonomy shared by every control surface.
type ResultCode string

const (
	Success           ResultCode = "SUCCESS"
	InitFailed        ResultCode = "INIT_FAILED"
	CaptureFailed     ResultCode = "CAPTURE_FAILED"
	TrainingFailed    ResultCode = "TRAINING_FAILED"
	RecognitionFailed ResultCode = "RECOGNITION_FAILED"
	ModelNotFound     ResultCode = "MODEL_NOT_FOUND"
	Unknown           ResultCode = "UNKNOWN"
)

// CodeOf maps err onto a result code. A persist failure counts as a failed
// training call even though the trained model stays live.
func CodeOf(err error) ResultCode {
	var initErr *InitError
	var persistErr *classifier.PersistError
	switch {
	case err == nil:
		return Success
	case errors.As(err, &initErr), errors.Is(err, source.ErrNoSource), errors.Is(err, ErrNotReady):
		return InitFailed
	case errors.Is(err, ErrNoFrame), errors.Is(err, ErrNoFace), errors.Is(err, sample.ErrOutOfBounds):
		return CaptureFailed
	case errors.Is(err, classifier.ErrEmptySet), errors.As(err, &persistErr):
		return TrainingFailed
	case errors.Is(err, classifier.ErrNotTrained):
		return ModelNotFound
	default:
		return Unknown
	}
}
