// Package session is the recognition controller: it owns the enrollment
// set, the current label and the recognition flag, and sequences frame
// capture, face location, training and live recognition.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/facegate/internal/annotate"
	"github.com/andresmejia3/facegate/internal/classifier"
	"github.com/andresmejia3/facegate/internal/directory"
	"github.com/andresmejia3/facegate/internal/enroll"
	"github.com/andresmejia3/facegate/internal/sample"
	"github.com/andresmejia3/facegate/internal/types"
)

// Locator finds the single largest face in a frame.
type Locator interface {
	Load() error
	Locate(frame image.Image) (image.Rectangle, bool)
	Close() error
}

// Classifier is the trainable model session.
type Classifier interface {
	Init()
	Train(samples []*image.Gray, labels []int) error
	Predict(sample *image.Gray) (int, float64, error)
	IsAccepted(confidence float64) bool
	Trained() bool
}

// FrameSource delivers frames with fallback and reports a source that has
// gone silent for good.
type FrameSource interface {
	Open(ctx context.Context) error
	Read() (image.Image, bool)
	Lost() bool
	Close() error
}

// DirectoryLoader reads the identity directory once.
type DirectoryLoader func(ctx context.Context) *directory.Directory

// FrameSink receives every processed frame. It must not block.
type FrameSink interface {
	PutFrame(frame image.Image)
}

// EventSink receives recognition events. It must not block.
type EventSink interface {
	Publish(ev types.Recognition)
}

// Phase is the controller state.
type Phase int

const (
	Uninitialized Phase = iota
	Ready
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Ready:
		return "ready"
	case Terminated:
		return "terminated"
	default:
		return "uninitialized"
	}
}

// Options injects the collaborators and tunables.
type Options struct {
	Locator    Locator
	Classifier Classifier
	Source     FrameSource
	Directory  DirectoryLoader
	Frames     FrameSink
	Events     []EventSink

	DefaultLabel  int
	MaxLabel      int
	EventInterval time.Duration
	SnapshotDir   string
}

// Controller is owned by a single goroutine; none of its methods are safe
// for concurrent use. Other goroutines talk to it through Run.
type Controller struct {
	opts Options

	phase        Phase
	currentLabel int
	recognizing  bool
	store        enroll.Store
	dir          *directory.Directory
	sessionID    string

	lastEvent struct {
		valid    bool
		label    int
		accepted bool
		at       time.Time
	}
	now func() time.Time
}

// New returns an uninitialized controller.
func New(opts Options) *Controller {
	if opts.DefaultLabel < 0 {
		opts.DefaultLabel = 1
	}
	if opts.MaxLabel <= 0 {
		opts.MaxLabel = 5
	}
	if opts.EventInterval <= 0 {
		opts.EventInterval = time.Second
	}
	return &Controller{
		opts:         opts,
		currentLabel: opts.DefaultLabel,
		sessionID:    uuid.New().String(),
		dir:          directory.FromMap(nil),
		now:          time.Now,
	}
}

// Initialize loads the detector, the classifier, the frame source and the
// directory, in that order. Detector and frame source failures keep the
// controller uninitialized; classifier and directory failures are soft.
func (c *Controller) Initialize(ctx context.Context) error {
	switch c.phase {
	case Ready:
		return nil
	case Terminated:
		return ErrTerminated
	}

	if err := c.opts.Locator.Load(); err != nil {
		return &InitError{Kind: ErrNoDetectorModel, Err: err}
	}
	c.opts.Classifier.Init()
	if err := c.opts.Source.Open(ctx); err != nil {
		return &InitError{Kind: ErrNoFrameSource, Err: err}
	}
	if c.opts.Directory != nil {
		c.dir = c.opts.Directory(ctx)
	}

	c.phase = Ready
	slog.Info("session ready", "session_id", c.sessionID, "label", c.currentLabel, "trained", c.opts.Classifier.Trained())
	return nil
}

func (c *Controller) ready() error {
	switch c.phase {
	case Ready:
		return nil
	case Terminated:
		return ErrTerminated
	default:
		return ErrNotReady
	}
}

// SelectUser sets the label for subsequent captures. Labels need no
// directory entry.
func (c *Controller) SelectUser(label int) error {
	if err := c.ready(); err != nil {
		return err
	}
	if label < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLabel, label)
	}
	c.currentLabel = label
	slog.Info("user selected", "label", label, "name", c.dir.Name(label))
	return nil
}

// CaptureSample pulls one frame and enrolls its largest face under the
// current label.
func (c *Controller) CaptureSample() error {
	if err := c.ready(); err != nil {
		return err
	}
	frame, ok := c.opts.Source.Read()
	return c.capture(frame, ok)
}

func (c *Controller) capture(frame image.Image, ok bool) error {
	if err := c.ready(); err != nil {
		return err
	}
	if !ok || frame == nil {
		return ErrNoFrame
	}
	region, found := c.opts.Locator.Locate(frame)
	if !found {
		return ErrNoFace
	}
	s, err := sample.Normalize(frame, region)
	if err != nil {
		return err
	}
	c.store.Append(s, c.currentLabel)
	slog.Info("sample captured", "label", c.currentLabel, "label_samples", c.store.CountFor(c.currentLabel), "total", c.store.Count())
	return nil
}

// TrainModel trains over every captured sample and replaces the live model.
func (c *Controller) TrainModel() error {
	if err := c.ready(); err != nil {
		return err
	}
	samples, labels := c.store.Snapshot()
	slog.Info("training model", "samples", len(samples), "labels", c.store.Labels())
	err := c.opts.Classifier.Train(samples, labels)

	var persistErr *classifier.PersistError
	switch {
	case err == nil:
		slog.Info("model trained and saved", "samples", len(samples))
	case errors.As(err, &persistErr):
		slog.Warn("model trained but not saved, keeping it in memory", "path", persistErr.Path, "error", persistErr.Err)
	}
	return err
}

// ToggleRecognition flips the overlay flag and returns the new value.
func (c *Controller) ToggleRecognition() (bool, error) {
	if err := c.ready(); err != nil {
		return c.recognizing, err
	}
	c.recognizing = !c.recognizing
	c.lastEvent.valid = false
	slog.Info("recognition toggled", "recognizing", c.recognizing)
	return c.recognizing, nil
}

// Process annotates one frame. Recognition runs only while the flag is on;
// the status line is always drawn.
func (c *Controller) Process(frame image.Image) image.Image {
	if c.phase != Ready || frame == nil {
		return frame
	}
	canvas := annotate.New(frame)

	var ev *types.Recognition
	if c.recognizing {
		ev = c.recognize(canvas, frame)
	}
	canvas.Status(annotate.StatusLine(c.currentLabel, c.dir.Name(c.currentLabel), c.recognizing, c.store.Count()))

	if ev != nil {
		c.publish(*ev, canvas)
	}
	return canvas
}

// recognize draws the overlay for the largest face and returns an event
// when one is due.
func (c *Controller) recognize(canvas *annotate.Canvas, frame image.Image) *types.Recognition {
	region, found := c.opts.Locator.Locate(frame)
	if !found {
		return nil
	}
	s, err := sample.Normalize(frame, region)
	if err != nil {
		slog.Debug("skipping face", "error", err)
		return nil
	}
	label, confidence, err := c.opts.Classifier.Predict(s)
	if err != nil {
		slog.Debug("recognition skipped", "error", err, "code", CodeOf(err))
		return nil
	}

	accepted := c.opts.Classifier.IsAccepted(confidence)
	name := c.dir.Name(label)
	canvas.Recognition(region, name, confidence, accepted)

	if !c.due(label, accepted) {
		return nil
	}
	ev := types.Recognition{
		ID:         uuid.New().String(),
		SessionID:  c.sessionID,
		TraceID:    uuid.New().String(),
		Label:      label,
		Name:       name,
		Confidence: confidence,
		Accepted:   accepted,
		Region:     types.RegionOf(region),
		Timestamp:  c.now(),
	}
	if accepted {
		slog.Info("recognized", "label", label, "name", name, "confidence", confidence, "trace_id", ev.TraceID)
	} else {
		ev.Name = "Unknown"
		slog.Info("recognition rejected", "code", RecognitionFailed, "confidence", confidence, "trace_id", ev.TraceID)
	}
	return &ev
}

// due reports whether an event should go out: the (label, accepted) pair
// changed or EventInterval elapsed since the last one.
func (c *Controller) due(label int, accepted bool) bool {
	now := c.now()
	last := c.lastEvent
	if last.valid && last.label == label && last.accepted == accepted && now.Sub(last.at) < c.opts.EventInterval {
		return false
	}
	c.lastEvent.valid = true
	c.lastEvent.label = label
	c.lastEvent.accepted = accepted
	c.lastEvent.at = now
	return true
}

func (c *Controller) publish(ev types.Recognition, frame image.Image) {
	for _, sink := range c.opts.Events {
		sink.Publish(ev)
	}
	if c.opts.SnapshotDir != "" {
		if err := writeSnapshot(c.opts.SnapshotDir, ev, frame); err != nil {
			slog.Warn("failed to write snapshot", "dir", c.opts.SnapshotDir, "error", err)
		}
	}
}

func writeSnapshot(dir string, ev types.Recognition, frame image.Image) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	verdict := "rejected"
	if ev.Accepted {
		verdict = "accepted"
	}
	name := fmt.Sprintf("%d_%d_%s.jpg", ev.Timestamp.UnixNano(), ev.Label, verdict)
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, frame, &jpeg.Options{Quality: 85}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// State returns the session snapshot.
func (c *Controller) State() types.State {
	return types.State{
		Phase:        c.phase.String(),
		Recognizing:  c.recognizing,
		CurrentLabel: c.currentLabel,
		CurrentName:  c.dir.Name(c.currentLabel),
		SampleCount:  c.store.Count(),
		Trained:      c.opts.Classifier.Trained(),
		Running:      c.phase == Ready,
	}
}

// Enrolled returns the per-label sample counts captured this session.
func (c *Controller) Enrolled() map[int]int {
	out := make(map[int]int)
	for _, l := range c.store.Labels() {
		out[l] = c.store.CountFor(l)
	}
	return out
}

// SessionID identifies this run in events and logs.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Exit releases the frame source and the detector. It is terminal and
// safe to call more than once.
func (c *Controller) Exit() {
	if c.phase == Terminated {
		return
	}
	c.phase = Terminated
	if err := c.opts.Source.Close(); err != nil {
		slog.Warn("failed to close frame source", "error", err)
	}
	if err := c.opts.Locator.Close(); err != nil {
		slog.Warn("failed to close face detector", "error", err)
	}
	slog.Info("session exited", "session_id", c.sessionID, "samples", c.store.Count())
}

// Help returns the key map.
func (c *Controller) Help() string {
	return HelpText(c.opts.MaxLabel)
}

// HelpText renders the key map for labels 1..maxLabel.
func HelpText(maxLabel int) string {
	maxLabel = min(max(maxLabel, 1), 9)
	return fmt.Sprintf(`Controls:
  [1~%d]    select the current user (default user 1)
  [c]      capture a face sample from the current frame
  [t]      train (after capturing some samples)
  [r]      toggle the recognition overlay
  [s]      show session state
  [h]      show this help
  [Esc/q]  exit
`, maxLabel)
}
