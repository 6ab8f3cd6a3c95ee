package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/facegate/internal/classifier"
	"github.com/andresmejia3/facegate/internal/directory"
	"github.com/andresmejia3/facegate/internal/lbph"
	"github.com/andresmejia3/facegate/internal/sample"
	"github.com/andresmejia3/facegate/internal/source"
	"github.com/andresmejia3/facegate/internal/types"
)

// faceRect is where every test frame carries its face.
var faceRect = image.Rect(30, 10, 130, 110)

type fakeLocator struct {
	loadErr  error
	closeErr error
	none     bool
	closed   bool
}

func (f *fakeLocator) Load() error { return f.loadErr }
func (f *fakeLocator) Close() error {
	f.closed = true
	return f.closeErr
}
func (f *fakeLocator) Locate(image.Image) (image.Rectangle, bool) {
	if f.none {
		return image.Rectangle{}, false
	}
	return faceRect, true
}

type fakeSource struct {
	openErr   error
	frames    []image.Image
	repeat    image.Image
	misses    int
	maxMisses int
	closed    bool
}

func (f *fakeSource) Open(context.Context) error { return f.openErr }
func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}
func (f *fakeSource) Lost() bool { return f.maxMisses > 0 && f.misses >= f.maxMisses }
func (f *fakeSource) Read() (image.Image, bool) {
	if len(f.frames) > 0 {
		img := f.frames[0]
		f.frames = f.frames[1:]
		return img, true
	}
	if f.repeat != nil {
		return f.repeat, true
	}
	f.misses++
	return nil, false
}

type recorder struct {
	mu     sync.Mutex
	events []types.Recognition
	frames int
}

func (r *recorder) Publish(ev types.Recognition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) PutFrame(image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
}

// pattern is a 100x100 face stand-in: 2px horizontal or vertical bands,
// optionally with a few seeded gray dots so each capture differs.
func pattern(horizontal bool, seed int64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, sample.Size, sample.Size))
	for y := 0; y < sample.Size; y++ {
		for x := 0; x < sample.Size; x++ {
			k := y
			if !horizontal {
				k = x
			}
			v := uint8(40)
			if (k/2)%2 == 1 {
				v = 200
			}
			img.Pix[y*img.Stride+x] = v
		}
	}
	if seed != 0 {
		r := rand.New(rand.NewSource(seed))
		for i := 0; i < 10; i++ {
			img.Pix[r.Intn(len(img.Pix))] = 120
		}
	}
	return img
}

func noiseFace(seed int64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, sample.Size, sample.Size))
	r := rand.New(rand.NewSource(seed))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.Intn(256))
	}
	return img
}

// frameWith places face at faceRect inside a 160x120 frame.
func frameWith(face image.Image) image.Image {
	frame := image.NewRGBA(image.Rect(0, 0, 160, 120))
	draw.Draw(frame, faceRect, face, image.Point{}, draw.Src)
	return frame
}

type harness struct {
	c      *Controller
	loc    *fakeLocator
	src    *fakeSource
	rec    *recorder
	model  string
	clock  time.Time
	dirMap map[int]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loc:    &fakeLocator{},
		src:    &fakeSource{},
		rec:    &recorder{},
		model:  filepath.Join(t.TempDir(), "model.yml"),
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		dirMap: map[int]string{1: "Alice", 2: "Bob"},
	}
	h.c = New(Options{
		Locator:    h.loc,
		Classifier: classifier.New(h.model, lbph.DefaultParams(), classifier.DefaultAcceptBelow),
		Source:     h.src,
		Directory: func(context.Context) *directory.Directory {
			return directory.FromMap(h.dirMap)
		},
		Frames:       h.rec,
		Events:       []EventSink{h.rec},
		DefaultLabel: 1,
	})
	h.c.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	if err := h.c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
}

func (h *harness) captureAs(t *testing.T, label int, faces ...image.Image) {
	t.Helper()
	if err := h.c.SelectUser(label); err != nil {
		t.Fatal(err)
	}
	for _, f := range faces {
		h.src.frames = append(h.src.frames, frameWith(f))
		if err := h.c.CaptureSample(); err != nil {
			t.Fatalf("CaptureSample() error = %v", err)
		}
	}
}

func TestInitializeFailures(t *testing.T) {
	t.Run("no detector model", func(t *testing.T) {
		h := newHarness(t)
		h.loc.loadErr = errors.New("cascade missing")
		err := h.c.Initialize(context.Background())

		var initErr *InitError
		if !errors.As(err, &initErr) || !errors.Is(err, ErrNoDetectorModel) {
			t.Fatalf("Initialize() error = %v, want InitError(ErrNoDetectorModel)", err)
		}
		if CodeOf(err) != InitFailed {
			t.Errorf("CodeOf() = %v, want %v", CodeOf(err), InitFailed)
		}
		if h.c.State().Phase != "uninitialized" {
			t.Errorf("phase = %q, want uninitialized", h.c.State().Phase)
		}
	})

	t.Run("no frame source", func(t *testing.T) {
		h := newHarness(t)
		h.src.openErr = source.ErrNoSource
		err := h.c.Initialize(context.Background())
		if !errors.Is(err, ErrNoFrameSource) || !errors.Is(err, source.ErrNoSource) {
			t.Fatalf("Initialize() error = %v, want ErrNoFrameSource wrapping ErrNoSource", err)
		}
		if err := h.c.SelectUser(2); !errors.Is(err, ErrNotReady) {
			t.Errorf("SelectUser() before Ready error = %v, want ErrNotReady", err)
		}
	})

	t.Run("directory unavailable is soft", func(t *testing.T) {
		h := newHarness(t)
		h.dirMap = nil
		h.init(t)
		if got := h.c.State().CurrentName; got != "User 1" {
			t.Errorf("CurrentName = %q, want synthesized name", got)
		}
	})
}

func TestDefaults(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	st := h.c.State()
	if st.CurrentLabel != 1 || st.Recognizing || st.SampleCount != 0 || !st.Running || st.Trained {
		t.Errorf("initial state = %+v", st)
	}
	if st.CurrentName != "Alice" {
		t.Errorf("CurrentName = %q, want Alice", st.CurrentName)
	}
}

func TestPredictBeforeTraining(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	h.c.ToggleRecognition()

	out := h.c.Process(frameWith(pattern(true, 0)))
	if out == nil {
		t.Fatal("Process() returned nil")
	}
	if len(h.rec.events) != 0 {
		t.Errorf("untrained recognition should emit nothing, got %v", h.rec.events)
	}
}

func TestCaptureFiveForOneLabel(t *testing.T) {
	h := newHarness(t)
	h.init(t)

	faces := make([]image.Image, 5)
	for i := range faces {
		faces[i] = pattern(true, int64(i+1))
	}
	h.captureAs(t, 3, faces...)

	if got := h.c.State().SampleCount; got != 5 {
		t.Errorf("SampleCount = %d, want 5", got)
	}
	if got := h.c.Enrolled(); len(got) != 1 || got[3] != 5 {
		t.Errorf("Enrolled() = %v, want map[3:5]", got)
	}
	_, labels := h.c.store.Snapshot()
	for i, l := range labels {
		if l != 3 {
			t.Errorf("labels[%d] = %d, want 3", i, l)
		}
	}
}

func TestCaptureFailuresLeaveStoreUntouched(t *testing.T) {
	h := newHarness(t)
	h.init(t)

	if err := h.c.CaptureSample(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("CaptureSample() on empty source error = %v, want ErrNoFrame", err)
	}

	h.loc.none = true
	h.src.frames = []image.Image{frameWith(pattern(true, 0))}
	err := h.c.CaptureSample()
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("CaptureSample() without a face error = %v, want ErrNoFace", err)
	}
	if CodeOf(err) != CaptureFailed {
		t.Errorf("CodeOf() = %v, want %v", CodeOf(err), CaptureFailed)
	}

	samples, labels := h.c.store.Snapshot()
	if len(samples) != 0 || len(labels) != 0 {
		t.Errorf("store after failures = %d samples, %d labels", len(samples), len(labels))
	}
}

func TestTrainEmptySet(t *testing.T) {
	h := newHarness(t)
	h.init(t)

	err := h.c.TrainModel()
	if !errors.Is(err, classifier.ErrEmptySet) {
		t.Fatalf("TrainModel() error = %v, want ErrEmptySet", err)
	}
	if CodeOf(err) != TrainingFailed {
		t.Errorf("CodeOf() = %v, want %v", CodeOf(err), TrainingFailed)
	}
	if _, err := os.Stat(h.model); !os.IsNotExist(err) {
		t.Errorf("empty training must not write %s", h.model)
	}
}

func TestTrainAndRecognize(t *testing.T) {
	h := newHarness(t)
	h.init(t)

	h.captureAs(t, 1, pattern(true, 0), pattern(true, 11), pattern(true, 12))
	h.captureAs(t, 2, pattern(false, 0), pattern(false, 21))

	if err := h.c.TrainModel(); err != nil {
		t.Fatalf("TrainModel() error = %v", err)
	}
	if !h.c.State().Trained {
		t.Fatal("State().Trained should be true after training")
	}
	if _, err := os.Stat(h.model); err != nil {
		t.Errorf("model file not written: %v", err)
	}

	if on, _ := h.c.ToggleRecognition(); !on {
		t.Fatal("ToggleRecognition() should turn recognition on")
	}

	h.c.Process(frameWith(pattern(true, 99)))
	h.clock = h.clock.Add(10 * time.Millisecond)
	h.c.Process(frameWith(noiseFace(7)))

	if len(h.rec.events) != 2 {
		t.Fatalf("events = %+v, want 2", h.rec.events)
	}
	held, unrelated := h.rec.events[0], h.rec.events[1]
	if held.Label != 1 || !held.Accepted || held.Confidence >= classifier.DefaultAcceptBelow || held.Name != "Alice" {
		t.Errorf("held-out event = %+v, want accepted label 1 (Alice)", held)
	}
	if unrelated.Accepted || unrelated.Confidence < classifier.DefaultAcceptBelow || unrelated.Name != "Unknown" {
		t.Errorf("unrelated event = %+v, want rejected", unrelated)
	}
	if held.SessionID != h.c.SessionID() || held.TraceID == "" || held.TraceID == unrelated.TraceID {
		t.Errorf("events should carry the session ID and distinct trace IDs")
	}
	if held.Region != types.RegionOf(faceRect) {
		t.Errorf("event region = %+v", held.Region)
	}
}

func TestEventDedupe(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	h.captureAs(t, 1, pattern(true, 0), pattern(true, 11))
	if err := h.c.TrainModel(); err != nil {
		t.Fatal(err)
	}
	h.c.ToggleRecognition()

	frame := frameWith(pattern(true, 5))
	h.c.Process(frame)
	h.clock = h.clock.Add(500 * time.Millisecond)
	h.c.Process(frame)
	if len(h.rec.events) != 1 {
		t.Fatalf("same verdict within the interval should emit once, got %d", len(h.rec.events))
	}

	h.clock = h.clock.Add(time.Second)
	h.c.Process(frame)
	if len(h.rec.events) != 2 {
		t.Errorf("interval elapsed, want a second event, got %d", len(h.rec.events))
	}
}

func TestToggleTwiceRestores(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	before := h.c.State().Recognizing
	h.c.ToggleRecognition()
	h.c.ToggleRecognition()
	if h.c.State().Recognizing != before {
		t.Error("two toggles should restore the original value")
	}
}

func TestRecognitionOffDrawsNoOverlay(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	h.captureAs(t, 1, pattern(true, 0))
	if err := h.c.TrainModel(); err != nil {
		t.Fatal(err)
	}

	h.c.Process(frameWith(pattern(true, 0)))
	if len(h.rec.events) != 0 {
		t.Errorf("recognition off should emit no events, got %d", len(h.rec.events))
	}
}

func TestCaptureWhileRecognizing(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	h.c.ToggleRecognition()
	h.captureAs(t, 2, pattern(false, 0))
	if h.c.State().SampleCount != 1 || !h.c.State().Recognizing {
		t.Errorf("enrollment and recognition are independent, state = %+v", h.c.State())
	}
}

func TestFallbackIsTransparent(t *testing.T) {
	fallback := &fakeStream{frame: frameWith(pattern(true, 0))}
	open := func(ctx context.Context, d string) (source.Stream, error) {
		if d == "/tmp/yuyv.sdp" {
			return nil, errors.New("connection refused")
		}
		return fallback, nil
	}

	h := newHarness(t)
	h.c.opts.Source = source.New("/tmp/yuyv.sdp", "0", open, time.Millisecond, 150)
	h.init(t)

	if err := h.c.CaptureSample(); err != nil {
		t.Fatalf("CaptureSample() via fallback error = %v", err)
	}
	if h.c.State().SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", h.c.State().SampleCount)
	}
}

type fakeStream struct{ frame image.Image }

func (f *fakeStream) Read(time.Duration) (image.Image, bool) { return f.frame, true }
func (f *fakeStream) Close() error                           { return nil }

func TestExitLogsDetectorCloseError(t *testing.T) {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(old)

	h := newHarness(t)
	h.init(t)
	h.loc.closeErr = errors.New("cascade busy")
	h.c.Exit()

	if !strings.Contains(buf.String(), "failed to close face detector") || !strings.Contains(buf.String(), "cascade busy") {
		t.Errorf("detector close error not logged:\n%s", buf.String())
	}
}

func TestNewKeepsLabelZero(t *testing.T) {
	if got := New(Options{DefaultLabel: 0}).currentLabel; got != 0 {
		t.Errorf("current label = %d, want 0", got)
	}
	if got := New(Options{DefaultLabel: -3}).currentLabel; got != 1 {
		t.Errorf("negative default label = %d, want fallback 1", got)
	}
}

func TestExitIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	h.c.Exit()
	h.c.Exit()

	if !h.src.closed || !h.loc.closed {
		t.Error("Exit() should release the source and the detector")
	}
	st := h.c.State()
	if st.Running || st.Phase != "terminated" {
		t.Errorf("state after exit = %+v", st)
	}
	if err := h.c.SelectUser(2); !errors.Is(err, ErrTerminated) {
		t.Errorf("SelectUser() after exit error = %v", err)
	}
	if err := h.c.Initialize(context.Background()); !errors.Is(err, ErrTerminated) {
		t.Errorf("Initialize() after exit error = %v", err)
	}
}

func TestSelectUserRejectsNegative(t *testing.T) {
	h := newHarness(t)
	h.init(t)
	if err := h.c.SelectUser(-1); !errors.Is(err, ErrInvalidLabel) {
		t.Errorf("SelectUser(-1) error = %v", err)
	}
	if err := h.c.SelectUser(7); err != nil {
		t.Errorf("SelectUser(7) error = %v; labels need no directory entry", err)
	}
	if got := h.c.State().CurrentName; got != "User 7" {
		t.Errorf("CurrentName = %q, want User 7", got)
	}
}

func TestSnapshots(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(t.TempDir(), "snapshots")
	h.c.opts.SnapshotDir = dir
	h.init(t)
	h.captureAs(t, 1, pattern(true, 0))
	if err := h.c.TrainModel(); err != nil {
		t.Fatal(err)
	}
	h.c.ToggleRecognition()
	h.c.Process(frameWith(pattern(true, 0)))

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("snapshot dir = %v (%v), want one file", entries, err)
	}
	if filepath.Ext(entries[0].Name()) != ".jpg" {
		t.Errorf("snapshot %q is not a jpeg", entries[0].Name())
	}
}

func TestRun(t *testing.T) {
	h := newHarness(t)
	h.src.repeat = frameWith(pattern(true, 0))
	h.init(t)

	commands := make(chan Command)
	done := make(chan error, 1)
	go func() { done <- h.c.Run(context.Background(), commands) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := []struct {
		kind  Kind
		label int
		code  ResultCode
	}{
		{CmdTrain, 0, TrainingFailed},
		{CmdSelect, 2, Success},
		{CmdCapture, 0, Success},
		{CmdCapture, 0, Success},
		{CmdToggle, 0, Success},
		{Kind("dance"), 0, Unknown},
	}
	for _, s := range steps {
		r, err := Send(ctx, commands, s.kind, s.label)
		if err != nil {
			t.Fatalf("Send(%s) error = %v", s.kind, err)
		}
		if r.Code != s.code {
			t.Errorf("%s reply code = %v (%s), want %v", s.kind, r.Code, r.Error, s.code)
		}
	}

	r, err := Send(ctx, commands, CmdState, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.State.CurrentLabel != 2 || r.State.SampleCount != 2 || !r.State.Recognizing {
		t.Errorf("state reply = %+v", r.State)
	}

	r, err = Send(ctx, commands, CmdHelp, 0)
	if err != nil || r.Message == "" {
		t.Errorf("help reply = %+v, %v", r, err)
	}

	if _, err := Send(ctx, commands, CmdExit, 0); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil after exit", err)
		}
	case <-ctx.Done():
		t.Fatal("Run() did not return after exit")
	}
	if h.rec.frames == 0 {
		t.Error("frame sink never received a frame")
	}
}

func TestRunSourceLost(t *testing.T) {
	h := newHarness(t)
	h.src.maxMisses = 3
	h.init(t)

	err := h.c.Run(context.Background(), nil)
	if !errors.Is(err, source.ErrSourceLost) {
		t.Fatalf("Run() error = %v, want ErrSourceLost", err)
	}
	if h.c.State().Phase != "terminated" || !h.src.closed {
		t.Error("a lost source should terminate the session")
	}
}

func TestRunCancel(t *testing.T) {
	h := newHarness(t)
	h.src.repeat = frameWith(pattern(true, 0))
	h.init(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.c.Run(ctx, make(chan Command)); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if h.c.State().Running {
		t.Error("cancellation should behave as exit")
	}
}

func TestRunNotReady(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Run(context.Background(), nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("Run() before Initialize error = %v", err)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ResultCode
	}{
		{nil, Success},
		{&InitError{Kind: ErrNoDetectorModel, Err: errors.New("x")}, InitFailed},
		{ErrNotReady, InitFailed},
		{ErrNoFrame, CaptureFailed},
		{ErrNoFace, CaptureFailed},
		{sample.ErrOutOfBounds, CaptureFailed},
		{classifier.ErrEmptySet, TrainingFailed},
		{&classifier.PersistError{Path: "m.yml", Err: os.ErrPermission}, TrainingFailed},
		{classifier.ErrNotTrained, ModelNotFound},
		{errors.New("boom"), Unknown},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"capture":             CmdCapture,
		"CAPTURE_SAMPLE":      CmdCapture,
		" toggle_recognition": CmdToggle,
		"get_state":           CmdState,
		"quit":                CmdExit,
	}
	for in, want := range tests {
		if got, ok := ParseKind(in); !ok || got != want {
			t.Errorf("ParseKind(%q) = (%q, %v), want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseKind("dance"); ok {
		t.Error("ParseKind(dance) should fail")
	}
}

func TestHelpText(t *testing.T) {
	if got := HelpText(5); !containsAll(got, "[1~5]", "[c]", "[t]", "[r]", "[h]", "[Esc/q]") {
		t.Errorf("HelpText(5) = %q", got)
	}
	if got := HelpText(42); !containsAll(got, "[1~9]") {
		t.Errorf("HelpText(42) should cap at 9, got %q", got)
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
