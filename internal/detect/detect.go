// Package detect finds face candidates in a frame and reduces them to the
// single largest region.
package detect

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
)

// ErrNoModel is returned when no detector model file can be found or parsed.
var ErrNoModel = errors.New("face detector model not found")

// DefaultMinSize is the smallest face side accepted by the locator.
const DefaultMinSize = 80

// Detector returns candidate face rectangles in detector order. Every
// rectangle lies inside the frame bounds.
type Detector interface {
	Detect(frame image.Image) []image.Rectangle
	Close() error
}

// CascadeSearchPaths lists the well-known LBP cascade locations.
var CascadeSearchPaths = []string{
	"./lbpcascade_frontalface_improved.xml",
	"/usr/share/opencv/lbpcascades/lbpcascade_frontalface_improved.xml",
	"/usr/share/opencv4/lbpcascades/lbpcascade_frontalface_improved.xml",
}

// PigoSearchPaths lists the well-known pigo cascade locations.
var PigoSearchPaths = []string{
	"./facefinder",
	"./cascade/facefinder",
	"/usr/share/facegate/facefinder",
}

// FindModel returns the first candidate path that exists as a regular file.
func FindModel(candidates ...string) (string, error) {
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (searched %v)", ErrNoModel, candidates)
}

// Open builds the named backend. An explicit model path wins over the
// search list.
func Open(backend, model string, minSize int, quality float64) (Detector, error) {
	switch backend {
	case "", "pigo":
		path, err := resolve(model, PigoSearchPaths)
		if err != nil {
			return nil, err
		}
		d, err := NewPigo(path, minSize, quality)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "cascade", "opencv":
		path, err := resolve(model, CascadeSearchPaths)
		if err != nil {
			return nil, err
		}
		return NewCascade(path, minSize)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", backend)
	}
}

func resolve(explicit string, fallback []string) (string, error) {
	if explicit != "" {
		return FindModel(explicit)
	}
	return FindModel(fallback...)
}

// Locator wraps a detector with the minimum-size filter and largest-face
// selection. It is loaded once and then only read.
type Locator struct {
	MinSize int

	load     func() (Detector, error)
	detector Detector
}

// NewLocator returns a locator that obtains its detector from load.
func NewLocator(minSize int, load func() (Detector, error)) *Locator {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Locator{MinSize: minSize, load: load}
}

// Load initializes the detector model.
func (l *Locator) Load() error {
	d, err := l.load()
	if err != nil {
		if errors.Is(err, ErrNoModel) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrNoModel, err)
	}
	l.detector = d
	slog.Info("face detector ready", "min_size", l.MinSize)
	return nil
}

// Locate returns the largest candidate at least MinSize on both sides.
// Exact area ties keep the first candidate.
func (l *Locator) Locate(frame image.Image) (image.Rectangle, bool) {
	if l.detector == nil {
		return image.Rectangle{}, false
	}
	return Largest(l.detector.Detect(frame), l.MinSize)
}

// Close releases the detector.
func (l *Locator) Close() error {
	if l.detector == nil {
		return nil
	}
	return l.detector.Close()
}

// Largest picks the max-area rectangle among those with both sides >= minSize.
func Largest(candidates []image.Rectangle, minSize int) (image.Rectangle, bool) {
	var best image.Rectangle
	found := false
	for _, r := range candidates {
		if r.Dx() < minSize || r.Dy() < minSize {
			continue
		}
		if !found || area(r) > area(best) {
			best = r
			found = true
		}
	}
	return best, found
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
