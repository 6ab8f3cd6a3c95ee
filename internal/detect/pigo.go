package detect

import (
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
)

// Pigo is the pure-Go pixel-intensity-comparison detector.
type Pigo struct {
	classifier *pigo.Pigo
	minSize    int
	quality    float32
}

// NewPigo unpacks the binary cascade at path.
func NewPigo(path string, minSize int, quality float64) (*Pigo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoModel, err)
	}

	p := pigo.NewPigo()
	// Unpack the binary file. This returns the number of cascade trees,
	// the tree depth, the threshold and the leaf predictions.
	classifier, err := p.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking %s: %w", ErrNoModel, path, err)
	}
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Pigo{classifier: classifier, minSize: minSize, quality: float32(quality)}, nil
}

// Detect runs the cascade over the frame and returns clustered detections
// above the quality cutoff, clipped to the frame.
func (d *Pigo) Detect(frame image.Image) []image.Rectangle {
	b := frame.Bounds()
	cols, rows := b.Dx(), b.Dy()
	maxSize := min(cols, rows)
	if maxSize < d.minSize {
		return nil
	}

	params := pigo.CascadeParams{
		MinSize:     d.minSize,
		MaxSize:     maxSize,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(frame),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	var out []image.Rectangle
	for _, det := range dets {
		if det.Q < d.quality {
			continue
		}
		half := det.Scale / 2
		r := image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half).Add(b.Min)
		r = r.Intersect(b)
		if r.Empty() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Close is a no-op; the cascade lives in Go memory.
func (d *Pigo) Close() error { return nil }
