//go:build gocv

package detect

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Cascade is the OpenCV LBP/Haar cascade detector.
type Cascade struct {
	classifier gocv.CascadeClassifier
	minSize    int
}

// NewCascade loads the cascade XML at path.
func NewCascade(path string, minSize int) (Detector, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("%w: cannot load cascade %s", ErrNoModel, path)
	}
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Cascade{classifier: c, minSize: minSize}, nil
}

// Detect converts the frame to grayscale and runs multi-scale detection
// with scale factor 1.1 and 3 neighbours.
func (d *Cascade) Detect(frame image.Image) []image.Rectangle {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	faces := d.classifier.DetectMultiScaleWithParams(
		gray,
		1.1,                            // scale factor
		3,                              // min neighbors
		0,                              // flags
		image.Pt(d.minSize, d.minSize), // min size
		image.Point{},                  // no max size
	)

	b := frame.Bounds()
	out := make([]image.Rectangle, 0, len(faces))
	for _, r := range faces {
		r = r.Add(b.Min).Intersect(b)
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// Close frees the native classifier.
func (d *Cascade) Close() error {
	return d.classifier.Close()
}
