//go:build !gocv

package detect

import "fmt"

// NewCascade is only available in builds tagged gocv.
func NewCascade(path string, minSize int) (Detector, error) {
	return nil, fmt.Errorf("%w: cascade backend requires building with -tags gocv (model %s)", ErrNoModel, path)
}
