// Package sample turns a detected face region into the fixed-size,
// illumination-normalized grayscale patch the classifier trains on.
package sample

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Size is the side length of every normalized sample.
const Size = 100

// ErrOutOfBounds is returned when a region does not lie inside its frame.
var ErrOutOfBounds = errors.New("region outside frame bounds")

// Normalize crops frame to region, converts it to intensity, equalizes the
// histogram and resizes the result to Size x Size.
func Normalize(frame image.Image, region image.Rectangle) (*image.Gray, error) {
	if region.Empty() || !region.In(frame.Bounds()) {
		return nil, fmt.Errorf("%w: %v not in %v", ErrOutOfBounds, region, frame.Bounds())
	}

	gray := Grayscale(frame, region)
	Equalize(gray)

	dst := image.NewGray(image.Rect(0, 0, Size, Size))
	draw.BiLinear.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Src, nil)
	return dst, nil
}

// Grayscale copies the region of img into a new single-channel image whose
// origin is (0, 0).
func Grayscale(img image.Image, region image.Rectangle) *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(gray, gray.Bounds(), img, region.Min, draw.Src)
	return gray
}

// Equalize spreads the intensity histogram of img over the full 0..255 range
// in place, using the cumulative-distribution lookup table.
func Equalize(img *image.Gray) {
	var hist [256]int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for _, v := range row {
			hist[v]++
		}
	}

	total := b.Dx() * b.Dy()
	if total == 0 {
		return
	}

	first := 0
	for hist[first] == 0 {
		first++
	}

	var lut [256]uint8
	if hist[first] == total {
		// Flat image: every pixel maps to its own value.
		for i := range lut {
			lut[i] = uint8(first)
		}
	} else {
		scale := 255.0 / float64(total-hist[first])
		sum := 0
		for i := first + 1; i < 256; i++ {
			sum += hist[i]
			v := int(float64(sum)*scale + 0.5)
			if v > 255 {
				v = 255
			}
			lut[i] = uint8(v)
		}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i, v := range row {
			row[i] = lut[v]
		}
	}
}
