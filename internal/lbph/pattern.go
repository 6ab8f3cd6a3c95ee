package lbph

import (
	"fmt"
	"image"
	"math"
)

const eps = 1.1920929e-07 // float32 machine epsilon

// codes computes circular LBP codes with bilinear sampling. The result is
// (w-2r) x (h-2r), one code per interior pixel, row-major.
func (p Params) codes(img *image.Gray) ([]uint32, int, int, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	r := p.Radius
	cw, ch := w-2*r, h-2*r
	if cw < p.GridX || ch < p.GridY {
		return nil, 0, 0, fmt.Errorf("image %dx%d too small for radius %d and grid %dx%d", w, h, r, p.GridX, p.GridY)
	}

	at := func(x, y int) float64 {
		return float64(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}

	out := make([]uint32, cw*ch)
	for n := 0; n < p.Neighbors; n++ {
		theta := 2 * math.Pi * float64(n) / float64(p.Neighbors)
		x := float64(r) * math.Cos(theta)
		y := -float64(r) * math.Sin(theta)

		fx, fy := int(math.Floor(x)), int(math.Floor(y))
		cx, cy := int(math.Ceil(x)), int(math.Ceil(y))
		tx, ty := x-float64(fx), y-float64(fy)

		w1 := (1 - tx) * (1 - ty)
		w2 := tx * (1 - ty)
		w3 := (1 - tx) * ty
		w4 := tx * ty

		bit := uint32(1) << n
		for i := r; i < h-r; i++ {
			for j := r; j < w-r; j++ {
				t := w1*at(j+fx, i+fy) + w2*at(j+cx, i+fy) + w3*at(j+fx, i+cy) + w4*at(j+cx, i+cy)
				c := at(j, i)
				if t > c || math.Abs(t-c) < eps {
					out[(i-r)*cw+(j-r)] |= bit
				}
			}
		}
	}
	return out, cw, ch, nil
}

// histogram splits the code image into GridX x GridY cells and concatenates
// one normalized histogram per cell, row by row.
func (p Params) histogram(img *image.Gray) ([]float32, error) {
	codes, cw, ch, err := p.codes(img)
	if err != nil {
		return nil, err
	}

	patterns := 1 << p.Neighbors
	cellW, cellH := cw/p.GridX, ch/p.GridY
	area := float32(cellW * cellH)

	hist := make([]float32, p.Bins())
	for gy := 0; gy < p.GridY; gy++ {
		for gx := 0; gx < p.GridX; gx++ {
			cell := hist[(gy*p.GridX+gx)*patterns : (gy*p.GridX+gx+1)*patterns]
			for y := gy * cellH; y < (gy+1)*cellH; y++ {
				row := codes[y*cw+gx*cellW : y*cw+(gx+1)*cellW]
				for _, c := range row {
					cell[c]++
				}
			}
			for i := range cell {
				cell[i] /= area
			}
		}
	}
	return hist, nil
}
