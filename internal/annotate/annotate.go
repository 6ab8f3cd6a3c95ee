// Package annotate draws recognition overlays onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	Green = color.RGBA{0, 255, 0, 255}
	Red   = color.RGBA{255, 0, 0, 255}
	White = color.RGBA{255, 255, 255, 255}
)

// Thickness of box outlines in pixels.
const Thickness = 2

// Canvas is a drawable copy of a frame.
type Canvas struct {
	*image.RGBA
}

// New copies frame into a fresh RGBA canvas; the frame itself is untouched.
func New(frame image.Image) *Canvas {
	b := frame.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, frame, b.Min, draw.Src)
	return &Canvas{RGBA: dst}
}

// Box outlines r, clipped to the canvas.
func (c *Canvas) Box(r image.Rectangle, col color.Color) {
	r = r.Intersect(c.Bounds())
	if r.Empty() {
		return
	}
	src := image.NewUniform(col)
	t := min(Thickness, r.Dx(), r.Dy())
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(c.RGBA, e, src, image.Point{}, draw.Src)
	}
}

// Text draws s with its baseline at p.
func (c *Canvas) Text(p image.Point, s string, col color.Color) {
	d := &font.Drawer{
		Dst:  c.RGBA,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(p.X, p.Y),
	}
	d.DrawString(s)
}

// Label draws s just above r, or just inside it when r touches the top edge.
func (c *Canvas) Label(r image.Rectangle, s string, col color.Color) {
	p := image.Pt(r.Min.X, r.Min.Y-4)
	if p.Y < c.Bounds().Min.Y+basicfont.Face7x13.Ascent {
		p.Y = r.Min.Y + basicfont.Face7x13.Ascent + Thickness
	}
	c.Text(p, s, col)
}

// Status draws the session line in the top-left corner.
func (c *Canvas) Status(s string) {
	c.Text(c.Bounds().Min.Add(image.Pt(10, 20)), s, White)
}

// StatusLine formats the session status shown on every frame.
func StatusLine(label int, name string, recognizing bool, samples int) string {
	mode := "off"
	if recognizing {
		mode = "on"
	}
	return fmt.Sprintf("user %d (%s) | recognition %s | samples %d", label, name, mode, samples)
}

// Recognition draws one recognized face: green with name and confidence
// when accepted, red "Unknown" and the confidence otherwise.
func (c *Canvas) Recognition(r image.Rectangle, name string, confidence float64, accepted bool) {
	col := Red
	if accepted {
		col = Green
	}
	c.Box(r, col)
	c.Label(r, RecognitionText(name, confidence, accepted), col)
}

// RecognitionText is the label drawn next to a recognized face. A
// classifier rejection carries math.MaxFloat64, shown as "inf".
func RecognitionText(name string, confidence float64, accepted bool) string {
	if !accepted {
		name = "Unknown"
	}
	if confidence >= math.MaxFloat64 || math.IsInf(confidence, 1) {
		return name + " (inf)"
	}
	return fmt.Sprintf("%s (%.1f)", name, confidence)
}
