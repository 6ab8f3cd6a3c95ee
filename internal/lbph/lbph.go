// Package lbph implements a Local Binary Patterns Histograms face
// classifier: circular LBP codes, per-cell spatial histograms and
// nearest-neighbour matching under the chi-square distance.
package lbph

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/coder/hnsw"
)

var (
	ErrEmpty    = errors.New("lbph: no training images")
	ErrMismatch = errors.New("lbph: images and labels differ in length")
)

// Unknown is the label returned when no neighbour is closer than the threshold.
const Unknown = -1

// Params are the classifier hyperparameters.
type Params struct {
	Radius    int     `yaml:"radius"`
	Neighbors int     `yaml:"neighbors"`
	GridX     int     `yaml:"grid_x"`
	GridY     int     `yaml:"grid_y"`
	Threshold float64 `yaml:"threshold"`
	// IndexMin enables the HNSW candidate index once a model holds at least
	// this many histograms. Zero keeps exact search.
	IndexMin int `yaml:"-"`
}

// DefaultParams returns radius 1, 8 neighbours, a 4x4 grid and a rejection
// distance of 8.
func DefaultParams() Params {
	return Params{Radius: 1, Neighbors: 8, GridX: 4, GridY: 4, Threshold: 8.0}
}

// Bins is the length of one spatial histogram.
func (p Params) Bins() int {
	return p.GridX * p.GridY * (1 << p.Neighbors)
}

func (p Params) validate() error {
	switch {
	case p.Radius < 1:
		return fmt.Errorf("lbph: radius %d < 1", p.Radius)
	case p.Neighbors < 1 || p.Neighbors > 16:
		return fmt.Errorf("lbph: neighbors %d outside 1..16", p.Neighbors)
	case p.GridX < 1 || p.GridY < 1:
		return fmt.Errorf("lbph: grid %dx%d", p.GridX, p.GridY)
	case p.Threshold <= 0:
		return fmt.Errorf("lbph: threshold %v must be positive", p.Threshold)
	}
	return nil
}

// Model is a trained classifier. It is immutable once built.
type Model struct {
	params     Params
	histograms [][]float32
	labels     []int
	index      *hnsw.Graph[int]
}

// Train computes one spatial histogram per image.
func Train(p Params, images []*image.Gray, labels []int) (*Model, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, ErrEmpty
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("%w: %d images, %d labels", ErrMismatch, len(images), len(labels))
	}

	hists := make([][]float32, len(images))
	for i, img := range images {
		h, err := p.histogram(img)
		if err != nil {
			return nil, fmt.Errorf("lbph: image %d: %w", i, err)
		}
		hists[i] = h
	}

	ls := make([]int, len(labels))
	copy(ls, labels)
	return newModel(p, hists, ls), nil
}

func newModel(p Params, hists [][]float32, labels []int) *Model {
	m := &Model{params: p, histograms: hists, labels: labels}
	if p.IndexMin > 0 && len(hists) >= p.IndexMin {
		m.buildIndex()
	}
	return m
}

func (m *Model) buildIndex() {
	g := hnsw.NewGraph[int]()
	g.M = 16
	g.Ml = 1.0 / 16
	g.EfSearch = 64
	g.Distance = chiSquare32
	for i, h := range m.histograms {
		g.Add(hnsw.MakeNode(i, h))
	}
	m.index = g
}

// Params returns the hyperparameters the model was built with.
func (m *Model) Params() Params {
	return m.params
}

// Len returns the number of stored histograms.
func (m *Model) Len() int {
	return len(m.histograms)
}

// Indexed reports whether predictions go through the HNSW index.
func (m *Model) Indexed() bool {
	return m.index != nil
}

// Counts returns the number of training histograms per label.
func (m *Model) Counts() map[int]int {
	out := make(map[int]int)
	for _, l := range m.labels {
		out[l]++
	}
	return out
}

// Labels returns the distinct labels in ascending order.
func (m *Model) Labels() []int {
	counts := m.Counts()
	out := make([]int, 0, len(counts))
	for l := range counts {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// Predict returns the label of the nearest training histogram and its
// distance. When nothing is closer than the threshold it returns Unknown
// and math.MaxFloat64.
func (m *Model) Predict(img *image.Gray) (int, float64, error) {
	q, err := m.params.histogram(img)
	if err != nil {
		return Unknown, math.MaxFloat64, err
	}

	candidates := m.candidates(q)

	label, best := Unknown, math.MaxFloat64
	for _, i := range candidates {
		d := ChiSquare(m.histograms[i], q)
		if d < best && d < m.params.Threshold {
			best = d
			label = m.labels[i]
		}
	}
	return label, best, nil
}

func (m *Model) candidates(q []float32) []int {
	if m.index == nil {
		all := make([]int, len(m.histograms))
		for i := range all {
			all[i] = i
		}
		return all
	}
	k := min(len(m.histograms), 16)
	nodes := m.index.Search(q, k)
	out := make([]int, len(nodes))
	for i, n := range nodes {
		out[i] = n.Key
	}
	return out
}

// ChiSquare is the alternative chi-square distance 2 * sum((a-b)^2 / (a+b)).
func ChiSquare(a, b []float32) float64 {
	var sum float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		s := x + y
		if math.Abs(s) > math.SmallestNonzeroFloat32 {
			d := x - y
			sum += d * d / s
		}
	}
	return 2 * sum
}

func chiSquare32(a, b []float32) float32 {
	return float32(ChiSquare(a, b))
}
