package types

import (
	"image"
	"time"
)

// Region is the JSON form of a face rectangle within a frame
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// RegionOf converts an image rectangle into its wire form.
func RegionOf(r image.Rectangle) Region {
	return Region{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// State is the snapshot returned by the getState control command
type State struct {
	Phase        string `json:"phase"`
	Recognizing  bool   `json:"recognizing"`
	CurrentLabel int    `json:"current_label"`
	CurrentName  string `json:"current_name"`
	SampleCount  int    `json:"sample_count"`
	Trained      bool   `json:"trained"`
	Running      bool   `json:"running"`
}

// Recognition is emitted when the live overlay resolves a face
type Recognition struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	TraceID    string    `json:"trace_id"`
	Label      int       `json:"label"`
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
	Accepted   bool      `json:"accepted"`
	Region     Region    `json:"region"`
	Timestamp  time.Time `json:"timestamp"`
}
