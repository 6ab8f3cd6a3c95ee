package enroll

import (
	"image"
	"testing"
)

func TestStoreLengthInvariant(t *testing.T) {
	var s Store
	labels := []int{3, 3, 1, 5, 3, 2}

	for i, l := range labels {
		s.Append(image.NewGray(image.Rect(0, 0, 4, 4)), l)

		samples, got := s.Snapshot()
		if len(samples) != len(got) {
			t.Fatalf("after %d appends: %d samples vs %d labels", i+1, len(samples), len(got))
		}
		if s.Count() != i+1 {
			t.Errorf("Count() = %d, want %d", s.Count(), i+1)
		}
	}

	_, got := s.Snapshot()
	for i := range labels {
		if got[i] != labels[i] {
			t.Errorf("label[%d] = %d, want %d (capture order)", i, got[i], labels[i])
		}
	}
}

func TestSnapshotIsStable(t *testing.T) {
	var s Store
	s.Append(image.NewGray(image.Rect(0, 0, 1, 1)), 1)
	s.Append(image.NewGray(image.Rect(0, 0, 1, 1)), 2)

	samples, labels := s.Snapshot()
	s.Append(image.NewGray(image.Rect(0, 0, 1, 1)), 9)

	if len(samples) != 2 || len(labels) != 2 {
		t.Fatalf("snapshot grew after append: %d/%d", len(samples), len(labels))
	}
	if labels[1] != 2 {
		t.Errorf("labels[1] = %d, want 2", labels[1])
	}
}

func TestCountForAndLabels(t *testing.T) {
	var s Store
	for _, l := range []int{4, 1, 4, 4, 2} {
		s.Append(image.NewGray(image.Rect(0, 0, 1, 1)), l)
	}

	if got := s.CountFor(4); got != 3 {
		t.Errorf("CountFor(4) = %d, want 3", got)
	}
	if got := s.CountFor(7); got != 0 {
		t.Errorf("CountFor(7) = %d, want 0", got)
	}

	want := []int{1, 2, 4}
	got := s.Labels()
	if len(got) != len(want) {
		t.Fatalf("Labels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Labels() = %v, want %v", got, want)
		}
	}
}
