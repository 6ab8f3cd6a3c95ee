package enroll

import (
	"image"
	"sort"
)

// Store accumulates labeled samples for the lifetime of a session.
// Samples and labels are kept in parallel slices so the training call can
// consume them without copying. There is no removal.
type Store struct {
	samples []*image.Gray
	labels  []int
}

// Append records one sample under label.
func (s *Store) Append(sample *image.Gray, label int) {
	s.samples = append(s.samples, sample)
	s.labels = append(s.labels, label)
}

// Count returns the number of samples captured so far.
func (s *Store) Count() int {
	return len(s.samples)
}

// Snapshot returns read-only views of the samples and their labels in
// capture order. The views are capped so appends never write through them.
func (s *Store) Snapshot() ([]*image.Gray, []int) {
	n := len(s.samples)
	return s.samples[:n:n], s.labels[:n:n]
}

// CountFor returns how many samples carry label.
func (s *Store) CountFor(label int) int {
	n := 0
	for _, l := range s.labels {
		if l == label {
			n++
		}
	}
	return n
}

// Labels returns the distinct labels in ascending order.
func (s *Store) Labels() []int {
	seen := make(map[int]struct{})
	var out []int
	for _, l := range s.labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Ints(out)
	return out
}
