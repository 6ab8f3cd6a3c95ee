package classifier

import (
	"errors"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facegate/internal/lbph"
)

func bands(horizontal bool, seed int64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			k := y
			if !horizontal {
				k = x
			}
			v := uint8(40)
			if (k/2)%2 == 1 {
				v = 200
			}
			img.Pix[y*100+x] = v
		}
	}
	if seed != 0 {
		r := rand.New(rand.NewSource(seed))
		for i := 0; i < 10; i++ {
			img.Pix[r.Intn(len(img.Pix))] = 120
		}
	}
	return img
}

func noise(seed int64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	r := rand.New(rand.NewSource(seed))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.Intn(256))
	}
	return img
}

func TestPredictBeforeTraining(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "model.yml"), lbph.DefaultParams(), 0)
	s.Init()

	if s.Trained() {
		t.Fatal("fresh session without a model file should be untrained")
	}
	if _, _, err := s.Predict(bands(true, 0)); !errors.Is(err, ErrNotTrained) {
		t.Errorf("Predict() error = %v, want ErrNotTrained", err)
	}
}

func TestTrainEmptySetNeverPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yml")
	s := New(path, lbph.DefaultParams(), 0)

	if err := s.Train(nil, nil); !errors.Is(err, ErrEmptySet) {
		t.Fatalf("Train() error = %v, want ErrEmptySet", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("model file should not exist after an empty train, stat err = %v", err)
	}
	if s.Trained() {
		t.Error("empty train must not produce a model")
	}
}

func TestTrainThenFreshSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yml")
	samples := []*image.Gray{bands(true, 0), bands(true, 3), bands(true, 4), bands(false, 0), bands(false, 5)}
	labels := []int{1, 1, 1, 2, 2}

	first := New(path, lbph.DefaultParams(), 0)
	if err := first.Train(samples, labels); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	fresh := New(path, lbph.DefaultParams(), 0)
	fresh.Init()
	if !fresh.Trained() {
		t.Fatal("fresh session should load the saved model")
	}

	for i, sample := range samples {
		label, conf, err := fresh.Predict(sample)
		if err != nil {
			t.Fatalf("Predict() error = %v", err)
		}
		if label != labels[i] || !fresh.IsAccepted(conf) {
			t.Errorf("sample %d: Predict() = (%d, %v), want label %d accepted", i, label, conf, labels[i])
		}
	}

	counts := fresh.Counts()
	if counts[1] != 3 || counts[2] != 2 {
		t.Errorf("Counts() = %v", counts)
	}
}

func TestHeldOutAndUnrelated(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "model.yml"), lbph.DefaultParams(), 0)
	err := s.Train(
		[]*image.Gray{bands(true, 0), bands(true, 3), bands(true, 4), bands(false, 0), bands(false, 5)},
		[]int{1, 1, 1, 2, 2},
	)
	if err != nil {
		t.Fatal(err)
	}

	label, conf, err := s.Predict(bands(false, 77))
	if err != nil {
		t.Fatal(err)
	}
	if label != 2 || conf >= 80 || !s.IsAccepted(conf) {
		t.Errorf("held out: Predict() = (%d, %v), want label 2 below 80", label, conf)
	}

	_, conf, err = s.Predict(noise(42))
	if err != nil {
		t.Fatal(err)
	}
	if conf < 80 || s.IsAccepted(conf) {
		t.Errorf("unrelated: confidence = %v, want >= 80 and rejected", conf)
	}
}

func TestPersistFailureKeepsModel(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(filepath.Join(blocker, "model.yml"), lbph.DefaultParams(), 0)
	err := s.Train([]*image.Gray{bands(true, 0)}, []int{1})

	var pe *PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("Train() error = %v, want *PersistError", err)
	}
	if !s.Trained() {
		t.Fatal("in-memory model must survive a persist failure")
	}
	if label, _, _ := s.Predict(bands(true, 0)); label != 1 {
		t.Errorf("Predict() after persist failure = %d, want 1", label)
	}
}

func TestReloadFailureKeepsPreviousModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yml")
	s := New(path, lbph.DefaultParams(), 0)
	if err := s.Train([]*image.Gray{bands(true, 0)}, []int{7}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("format: garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("Reload() of a corrupt file should fail")
	}
	if label, _, _ := s.Predict(bands(true, 0)); label != 7 {
		t.Errorf("previous model should stay live, got label %d", label)
	}

	// A corrupt file at startup is a soft failure.
	fresh := New(path, lbph.DefaultParams(), 0)
	fresh.Init()
	if fresh.Trained() {
		t.Error("corrupt model file should leave a fresh session untrained")
	}
}

func TestIsAccepted(t *testing.T) {
	s := New("unused", lbph.DefaultParams(), 0)
	tests := []struct {
		conf float64
		want bool
	}{
		{0, true},
		{79.999, true},
		{80, false},
		{1e300, false},
	}
	for _, tt := range tests {
		if got := s.IsAccepted(tt.conf); got != tt.want {
			t.Errorf("IsAccepted(%v) = %v, want %v", tt.conf, got, tt.want)
		}
	}
}
