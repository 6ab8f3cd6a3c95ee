package modelstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/lbph"
)

func loadable(path string) error {
	_, err := lbph.Load(path, 0)
	return err
}

func TestKey(t *testing.T) {
	tests := []struct {
		device string
		path   string
		want   string
	}{
		{"", "model.yaml", "models/model.yaml"},
		{"door-1", "/var/lib/facegate/model.yaml", "models/door-1/model.yaml"},
		{"/lobby/", "model.yaml", "models/lobby/model.yaml"},
	}
	for _, tc := range tests {
		if got := Key(tc.device, tc.path); got != tc.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tc.device, tc.path, got, tc.want)
		}
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	tests := []config.StorageConfig{
		{},
		{Endpoint: "localhost:9000"},
		{Bucket: "models"},
	}
	for _, cfg := range tests {
		if _, err := New(cfg); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("New(%+v) = %v, want ErrNotConfigured", cfg, err)
		}
	}
}

func TestNew(t *testing.T) {
	s, err := New(config.StorageConfig{Endpoint: "localhost:9000", Bucket: "models", AccessKey: "a", SecretKey: "b"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.bucket != "models" {
		t.Errorf("expected bucket models, got %q", s.bucket)
	}
}

func TestInstallRejectsCorruptModel(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.yml")
	if err := os.WriteFile(model, []byte("good model"), 0o644); err != nil {
		t.Fatal(err)
	}

	tmp, err := tempPath(model)
	if err != nil {
		t.Fatalf("tempPath failed: %v", err)
	}
	if filepath.Dir(tmp) != dir {
		t.Errorf("temporary file %s not next to the model", tmp)
	}
	if err := os.WriteFile(tmp, []byte("format: [not a model"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := install(tmp, model, loadable); err == nil {
		t.Fatal("expected a corrupt download to be rejected")
	}
	got, err := os.ReadFile(model)
	if err != nil || string(got) != "good model" {
		t.Errorf("local model changed after a rejected pull: %q (%v)", got, err)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}

func TestInstallReplacesModel(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.yml")
	if err := os.WriteFile(model, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	tmp, err := tempPath(model)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tmp, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := install(tmp, model, func(string) error { return nil }); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if got, _ := os.ReadFile(model); string(got) != "new" {
		t.Errorf("expected the new model, got %q", got)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}
