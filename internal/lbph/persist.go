package lbph

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const formatVersion = "lbph/v1"

type modelFile struct {
	Format  string  `yaml:"format"`
	Params  Params  `yaml:"params"`
	Samples []entry `yaml:"samples"`
}

type entry struct {
	Label     int       `yaml:"label"`
	Histogram []float32 `yaml:"histogram,flow"`
}

// Save writes the model to path. The file is replaced atomically so a
// crash mid-write never leaves a truncated model behind.
func (m *Model) Save(path string) error {
	f := modelFile{Format: formatVersion, Params: m.params, Samples: make([]entry, len(m.histograms))}
	for i := range m.histograms {
		f.Samples[i] = entry{Label: m.labels[i], Histogram: m.histograms[i]}
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a model written by Save. indexMin is applied to the loaded
// model since it is a runtime setting, not part of the file.
func Load(path string, indexMin int) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f modelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding model %s: %w", path, err)
	}
	if f.Format != formatVersion {
		return nil, fmt.Errorf("model %s: unsupported format %q", path, f.Format)
	}
	if err := f.Params.validate(); err != nil {
		return nil, err
	}
	if len(f.Samples) == 0 {
		return nil, fmt.Errorf("model %s: %w", path, ErrEmpty)
	}

	bins := f.Params.Bins()
	hists := make([][]float32, len(f.Samples))
	labels := make([]int, len(f.Samples))
	for i, s := range f.Samples {
		if len(s.Histogram) != bins {
			return nil, fmt.Errorf("model %s: sample %d has %d bins, want %d", path, i, len(s.Histogram), bins)
		}
		hists[i] = s.Histogram
		labels[i] = s.Label
	}

	p := f.Params
	p.IndexMin = indexMin
	return newModel(p, hists, labels), nil
}
