package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a gateway configuration file: a flat list of
// backend definitions. Layering, environment overlays, and hot reload are
// left to an external tool; this loader reads one file, once.
type File struct {
	Backends []BackendConfig `yaml:"backends"`
}

// Load reads and validates a gateway configuration file at path. Every
// backend is checked against ValidateBackendConfig; the first invalid
// backend aborts the load with the accumulated violations.
func Load(path string) ([]BackendConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Backends))
	for _, b := range f.Backends {
		if errs := ValidateBackendConfig(b); errs.HasErrors() {
			return nil, FormatValidationError("backend", b.ID, errs)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("duplicate backend id %q in %s", b.ID, path)
		}
		seen[b.ID] = true
	}

	return f.Backends, nil
}
