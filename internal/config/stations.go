package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/anyfast/anyfast-core/internal/model"
)

// stationsFile is the on-disk shape of the optional headless station list
// (ANYFAST_STATIONS_FILE). It is a core-owned format, independent of the
// desktop UI's config-persistence format, which is explicitly out of scope.
type stationsFile struct {
	Stations []model.Endpoint `yaml:"stations"`
}

// LoadStations reads and validates the YAML station list at path. An empty
// path is not an error: callers should treat it as "no stations file
// configured" and fall back to defaults.
func LoadStations(path string) ([]model.Endpoint, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load stations file %s: %w", path, err)
	}

	var parsed stationsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse stations file %s: %w", path, err)
	}

	for i := range parsed.Stations {
		if err := parsed.Stations[i].Normalize(); err != nil {
			return nil, fmt.Errorf("stations file %s: %w", path, err)
		}
	}
	return parsed.Stations, nil
}
