package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedTarget is one entry of the targets file.
type SeedTarget struct {
	Topic          string   `yaml:"topic"`
	URL            string   `yaml:"url"`
	Disabled       bool     `yaml:"disabled"`
	MaxPricePerSqm *float64 `yaml:"max_price_per_sqm"`
}

type targetsFile struct {
	Projects []SeedTarget `yaml:"projects"`
}

// LoadTargets reads the YAML targets file. Entries without a topic or URL
// are rejected.
func LoadTargets(path string) ([]SeedTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("targets: read %q: %w", path, err)
	}

	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("targets: decode %q: %w", path, err)
	}

	for i, p := range f.Projects {
		if p.Topic == "" || p.URL == "" {
			return nil, fmt.Errorf("targets: project %d needs both topic and url", i)
		}
	}
	return f.Projects, nil
}
