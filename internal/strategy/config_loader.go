package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents a strategy configuration entry in YAML.
type Config struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Type          string  `yaml:"type"`
	Symbol        string  `yaml:"symbol"`
	Interval      string  `yaml:"interval"`
	Parameters    Params  `yaml:"parameters"`
	DefaultAmount float64 `yaml:"default_amount"`
	IsActive      *bool   `yaml:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a strategies YAML document.
func ParseConfig(data []byte) ([]Config, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode strategy config: %w", err)
	}
	return file.Strategies, nil
}

// Overlay applies YAML entries on top of base: matching ids are replaced,
// new ids are appended, and is_active: false removes an entry.
func Overlay(base []Descriptor, cfgs []Config) []Descriptor {
	out := make([]Descriptor, 0, len(base)+len(cfgs))
	index := make(map[string]int, len(base))
	for _, d := range base {
		index[d.ID] = len(out)
		out = append(out, d)
	}
	removed := make(map[string]bool)

	for _, c := range cfgs {
		if c.IsActive != nil && !*c.IsActive {
			removed[c.ID] = true
			continue
		}
		d := Descriptor{
			ID:            c.ID,
			Name:          c.Name,
			Kind:          Kind(c.Type),
			Symbol:        c.Symbol,
			Interval:      c.Interval,
			Params:        c.Parameters,
			DefaultAmount: c.DefaultAmount,
		}
		if i, ok := index[c.ID]; ok {
			out[i] = d
			continue
		}
		index[c.ID] = len(out)
		out = append(out, d)
	}

	if len(removed) == 0 {
		return out
	}
	kept := out[:0]
	for _, d := range out {
		if !removed[d.ID] {
			kept = append(kept, d)
		}
	}
	return kept
}

// LoadRegistry builds the registry from the defaults plus an optional YAML overlay.
func LoadRegistry(path string) (*Registry, error) {
	descs := DefaultDescriptors()
	if path != "" {
		cfgs, err := LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load strategy config %s: %w", path, err)
		}
		descs = Overlay(descs, cfgs)
	}
	return NewRegistry(descs...)
}
