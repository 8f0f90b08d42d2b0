package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML (or JSON) configuration file, expands ${VAR}
// references from the environment and resolves every data source relative
// to the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration bytes and resolves data sources against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for i := range cfg.Maps {
		m := &cfg.Maps[i]
		for j := range m.DataSources {
			if err := resolveSource(&m.DataSources[j], baseDir); err != nil {
				return nil, fmt.Errorf("map %q source %q: %w", m.ID, m.DataSources[j].Name, err)
			}
		}
	}

	if cfg.Search.Color == "" {
		cfg.Search.Color = DefaultSearchColor
	}
	if cfg.Search.Padding == 0 {
		cfg.Search.Padding = DefaultSearchPadding
	}
	return &cfg, nil
}

func resolveSource(src *DataSource, baseDir string) error {
	switch {
	case src.Inline != nil:
		raw, err := json.Marshal(src.Inline)
		if err != nil {
			return fmt.Errorf("encoding inline data: %w", err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return fmt.Errorf("parsing inline geojson: %w", err)
		}
		src.Data = fc
		src.Inline = nil
	case src.File != "":
		path := src.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading geojson: %w", err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return fmt.Errorf("parsing geojson: %w", err)
		}
		src.Data = fc
	default:
		// URL-only sources are rendered by the browser but cannot be hit-tested.
		src.Data = geojson.NewFeatureCollection()
	}
	return nil
}
