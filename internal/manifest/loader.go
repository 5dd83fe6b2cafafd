package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile parses a single manifest from a YAML file.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.ID == "" {
		m.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadDirectory loads every .yaml/.yml manifest in dir. Files that fail to
// parse are skipped with a warning; a missing directory is not an error.
func LoadDirectory(dir string, logger *slog.Logger) ([]*Manifest, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("manifest directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest dir: %w", err)
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		m, err := LoadFile(path)
		if err != nil {
			logger.Warn("cannot load manifest", "path", path, "err", err)
			continue
		}

		logger.Info("loaded skill manifest", "id", m.ID, "endpoint", m.Endpoint, "actions", len(m.Actions))
		manifests = append(manifests, m)
	}

	return manifests, nil
}
