// Package config provides YAML configuration loading for the link
// diagnostics engine.
//
// It reads three directory trees (driven by environment variables) and
// produces a LoadedConfig value that is used by the rest of the application.
//
//	LINKDIAG_LINK_DEFINITIONS_DIRECTORY_PATH   → Links map
//	LINKDIAG_RADIO_DEFINITIONS_DIRECTORY_PATH  → Radios
//	LINKDIAG_DEFAULTS_DIRECTORY_PATH           → Engine
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shsakib0002/smart-noc/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Paths
// ─────────────────────────────────────────────────────────────────────────────

// Paths holds the directory locations for every configuration tree.
type Paths struct {
	Links    string // LINKDIAG_LINK_DEFINITIONS_DIRECTORY_PATH
	Radios   string // LINKDIAG_RADIO_DEFINITIONS_DIRECTORY_PATH
	Defaults string // LINKDIAG_DEFAULTS_DIRECTORY_PATH
}

// PathsFromEnv reads each path from its environment variable, falling back to
// the documented default when the variable is unset or empty.
func PathsFromEnv() Paths {
	return Paths{
		Links:    envOr("LINKDIAG_LINK_DEFINITIONS_DIRECTORY_PATH", "/etc/linkdiag/links"),
		Radios:   envOr("LINKDIAG_RADIO_DEFINITIONS_DIRECTORY_PATH", "/etc/linkdiag/radios"),
		Defaults: envOr("LINKDIAG_DEFAULTS_DIRECTORY_PATH", "/etc/linkdiag/defaults"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ─────────────────────────────────────────────────────────────────────────────
// LoadedConfig
// ─────────────────────────────────────────────────────────────────────────────

// LoadedConfig is the fully parsed representation of all configuration trees.
type LoadedConfig struct {
	// Links maps link id → inventory record.
	Links map[string]models.Link

	// Radios are the telemetry profiles, sorted by name. The built-in
	// profiles are used when the radios directory yields none.
	Radios []models.RadioProfile

	// Engine is the resolved engine configuration.
	Engine EngineSettings
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

// Load reads the three trees. Every problem is collected so operators see
// them all at once. Missing directories are skipped and malformed files are
// logged and skipped; semantic errors such as an unknown loss policy fail the
// load.
func Load(paths Paths, logger *slog.Logger) (*LoadedConfig, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	engine, engineErr := loadEngine(paths.Defaults, logger)
	radios, radioErr := loadRadios(paths.Radios, logger)
	links, linkErr := loadLinks(paths.Links, logger)

	if err := errors.Join(engineErr, radioErr, linkErr); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &LoadedConfig{Links: links, Radios: radios, Engine: engine}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Trees
// ─────────────────────────────────────────────────────────────────────────────

// loadEngine merges every defaults file; the first file, by path, that sets a
// key wins.
func loadEngine(dir string, logger *slog.Logger) (EngineSettings, error) {
	var merged rawEngineEntry
	err := eachYAML(dir, "defaults", logger, func(_ string, raw rawDefaults) error {
		merged = mergeEngine(merged, raw.Default)
		return nil
	})
	settings, problems := resolveEngine(merged)
	if len(problems) > 0 {
		err = errors.Join(err, fmt.Errorf("defaults: %s", strings.Join(problems, "; ")))
	}
	return settings, err
}

// loadRadios falls back to the built-in profiles when the tree defines none.
func loadRadios(dir string, logger *slog.Logger) ([]models.RadioProfile, error) {
	byName := make(map[string]models.RadioProfile)
	err := eachYAML(dir, "radio", logger, func(path string, raw rawRadioFile) error {
		var bad []error
		for name, body := range raw {
			p, err := convertProfile(name, body)
			if err != nil {
				bad = append(bad, fmt.Errorf("radios: %s: %w", path, err))
				continue
			}
			byName[name] = p
		}
		return errors.Join(bad...)
	})
	if err != nil {
		return nil, err
	}
	if len(byName) == 0 {
		logger.Info("config: no radio definitions, using built-in profiles")
		return BuiltinProfiles(), nil
	}

	out := make([]models.RadioProfile, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// loadLinks keys links by id. A later file redefining an id replaces it.
func loadLinks(dir string, logger *slog.Logger) (map[string]models.Link, error) {
	result := make(map[string]models.Link)
	err := eachYAML(dir, "link", logger, func(path string, raw map[string]models.Link) error {
		for id, l := range raw {
			if _, dup := result[id]; dup {
				logger.Warn("config: link redefined, later file wins", "link_id", id, "file", path)
			}
			l.ID = id
			result[id] = l
		}
		return nil
	})
	return result, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// eachYAML decodes every *.yml / *.yaml file under dir, in path order, into a
// fresh T and hands it to fn. A missing dir is not an error. Files that fail
// to decode are logged and skipped; errors returned by fn are collected.
func eachYAML[T any](dir, kind string, logger *slog.Logger, fn func(path string, v T) error) error {
	var files []string
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yml", ".yaml":
			if !d.IsDir() {
				files = append(files, p)
			}
		}
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, fs.ErrNotExist) {
			logger.Debug("config: directory not found, skipping", "kind", kind, "dir", dir)
			return nil
		}
		return fmt.Errorf("list %s dir %q: %w", kind, dir, walkErr)
	}

	var errs []error
	for _, path := range files {
		var v T
		if err := decodeFile(path, &v); err != nil {
			logger.Warn("config: skip malformed file", "kind", kind, "file", path, "error", err.Error())
			continue
		}
		if err := fn(path, v); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Debug("config: loaded file", "kind", kind, "file", path)
	}
	return errors.Join(errs...)
}

// decodeFile unmarshals one YAML document. Unknown keys are ignored so newer
// files load on older binaries.
func decodeFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
