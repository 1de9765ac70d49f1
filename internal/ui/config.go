package ui

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jnjlab/warok/internal/metrics"
)

// Config is one immutable snapshot of the UI definition file. It is swapped
// in full when the file changes, never mutated in place, so a classification
// pass is never torn between two versions.
type Config struct {
	Display string            `json:"display"`
	Window  Geometry          `json:"window"`
	Regions map[string]Region `json:"regions"`

	// ModTime of the file this snapshot was parsed from.
	ModTime time.Time `json:"-"`
}

// Region looks up a region by name. The second return value is false when the
// definition file does not declare it; callers treat that as indeterminate.
func (c Config) Region(name string) (Region, bool) {
	r, ok := c.Regions[name]
	return r, ok
}

// AppIconRegions returns every region declared with the app icon prefix,
// i.e. the home-screen landmarks besides the store icon.
func (c Config) AppIconRegions() []Region {
	var out []Region
	for name, r := range c.Regions {
		if len(name) >= len(AppIconPrefix) && name[:len(AppIconPrefix)] == AppIconPrefix {
			out = append(out, r)
		}
	}
	return out
}

// Store owns the UI definition file. All other components receive read-only
// Config snapshots from it. Reload is lazy: the file's modification time is
// checked before each access, there is no background watcher, so editing the
// file takes effect on the next classification cycle without a restart.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	snapshot *Config
	stale    bool
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger, stale: true}
}

// Get returns the most recently successfully parsed definition set. On a
// malformed file the previous good snapshot is retained and the parse error
// is returned alongside it, so the caller can keep running on stale-but-valid
// geometry while surfacing the problem.
func (s *Store) Get() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.path)
	if err != nil {
		if s.snapshot != nil {
			return *s.snapshot, fmt.Errorf("stat ui config %s: %w", s.path, err)
		}
		return Config{}, fmt.Errorf("stat ui config %s: %w", s.path, err)
	}

	if s.snapshot != nil && !s.stale && fi.ModTime().Equal(s.snapshot.ModTime) {
		return *s.snapshot, nil
	}

	cfg, err := parseFile(s.path)
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("error").Inc()
		if s.snapshot != nil {
			s.logger.Warn("ui config reload failed, keeping previous snapshot",
				slog.String("path", s.path),
				slog.Any("error", err))
			return *s.snapshot, err
		}
		return Config{}, err
	}

	cfg.ModTime = fi.ModTime()
	metrics.ConfigReloads.WithLabelValues("success").Inc()
	if s.snapshot != nil {
		s.logger.Info("ui config reloaded",
			slog.String("path", s.path),
			slog.Int("regions", len(cfg.Regions)),
			slog.Time("modTime", cfg.ModTime))
	}
	s.snapshot = &cfg
	s.stale = false

	return cfg, nil
}

// Invalidate forces a re-read on the next Get regardless of the file mtime.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

func parseFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading ui config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing ui config %s: %w", path, err)
	}

	if cfg.Window.Width <= 0 || cfg.Window.Height <= 0 {
		return Config{}, fmt.Errorf("ui config %s: window geometry must declare a positive width and height", path)
	}

	// Region names live in the map keys, copy them onto the values so a
	// Region carries its identity when passed around on its own.
	for name, r := range cfg.Regions {
		r.Name = name
		if r.Tolerance <= 0 {
			r.Tolerance = defaultTolerance
		}
		cfg.Regions[name] = r
	}

	return cfg, nil
}

const defaultTolerance = 30
