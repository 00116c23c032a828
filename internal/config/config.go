package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"secnews/internal/models"
	"secnews/internal/sources"
)

const (
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	DefaultCacheTTL       = 10 * time.Minute
	DefaultFetchTimeout   = 15 * time.Second
	DefaultRefreshTimeout = 60 * time.Second
	DefaultHTTPAddr       = ":8000"
)

// Config carries every runtime setting.
type Config struct {
	Sources           []models.SourceDescriptor
	CacheTTL          time.Duration
	FetchTimeout      time.Duration
	UserAgent         string
	StoreBackend      string
	StorePath         string
	StoreDSN          string
	HTTPAddr          string
	RefreshTimeout    time.Duration
	BackgroundRefresh time.Duration

	// Path is the file the config was read from, empty when only defaults apply.
	Path string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Sources:        slices.Clone(sources.Defaults),
		CacheTTL:       DefaultCacheTTL,
		FetchTimeout:   DefaultFetchTimeout,
		StoreBackend:   BackendSQLite,
		StorePath:      FallbackStorePath(),
		HTTPAddr:       DefaultHTTPAddr,
		RefreshTimeout: DefaultRefreshTimeout,
	}
}

// FallbackStorePath returns the SQLite path used when none is configured:
// news.db under the XDG data directory (~/Library/Application Support on macOS).
func FallbackStorePath() string {
	return filepath.Join(xdg.DataHome, "secnews", "news.db")
}

// DefaultPath is ~/.config/secnews/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "secnews", "config.yaml"), nil
}

// Load reads path, or DefaultPath when path is empty. A missing default file
// yields Default(); a missing explicit file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}
	path = ExpandPath(path)

	b, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := parse(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func parse(b []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}

	if list, ok := raw["sources"].([]any); ok {
		srcs := make([]models.SourceDescriptor, 0, len(list))
		for i, it := range list {
			m, ok := it.(map[string]any)
			if !ok {
				return fmt.Errorf("sources[%d]: expected a mapping", i)
			}
			sd := models.SourceDescriptor{Enabled: true}
			sd.Name, _ = m["name"].(string)
			sd.Endpoint, _ = m["url"].(string)
			if v, ok := m["enabled"].(bool); ok {
				sd.Enabled = v
			}
			sd.Name = strings.TrimSpace(sd.Name)
			sd.Endpoint = strings.TrimSpace(sd.Endpoint)
			srcs = append(srcs, sd)
		}
		cfg.Sources = srcs
	}

	if c, ok := raw["cache"].(map[string]any); ok {
		if v, ok := intValue(c["ttl_minutes"]); ok && v > 0 {
			cfg.CacheTTL = time.Duration(v) * time.Minute
		}
	}
	if f, ok := raw["fetch"].(map[string]any); ok {
		if v, ok := intValue(f["timeout_seconds"]); ok && v > 0 {
			cfg.FetchTimeout = time.Duration(v) * time.Second
		}
		if ua, ok := f["user_agent"].(string); ok {
			cfg.UserAgent = strings.TrimSpace(ua)
		}
	}
	if s, ok := raw["store"].(map[string]any); ok {
		if v, ok := s["backend"].(string); ok && strings.TrimSpace(v) != "" {
			cfg.StoreBackend = strings.ToLower(strings.TrimSpace(v))
		}
		if v, ok := s["path"].(string); ok && strings.TrimSpace(v) != "" {
			cfg.StorePath = ExpandPath(strings.TrimSpace(v))
		}
		if v, ok := s["dsn"].(string); ok {
			cfg.StoreDSN = os.ExpandEnv(strings.TrimSpace(v))
		}
	}
	if h, ok := raw["http"].(map[string]any); ok {
		if v, ok := h["addr"].(string); ok && strings.TrimSpace(v) != "" {
			cfg.HTTPAddr = strings.TrimSpace(v)
		}
	}
	if r, ok := raw["refresh"].(map[string]any); ok {
		if v, ok := intValue(r["timeout_seconds"]); ok && v > 0 {
			cfg.RefreshTimeout = time.Duration(v) * time.Second
		}
		if v, ok := intValue(r["background_minutes"]); ok && v >= 0 {
			cfg.BackgroundRefresh = time.Duration(v) * time.Minute
		}
	}
	return cfg.Validate()
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.StoreDSN == "" {
			return errors.New("store.dsn: required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend: unknown backend %q (want sqlite, postgres or memory)", c.StoreBackend)
	}
	if len(c.Sources) == 0 {
		return errors.New("sources: at least one source is required")
	}
	return nil
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// ExpandPath expands leading ~ and environment variables in a filesystem path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			if p == "~" {
				p = home
			} else if strings.HasPrefix(p, "~/") {
				p = filepath.Join(home, p[2:])
			}
		}
	}
	return p
}
