package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrExists is returned by Write when the target exists and overwrite is false.
var ErrExists = errors.New("config file already exists")

// Write renders cfg as YAML at path. An existing file is only replaced when
// overwrite is set, and a timestamped backup is taken first.
func Write(path string, cfg Config, overwrite bool) error {
	path = ExpandPath(path)
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		if err := BackupFile(path); err != nil {
			return fmt.Errorf("failed to back up config: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(Render(cfg)), 0o644)
}

// Render produces the YAML form of cfg. It is written by hand so the file
// carries comments for each section.
func Render(cfg Config) string {
	var sb strings.Builder
	sb.WriteString("# secnews configuration\n")

	sb.WriteString("sources:\n")
	for _, s := range cfg.Sources {
		sb.WriteString(fmt.Sprintf("  - name: %q\n", s.Name))
		sb.WriteString(fmt.Sprintf("    url: %q\n", s.Endpoint))
		sb.WriteString(fmt.Sprintf("    enabled: %t\n", s.Enabled))
	}

	sb.WriteString("# cached items are served without refetching for this long\n")
	sb.WriteString("cache:\n")
	sb.WriteString(fmt.Sprintf("  ttl_minutes: %d\n", int(cfg.CacheTTL/time.Minute)))

	sb.WriteString("fetch:\n")
	sb.WriteString(fmt.Sprintf("  timeout_seconds: %d\n", int(cfg.FetchTimeout/time.Second)))
	if strings.TrimSpace(cfg.UserAgent) != "" {
		sb.WriteString(fmt.Sprintf("  user_agent: %q\n", cfg.UserAgent))
	}

	sb.WriteString("# backend: sqlite, postgres or memory. dsn may reference env vars, e.g. ${SECNEWS_POSTGRES_DSN}\n")
	sb.WriteString("store:\n")
	sb.WriteString(fmt.Sprintf("  backend: %s\n", cfg.StoreBackend))
	if strings.TrimSpace(cfg.StorePath) != "" {
		sb.WriteString(fmt.Sprintf("  path: %q\n", cfg.StorePath))
	}
	if strings.TrimSpace(cfg.StoreDSN) != "" {
		sb.WriteString(fmt.Sprintf("  dsn: %q\n", cfg.StoreDSN))
	}

	sb.WriteString("http:\n")
	sb.WriteString(fmt.Sprintf("  addr: %q\n", cfg.HTTPAddr))

	sb.WriteString("# background_minutes: 0 disables the refresh loop in http mode\n")
	sb.WriteString("refresh:\n")
	sb.WriteString(fmt.Sprintf("  timeout_seconds: %d\n", int(cfg.RefreshTimeout/time.Second)))
	sb.WriteString(fmt.Sprintf("  background_minutes: %d\n", int(cfg.BackgroundRefresh/time.Minute)))
	return sb.String()
}

// BackupFile creates a backup of the specified file with a timestamp
func BackupFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ts := time.Now().Format("20060102-150405")
	bak := path + ".bak-" + ts
	return os.WriteFile(bak, b, 0o644)
}
