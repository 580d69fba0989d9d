package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"signalbot/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string, overrides config.Overrides) (*Config, error) {
	cfg, err := config.Load(path, overrides)
	if err != nil {
		return nil, err
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg, path); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config, path string) error {
	// The audit database directory must exist; the file itself is created
	if cfg.Audit.Path != "" {
		dir := filepath.Dir(cfg.Audit.Path)
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("audit directory not found: %s", dir)
			}
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("audit path parent is not a directory: %s", dir)
		}
	}

	// A config file carrying inline credentials must not be readable by others
	if path != "" && cfg.Exchange.SecretKey != "" && os.Getenv("BINANCE_SECRET_KEY") == "" {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		// Allow 0600 (rw-------) or 0400 (r--------)
		mode := info.Mode().Perm()
		if mode&0077 != 0 {
			return fmt.Errorf("insecure permissions on config file %s holding credentials: %04o (should be 0600)", path, mode)
		}
	}

	return nil
}
