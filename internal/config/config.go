// Package config manages the talond daemon configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ConfigDirName   = ".talon"
	ConfigFileName  = "config.json"
	DefaultLogLevel = "info"

	// DefaultEmailDomain is the domain used to derive deterministic panel
	// account emails from chat identities.
	DefaultEmailDomain = "panel.local"
)

// Config holds the daemon-level configuration for talond. The two panel API
// keys are not part of this file; they live in the encrypted vault.
type Config struct {
	PanelURL    string   `json:"panel_url"`
	EmailDomain string   `json:"email_domain"`
	LogLevel    string   `json:"log_level"`
	AdminIDs    []string `json:"admin_ids"`

	NATSURL       string `json:"nats_url"`
	CommandPrefix string `json:"command_subject_prefix"` // talon.cmd.<op>
	NotifyPrefix  string `json:"notify_subject_prefix"`  // talon.dm.<external id>
	AuditSubject  string `json:"audit_subject"`

	JournalPath string `json:"journal_path"`
	MetricsAddr string `json:"metrics_addr"`

	ConfirmTimeoutSeconds int `json:"confirm_timeout_seconds"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		EmailDomain:           DefaultEmailDomain,
		LogLevel:              DefaultLogLevel,
		NATSURL:               "nats://127.0.0.1:4222",
		CommandPrefix:         "talon.cmd",
		NotifyPrefix:          "talon.dm",
		AuditSubject:          "talon.audit",
		JournalPath:           filepath.Join(home, ConfigDirName, "journal.db"),
		MetricsAddr:           "127.0.0.1:9477",
		ConfirmTimeoutSeconds: 60,
	}
}

// Dir returns the talon config directory path.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ConfigDirName)
}

// Load reads the config from ~/.talon/config.json, applying defaults for
// absent fields. A missing file yields pure defaults.
func Load() (Config, error) {
	return LoadFrom(filepath.Join(Dir(), ConfigFileName))
}

// LoadFrom reads the config from an explicit path.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists the config to ~/.talon/config.json.
func Save(cfg Config) error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0600)
}

// Validate checks the fields the daemon cannot run without.
func (c Config) Validate() error {
	var missing []string
	if c.PanelURL == "" {
		missing = append(missing, "panel_url")
	}
	if c.NATSURL == "" {
		missing = append(missing, "nats_url")
	}
	if len(c.AdminIDs) == 0 {
		missing = append(missing, "admin_ids")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
