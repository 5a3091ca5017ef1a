package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Napageneral/scribe/internal/delta"
	"github.com/Napageneral/scribe/internal/ratelimit"
)

// Config represents the scribe configuration
type Config struct {
	Export     ExportConfig     `yaml:"export"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

// ExportConfig locates the input collections and the output corpus.
type ExportConfig struct {
	CSVPath       string `yaml:"csv_path,omitempty"`
	ChatDBPath    string `yaml:"chat_db_path,omitempty"`
	AttachmentDir string `yaml:"attachment_dir,omitempty"`
	OutputPath    string `yaml:"output_path,omitempty"`
}

// EnrichmentConfig controls providers and pacing. These fields feed the
// checkpoint config hash: changing any of them starts a fresh run.
type EnrichmentConfig struct {
	DescribeImages  bool   `yaml:"describe_images"`
	TranscribeAudio bool   `yaml:"transcribe_audio"`
	AnalyzeLinks    bool   `yaml:"analyze_links"`
	Model           string `yaml:"model,omitempty"`

	RateLimitMS        int `yaml:"rate_limit_ms,omitempty"`
	MaxRetries         int `yaml:"max_retries,omitempty"`
	CheckpointInterval int `yaml:"checkpoint_interval,omitempty"`
	FailureThreshold   int `yaml:"failure_threshold,omitempty"`
	CooldownSeconds    int `yaml:"cooldown_seconds,omitempty"`

	StateFile string `yaml:"state_file,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		Export: ExportConfig{
			OutputPath: "messages.json",
		},
		Enrichment: EnrichmentConfig{
			Model:              "gemini-2.0-flash",
			RateLimitMS:        int(ratelimit.DefaultMinDelay / time.Millisecond),
			MaxRetries:         3,
			CheckpointInterval: 50,
			FailureThreshold:   ratelimit.DefaultFailureThreshold,
			CooldownSeconds:    int(ratelimit.DefaultCooldown / time.Second),
			StateFile:          delta.DefaultStatePath,
		},
	}
}

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("SCRIBE_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "scribe"), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("SCRIBE_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Scribe"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "scribe"), nil
	}

	return filepath.Join(home, ".local", "share", "scribe"), nil
}

// GetCheckpointDir returns where enrichment checkpoints live.
func GetCheckpointDir() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "checkpoints"), nil
}

// Load loads config from the config file
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults when no config file exists yet
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
