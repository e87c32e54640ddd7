package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models monsterline.yml.
type Config struct {
	Invocation struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxAttempts    int    `yaml:"max_attempts"`
	} `yaml:"invocation"`
	Generation struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		Model          string `yaml:"model"`
		ImageModel     string `yaml:"image_model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"generation"`
	Assets struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		PublicURL string `yaml:"public_url"`
	} `yaml:"assets"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// Default returns the config used when no monsterline.yml exists.
func Default() *Config {
	var cfg Config
	cfg.Invocation.BaseURL = "http://localhost:8000/api"
	cfg.Invocation.TimeoutSeconds = 30
	cfg.Invocation.MaxAttempts = 3
	cfg.Generation.Model = "gpt-4o-mini"
	cfg.Generation.ImageModel = "dall-e-3"
	cfg.Generation.TimeoutSeconds = 60
	cfg.Assets.Bucket = "monster-images"
	cfg.Server.Addr = ":8080"
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Invocation.BaseURL == "" {
		return fmt.Errorf("config.invocation.base_url is required")
	}
	if c.Invocation.TimeoutSeconds < 0 {
		return fmt.Errorf("config.invocation.timeout_seconds cannot be negative")
	}
	if c.Invocation.MaxAttempts < 0 {
		return fmt.Errorf("config.invocation.max_attempts cannot be negative")
	}
	if c.Generation.TimeoutSeconds < 0 {
		return fmt.Errorf("config.generation.timeout_seconds cannot be negative")
	}
	if c.Assets.Endpoint != "" {
		if c.Assets.AccessKey == "" || c.Assets.SecretKey == "" {
			return fmt.Errorf("config.assets requires access_key and secret_key when endpoint is set")
		}
		if c.Assets.Bucket == "" {
			return fmt.Errorf("config.assets.bucket is required when endpoint is set")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "monsterline.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Fields left out
// of the file keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
