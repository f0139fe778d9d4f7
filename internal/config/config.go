package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Endpoint EndpointConfig `yaml:"endpoint"`
	Server   ServerConfig   `yaml:"server"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Authentication modes for the GraphQL endpoint
const (
	AuthAPIKey = "api_key"
	AuthOAuth2 = "oauth2"
	AuthNone   = "none"
)

// EndpointConfig contains the sync backend settings
type EndpointConfig struct {
	URL            string       `yaml:"url"`
	AuthMode       string       `yaml:"auth_mode"`
	APIKey         string       `yaml:"api_key"`
	TimeoutSeconds int          `yaml:"timeout_seconds"`
	OAuth2         OAuth2Config `yaml:"oauth2"`
}

// OAuth2Config contains client credentials for token based auth
type OAuth2Config struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// ServerConfig contains server mode settings
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ScheduleEnabled bool     `yaml:"schedule_enabled"`
	Schedule        string   `yaml:"schedule"`
	SyncModels      []string `yaml:"sync_models"`
}

// Timeout returns the request timeout
func (e EndpointConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Load loads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Substitute environment variables
	configData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(configData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return &config, nil
}

// FindConfigFile searches for configuration file in common locations
func FindConfigFile() (string, error) {
	locations := []string{
		"./config.yaml",
		"./config.yml",
		"~/.config/modelsync/config.yaml",
		"~/.config/modelsync/config.yml",
	}

	for _, location := range locations {
		if strings.HasPrefix(location, "~/") {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				continue
			}
			location = strings.Replace(location, "~", homeDir, 1)
		}

		if _, err := os.Stat(location); err == nil {
			return location, nil
		}
	}

	return "", fmt.Errorf("no configuration file found in any of these locations: %v", locations)
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.App.LogFormat == "" {
		c.App.LogFormat = "text"
	}

	if c.Endpoint.AuthMode == "" {
		c.Endpoint.AuthMode = AuthAPIKey
	}

	if c.Endpoint.TimeoutSeconds == 0 {
		c.Endpoint.TimeoutSeconds = 30
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Server.Schedule == "" {
		c.Server.Schedule = "*/15 * * * *" // Every 15 minutes by default
	}

	if len(c.Server.SyncModels) == 0 {
		c.Server.SyncModels = []string{"User", "Group"}
	}
}
