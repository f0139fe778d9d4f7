package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// ValidateOptions provides options for validation
type ValidateOptions struct {
	SkipCredentials bool     // Skip API key and client secret checks
	KnownModels     []string // When set, server.sync_models must be a subset
}

// Validate validates the configuration and returns any errors
func (c *Config) Validate() error {
	return c.ValidateWithOptions(ValidateOptions{})
}

// ValidateWithOptions validates the configuration with custom options
func (c *Config) ValidateWithOptions(opts ValidateOptions) error {
	var errors ValidationErrors

	// Validate App config
	if c.App.LogLevel != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		if !contains(validLevels, c.App.LogLevel) {
			errors = append(errors, ValidationError{
				Field:   "app.log_level",
				Message: fmt.Sprintf("must be one of: %v", validLevels),
			})
		}
	}

	if c.App.LogFormat != "" {
		validFormats := []string{"text", "json"}
		if !contains(validFormats, c.App.LogFormat) {
			errors = append(errors, ValidationError{
				Field:   "app.log_format",
				Message: fmt.Sprintf("must be one of: %v", validFormats),
			})
		}
	}

	// Validate endpoint config
	if c.Endpoint.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "endpoint.url",
			Message: "endpoint URL is required",
		})
	} else if u, err := url.Parse(c.Endpoint.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "endpoint.url",
			Message: fmt.Sprintf("invalid endpoint URL: %s", c.Endpoint.URL),
		})
	}

	switch c.Endpoint.AuthMode {
	case AuthAPIKey:
		if !opts.SkipCredentials && c.Endpoint.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "endpoint.api_key",
				Message: "API key is required when auth_mode is api_key",
			})
		}
	case AuthOAuth2:
		if c.Endpoint.OAuth2.TokenURL == "" {
			errors = append(errors, ValidationError{
				Field:   "endpoint.oauth2.token_url",
				Message: "token URL is required when auth_mode is oauth2",
			})
		}
		if c.Endpoint.OAuth2.ClientID == "" {
			errors = append(errors, ValidationError{
				Field:   "endpoint.oauth2.client_id",
				Message: "client ID is required when auth_mode is oauth2",
			})
		}
		if !opts.SkipCredentials && c.Endpoint.OAuth2.ClientSecret == "" {
			errors = append(errors, ValidationError{
				Field:   "endpoint.oauth2.client_secret",
				Message: "client secret is required when auth_mode is oauth2",
			})
		}
	case AuthNone, "":
	default:
		errors = append(errors, ValidationError{
			Field:   "endpoint.auth_mode",
			Message: fmt.Sprintf("must be one of: %v", []string{AuthAPIKey, AuthOAuth2, AuthNone}),
		})
	}

	if c.Endpoint.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "endpoint.timeout_seconds",
			Message: "timeout must be non-negative",
		})
	}

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	// Validate cron schedule if scheduling is enabled
	if c.Server.ScheduleEnabled {
		if c.Server.Schedule == "" {
			errors = append(errors, ValidationError{
				Field:   "server.schedule",
				Message: "schedule must be provided when schedule_enabled is true",
			})
		} else if _, err := cron.ParseStandard(c.Server.Schedule); err != nil {
			errors = append(errors, ValidationError{
				Field:   "server.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if len(opts.KnownModels) > 0 {
		for i, name := range c.Server.SyncModels {
			if !contains(opts.KnownModels, name) {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("server.sync_models[%d]", i),
					Message: fmt.Sprintf("unknown model: %s", name),
				})
			}
		}
	}

	if len(errors) > 0 {
		return errors
	}

	return nil
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
