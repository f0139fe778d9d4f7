package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/gobeyondidentity/go-model-sync/graphql"
	"github.com/gobeyondidentity/go-model-sync/internal/config"
	"github.com/gobeyondidentity/go-model-sync/syncstream"
)

// Check statuses
const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// ModelProbe syncs one model and returns the number of records received
type ModelProbe func(ctx context.Context, model string) (int, error)

// Validator handles setup validation and connectivity testing
type Validator struct {
	config      *config.Config
	knownModels []string
	probe       ModelProbe
	tokenSource oauth2.TokenSource
	out         io.Writer
	logger      *logrus.Logger
}

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Component string        `json:"component"`
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ValidationSummary contains overall validation results
type ValidationSummary struct {
	OverallStatus string              `json:"overall_status"`
	TotalChecks   int                 `json:"total_checks"`
	Passed        int                 `json:"passed"`
	Failed        int                 `json:"failed"`
	Results       []*ValidationResult `json:"results"`
	Duration      time.Duration       `json:"duration"`
}

// Option configures a Validator
type Option func(*Validator)

// WithKnownModels restricts server.sync_models to the given names
func WithKnownModels(names []string) Option {
	return func(v *Validator) { v.knownModels = names }
}

// WithProbe enables the endpoint connectivity check
func WithProbe(probe ModelProbe) Option {
	return func(v *Validator) { v.probe = probe }
}

// WithTokenSource is used to verify oauth2 client credentials
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(v *Validator) { v.tokenSource = ts }
}

// WithOutput redirects the progress report, stdout by default
func WithOutput(w io.Writer) Option {
	return func(v *Validator) { v.out = w }
}

// NewValidator creates a new setup validator
func NewValidator(cfg *config.Config, opts ...Option) *Validator {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Only show errors during validation

	v := &Validator{
		config: cfg,
		out:    os.Stdout,
		logger: logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateSetup runs every check and prints a summary
func (v *Validator) ValidateSetup(ctx context.Context) *ValidationSummary {
	startTime := time.Now()

	fmt.Fprintln(v.out, "Validating model sync setup")
	fmt.Fprintln(v.out, "===========================")
	fmt.Fprintln(v.out)

	summary := &ValidationSummary{
		Results: make([]*ValidationResult, 0),
	}

	v.addResult(summary, v.validateConfiguration())
	v.addResult(summary, v.validateCredentials(ctx))
	v.addResult(summary, v.validateEndpoint(ctx))

	summary.Duration = time.Since(startTime)
	summary.TotalChecks = len(summary.Results)

	for _, result := range summary.Results {
		if result.Status == StatusPass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	if summary.Failed == 0 {
		summary.OverallStatus = StatusPass
	} else {
		summary.OverallStatus = StatusFail
	}

	v.printSummary(summary)

	return summary
}

// validateConfiguration validates the configuration structure
func (v *Validator) validateConfiguration() *ValidationResult {
	fmt.Fprint(v.out, "Configuration validation... ")
	start := time.Now()

	if err := v.config.ValidateWithOptions(config.ValidateOptions{KnownModels: v.knownModels}); err != nil {
		return v.fail("Configuration", "Configuration validation failed", err.Error(), start)
	}

	return v.pass("Configuration", "Configuration is valid", "", start)
}

// validateCredentials checks the credentials of the configured auth mode
func (v *Validator) validateCredentials(ctx context.Context) *ValidationResult {
	fmt.Fprint(v.out, "Credentials... ")
	start := time.Now()

	endpoint := v.config.Endpoint
	switch endpoint.AuthMode {
	case config.AuthAPIKey:
		if endpoint.APIKey == "" {
			return v.fail("Credentials", "API key not set", "Set endpoint.api_key in config.yaml", start)
		}
		return v.pass("Credentials", "API key is set", "", start)

	case config.AuthOAuth2:
		if v.tokenSource == nil {
			return v.fail("Credentials", "No token source available", "", start)
		}
		token, err := v.tokenSource.Token()
		if err != nil {
			return v.fail("Credentials", "Failed to obtain an access token", err.Error(), start)
		}
		return v.pass("Credentials", "Access token obtained", fmt.Sprintf("Token type: %s", token.Type()), start)

	default:
		return v.pass("Credentials", "No authentication configured", "", start)
	}
}

// validateEndpoint syncs every configured model once
func (v *Validator) validateEndpoint(ctx context.Context) *ValidationResult {
	fmt.Fprint(v.out, "Endpoint connectivity... ")
	start := time.Now()

	if v.probe == nil {
		return v.fail("Endpoint", "Connectivity check not available", "", start)
	}

	var details []string
	for _, name := range v.config.Server.SyncModels {
		count, err := v.probe(ctx, name)
		if err != nil {
			v.logger.WithField("model", name).Errorf("Probe failed: %v", err)
			return v.fail("Endpoint", describeProbeError(err), fmt.Sprintf("%s: %v", name, err), start)
		}
		details = append(details, fmt.Sprintf("%s: %d records", name, count))
	}

	return v.pass("Endpoint", "Sync endpoint is accessible",
		fmt.Sprintf("Endpoint: %s (%s)", v.config.Endpoint.URL, strings.Join(details, ", ")), start)
}

func describeProbeError(err error) string {
	var httpErr *graphql.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden {
			return "Authentication failed"
		}
		return fmt.Sprintf("API request failed (HTTP %d)", httpErr.StatusCode)
	}
	if syncstream.IsDataError(err) {
		return "Sync query rejected"
	}
	return "Failed to connect to sync endpoint"
}

func (v *Validator) pass(component, message, details string, start time.Time) *ValidationResult {
	fmt.Fprintln(v.out, StatusPass)
	return &ValidationResult{
		Component: component,
		Status:    StatusPass,
		Message:   message,
		Details:   details,
		Duration:  time.Since(start),
	}
}

func (v *Validator) fail(component, message, details string, start time.Time) *ValidationResult {
	fmt.Fprintln(v.out, StatusFail)
	return &ValidationResult{
		Component: component,
		Status:    StatusFail,
		Message:   message,
		Details:   details,
		Duration:  time.Since(start),
	}
}

// addResult adds a validation result to the summary
func (v *Validator) addResult(summary *ValidationSummary, result *ValidationResult) {
	summary.Results = append(summary.Results, result)
}

// printSummary prints the validation summary
func (v *Validator) printSummary(summary *ValidationSummary) {
	fmt.Fprintln(v.out)
	fmt.Fprintln(v.out, "Validation Summary")
	fmt.Fprintln(v.out, "==================")
	fmt.Fprintf(v.out, "Overall Status: %s\n", summary.OverallStatus)
	fmt.Fprintf(v.out, "Results: %d passed, %d failed (total: %d)\n",
		summary.Passed, summary.Failed, summary.TotalChecks)
	fmt.Fprintf(v.out, "Duration: %v\n", summary.Duration.Round(time.Millisecond))

	if summary.Failed > 0 {
		fmt.Fprintln(v.out)
		fmt.Fprintln(v.out, "Failed Checks:")
		for _, result := range summary.Results {
			if result.Status == StatusFail {
				fmt.Fprintf(v.out, "   - %s: %s\n", result.Component, result.Message)
				if result.Details != "" {
					fmt.Fprintf(v.out, "     Details: %s\n", result.Details)
				}
			}
		}
		return
	}

	fmt.Fprintln(v.out)
	fmt.Fprintln(v.out, "All checks passed. Next steps:")
	fmt.Fprintln(v.out, "   1. Run a sync: modelsync sync User")
	fmt.Fprintln(v.out, "   2. Start server mode: modelsync serve")
	fmt.Fprintln(v.out, "   3. Check the health endpoint: curl http://localhost:8080/health")
}
