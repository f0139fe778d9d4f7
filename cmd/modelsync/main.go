package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/gobeyondidentity/go-model-sync/graphql"
	"github.com/gobeyondidentity/go-model-sync/internal/config"
	"github.com/gobeyondidentity/go-model-sync/internal/directory"
	"github.com/gobeyondidentity/go-model-sync/internal/logger"
	"github.com/gobeyondidentity/go-model-sync/internal/server"
	"github.com/gobeyondidentity/go-model-sync/internal/setup"
	"github.com/gobeyondidentity/go-model-sync/syncstream"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "modelsync",
	Short: "Sync, create, update and delete versioned models on a sync backend",
	Long: `A tool for reading and writing versioned records on a GraphQL sync
backend.

This application supports two modes:
- One-shot mode: run a single sync or mutation and print the result as JSON
- Server mode: run continuously with scheduled syncs and an HTTP API`,
	SilenceUsage: true,
}

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync [model...]",
	Short: "Run a base sync once",
	Long: `Run a base sync of the given models, or of server.sync_models when none
are given, and print a summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), args)
	},
}

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create <model> <json>",
	Short: "Create a record",
	Long:  `Create a record from a JSON document. An id is generated when the document has none.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMutation(cmd.Context(), func(ctx context.Context, reg *server.Registry) (any, error) {
			return reg.Create(ctx, args[0], []byte(args[1]))
		})
	},
}

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update <model> <id> <version> <json>",
	Short: "Update a record at a known version",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[2], err)
		}
		return runMutation(cmd.Context(), func(ctx context.Context, reg *server.Registry) (any, error) {
			return reg.Update(ctx, args[0], args[1], version, []byte(args[3]))
		})
	},
}

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <model> <id> <version>",
	Short: "Delete a record at a known version",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[2], err)
		}
		return runMutation(cmd.Context(), func(ctx context.Context, reg *server.Registry) (any, error) {
			return reg.Delete(ctx, args[0], args[1], version)
		})
	},
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run in server mode with HTTP API and optional scheduling",
	Long: `Run the application in server mode. This provides an HTTP API for syncs and
mutations, health checks, and metrics. If scheduling is enabled in configuration,
syncs of server.sync_models run according to the specified cron schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

// validateConfigCmd represents the validate-config command
var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file for syntax and required fields.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateConfig()
	},
}

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate current setup and connectivity",
	Long:  `Validate the configuration, the configured credentials, and sync every configured model once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.Context())
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("modelsync version %s\n", server.Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfgFile, err = config.FindConfigFile()
		if err != nil {
			// Commands that need a config report it themselves
			return
		}
		cfg, err = config.Load(cfgFile)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	cfg.SetDefaults()
}

// app is everything a command needs to talk to the backend
type app struct {
	log      *logrus.Logger
	metrics  *server.Metrics
	registry *server.Registry
	tokens   oauth2.TokenSource
}

// newApp validates the configuration and wires the client stack
func newApp(ctx context.Context, opts config.ValidateOptions) (*app, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	opts.KnownModels = registeredModels
	if err := cfg.ValidateWithOptions(opts); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log := logger.Setup(cfg.App.LogLevel, cfg.App.LogFormat)

	clientOpts := []graphql.Option{
		graphql.WithTimeout(cfg.Endpoint.Timeout()),
		graphql.WithLogger(log),
	}

	var tokens oauth2.TokenSource
	switch cfg.Endpoint.AuthMode {
	case config.AuthAPIKey:
		clientOpts = append(clientOpts, graphql.WithAPIKey(cfg.Endpoint.APIKey))
	case config.AuthOAuth2:
		cc := clientcredentials.Config{
			ClientID:     cfg.Endpoint.OAuth2.ClientID,
			ClientSecret: cfg.Endpoint.OAuth2.ClientSecret,
			TokenURL:     cfg.Endpoint.OAuth2.TokenURL,
			Scopes:       cfg.Endpoint.OAuth2.Scopes,
		}
		tokens = cc.TokenSource(ctx)
		clientOpts = append(clientOpts, graphql.WithTokenSource(tokens))
	}

	metrics := server.NewMetrics()
	client := syncstream.New(
		graphql.NewClient(cfg.Endpoint.URL, clientOpts...),
		syncstream.WithLogger(log),
		syncstream.WithObserver(metrics),
	)

	registry := server.NewRegistry(client, log)
	registerModels(registry)

	return &app{log: log, metrics: metrics, registry: registry, tokens: tokens}, nil
}

var registeredModels = []string{"User", "Group"}

func registerModels(registry *server.Registry) {
	server.Register(registry, func() directory.User { return directory.User{Active: true} })
	server.Register[directory.Group](registry, nil)
}

// runSync executes a one-shot base sync
func runSync(ctx context.Context, models []string) error {
	a, err := newApp(ctx, config.ValidateOptions{})
	if err != nil {
		return err
	}

	if len(models) == 0 {
		models = cfg.Server.SyncModels
	}

	logger.LogModels(a.log, models, cfg.App.LogLevel)
	a.log.Info("Starting sync")

	result, err := a.registry.SyncAll(ctx, models)
	if result == nil {
		a.log.Errorf("Sync failed: %v", err)
		return err
	}

	for _, m := range result.Models {
		entry := a.log.WithFields(logrus.Fields{"model": m.Model, "items": m.Items, "deleted": m.Deleted})
		if m.Error != "" {
			entry.Errorf("Sync failed: %s", m.Error)
		} else {
			entry.Infof("Synced in %v", m.Duration)
		}
	}

	if err != nil {
		a.log.Warnf("Sync completed with %d errors", len(result.Errors))
		return err
	}

	a.log.Infof("Sync completed successfully: %d records", result.TotalItems())
	return nil
}

// runMutation runs a single create, update or delete and prints the record
func runMutation(ctx context.Context, call func(context.Context, *server.Registry) (any, error)) error {
	a, err := newApp(ctx, config.ValidateOptions{})
	if err != nil {
		return err
	}

	record, err := call(ctx, a.registry)
	if err != nil {
		var dataErr *syncstream.DataError
		if errors.As(err, &dataErr) && dataErr.IsConflict() {
			printRemoteErrors(os.Stderr, dataErr)
		}
		return err
	}

	return printJSON(os.Stdout, record)
}

func printRemoteErrors(w io.Writer, dataErr *syncstream.DataError) {
	for _, remote := range dataErr.Errors {
		fmt.Fprintf(w, "Remote error: %s\n", remote.Message)
		if len(remote.Data) > 0 {
			fmt.Fprintf(w, "Current record: %s\n", remote.Data)
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runServer executes server mode
func runServer(ctx context.Context) error {
	a, err := newApp(ctx, config.ValidateOptions{})
	if err != nil {
		return err
	}

	a.log.Infof("Starting model sync server on port %d", cfg.Server.Port)
	if cfg.Server.ScheduleEnabled {
		a.log.Infof("Scheduling enabled with cron: %s", cfg.Server.Schedule)
		logger.LogModels(a.log, cfg.Server.SyncModels, cfg.App.LogLevel)
	} else {
		a.log.Info("Scheduling disabled - manual sync only")
	}

	srv := server.NewServer(cfg, a.log, a.registry, a.metrics)
	return srv.Run(ctx)
}

// validateConfig validates the configuration file
func validateConfig() error {
	if cfg == nil {
		return fmt.Errorf("no config file found")
	}

	if err := cfg.ValidateWithOptions(config.ValidateOptions{KnownModels: registeredModels}); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed:\n%v\n", err)
		return err
	}

	fmt.Printf("Configuration file '%s' is valid\n", cfgFile)
	fmt.Printf("   - Endpoint: %s\n", cfg.Endpoint.URL)
	fmt.Printf("   - Auth mode: %s\n", cfg.Endpoint.AuthMode)
	fmt.Printf("   - Models to sync: %v\n", cfg.Server.SyncModels)
	fmt.Printf("   - Log level: %s\n", cfg.App.LogLevel)

	return nil
}

// runCheck executes setup validation
func runCheck(ctx context.Context) error {
	if cfg == nil {
		return fmt.Errorf("no config file found")
	}

	opts := []setup.Option{setup.WithKnownModels(registeredModels)}

	// Credentials are checked separately so a missing key still gets a report
	a, err := newApp(ctx, config.ValidateOptions{SkipCredentials: true})
	if err == nil {
		opts = append(opts, setup.WithProbe(func(ctx context.Context, model string) (int, error) {
			items, err := a.registry.Sync(ctx, model)
			return len(items), err
		}))
		if a.tokens != nil {
			opts = append(opts, setup.WithTokenSource(a.tokens))
		}
	}

	summary := setup.NewValidator(cfg, opts...).ValidateSetup(ctx)
	if summary.OverallStatus != setup.StatusPass {
		return fmt.Errorf("%d of %d checks failed", summary.Failed, summary.TotalChecks)
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
