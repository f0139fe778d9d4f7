package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gobeyondidentity/go-model-sync/internal/config"
	"github.com/gobeyondidentity/go-model-sync/syncstream"
)

// Version is reported by /version and /health
var Version = "0.1.0"

// maxBodyBytes limits request bodies of the model endpoints
const maxBodyBytes = 1 << 20

// Server represents the HTTP server for model sync operations
type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
	config     *config.Config
	registry   *Registry
	syncer     Syncer
	scheduler  *Scheduler
	metrics    *Metrics
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	LastSync    *time.Time        `json:"last_sync,omitempty"`
	NextSync    *time.Time        `json:"next_sync,omitempty"`
	SyncEnabled bool              `json:"sync_enabled"`
}

// SyncResponse represents the manual sync response
type SyncResponse struct {
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	Result    *SyncStats `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// SyncStats represents synchronization statistics
type SyncStats struct {
	Models   []ModelSyncResult `json:"models"`
	Items    int               `json:"items"`
	Duration time.Duration     `json:"duration"`
	Errors   []string          `json:"errors"`
}

// ErrorResponse is returned by the model endpoints on failure
type ErrorResponse struct {
	Error  string          `json:"error"`
	Remote []RemoteError   `json:"remote_errors,omitempty"`
	Kind   string          `json:"kind"`
	Model  string          `json:"model,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// RemoteError is one error reported by the sync backend
type RemoteError struct {
	Message   string `json:"message"`
	ErrorType string `json:"error_type,omitempty"`
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *config.Config, logger *logrus.Logger, registry *Registry, metrics *Metrics) *Server {
	var scheduler *Scheduler
	if cfg.Server.ScheduleEnabled {
		scheduler = NewScheduler(cfg.Server.Schedule, cfg.Server.SyncModels, registry, logger, metrics)
	}

	server := &Server{
		logger:    logger,
		config:    cfg,
		registry:  registry,
		syncer:    registry,
		scheduler: scheduler,
		metrics:   metrics,
	}

	router := mux.NewRouter()
	server.registerRoutes(router)

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// registerRoutes sets up HTTP endpoints
func (s *Server) registerRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/version", s.handleVersion).Methods("GET")

	// Sync of the configured models
	router.HandleFunc("/sync", s.handleSync).Methods("POST")

	// Statistics
	router.HandleFunc("/stats", s.handleStats).Methods("GET")
	router.HandleFunc("/stats/reset", s.handleStatsReset).Methods("POST")
	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	// Model operations
	router.HandleFunc("/models", s.handleModels).Methods("GET")
	router.HandleFunc("/models/{model}/sync", s.handleModelSync).Methods("POST")
	router.HandleFunc("/models/{model}", s.handleModelCreate).Methods("POST")
	router.HandleFunc("/models/{model}/{id}", s.handleModelUpdate).Methods("PUT").Queries("version", "{version}")
	router.HandleFunc("/models/{model}/{id}", s.handleModelDelete).Methods("DELETE").Queries("version", "{version}")
	router.HandleFunc("/models/{model}/{id}", s.handleMissingVersion).Methods("PUT", "DELETE")

	// Scheduler control endpoints
	if s.scheduler != nil {
		router.HandleFunc("/scheduler/start", s.handleSchedulerStart).Methods("POST")
		router.HandleFunc("/scheduler/stop", s.handleSchedulerStop).Methods("POST")
		router.HandleFunc("/scheduler/status", s.handleSchedulerStatus).Methods("GET")
		router.HandleFunc("/scheduler/run", s.handleSchedulerRun).Methods("POST")
	}
}

// Run starts the HTTP server and scheduler and blocks until ctx is done or
// the process receives SIGINT or SIGTERM.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.logger.Infof("Starting model sync server on port %d", s.config.Server.Port)

	if s.scheduler != nil {
		if err := s.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		s.logger.Info("Scheduler started successfully")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Starting graceful shutdown...")

		if s.scheduler != nil {
			s.scheduler.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]string)
	services["endpoint"] = "configured"
	if s.config.Endpoint.URL == "" {
		services["endpoint"] = "missing"
	}
	services["models"] = strconv.Itoa(len(s.registry.Names()))

	response := HealthResponse{
		Status:      "healthy",
		Version:     Version,
		Timestamp:   time.Now(),
		Services:    services,
		SyncEnabled: s.scheduler != nil,
	}

	if s.scheduler != nil {
		response.LastSync = s.scheduler.GetLastSync()
		response.NextSync = s.scheduler.GetNextSync()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleSync handles manual sync requests for the configured models
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Manual sync requested via API")

	startTime := time.Now()
	result, err := s.syncer.SyncAll(r.Context(), s.config.Server.SyncModels)
	duration := time.Since(startTime)

	response := SyncResponse{
		Timestamp: time.Now(),
	}
	status := http.StatusOK

	if result == nil {
		s.logger.Errorf("Manual sync failed: %v", err)
		s.metrics.RecordFailedSync(err, duration)
		response.Status = "error"
		response.Message = "Sync operation failed"
		response.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, response)
		return
	}

	s.metrics.RecordSync(result, duration)
	response.Result = &SyncStats{
		Models:   result.Models,
		Items:    result.TotalItems(),
		Duration: duration,
		Errors:   errorStrings(result.Errors),
	}

	if err != nil {
		s.logger.Warnf("Manual sync completed with %d errors", len(result.Errors))
		response.Status = "partial"
		response.Message = "Sync operation completed with errors"
		response.Error = err.Error()
		status = http.StatusBadGateway
	} else {
		s.logger.Info("Manual sync completed successfully")
		response.Status = "success"
		response.Message = "Sync operation completed"
	}

	writeJSON(w, status, response)
}

// handleStats returns the JSON statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetStats())
}

// handleModels lists the registered models with their schemas
// handleStatsReset clears the JSON statistics
func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	s.metrics.Reset()
	s.logger.Info("Statistics reset via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	type modelInfo struct {
		Name       string `json:"name"`
		PluralName string `json:"plural_name"`
		Fields     int    `json:"fields"`
	}

	var models []modelInfo
	for _, name := range s.registry.Names() {
		schema, _ := s.registry.Schema(name)
		models = append(models, modelInfo{Name: schema.Name, PluralName: schema.PluralName, Fields: len(schema.Fields)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleModelSync(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["model"]

	items, err := s.registry.Sync(r.Context(), name)
	if err != nil {
		s.writeError(w, name, err)
		return
	}
	if items == nil {
		items = []any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": name, "items": items})
}

func (s *Server) handleModelCreate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["model"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, name, fmt.Errorf("%w: %v", ErrInvalidInput, err))
		return
	}

	record, err := s.registry.Create(r.Context(), name, body)
	if err != nil {
		s.writeError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleModelUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["model"]

	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		s.writeError(w, name, fmt.Errorf("%w: version must be an integer", ErrInvalidInput))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, name, fmt.Errorf("%w: %v", ErrInvalidInput, err))
		return
	}

	record, err := s.registry.Update(r.Context(), name, vars["id"], version, body)
	if err != nil {
		s.writeError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleModelDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["model"]

	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		s.writeError(w, name, fmt.Errorf("%w: version must be an integer", ErrInvalidInput))
		return
	}

	record, err := s.registry.Delete(r.Context(), name, vars["id"], version)
	if err != nil {
		s.writeError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleMissingVersion(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, mux.Vars(r)["model"], fmt.Errorf("%w: version query parameter is required", ErrInvalidInput))
}

// handleSchedulerStart handles scheduler start requests
func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "Scheduler not configured", http.StatusBadRequest)
		return
	}

	if err := s.scheduler.Start(); err != nil {
		http.Error(w, fmt.Sprintf("Failed to start scheduler: %v", err), http.StatusInternalServerError)
		return
	}

	s.logger.Info("Scheduler started via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// handleSchedulerStop handles scheduler stop requests
func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "Scheduler not configured", http.StatusBadRequest)
		return
	}

	s.scheduler.Stop()
	s.logger.Info("Scheduler stopped via API")

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleSchedulerStatus handles scheduler status requests
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "Scheduler not configured", http.StatusBadRequest)
		return
	}

	status := map[string]interface{}{
		"running":   s.scheduler.IsRunning(),
		"schedule":  s.scheduler.Schedule(),
		"models":    s.config.Server.SyncModels,
		"last_sync": s.scheduler.GetLastSync(),
		"next_sync": s.scheduler.GetNextSync(),
	}

	writeJSON(w, http.StatusOK, status)
}

// handleSchedulerRun runs one scheduled sync right away and waits for it
func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "Scheduler not configured", http.StatusBadRequest)
		return
	}

	s.logger.Info("Scheduled sync triggered via API")
	s.scheduler.RunNow()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sync": s.scheduler.GetLastSync(),
		"stats":     s.metrics.GetStats(),
	})
}

// handleVersion handles version requests
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	version := map[string]string{
		"version":    Version,
		"build_time": time.Now().Format(time.RFC3339),
		"mode":       "server",
	}

	writeJSON(w, http.StatusOK, version)
}

// writeError maps an operation error to a status code and JSON body
func (s *Server) writeError(w http.ResponseWriter, modelName string, err error) {
	status, kind := classify(err)
	response := ErrorResponse{
		Error: err.Error(),
		Kind:  kind,
		Model: modelName,
	}

	var dataErr *syncstream.DataError
	if errors.As(err, &dataErr) {
		for _, remote := range dataErr.Errors {
			response.Remote = append(response.Remote, RemoteError{Message: remote.Message, ErrorType: remote.ErrorType})
			if len(remote.Data) > 0 && response.Data == nil {
				response.Data = remote.Data
			}
		}
	}

	entry := s.logger.WithFields(logrus.Fields{"model": modelName, "status": status})
	if status >= http.StatusInternalServerError {
		entry.Errorf("Model operation failed: %v", err)
	} else {
		entry.Warnf("Model operation rejected: %v", err)
	}

	writeJSON(w, status, response)
}

// classify maps err to an HTTP status and a short kind label
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnknownModel):
		return http.StatusNotFound, "unknown_model"
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case syncstream.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, syncstream.ErrNoData):
		return http.StatusNotFound, "no_data"
	case syncstream.IsDataError(err):
		return http.StatusUnprocessableEntity, "data_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusBadGateway, "remote_failure"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStrings converts a slice of errors to a slice of strings
func errorStrings(errors []error) []string {
	if len(errors) == 0 {
		return nil
	}

	result := make([]string, len(errors))
	for i, err := range errors {
		result[i] = err.Error()
	}
	return result
}
