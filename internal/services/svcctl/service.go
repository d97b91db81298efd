// Package svcctl controls the dependent application service and polls
// its health endpoint.
package svcctl

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for service control operations.
type Service interface {
	Stop(ctx context.Context, cfg models.ServiceConfig) error
	Start(ctx context.Context, cfg models.ServiceConfig) error
	// WaitHealthy polls the health endpoint for a bounded number of
	// attempts with a fixed interval.
	WaitHealthy(ctx context.Context, cfg models.ServiceConfig) (*models.HealthResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its combined output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	return cmd.CombinedOutput()
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the svcctl Service interface.
type Impl struct {
	executor   CommandExecutor
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new service-control service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// NewWithDeps creates a new service-control service with custom
// dependencies (for testing).
func NewWithDeps(logger zerolog.Logger, executor CommandExecutor, httpClient HTTPClient) *Impl {
	return &Impl{
		executor:   executor,
		httpClient: httpClient,
		logger:     logger,
	}
}

// controlCommand maps the configured control tool to a concrete command.
func controlCommand(cfg models.ServiceConfig, action string) (string, []string) {
	if cfg.Control == "docker" {
		return "docker", []string{"compose", action, cfg.Name}
	}
	return "systemctl", []string{action, cfg.Name}
}

// Stop stops the dependent application service.
func (s *Impl) Stop(ctx context.Context, cfg models.ServiceConfig) error {
	return s.run(ctx, cfg, "stop")
}

// Start starts the dependent application service.
func (s *Impl) Start(ctx context.Context, cfg models.ServiceConfig) error {
	return s.run(ctx, cfg, "start")
}

func (s *Impl) run(ctx context.Context, cfg models.ServiceConfig, action string) error {
	if cfg.Name == "" {
		s.logger.Warn().Str("action", action).Msg("no service configured, skipping service control")
		return nil
	}

	name, args := controlCommand(cfg, action)
	s.logger.Info().
		Str("service", cfg.Name).
		Str("action", action).
		Str("command", name).
		Msg("controlling service")

	output, err := s.executor.Execute(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("failed to %s service %s: %w, output: %s", action, cfg.Name, err, string(output))
	}

	return nil
}

// WaitHealthy polls the health endpoint. Any 2xx status counts as healthy.
func (s *Impl) WaitHealthy(ctx context.Context, cfg models.ServiceConfig) (*models.HealthResult, error) {
	result := &models.HealthResult{}
	start := time.Now()

	if cfg.HealthURL == "" {
		s.logger.Warn().Msg("no health endpoint configured, skipping health check")
		result.Healthy = true
		return result, nil
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.HealthAttempts; attempt++ {
		result.Attempts = attempt

		healthy, err := s.probe(ctx, cfg.HealthURL)
		if healthy {
			result.Healthy = true
			result.Duration = time.Since(start)
			s.logger.Info().
				Int("attempts", attempt).
				Dur("duration", result.Duration).
				Msg("service is healthy")
			return result, nil
		}
		lastErr = err

		s.logger.Debug().
			Int("attempt", attempt).
			Int("max_attempts", cfg.HealthAttempts).
			Err(err).
			Msg("service not healthy yet")

		if attempt < cfg.HealthAttempts {
			select {
			case <-ctx.Done():
				result.Error = ctx.Err()
				result.Duration = time.Since(start)
				return result, nil
			case <-time.After(cfg.HealthInterval):
			}
		}
	}

	result.Duration = time.Since(start)
	result.Error = fmt.Errorf("service did not become healthy after %d attempts: %w",
		cfg.HealthAttempts, lastErr)

	return result, nil
}

func (s *Impl) probe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, nil
	}
	return false, fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
}
