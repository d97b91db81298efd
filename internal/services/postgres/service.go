// Package postgres provides PostgreSQL dump and restore operations.
package postgres

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/rs/zerolog"
)

// Dump format constants.
const (
	FormatCustom = "custom"
	FormatPlain  = "plain"
)

// Service defines the interface for PostgreSQL operations.
type Service interface {
	Dump(ctx context.Context, cfg models.PostgresConfig, outputPath string) (*models.DumpResult, error)
	Restore(ctx context.Context, cfg models.PostgresConfig, dumpPath string) (*models.DBRestoreResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	// Execute runs a command with extra environment variables and returns
	// its combined output.
	Execute(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
	// ExecuteToFile runs a command and writes its stdout to outputPath.
	ExecuteToFile(ctx context.Context, env []string, outputPath string, name string, args ...string) error
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its combined output.
func (e *DefaultExecutor) Execute(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// ExecuteToFile runs a command and writes stdout to the specified file.
func (e *DefaultExecutor) ExecuteToFile(ctx context.Context, env []string, outputPath string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	output, err := os.Create(outputPath) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = output.Close() }()

	cmd.Stdout = output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}

	return nil
}

// Impl implements the PostgreSQL Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new PostgreSQL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new PostgreSQL service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

func connArgs(cfg models.PostgresConfig, username string) []string {
	return []string{
		"-h", cfg.Host,
		"-p", fmt.Sprintf("%d", cfg.Port),
		"-U", username,
	}
}

func passwordEnv(password string) []string {
	if password == "" {
		return nil
	}
	return []string{fmt.Sprintf("PGPASSWORD=%s", password)}
}

// Dump exports the database with pg_dump. The custom format runs inside a
// single transaction snapshot, so concurrent writes cannot corrupt it.
func (s *Impl) Dump(ctx context.Context, cfg models.PostgresConfig, outputPath string) (*models.DumpResult, error) {
	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Str("format", cfg.Format).
		Str("output", outputPath).
		Msg("starting PostgreSQL dump")

	start := time.Now()
	result := &models.DumpResult{
		OutputPath: outputPath,
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		result.Error = fmt.Errorf("failed to create output directory: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	args := append(connArgs(cfg, cfg.Username), "-d", cfg.Database)
	switch cfg.Format {
	case FormatPlain:
		args = append(args, "-Fp")
	default:
		args = append(args, "-Fc")
	}

	env := passwordEnv(cfg.Password)

	if execErr := s.executor.ExecuteToFile(ctx, env, outputPath, "pg_dump", args...); execErr != nil {
		// Clean up partial file
		_ = os.Remove(outputPath)
		result.Error = execErr
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if info, err := os.Stat(outputPath); err == nil {
		result.SizeBytes = info.Size()
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", outputPath).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("PostgreSQL dump completed")

	return result, nil
}

// Restore applies a dump to the target database: terminate existing
// connections, drop and recreate the database, apply the dump, refresh
// statistics. The dependent application service must already be stopped.
//
// An apply failure after the drop leaves the database in a state only an
// operator can fix; it is marked Destructive and never retried here.
func (s *Impl) Restore(ctx context.Context, cfg models.PostgresConfig, dumpPath string) (*models.DBRestoreResult, error) {
	if cfg.SuperPassword == "" && cfg.Password == "" {
		return nil, models.NewStepError("db-restore", models.MissingCredential,
			fmt.Errorf("no database password configured"))
	}

	start := time.Now()
	result := &models.DBRestoreResult{}
	superEnv := passwordEnv(cfg.SuperPassword)
	superArgs := connArgs(cfg, cfg.SuperUsername)

	s.logger.Info().
		Str("database", cfg.Database).
		Str("dump", dumpPath).
		Msg("restoring PostgreSQL database")

	// Terminate existing connections to the target database.
	terminate := fmt.Sprintf(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid();",
		cfg.Database)
	args := append(append([]string{}, superArgs...), "-d", "postgres", "-v", "ON_ERROR_STOP=1", "-c", terminate)
	if out, err := s.executor.Execute(ctx, superEnv, "psql", args...); err != nil {
		result.Error = fmt.Errorf("failed to terminate connections: %w, output: %s", err, string(out))
		result.Duration = time.Since(start)
		return result, nil
	}

	// Drop and recreate.
	args = append(append([]string{}, superArgs...), "--if-exists", cfg.Database)
	if out, err := s.executor.Execute(ctx, superEnv, "dropdb", args...); err != nil {
		result.Error = fmt.Errorf("failed to drop database: %w, output: %s", err, string(out))
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Dropped = true

	args = append(append([]string{}, superArgs...), "-O", cfg.Username, cfg.Database)
	if out, err := s.executor.Execute(ctx, superEnv, "createdb", args...); err != nil {
		result.Destructive = true
		result.Error = fmt.Errorf("failed to recreate database: %w, output: %s", err, string(out))
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Recreated = true

	// Apply the dump.
	var name string
	switch {
	case cfg.Format == FormatPlain:
		name = "psql"
		args = append(append([]string{}, superArgs...), "-d", cfg.Database, "-v", "ON_ERROR_STOP=1", "-f", dumpPath)
	default:
		name = "pg_restore"
		args = append(append([]string{}, superArgs...), "-d", cfg.Database, "--no-owner", "--role", cfg.Username, dumpPath)
	}
	if out, err := s.executor.Execute(ctx, superEnv, name, args...); err != nil {
		result.Destructive = true
		result.Error = fmt.Errorf("failed to apply dump: %w, output: %s", err, string(out))
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Applied = true

	// Refresh statistics. Failure here is not destructive: the data is in
	// place, the planner just starts cold.
	args = append(append([]string{}, superArgs...), "-d", cfg.Database, "-c", "ANALYZE;")
	if out, err := s.executor.Execute(ctx, superEnv, "psql", args...); err != nil {
		s.logger.Warn().Err(err).Str("output", string(out)).Msg("ANALYZE failed after restore")
	} else {
		result.Analyzed = true
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Str("database", cfg.Database).
		Dur("duration", result.Duration).
		Msg("PostgreSQL restore completed")

	return result, nil
}

// GetOutputFilename returns the dump filename for one backup run.
func GetOutputFilename(cfg models.PostgresConfig, createdAt time.Time) string {
	ext := "dump"
	if cfg.Format == FormatPlain {
		ext = "sql"
	}
	return fmt.Sprintf("%s-%s.%s", cfg.Database, createdAt.UTC().Format(models.TimestampLayout), ext)
}
