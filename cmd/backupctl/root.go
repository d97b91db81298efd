package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/riskhorizon/backupctl/internal/config"
	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/riskhorizon/backupctl/internal/services/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool

	// baseWriter is the console log sink; the operation log file is
	// layered on top once the backup root is known.
	baseWriter io.Writer
)

var rootCmd = &cobra.Command{
	Use:   "backupctl",
	Short: "Backup and restore orchestrator for a RiskHorizon deployment",
	Long: `backupctl produces encrypted, checksum-verified, offsite-replicated
backups of a RiskHorizon deployment and restores them:
  - PostgreSQL dumps via pg_dump (transactionally consistent)
  - File and monitoring directory archives
  - SHA-256 sealing with sidecar metadata
  - Optional AES-256-GCM encryption
  - S3-compatible offsite replication and retention pruning
  - Service-aware restore with integrity verification and rollback

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		baseWriter = os.Stdout
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		baseWriter = output
	}
	log.Logger = zerolog.New(baseWriter).With().Timestamp().Logger()

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// attachOperationLog layers the persistent operation log under the
// backup root over the console sink. Every step of every run lands there
// as JSON lines with timestamps.
func attachOperationLog(root string) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		log.Warn().Err(err).Str("root", root).Msg("cannot create backup root, operation log disabled")
		return
	}

	path := filepath.Join(root, "operations.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // log lives under the backup root
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot open operation log")
		return
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(baseWriter, f)).With().Timestamp().Logger()
}

// loadConfig loads and validates the configuration file.
func loadConfig(cmd *cobra.Command) (*models.Config, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, cmd.Help()
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// buildRemote creates the offsite object store when one is configured.
func buildRemote(ctx context.Context, cfg *models.Config) (store.ObjectStore, error) {
	if cfg.S3 == nil {
		return nil, nil
	}
	remote, err := store.NewS3Store(ctx, *cfg.S3)
	if err != nil {
		return nil, err
	}
	return remote, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
