package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/riskhorizon/backupctl/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	databaseOnly   bool
	filesOnly      bool
	monitoringOnly bool
	cleanupOnly    bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Execute the backup workflow",
	Long: `Execute the complete backup workflow:
1. Dump the PostgreSQL database (pg_dump, consistent snapshot)
2. Archive the file and monitoring directories
3. Encrypt artifacts (if a passphrase is configured)
4. Seal artifacts with SHA-256 sidecar metadata
5. Replicate artifacts to offsite object storage (if configured)
6. Prune local and offsite artifacts past the retention window
7. Send a webhook notification (if configured)

A failure in one domain is recorded and the remaining domains still run;
the command exits non-zero with status PARTIAL_FAILURE.`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&databaseOnly, "database-only", false, "back up only the database domain")
	backupCmd.Flags().BoolVar(&filesOnly, "files-only", false, "back up only the files domain")
	backupCmd.Flags().BoolVar(&monitoringOnly, "monitoring-only", false, "back up only the monitoring domain")
	backupCmd.Flags().BoolVar(&cleanupOnly, "cleanup-only", false, "run only the retention prune")
	backupCmd.MarkFlagsMutuallyExclusive("database-only", "files-only", "monitoring-only", "cleanup-only")
}

func backupOptions() runner.Options {
	switch {
	case databaseOnly:
		return runner.Options{Only: models.DomainDatabase}
	case filesOnly:
		return runner.Options{Only: models.DomainFiles}
	case monitoringOnly:
		return runner.Options{Only: models.DomainMonitoring}
	case cleanupOnly:
		return runner.Options{CleanupOnly: true}
	}
	return runner.Options{}
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	attachOperationLog(cfg.Backup.Root)

	log.Info().
		Str("config", configFile).
		Str("root", cfg.Backup.Root).
		Str("host", cfg.Backup.Host).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	remote, err := buildRemote(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up offsite storage")
		return err
	}

	runnerSvc := runner.New(log.Logger, *cfg, remote)
	run, err := runnerSvc.Run(ctx, *cfg, backupOptions())
	if err != nil {
		log.Error().Err(err).Str("status", string(run.Status())).Msg("backup run failed")
		return err
	}

	fmt.Printf("Backup finished: %s\n", run.Status())
	return nil
}
