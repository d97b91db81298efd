package main

import (
	"fmt"
	"os"

	"github.com/riskhorizon/backupctl/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup or restore operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Backup root: %s\n", cfg.Backup.Root)
	fmt.Printf("  Restore root: %s\n", cfg.Backup.RestoreRoot)
	fmt.Printf("  Host: %s\n", cfg.Backup.Host)
	fmt.Printf("  File dirs: %v\n", cfg.Backup.FileDirs)
	fmt.Printf("  Monitoring dirs: %v\n", cfg.Backup.MonitoringDirs)
	fmt.Println()
	fmt.Println("Retention Policy:")
	fmt.Printf("  Max age: %d day(s)\n", cfg.Retention.MaxAgeDays)
	fmt.Println()
	fmt.Println("PostgreSQL Configuration:")
	fmt.Printf("  Host: %s\n", cfg.Postgres.Host)
	fmt.Printf("  Port: %d\n", cfg.Postgres.Port)
	fmt.Printf("  Database: %s\n", cfg.Postgres.Database)
	fmt.Printf("  Format: %s\n", cfg.Postgres.Format)
	fmt.Printf("  Superuser: %s\n", cfg.Postgres.SuperUsername)
	fmt.Println()
	fmt.Println("Service Control:")
	fmt.Printf("  Service: %s\n", cfg.Service.Name)
	fmt.Printf("  Control: %s\n", cfg.Service.Control)
	fmt.Printf("  Health URL: %s\n", cfg.Service.HealthURL)
	fmt.Printf("  Health attempts: %d (every %s)\n", cfg.Service.HealthAttempts, cfg.Service.HealthInterval)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Encryption: %v\n", cfg.Encryption != nil)
	fmt.Printf("  Offsite (S3): %v\n", cfg.S3 != nil)
	fmt.Printf("  Notifications: %v\n", cfg.Notify != nil)

	if cfg.S3 != nil {
		fmt.Println()
		fmt.Println("S3 Configuration:")
		fmt.Printf("  Bucket: %s\n", cfg.S3.Bucket)
		fmt.Printf("  Region: %s\n", cfg.S3.Region)
		fmt.Printf("  Prefix: %s\n", cfg.S3.Prefix)
		if cfg.S3.Endpoint != "" {
			fmt.Printf("  Endpoint: %s\n", cfg.S3.Endpoint)
		}
	}

	if cfg.Notify != nil {
		fmt.Println()
		fmt.Println("Notification Configuration:")
		fmt.Printf("  Webhook: %s\n", cfg.Notify.WebhookURL)
	}

	return nil
}
