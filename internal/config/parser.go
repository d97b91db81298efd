// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	// Parse backup settings (required).
	cfg.Backup = models.BackupSettings{
		Root:           p.expandEnv(p.v.GetString("backup.root")),
		RestoreRoot:    p.expandEnv(p.v.GetString("backup.restore_root")),
		Host:           p.v.GetString("backup.host"),
		FileDirs:       p.v.GetStringSlice("backup.file_dirs"),
		MonitoringDirs: p.v.GetStringSlice("backup.monitoring_dirs"),
	}

	if cfg.Backup.Root == "" {
		return nil, fmt.Errorf("backup.root is required")
	}
	if cfg.Backup.RestoreRoot == "" {
		cfg.Backup.RestoreRoot = "/"
	}
	if cfg.Backup.Host == "" {
		hostname, err := os.Hostname()
		if err != nil {
			cfg.Backup.Host = "unknown"
		} else {
			cfg.Backup.Host = hostname
		}
	}

	// Parse retention policy.
	cfg.Retention = models.RetentionPolicy{
		MaxAgeDays: p.v.GetInt("retention.max_age_days"),
	}
	if cfg.Retention.MaxAgeDays == 0 {
		cfg.Retention.MaxAgeDays = 30
	}
	if cfg.Retention.MaxAgeDays < 0 {
		return nil, fmt.Errorf("retention.max_age_days must be positive")
	}

	// Parse PostgreSQL config (required).
	cfg.Postgres = models.PostgresConfig{
		Host:          p.v.GetString("postgres.host"),
		Port:          p.v.GetInt("postgres.port"),
		Database:      p.v.GetString("postgres.database"),
		Username:      p.v.GetString("postgres.username"),
		Password:      p.expandEnv(p.v.GetString("postgres.password")),
		Format:        p.v.GetString("postgres.format"),
		SuperUsername: p.v.GetString("postgres.super_username"),
		SuperPassword: p.expandEnv(p.v.GetString("postgres.super_password")),
	}

	if cfg.Postgres.Database == "" {
		return nil, fmt.Errorf("postgres.database is required")
	}
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.Username == "" {
		cfg.Postgres.Username = "postgres"
	}
	if cfg.Postgres.Format == "" {
		cfg.Postgres.Format = "custom"
	}
	validFormats := map[string]bool{"custom": true, "plain": true}
	if !validFormats[cfg.Postgres.Format] {
		return nil, fmt.Errorf("postgres.format must be one of: custom, plain")
	}
	if cfg.Postgres.SuperUsername == "" {
		cfg.Postgres.SuperUsername = cfg.Postgres.Username
	}
	if cfg.Postgres.SuperPassword == "" {
		cfg.Postgres.SuperPassword = cfg.Postgres.Password
	}

	// Parse service-control config.
	cfg.Service = models.ServiceConfig{
		Name:           p.v.GetString("service.name"),
		Control:        p.v.GetString("service.control"),
		HealthURL:      p.v.GetString("service.health_url"),
		HealthAttempts: p.v.GetInt("service.health_attempts"),
		HealthInterval: p.v.GetDuration("service.health_interval"),
	}
	if cfg.Service.Control == "" {
		cfg.Service.Control = "systemctl"
	}
	validControl := map[string]bool{"systemctl": true, "docker": true}
	if !validControl[cfg.Service.Control] {
		return nil, fmt.Errorf("service.control must be one of: systemctl, docker")
	}
	if cfg.Service.HealthAttempts == 0 {
		cfg.Service.HealthAttempts = 10
	}
	if cfg.Service.HealthInterval == 0 {
		cfg.Service.HealthInterval = 5 * time.Second
	}

	// Parse optional encryption config.
	if p.v.IsSet("encryption") {
		cfg.Encryption = &models.EncryptionConfig{
			Passphrase: p.expandEnv(p.v.GetString("encryption.passphrase")),
		}
		if cfg.Encryption.Passphrase == "" {
			return nil, fmt.Errorf("encryption.passphrase is required when encryption is configured")
		}
	}

	// Parse optional S3 config.
	if p.v.IsSet("s3") {
		cfg.S3 = &models.S3Config{
			Bucket:          p.v.GetString("s3.bucket"),
			Region:          p.v.GetString("s3.region"),
			Prefix:          p.v.GetString("s3.prefix"),
			Endpoint:        p.expandEnv(p.v.GetString("s3.endpoint")),
			AccessKeyID:     p.expandEnv(p.v.GetString("s3.access_key_id")),
			SecretAccessKey: p.expandEnv(p.v.GetString("s3.secret_access_key")),
		}
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3.bucket is required when s3 is configured")
		}
		if cfg.S3.Region == "" {
			cfg.S3.Region = "us-east-1"
		}
	}

	// Parse optional notification config.
	if p.v.IsSet("notify") {
		cfg.Notify = &models.NotifyConfig{
			WebhookURL: p.expandEnv(p.v.GetString("notify.webhook_url")),
		}
		if cfg.Notify.WebhookURL == "" {
			return nil, fmt.Errorf("notify.webhook_url is required when notify is configured")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Backup.Root == "" {
		return fmt.Errorf("backup.root is required")
	}

	if cfg.Postgres.Database == "" {
		return fmt.Errorf("postgres.database is required")
	}

	return nil
}
