package config

import (
	"testing"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
backup:
  root: /var/backups/riskhorizon
  host: grc-prod-01
  file_dirs:
    - /srv/riskhorizon/uploads
    - /srv/riskhorizon/config
    - /etc/riskhorizon/tls
  monitoring_dirs:
    - /var/lib/grafana
retention:
  max_age_days: 14
postgres:
  host: db.internal
  port: 5433
  database: riskhorizon
  username: app
  password: apppass
  super_username: postgres
  super_password: superpass
service:
  name: riskhorizon-app
  control: docker
  health_url: http://localhost:8080/health
  health_attempts: 5
  health_interval: 2s
encryption:
  passphrase: hunter2
s3:
  bucket: riskhorizon-backups
  region: eu-central-1
  prefix: prod
notify:
  webhook_url: https://hooks.example.com/backup
`

func TestParse_FullConfig(t *testing.T) {
	parser := NewParser()
	cfg, err := parser.LoadReader(fullConfig)

	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/var/backups/riskhorizon", cfg.Backup.Root)
	assert.Equal(t, "/", cfg.Backup.RestoreRoot)
	assert.Equal(t, "grc-prod-01", cfg.Backup.Host)
	assert.Len(t, cfg.Backup.FileDirs, 3)
	assert.Equal(t, []string{"/var/lib/grafana"}, cfg.Backup.MonitoringDirs)

	assert.Equal(t, 14, cfg.Retention.MaxAgeDays)

	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, "riskhorizon", cfg.Postgres.Database)
	assert.Equal(t, "postgres", cfg.Postgres.SuperUsername)
	assert.Equal(t, "superpass", cfg.Postgres.SuperPassword)

	assert.Equal(t, "docker", cfg.Service.Control)
	assert.Equal(t, 5, cfg.Service.HealthAttempts)
	assert.Equal(t, 2*time.Second, cfg.Service.HealthInterval)

	require.NotNil(t, cfg.Encryption)
	assert.Equal(t, "hunter2", cfg.Encryption.Passphrase)

	require.NotNil(t, cfg.S3)
	assert.Equal(t, "riskhorizon-backups", cfg.S3.Bucket)
	assert.Equal(t, "eu-central-1", cfg.S3.Region)

	require.NotNil(t, cfg.Notify)
	assert.Equal(t, "https://hooks.example.com/backup", cfg.Notify.WebhookURL)
}

func TestParse_MinimalConfig(t *testing.T) {
	parser := NewParser()
	cfg, err := parser.LoadReader(`
backup:
  root: /var/backups/riskhorizon
postgres:
  database: riskhorizon
`)

	require.NoError(t, err)

	// Defaults.
	assert.Equal(t, "/", cfg.Backup.RestoreRoot)
	assert.NotEmpty(t, cfg.Backup.Host)
	assert.Equal(t, 30, cfg.Retention.MaxAgeDays)
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "postgres", cfg.Postgres.Username)
	assert.Equal(t, "custom", cfg.Postgres.Format)
	assert.Equal(t, "systemctl", cfg.Service.Control)
	assert.Equal(t, 10, cfg.Service.HealthAttempts)
	assert.Equal(t, 5*time.Second, cfg.Service.HealthInterval)

	assert.Nil(t, cfg.Encryption)
	assert.Nil(t, cfg.S3)
	assert.Nil(t, cfg.Notify)
}

func TestParse_MissingRoot(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadReader(`
postgres:
  database: riskhorizon
`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup.root")
}

func TestParse_MissingDatabase(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadReader(`
backup:
  root: /var/backups
`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.database")
}

func TestParse_InvalidFormat(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadReader(`
backup:
  root: /var/backups
postgres:
  database: riskhorizon
  format: directory
`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.format")
}

func TestParse_InvalidControl(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadReader(`
backup:
  root: /var/backups
postgres:
  database: riskhorizon
service:
  name: app
  control: supervisord
`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "service.control")
}

func TestParse_EmptyEncryptionPassphrase(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadReader(`
backup:
  root: /var/backups
postgres:
  database: riskhorizon
encryption:
  passphrase: ""
`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryption.passphrase")
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_PG_PASSWORD", "s3cret")
	t.Setenv("TEST_PASSPHRASE", "k3y")

	parser := NewParser()
	cfg, err := parser.LoadReader(`
backup:
  root: /var/backups
postgres:
  database: riskhorizon
  password: ${TEST_PG_PASSWORD}
encryption:
  passphrase: ${TEST_PASSPHRASE}
`)

	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.Equal(t, "k3y", cfg.Encryption.Passphrase)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(nil))
	assert.Error(t, Validate(&models.Config{}))

	cfg := &models.Config{
		Backup:   models.BackupSettings{Root: "/var/backups"},
		Postgres: models.PostgresConfig{Database: "riskhorizon"},
	}
	assert.NoError(t, Validate(cfg))
}
