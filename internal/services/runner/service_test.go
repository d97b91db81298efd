package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/riskhorizon/backupctl/internal/services/archive"
	"github.com/riskhorizon/backupctl/internal/services/crypt"
	"github.com/riskhorizon/backupctl/internal/services/seal"
	"github.com/riskhorizon/backupctl/internal/services/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockPostgres stands in for pg_dump; it writes a dump file like the real
// service would.
type mockPostgres struct {
	dumpFunc func(ctx context.Context, cfg models.PostgresConfig, outputPath string) (*models.DumpResult, error)
}

func (m *mockPostgres) Dump(ctx context.Context, cfg models.PostgresConfig, outputPath string) (*models.DumpResult, error) {
	if m.dumpFunc != nil {
		return m.dumpFunc(ctx, cfg, outputPath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(outputPath, []byte("PGDMP fake dump"), 0o640); err != nil {
		return nil, err
	}
	return &models.DumpResult{OutputPath: outputPath, SizeBytes: 15}, nil
}

func (m *mockPostgres) Restore(context.Context, models.PostgresConfig, string) (*models.DBRestoreResult, error) {
	return &models.DBRestoreResult{}, nil
}

type mockNotify struct {
	reports []models.BackupReport
}

func (m *mockNotify) SendReport(_ context.Context, _ models.NotifyConfig, report models.BackupReport) (*models.NotifyResult, error) {
	m.reports = append(m.reports, report)
	return &models.NotifyResult{Delivered: true}, nil
}

type memoryStore struct {
	objects map[string][]byte
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]models.RemoteObject, error) {
	var out []models.RemoteObject
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, models.RemoteObject{Key: key, SizeBytes: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func testConfig(t *testing.T, root string) models.Config {
	t.Helper()
	fileDir := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.MkdirAll(fileDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(fileDir, "report.pdf"), []byte("pdf bytes"), 0o640))

	monDir := filepath.Join(t.TempDir(), "metrics")
	require.NoError(t, os.MkdirAll(monDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(monDir, "series.db"), []byte("metric bytes"), 0o640))

	return models.Config{
		Backup: models.BackupSettings{
			Root:           root,
			Host:           "backup-host",
			FileDirs:       []string{fileDir},
			MonitoringDirs: []string{monDir},
		},
		Retention: models.RetentionPolicy{MaxAgeDays: 30},
		Postgres: models.PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "riskhorizon",
			Username: "backup",
			Format:   "custom",
		},
	}
}

func newTestRunner(t *testing.T, root string, remote store.ObjectStore, pg *mockPostgres, nt *mockNotify) *Impl {
	t.Helper()
	logger := testLogger()
	return NewWithServices(
		logger,
		pg,
		archive.New(logger),
		seal.New(logger),
		crypt.New(logger),
		store.New(logger, root, remote),
		nt,
	)
}

func TestRun_AllDomainsSucceed(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.Encryption = &models.EncryptionConfig{Passphrase: "hunter2"}
	cfg.Notify = &models.NotifyConfig{WebhookURL: "https://hooks.example.com/backup"}

	remote := newMemoryStore()
	nt := &mockNotify{}
	svc := newTestRunner(t, root, remote, &mockPostgres{}, nt)

	run, err := svc.Run(context.Background(), cfg, Options{})

	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, run.Status())
	require.Len(t, run.Results, 3)

	for _, res := range run.Results {
		assert.Equal(t, models.StateDone, res.State, "domain %s", res.Domain)
		require.NotNil(t, res.Artifact)
		assert.True(t, res.Artifact.Encrypted)
		assert.True(t, strings.HasSuffix(res.Artifact.Path, models.EncryptedSuffix))
		assert.FileExists(t, res.Artifact.Path)
		assert.FileExists(t, res.Artifact.Path+models.MetadataSuffix)
		require.NotNil(t, res.Metadata)
		assert.Len(t, res.Metadata.Checksum, 64)
		assert.NotEmpty(t, res.RemoteKey)
		assert.Contains(t, remote.objects, res.RemoteKey)
		assert.Contains(t, remote.objects, res.RemoteKey+models.MetadataSuffix)
	}

	require.Len(t, nt.reports, 1)
	assert.Equal(t, models.StatusSuccess, nt.reports[0].Status)
	assert.Equal(t, "backup-host", nt.reports[0].Host)
}

func TestRun_DatabaseFailureDoesNotStopOtherDomains(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.Notify = &models.NotifyConfig{WebhookURL: "https://hooks.example.com/backup"}

	pg := &mockPostgres{
		dumpFunc: func(context.Context, models.PostgresConfig, string) (*models.DumpResult, error) {
			return &models.DumpResult{Error: errors.New("pg_dump: connection to server failed")}, nil
		},
	}
	nt := &mockNotify{}
	svc := newTestRunner(t, root, nil, pg, nt)

	run, err := svc.Run(context.Background(), cfg, Options{})

	require.Error(t, err)
	assert.Equal(t, models.PartialRunFailure, models.KindOf(err))
	assert.Equal(t, models.StatusPartialFailure, run.Status())
	require.Len(t, run.Results, 3)

	dbResult := run.Results[0]
	assert.Equal(t, models.DomainDatabase, dbResult.Domain)
	require.Error(t, dbResult.Error)
	assert.Contains(t, dbResult.Error.Error(), "pg_dump")

	// The directory domains completed despite the database failure.
	for _, res := range run.Results[1:] {
		assert.Equal(t, models.StateDone, res.State, "domain %s", res.Domain)
		assert.FileExists(t, res.Artifact.Path)
	}

	require.Len(t, nt.reports, 1)
	assert.Equal(t, models.StatusPartialFailure, nt.reports[0].Status)
}

func TestRun_OnlyFlagSkipsOtherDomains(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	pgCalled := false
	pg := &mockPostgres{
		dumpFunc: func(context.Context, models.PostgresConfig, string) (*models.DumpResult, error) {
			pgCalled = true
			return &models.DumpResult{}, nil
		},
	}
	svc := newTestRunner(t, root, nil, pg, &mockNotify{})

	run, err := svc.Run(context.Background(), cfg, Options{Only: models.DomainFiles})

	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, run.Status())
	assert.False(t, pgCalled)

	require.Len(t, run.Results, 3)
	assert.True(t, run.Results[0].Skipped)
	assert.Equal(t, models.StateDone, run.Results[1].State)
	assert.True(t, run.Results[2].Skipped)
}

func TestRun_CleanupOnly(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.Notify = &models.NotifyConfig{WebhookURL: "https://hooks.example.com/backup"}

	// An expired artifact from a prior run.
	oldName := "files-" + time.Now().UTC().AddDate(0, 0, -40).Format(models.TimestampLayout) + ".tar.gz"
	oldDir := filepath.Join(root, "files")
	require.NoError(t, os.MkdirAll(oldDir, 0o750))
	oldPath := filepath.Join(oldDir, oldName)
	require.NoError(t, os.WriteFile(oldPath, []byte("expired"), 0o640))

	nt := &mockNotify{}
	svc := newTestRunner(t, root, nil, &mockPostgres{}, nt)

	run, err := svc.Run(context.Background(), cfg, Options{CleanupOnly: true})

	require.NoError(t, err)
	assert.Empty(t, run.Results, "no domains are backed up in cleanup mode")
	assert.NoFileExists(t, oldPath)
	assert.Empty(t, nt.reports, "cleanup runs do not notify")
}

func TestRun_UploadFailureKeepsLocalBackupValid(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)

	remote := newMemoryStore()
	remote.putErr = errors.New("RequestTimeout: connection reset")
	svc := newTestRunner(t, root, remote, &mockPostgres{}, &mockNotify{})

	run, err := svc.Run(context.Background(), cfg, Options{Only: models.DomainFiles})

	require.Error(t, err)
	assert.Equal(t, models.PartialRunFailure, models.KindOf(err))

	filesResult := run.Results[1]
	assert.Equal(t, models.StateSealed, filesResult.State, "upload never regresses the sealed local artifact")
	assert.Equal(t, models.TransientIOFailure, models.KindOf(filesResult.Error))
	assert.Empty(t, filesResult.RemoteKey)

	// Artifact and sidecar survive locally.
	assert.FileExists(t, filesResult.Artifact.Path)
	assert.FileExists(t, filesResult.Artifact.Path+models.MetadataSuffix)
}

func TestRun_NoEncryptionStoresPlainArtifacts(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	svc := newTestRunner(t, root, nil, &mockPostgres{}, &mockNotify{})

	run, err := svc.Run(context.Background(), cfg, Options{Only: models.DomainMonitoring})

	require.NoError(t, err)
	res := run.Results[2]
	assert.Equal(t, models.StateDone, res.State)
	assert.False(t, res.Artifact.Encrypted)
	assert.False(t, strings.HasSuffix(res.Artifact.Path, models.EncryptedSuffix))
}

func TestBuildReport_CarriesChecksumAndError(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	run := &models.BackupRun{
		StartedAt:  started,
		FinishedAt: time.Now(),
		Results: []models.DomainResult{
			{
				Domain:    models.DomainDatabase,
				State:     models.StateDone,
				Metadata:  &models.ArtifactMetadata{Checksum: "deadbeef", SizeHuman: "42.0 MiB"},
				RemoteKey: "database/2026/08/26/riskhorizon-20260826-021500.dump",
			},
			{Domain: models.DomainFiles, State: models.StatePending, Error: errors.New("boom")},
			{Domain: models.DomainMonitoring, Skipped: true},
		},
	}

	report := BuildReport("backup-host", run)

	assert.Equal(t, models.StatusPartialFailure, report.Status)
	require.Len(t, report.Domains, 2, "skipped domains are omitted")
	assert.Equal(t, "deadbeef", report.Domains[0].Checksum)
	assert.Equal(t, "42.0 MiB", report.Domains[0].SizeHuman)
	assert.Equal(t, "boom", report.Domains[1].Error)
}
