package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func sampleReport() models.BackupReport {
	started, _ := time.Parse(models.TimestampLayout, "20260826-021500")
	return models.BackupReport{
		Status:    models.StatusSuccess,
		Host:      "backup-host",
		StartedAt: started,
		Duration:  90 * time.Second,
		Domains: []models.DomainReport{
			{
				Domain:    models.DomainDatabase,
				State:     models.StateDone,
				SizeHuman: "42.0 MiB",
				Checksum:  "deadbeef",
				RemoteKey: "database/2026/08/26/riskhorizon-20260826-021500.dump.enc",
			},
			{Domain: models.DomainFiles, State: models.StateDone, SizeHuman: "1.2 GiB"},
			{Domain: models.DomainMonitoring, State: models.StatePending},
		},
	}
}

func TestSendReport_PostsJSONPayload(t *testing.T) {
	var captured *http.Request
	var body []byte
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			captured = req
			var err error
			body, err = io.ReadAll(req.Body)
			require.NoError(t, err)
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil))}, nil
		},
	}

	svc := NewWithClient(testLogger(), client)
	result, err := svc.SendReport(context.Background(),
		models.NotifyConfig{WebhookURL: "https://hooks.example.com/backup"},
		sampleReport())

	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Nil(t, result.Error)

	require.NotNil(t, captured)
	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "https://hooks.example.com/backup", captured.URL.String())
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))

	var payload models.BackupReport
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, models.StatusSuccess, payload.Status)
	assert.Equal(t, "backup-host", payload.Host)
	assert.Len(t, payload.Domains, 3)
	assert.Contains(t, payload.Summary, "Backup successful")
}

func TestSendReport_Non2xxIsResultError(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusInternalServerError, Body: io.NopCloser(bytes.NewReader(nil))}, nil
		},
	}

	svc := NewWithClient(testLogger(), client)
	result, err := svc.SendReport(context.Background(),
		models.NotifyConfig{WebhookURL: "https://hooks.example.com/backup"},
		sampleReport())

	require.NoError(t, err, "delivery failure is reported in the result")
	assert.False(t, result.Delivered)
	assert.Contains(t, result.Error.Error(), "status 500")
}

func TestSendReport_TransportErrorIsResultError(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClient(testLogger(), client)
	result, err := svc.SendReport(context.Background(),
		models.NotifyConfig{WebhookURL: "https://hooks.example.com/backup"},
		sampleReport())

	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.Contains(t, result.Error.Error(), "connection refused")
}

func TestSummarize_SuccessfulRun(t *testing.T) {
	summary := Summarize(sampleReport())

	assert.Contains(t, summary, "Backup successful on backup-host")
	assert.Contains(t, summary, "database: ok, 42.0 MiB, sha256 deadbeef, offsite database/2026/08/26/riskhorizon-20260826-021500.dump.enc")
	assert.Contains(t, summary, "files: ok, 1.2 GiB")
	assert.Contains(t, summary, "monitoring: skipped")
}

func TestSummarize_FailedDomain(t *testing.T) {
	report := sampleReport()
	report.Status = models.StatusPartialFailure
	report.Domains[0] = models.DomainReport{
		Domain: models.DomainDatabase,
		State:  models.StateArchived,
		Error:  "pg_dump: connection to server failed",
	}

	summary := Summarize(report)

	assert.Contains(t, summary, "Backup finished with failures")
	assert.Contains(t, summary, "database: failed at archived: pg_dump: connection to server failed")
}
