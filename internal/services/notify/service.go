// Package notify delivers backup run reports to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for notification delivery.
type Service interface {
	SendReport(ctx context.Context, cfg models.NotifyConfig, report models.BackupReport) (*models.NotifyResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the notify Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
}

// New creates a new notify service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// NewWithClient creates a new notify service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
	}
}

// SendReport posts the run report as JSON to the configured webhook.
func (s *Impl) SendReport(ctx context.Context, cfg models.NotifyConfig, report models.BackupReport) (*models.NotifyResult, error) {
	result := &models.NotifyResult{}

	report.Summary = Summarize(report)

	s.logger.Info().
		Str("status", string(report.Status)).
		Str("webhook", cfg.WebhookURL).
		Msg("sending backup notification")

	body, err := json.Marshal(report)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal report: %w", err)
		return result, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Error = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		return result, nil
	}

	result.Delivered = true
	s.logger.Info().Msg("backup notification delivered")

	return result, nil
}

// Summarize renders the human-readable run summary included in the
// payload: exactly which domains succeeded, failed, or were skipped.
func Summarize(report models.BackupReport) string {
	var b bytes.Buffer

	if report.Status == models.StatusSuccess {
		b.WriteString("Backup successful")
	} else {
		b.WriteString("Backup finished with failures")
	}
	b.WriteString(fmt.Sprintf(" on %s (started %s, took %s)\n",
		report.Host,
		report.StartedAt.Format("2006-01-02 15:04:05"),
		report.Duration.Round(time.Second)))

	for _, d := range report.Domains {
		switch {
		case d.State == models.StateDone:
			b.WriteString(fmt.Sprintf("  %s: ok", d.Domain))
			if d.SizeHuman != "" {
				b.WriteString(fmt.Sprintf(", %s", d.SizeHuman))
			}
			if d.Checksum != "" {
				b.WriteString(fmt.Sprintf(", sha256 %s", d.Checksum))
			}
			if d.RemoteKey != "" {
				b.WriteString(fmt.Sprintf(", offsite %s", d.RemoteKey))
			}
		case d.Error == "" && d.State == models.StatePending:
			b.WriteString(fmt.Sprintf("  %s: skipped", d.Domain))
		default:
			b.WriteString(fmt.Sprintf("  %s: failed at %s: %s", d.Domain, d.State, d.Error))
		}
		b.WriteString("\n")
	}

	return b.String()
}
