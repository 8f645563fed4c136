package logs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/repository"
	"github.com/kagehq/brail/internal/ws"
)

// Log levels used on deploy streams.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Service handles deploy log persistence and streaming.
type Service struct {
	repo   repository.LogRepository
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a log service.
func New(repo repository.LogRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger, now: time.Now}
}

// Append stores and broadcasts a log entry.
func (s Service) Append(ctx context.Context, entry domain.DeployLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if strings.TrimSpace(entry.Level) == "" {
		entry.Level = LevelInfo
	}
	if err := s.repo.AppendDeployLog(ctx, &entry); err != nil {
		return err
	}
	s.broadcast(entry)
	return nil
}

// Record appends a line and downgrades persistence failures to a warning.
// Operator logs are never authoritative, so callers on the deploy path use it.
func (s Service) Record(ctx context.Context, siteID, deployID, level, message string, metadata map[string]any) {
	entry := domain.DeployLog{DeployID: deployID, SiteID: siteID, Level: level, Message: message}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	if err := s.Append(ctx, entry); err != nil {
		s.logger.Warn("deploy log append failed", "deploy_id", deployID, "error", err)
	}
}

// List returns logs for a deploy.
func (s Service) List(ctx context.Context, deployID string, limit, offset int) ([]domain.DeployLog, error) {
	return s.repo.ListDeployLogs(ctx, deployID, limit, offset)
}

func (s Service) broadcast(entry domain.DeployLog) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEntry(entry)
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.hub.Broadcast(entry.DeployID, data)
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// MarshalEntry formats a deploy log for streaming payloads.
func MarshalEntry(entry domain.DeployLog) ([]byte, error) {
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = json.RawMessage(entry.Metadata)
	}
	payload := map[string]any{
		"id":         entry.ID,
		"deploy_id":  entry.DeployID,
		"site_id":    entry.SiteID,
		"level":      entry.Level,
		"message":    entry.Message,
		"metadata":   metadata,
		"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}
