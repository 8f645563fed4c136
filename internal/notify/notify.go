// Package notify publishes deploy and release lifecycle events.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Event types.
const (
	DeployCreated   = "deploy.created"
	DeployFinalized = "deploy.finalized"
	DeployActivated = "deploy.activated"
	DeployFailed    = "deploy.failed"
	DeployDeleted   = "deploy.deleted"
	PatchFinalized  = "patch.finalized"
	ReleaseStaged   = "release.staged"
	ReleaseActive   = "release.activated"
	ReleaseFailed   = "release.failed"
	ReleaseRollback = "release.rollback"
	ReleaseDeleted  = "release.deleted"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	SiteID    string    `json:"siteId"`
	DeployID  string    `json:"deployId,omitempty"`
	ReleaseID string    `json:"releaseId,omitempty"`
	Adapter   string    `json:"adapter,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers events. Delivery is best effort; implementations log
// failures instead of returning them to the deploy path.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Noop discards events.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, Event) {}

// Redis publishes events as JSON on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(addr, password string, db int, channel string, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, channel: channel, logger: logger, timeout: time.Second}, nil
}

// Notify implements Notifier.
func (r *Redis) Notify(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Warn("encode event failed", "type", event.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("publish event failed", "type", event.Type, "channel", r.channel, "error", err)
	}
}

// Close releases the connection.
func (r *Redis) Close() {
	if r.client != nil {
		_ = r.client.Close()
	}
}
