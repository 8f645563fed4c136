// Package adapter defines the contract every release destination implements
// and the registry that dispatches adapter names to implementations.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kagehq/brail/internal/domain"
)

// Config is an adapter-specific configuration, opaque to the orchestrator.
type Config map[string]any

// String returns a string value or "".
func (c Config) String(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns an integer value or fallback.
func (c Config) Int(key string, fallback int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Decode unmarshals the config into out through its JSON form.
func (c Config) Decode(out any) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

// Validation is the result of ValidateConfig.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Valid is the passing Validation.
func Valid() Validation { return Validation{Valid: true} }

// Invalid builds a failing Validation.
func Invalid(format string, args ...any) Validation {
	return Validation{Reason: fmt.Sprintf(format, args...)}
}

// Err converts a failing Validation to an ErrInvalidConfig error.
func (v Validation) Err(adapterName string) error {
	if v.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrInvalidConfig, adapterName, v.Reason)
}

// Runtime is the per-call context handed to adapters.
type Runtime struct {
	Logger     *slog.Logger
	ScratchDir string
	Env        map[string]string
}

// UploadInput describes a staged file set.
type UploadInput struct {
	DeployID string
	FilesDir string
	Site     domain.Site
	Config   Config
	Target   domain.ReleaseTarget
}

// UploadResult carries the platform's identifiers for an upload.
type UploadResult struct {
	DestinationRef       string
	PlatformDeploymentID string
	PreviewURL           string
}

// ActivateInput promotes an uploaded release.
type ActivateInput struct {
	DeployID             string
	Config               Config
	Site                 domain.Site
	Target               domain.ReleaseTarget
	PlatformDeploymentID string
}

// RollbackInput re-points the destination at an earlier deploy.
type RollbackInput struct {
	ToDeployID           string
	Config               Config
	Site                 domain.Site
	PlatformDeploymentID string
}

// DeleteInput removes a release from the platform.
type DeleteInput struct {
	DeployID             string
	Config               Config
	Site                 domain.Site
	PlatformDeploymentID string
}

// ReleaseInfo is one release as the platform reports it.
type ReleaseInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	Active    bool      `json:"active"`
	URL       string    `json:"url,omitempty"`
}

// Adapter is implemented once per destination platform.
type Adapter interface {
	Name() string
	ValidateConfig(cfg Config) Validation
	Upload(ctx context.Context, rt Runtime, in UploadInput) (UploadResult, error)
	Activate(ctx context.Context, rt Runtime, in ActivateInput) error
	Rollback(ctx context.Context, rt Runtime, in RollbackInput) error
	ListReleases(ctx context.Context, rt Runtime, cfg Config) ([]ReleaseInfo, error)
}

// Cleaner is implemented by adapters able to prune old releases.
type Cleaner interface {
	CleanupOld(ctx context.Context, rt Runtime, cfg Config, keep int) error
}

// Deleter is implemented by adapters able to remove a single release.
type Deleter interface {
	Delete(ctx context.Context, rt Runtime, in DeleteInput) error
}

// HealthCheckConfig configures the pre-activation gate.
type HealthCheckConfig struct {
	URL       string `json:"url"`
	CanaryURL string `json:"canaryUrl"`
	TimeoutMS int    `json:"timeoutMs"`
	Retries   int    `json:"retries"`
}

// DeployIDPlaceholder in a canary URL is replaced with the deploy being
// activated, so the URL can address the staged release before the switch.
const DeployIDPlaceholder = "{deployId}"

// CanaryFor returns the canary URL for deployID.
func (h HealthCheckConfig) CanaryFor(deployID string) string {
	return strings.ReplaceAll(h.CanaryURL, DeployIDPlaceholder, deployID)
}

// HealthGated is implemented by adapters whose activations must be preceded
// by a health check. ok is false when cfg carries no health check.
type HealthGated interface {
	HealthCheck(cfg Config) (HealthCheckConfig, bool)
}

// Wrap tags err as an adapter failure of op.
func Wrap(name, op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.AdapterError{Adapter: name, Op: op, Err: err}
}

// MergeEnv overlays adapter-scoped variables on runtime-scoped ones.
func MergeEnv(runtimeScope, adapterScope map[string]string) map[string]string {
	merged := make(map[string]string, len(runtimeScope)+len(adapterScope))
	for k, v := range runtimeScope {
		merged[k] = v
	}
	for k, v := range adapterScope {
		merged[k] = v
	}
	return merged
}
