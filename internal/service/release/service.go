// Package release places deploys on external destinations through adapters
// and keeps the per-(site, adapter) release history.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/notify"
	"github.com/kagehq/brail/internal/repository"
	"github.com/kagehq/brail/internal/service/deploy"
	"github.com/kagehq/brail/internal/service/health"
	"github.com/kagehq/brail/internal/service/logs"
	"github.com/kagehq/brail/internal/storage"
)

// AdapterLookup resolves adapter names.
type AdapterLookup interface {
	Get(name string) (adapter.Adapter, error)
}

// ProfileSource reads connection profiles and their plaintext configs.
type ProfileSource interface {
	List(ctx context.Context, siteID string) ([]domain.ConnectionProfile, error)
	GetDefault(ctx context.Context, siteID string) (*domain.ConnectionProfile, error)
	GetDecryptedConfig(ctx context.Context, profileID string) (*domain.ConnectionProfile, adapter.Config, error)
}

// HealthChecker gates activations.
type HealthChecker interface {
	CheckURL(ctx context.Context, url string, opts health.Options) error
	CheckCanary(ctx context.Context, url, expectedDeployID string, opts health.Options) error
}

// Selector chooses the destination of an operation: a saved profile, or an
// adapter name with an inline config.
type Selector struct {
	ProfileID string         `json:"profileId,omitempty"`
	Adapter   string         `json:"adapter,omitempty"`
	Config    adapter.Config `json:"config,omitempty"`
}

// Empty reports whether no destination was named.
func (s Selector) Empty() bool { return s.ProfileID == "" && s.Adapter == "" }

// Options tune the orchestrator.
type Options struct {
	// Keep is handed to adapters that prune old releases after a promotion.
	Keep int
	// Env is the runtime-scope environment given to every adapter call.
	Env map[string]string
}

// Service orchestrates stage, activate, rollback and delete.
type Service struct {
	sites     repository.SiteRepository
	deploys   repository.DeployRepository
	releases  repository.ReleaseRepository
	store     storage.Gateway
	adapters  AdapterLookup
	profiles  ProfileSource
	health    HealthChecker
	workspace *Workspace
	logs      deploy.LogSink
	notifier  notify.Notifier
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
	newID     func() string
}

// New returns a release orchestrator.
func New(
	sites repository.SiteRepository,
	deploys repository.DeployRepository,
	releases repository.ReleaseRepository,
	store storage.Gateway,
	adapters AdapterLookup,
	profiles ProfileSource,
	checker HealthChecker,
	workspace *Workspace,
	logSink deploy.LogSink,
	notifier notify.Notifier,
	logger *slog.Logger,
	opts Options,
) Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return Service{
		sites:     sites,
		deploys:   deploys,
		releases:  releases,
		store:     store,
		adapters:  adapters,
		profiles:  profiles,
		health:    checker,
		workspace: workspace,
		logs:      logSink,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

type destination struct {
	adapter adapter.Adapter
	config  adapter.Config
}

func (d destination) name() string { return d.adapter.Name() }

// Stage uploads a deploy's full file set to the selected destination and
// records a staged release.
func (s Service) Stage(ctx context.Context, deployID string, sel Selector, target domain.ReleaseTarget) (*domain.Release, error) {
	d, site, err := s.loadDeploy(ctx, deployID)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolve(ctx, site.ID, sel)
	if err != nil {
		return nil, err
	}
	return s.stage(ctx, d, site, dest, target)
}

func (s Service) stage(ctx context.Context, d *domain.Deploy, site *domain.Site, dest destination, target domain.ReleaseTarget) (*domain.Release, error) {
	if target == "" {
		target = domain.TargetProduction
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown target %q", domain.ErrInvalidConfig, target)
	}
	now := s.now().UTC()
	rel := &domain.Release{
		ID:        s.newID(),
		SiteID:    site.ID,
		DeployID:  d.ID,
		Adapter:   dest.name(),
		Target:    target,
		Status:    domain.ReleaseStaged,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := s.upload(ctx, d, site, dest, rel)
	if err != nil {
		msg := err.Error()
		rel.Status = domain.ReleaseFailed
		rel.ErrorMessage = &msg
		if createErr := s.releases.CreateRelease(ctx, rel); createErr != nil {
			s.logger.Error("record failed release", "release_id", rel.ID, "error", createErr)
		}
		s.failed(ctx, rel, "stage", err)
		return nil, err
	}

	rel.DestinationRef = optional(result.DestinationRef)
	rel.PlatformDeploymentID = optional(result.PlatformDeploymentID)
	rel.PreviewURL = optional(result.PreviewURL)
	if err := s.releases.CreateRelease(ctx, rel); err != nil {
		return nil, fmt.Errorf("record release: %w", err)
	}
	s.logger.Info("release staged", "release_id", rel.ID, "deploy_id", d.ID, "adapter", rel.Adapter, "target", target)
	s.record(ctx, rel, logs.LevelInfo, fmt.Sprintf("staged on %s (%s)", rel.Adapter, target), map[string]any{"releaseId": rel.ID})
	s.notifier.Notify(ctx, notify.Event{Type: notify.ReleaseStaged, SiteID: site.ID, DeployID: d.ID, ReleaseID: rel.ID, Adapter: rel.Adapter, At: now})
	return rel, nil
}

func (s Service) upload(ctx context.Context, d *domain.Deploy, site *domain.Site, dest destination, rel *domain.Release) (adapter.UploadResult, error) {
	dir, err := s.workspace.Prepare(rel.ID)
	if err != nil {
		return adapter.UploadResult{}, err
	}
	defer func() {
		if err := s.workspace.Cleanup(dir); err != nil {
			s.logger.Warn("remove scratch dir failed", "dir", dir, "error", err)
		}
	}()

	count, err := Download(ctx, s.store, d.ID, dir)
	if err != nil {
		return adapter.UploadResult{}, fmt.Errorf("download deploy %s: %w", d.ID, err)
	}
	s.logger.Debug("deploy downloaded", "deploy_id", d.ID, "files", count, "dir", dir)

	return dest.adapter.Upload(ctx, s.runtime(dest, dir), adapter.UploadInput{
		DeployID: d.ID,
		FilesDir: dir,
		Site:     *site,
		Config:   dest.config,
		Target:   rel.Target,
	})
}

// Activate promotes a deploy on the selected destination, staging it first
// when no usable release exists. On failure the release is marked failed
// and the deploy is left as it was.
func (s Service) Activate(ctx context.Context, deployID string, sel Selector, target domain.ReleaseTarget, comment *string) (*domain.Release, error) {
	d, site, err := s.loadDeploy(ctx, deployID)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolve(ctx, site.ID, sel)
	if err != nil {
		return nil, err
	}
	if target == "" {
		target = domain.TargetProduction
	}

	rel, err := s.releases.FindLatestRelease(ctx, d.ID, dest.name(), target)
	switch {
	case err == nil && rel.Status != domain.ReleaseFailed:
	case err == nil || errors.Is(err, repository.ErrNotFound):
		if rel, err = s.stage(ctx, d, site, dest, target); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	rt := s.runtime(dest, "")
	if err := s.healthGate(ctx, dest, d.ID); err != nil {
		s.fail(ctx, rel, "health check", err)
		return nil, err
	}
	err = dest.adapter.Activate(ctx, rt, adapter.ActivateInput{
		DeployID:             d.ID,
		Config:               dest.config,
		Site:                 *site,
		Target:               target,
		PlatformDeploymentID: deref(rel.PlatformDeploymentID),
	})
	if err != nil {
		s.fail(ctx, rel, "activate", err)
		return nil, err
	}

	if err := s.promote(ctx, rel, d, comment); err != nil {
		return nil, err
	}
	s.cleanup(ctx, dest, rt)
	s.record(ctx, rel, logs.LevelInfo, "activated on "+rel.Adapter, map[string]any{"releaseId": rel.ID})
	s.notifier.Notify(ctx, notify.Event{Type: notify.ReleaseActive, SiteID: site.ID, DeployID: d.ID, ReleaseID: rel.ID, Adapter: rel.Adapter, At: s.now().UTC()})
	return s.get(ctx, rel.ID)
}

// ActivateWithProfile activates a deploy on a profile's production target.
func (s Service) ActivateWithProfile(ctx context.Context, deployID, profileID string, comment *string) (*domain.Deploy, error) {
	if _, err := s.Activate(ctx, deployID, Selector{ProfileID: profileID}, domain.TargetProduction, comment); err != nil {
		return nil, err
	}
	d, err := s.deploys.GetDeployByID(ctx, deployID)
	if err != nil {
		return nil, translate(err, "deploy", deployID)
	}
	return d, nil
}

// Rollback re-points a destination at an earlier deploy. Without a
// selector the adapter of the deploy's latest release is used, then the
// site's default profile.
func (s Service) Rollback(ctx context.Context, siteID, toDeployID string, sel Selector) (*domain.Release, error) {
	d, site, err := s.loadDeploy(ctx, toDeployID)
	if err != nil {
		return nil, err
	}
	if d.SiteID != siteID {
		return nil, fmt.Errorf("%w: deploy %s in site %s", domain.ErrNotFound, toDeployID, siteID)
	}

	var dest destination
	if sel.Empty() {
		dest, err = s.fallbackDestination(ctx, site.ID, d.ID)
	} else {
		dest, err = s.resolve(ctx, site.ID, sel)
	}
	if err != nil {
		return nil, err
	}

	rel, err := s.releases.FindLatestRelease(ctx, d.ID, dest.name(), "")
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: deploy %s was never released to %s", domain.ErrPreconditionFailed, d.ID, dest.name())
		}
		return nil, err
	}
	if rel.Status == domain.ReleaseFailed {
		return nil, fmt.Errorf("%w: release %s of deploy %s failed", domain.ErrPreconditionFailed, rel.ID, d.ID)
	}

	err = dest.adapter.Rollback(ctx, s.runtime(dest, ""), adapter.RollbackInput{
		ToDeployID:           d.ID,
		Config:               dest.config,
		Site:                 *site,
		PlatformDeploymentID: deref(rel.PlatformDeploymentID),
	})
	if err != nil {
		s.failed(ctx, rel, "rollback", err)
		return nil, err
	}
	if err := s.promote(ctx, rel, d, nil); err != nil {
		return nil, err
	}
	s.logger.Info("release rolled back", "release_id", rel.ID, "deploy_id", d.ID, "adapter", rel.Adapter)
	s.record(ctx, rel, logs.LevelInfo, "rolled back on "+rel.Adapter, map[string]any{"releaseId": rel.ID})
	s.notifier.Notify(ctx, notify.Event{Type: notify.ReleaseRollback, SiteID: site.ID, DeployID: d.ID, ReleaseID: rel.ID, Adapter: rel.Adapter, At: s.now().UTC()})
	return s.get(ctx, rel.ID)
}

// ListReleases returns the site's recorded releases, newest first.
func (s Service) ListReleases(ctx context.Context, siteID string, limit int) ([]domain.Release, error) {
	if _, err := s.sites.GetSiteByID(ctx, siteID); err != nil {
		return nil, translate(err, "site", siteID)
	}
	releases, err := s.releases.ListReleasesBySite(ctx, siteID, limit)
	if err != nil {
		return nil, err
	}
	return releases, nil
}

// ListPlatformReleases asks the destination itself which releases it holds.
func (s Service) ListPlatformReleases(ctx context.Context, siteID string, sel Selector) ([]adapter.ReleaseInfo, error) {
	if _, err := s.sites.GetSiteByID(ctx, siteID); err != nil {
		return nil, translate(err, "site", siteID)
	}
	var (
		dest destination
		err  error
	)
	if sel.Empty() {
		dest, err = s.defaultDestination(ctx, siteID)
	} else {
		dest, err = s.resolve(ctx, siteID, sel)
	}
	if err != nil {
		return nil, err
	}
	return dest.adapter.ListReleases(ctx, s.runtime(dest, ""), dest.config)
}

// DeleteRelease removes a release record after a best-effort platform delete.
func (s Service) DeleteRelease(ctx context.Context, releaseID string) error {
	rel, err := s.get(ctx, releaseID)
	if err != nil {
		return err
	}
	if rel.Status == domain.ReleaseActive {
		return fmt.Errorf("%w: release %s is active", domain.ErrPreconditionFailed, releaseID)
	}

	dest, err := s.profileDestination(ctx, rel.SiteID, rel.Adapter)
	switch {
	case err != nil:
		s.logger.Warn("skip platform delete", "release_id", rel.ID, "adapter", rel.Adapter, "error", err)
	default:
		if deleter, ok := dest.adapter.(adapter.Deleter); ok {
			site, siteErr := s.sites.GetSiteByID(ctx, rel.SiteID)
			if siteErr != nil {
				return translate(siteErr, "site", rel.SiteID)
			}
			err := deleter.Delete(ctx, s.runtime(dest, ""), adapter.DeleteInput{
				DeployID:             rel.DeployID,
				Config:               dest.config,
				Site:                 *site,
				PlatformDeploymentID: deref(rel.PlatformDeploymentID),
			})
			if err != nil {
				s.logger.Warn("platform delete failed", "release_id", rel.ID, "adapter", rel.Adapter, "error", err)
			}
		}
	}

	if err := s.releases.DeleteRelease(ctx, rel.ID); err != nil {
		return translate(err, "release", rel.ID)
	}
	s.logger.Info("release deleted", "release_id", rel.ID, "adapter", rel.Adapter)
	s.notifier.Notify(ctx, notify.Event{Type: notify.ReleaseDeleted, SiteID: rel.SiteID, DeployID: rel.DeployID, ReleaseID: rel.ID, Adapter: rel.Adapter, At: s.now().UTC()})
	return nil
}

func (s Service) loadDeploy(ctx context.Context, deployID string) (*domain.Deploy, *domain.Site, error) {
	d, err := s.deploys.GetDeployByID(ctx, deployID)
	if err != nil {
		return nil, nil, translate(err, "deploy", deployID)
	}
	switch d.Status {
	case domain.DeployUploading:
		return nil, nil, fmt.Errorf("%w: deploy %s has not been finalized", domain.ErrPreconditionFailed, deployID)
	case domain.DeployFailed:
		return nil, nil, fmt.Errorf("%w: deploy %s failed", domain.ErrPreconditionFailed, deployID)
	}
	site, err := s.sites.GetSiteByID(ctx, d.SiteID)
	if err != nil {
		return nil, nil, translate(err, "site", d.SiteID)
	}
	return d, site, nil
}

func (s Service) resolve(ctx context.Context, siteID string, sel Selector) (destination, error) {
	if sel.ProfileID != "" {
		p, cfg, err := s.profiles.GetDecryptedConfig(ctx, sel.ProfileID)
		if err != nil {
			return destination{}, err
		}
		if p.SiteID != siteID {
			return destination{}, fmt.Errorf("%w: profile %s in site %s", domain.ErrNotFound, sel.ProfileID, siteID)
		}
		return s.destinationFor(p.Adapter, cfg)
	}
	if sel.Adapter == "" {
		return destination{}, fmt.Errorf("%w: profileId or adapter is required", domain.ErrInvalidConfig)
	}
	cfg := sel.Config
	if cfg == nil {
		cfg = adapter.Config{}
	}
	return s.destinationFor(sel.Adapter, cfg)
}

func (s Service) destinationFor(name string, cfg adapter.Config) (destination, error) {
	a, err := s.adapters.Get(name)
	if err != nil {
		return destination{}, err
	}
	if err := a.ValidateConfig(cfg).Err(name); err != nil {
		return destination{}, err
	}
	return destination{adapter: a, config: cfg}, nil
}

func (s Service) fallbackDestination(ctx context.Context, siteID, deployID string) (destination, error) {
	latest, err := s.releases.FindLatestRelease(ctx, deployID, "", "")
	switch {
	case err == nil:
		return s.profileDestination(ctx, siteID, latest.Adapter)
	case !errors.Is(err, repository.ErrNotFound):
		return destination{}, err
	}
	dest, err := s.defaultDestination(ctx, siteID)
	if errors.Is(err, domain.ErrNotFound) {
		return destination{}, fmt.Errorf("%w: no adapter given, deploy %s has no release and site %s has no default profile", domain.ErrPreconditionFailed, deployID, siteID)
	}
	return dest, err
}

func (s Service) defaultDestination(ctx context.Context, siteID string) (destination, error) {
	p, err := s.profiles.GetDefault(ctx, siteID)
	if err != nil {
		return destination{}, err
	}
	return s.resolve(ctx, siteID, Selector{ProfileID: p.ID})
}

// profileDestination finds a saved config for adapterName, preferring the
// site's default profile.
func (s Service) profileDestination(ctx context.Context, siteID, adapterName string) (destination, error) {
	profiles, err := s.profiles.List(ctx, siteID)
	if err != nil {
		return destination{}, err
	}
	var chosen *domain.ConnectionProfile
	for i := range profiles {
		if profiles[i].Adapter != adapterName {
			continue
		}
		if chosen == nil || profiles[i].IsDefault {
			chosen = &profiles[i]
		}
	}
	if chosen == nil {
		return destination{}, fmt.Errorf("%w: site %s has no %s profile", domain.ErrPreconditionFailed, siteID, adapterName)
	}
	return s.resolve(ctx, siteID, Selector{ProfileID: chosen.ID})
}

func (s Service) healthGate(ctx context.Context, dest destination, deployID string) error {
	if s.health == nil {
		return nil
	}
	gated, ok := dest.adapter.(adapter.HealthGated)
	if !ok {
		return nil
	}
	hc, ok := gated.HealthCheck(dest.config)
	if !ok {
		return nil
	}
	opts := health.Options{Timeout: time.Duration(hc.TimeoutMS) * time.Millisecond, Retries: hc.Retries}
	if hc.CanaryURL != "" {
		return s.health.CheckCanary(ctx, hc.CanaryFor(deployID), deployID, opts)
	}
	return s.health.CheckURL(ctx, hc.URL, opts)
}

func (s Service) promote(ctx context.Context, rel *domain.Release, d *domain.Deploy, comment *string) error {
	now := s.now().UTC()
	duration := now.Sub(d.CreatedAt).Milliseconds()
	err := s.releases.PromoteRelease(ctx, repository.ReleasePromotion{
		ReleaseID:   rel.ID,
		ActivatedAt: now,
		DurationMS:  &duration,
		Comment:     comment,
	})
	if err != nil {
		s.logger.Error("promote release failed", "release_id", rel.ID, "deploy_id", d.ID, "error", err)
		return translate(err, "release", rel.ID)
	}
	return nil
}

func (s Service) cleanup(ctx context.Context, dest destination, rt adapter.Runtime) {
	cleaner, ok := dest.adapter.(adapter.Cleaner)
	if !ok || s.opts.Keep <= 0 {
		return
	}
	if err := cleaner.CleanupOld(ctx, rt, dest.config, s.opts.Keep); err != nil {
		s.logger.Warn("cleanup old releases failed", "adapter", dest.name(), "error", err)
	}
}

// fail marks rel failed, then reports it.
func (s Service) fail(ctx context.Context, rel *domain.Release, op string, cause error) {
	msg := cause.Error()
	rel.Status = domain.ReleaseFailed
	rel.ErrorMessage = &msg
	rel.UpdatedAt = s.now().UTC()
	if err := s.releases.UpdateRelease(ctx, rel); err != nil {
		s.logger.Error("mark release failed", "release_id", rel.ID, "error", err)
	}
	s.failed(ctx, rel, op, cause)
}

func (s Service) failed(ctx context.Context, rel *domain.Release, op string, cause error) {
	s.logger.Warn("release "+op+" failed", "release_id", rel.ID, "deploy_id", rel.DeployID, "adapter", rel.Adapter, "error", cause)
	s.record(ctx, rel, logs.LevelError, fmt.Sprintf("%s on %s failed: %v", op, rel.Adapter, cause), map[string]any{"releaseId": rel.ID})
	s.notifier.Notify(ctx, notify.Event{Type: notify.ReleaseFailed, SiteID: rel.SiteID, DeployID: rel.DeployID, ReleaseID: rel.ID, Adapter: rel.Adapter, Message: cause.Error(), At: s.now().UTC()})
}

func (s Service) runtime(dest destination, scratch string) adapter.Runtime {
	return adapter.Runtime{
		Logger:     s.logger.With("adapter", dest.name()),
		ScratchDir: scratch,
		Env:        adapter.MergeEnv(s.opts.Env, adapterEnv(dest.config)),
	}
}

func adapterEnv(cfg adapter.Config) map[string]string {
	raw, ok := cfg["env"].(map[string]any)
	if !ok {
		return nil
	}
	env := make(map[string]string, len(raw))
	for k, v := range raw {
		env[k] = fmt.Sprint(v)
	}
	return env
}

func (s Service) get(ctx context.Context, releaseID string) (*domain.Release, error) {
	rel, err := s.releases.GetReleaseByID(ctx, releaseID)
	if err != nil {
		return nil, translate(err, "release", releaseID)
	}
	return rel, nil
}

func (s Service) record(ctx context.Context, rel *domain.Release, level, message string, metadata map[string]any) {
	if s.logs == nil {
		return
	}
	s.logs.Record(ctx, rel.SiteID, rel.DeployID, level, message, metadata)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func translate(err error, entity, id string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, entity, id)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s %s", domain.ErrPreconditionFailed, entity, id)
	default:
		return err
	}
}
