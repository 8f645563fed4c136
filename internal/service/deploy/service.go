package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/notify"
	"github.com/kagehq/brail/internal/repository"
	"github.com/kagehq/brail/internal/service/logs"
	"github.com/kagehq/brail/internal/storage"
	"github.com/kagehq/brail/pkg/config"
)

// ProfileLookup resolves the default connection profile of a site. It
// returns domain.ErrNotFound when the site has none.
type ProfileLookup interface {
	GetDefault(ctx context.Context, siteID string) (*domain.ConnectionProfile, error)
}

// ReleaseActivator activates a deploy through an adapter profile.
type ReleaseActivator interface {
	ActivateWithProfile(ctx context.Context, deployID, profileID string, comment *string) (*domain.Deploy, error)
}

// LogSink receives operator-facing deploy log lines.
type LogSink interface {
	Record(ctx context.Context, siteID, deployID, level, message string, metadata map[string]any)
}

// CreateResult is returned by Create.
type CreateResult struct {
	Deploy         *domain.Deploy `json:"deploy"`
	UploadEndpoint string         `json:"uploadEndpoint"`
}

// ActivateResult is returned by Activate.
type ActivateResult struct {
	Deploy    *domain.Deploy `json:"deploy"`
	PublicURL string         `json:"publicUrl"`
}

// Service owns the deploy state machine and native activation.
type Service struct {
	sites    repository.SiteRepository
	deploys  repository.DeployRepository
	store    storage.Gateway
	profiles ProfileLookup
	releases ReleaseActivator
	logs     LogSink
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      config.BrailConfig
	now      func() time.Time
	newID    func() string
}

// New returns a deploy service.
func New(sites repository.SiteRepository, deploys repository.DeployRepository, store storage.Gateway, logSink LogSink, notifier notify.Notifier, logger *slog.Logger, cfg config.BrailConfig) Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return Service{
		sites:    sites,
		deploys:  deploys,
		store:    store,
		logs:     logSink,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithProfiles enables the default-profile activation branch.
func (s Service) WithProfiles(profiles ProfileLookup, releases ReleaseActivator) Service {
	s.profiles = profiles
	s.releases = releases
	return s
}

// Create opens a new deploy in the uploading state.
func (s Service) Create(ctx context.Context, siteID string, actor domain.Actor) (*CreateResult, error) {
	if _, err := s.sites.GetSiteByID(ctx, siteID); err != nil {
		return nil, translate(err, "site", siteID)
	}
	now := s.now().UTC()
	d := &domain.Deploy{
		ID:              s.newID(),
		SiteID:          siteID,
		Status:          domain.DeployUploading,
		DeployedBy:      actor.UserID,
		DeployedByEmail: actor.Email,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.deploys.CreateDeploy(ctx, d); err != nil {
		return nil, translate(err, "site", siteID)
	}
	s.logger.Info("deploy created", "deploy_id", d.ID, "site_id", siteID, "actor", actor.UserID)
	s.record(ctx, d, logs.LevelInfo, "deploy created", map[string]any{"deployedBy": actor.Email})
	s.notifier.Notify(ctx, notify.Event{Type: notify.DeployCreated, SiteID: siteID, DeployID: d.ID, At: now})
	return &CreateResult{Deploy: d, UploadEndpoint: "/deploys/" + d.ID + "/files"}, nil
}

// Get returns a deploy.
func (s Service) Get(ctx context.Context, deployID string) (*domain.Deploy, error) {
	d, err := s.deploys.GetDeployByID(ctx, deployID)
	if err != nil {
		return nil, translate(err, "deploy", deployID)
	}
	return d, nil
}

// ListBySite returns recent deploys of a site.
func (s Service) ListBySite(ctx context.Context, siteID string, limit int) ([]domain.Deploy, error) {
	if _, err := s.sites.GetSiteByID(ctx, siteID); err != nil {
		return nil, translate(err, "site", siteID)
	}
	return s.deploys.ListDeploysBySite(ctx, siteID, limit)
}

// PutFile stores one file of an uploading deploy.
func (s Service) PutFile(ctx context.Context, deployID, sitePath string, body io.Reader, size int64, contentType string) (domain.FileIndexEntry, error) {
	cleaned, err := domain.NormalizePath(sitePath)
	if err != nil {
		return domain.FileIndexEntry{}, err
	}
	if storage.IsInternal(cleaned) {
		return domain.FileIndexEntry{}, fmt.Errorf("%w: %s is reserved", domain.ErrInvalidPath, cleaned)
	}
	d, err := s.Get(ctx, deployID)
	if err != nil {
		return domain.FileIndexEntry{}, err
	}
	if d.Status != domain.DeployUploading {
		return domain.FileIndexEntry{}, fmt.Errorf("%w: deploy %s is %s, uploads are closed", domain.ErrPreconditionFailed, deployID, d.Status)
	}
	info, err := s.store.Put(ctx, storage.DeployKey(deployID, cleaned), body, size, storage.PutOptions{ContentType: contentType, Immutable: true})
	if err != nil {
		return domain.FileIndexEntry{}, fmt.Errorf("store %s: %w", cleaned, err)
	}
	return domain.FileIndexEntry{Path: cleaned, Size: info.Size, ETag: info.ETag}, nil
}

// Finalize builds the file index of a full deploy and marks it uploaded.
func (s Service) Finalize(ctx context.Context, deployID string, comment *string) (*domain.Deploy, error) {
	d, err := s.Get(ctx, deployID)
	if err != nil {
		return nil, err
	}
	if d.IsPatch {
		return nil, fmt.Errorf("%w: deploy %s is a patch, finalize it as a patch", domain.ErrPreconditionFailed, deployID)
	}
	if d.Status == domain.DeployActive || d.Status == domain.DeployFailed {
		return nil, fmt.Errorf("%w: deploy %s is %s", domain.ErrPreconditionFailed, deployID, d.Status)
	}

	index, err := storage.ListDeployFiles(ctx, s.store, deployID)
	if err != nil {
		return nil, err
	}
	if err := storage.PutJSON(ctx, s.store, storage.IndexKey(deployID), index); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}
	fileCount, byteSize := storage.Totals(index)

	report := detectFramework(index)
	if !report.HasIndexHTML {
		s.record(ctx, d, logs.LevelWarn, "deploy has no /index.html", nil)
	}

	status := domain.DeployUploaded
	if err := s.deploys.UpdateDeploy(ctx, repository.DeployUpdate{
		DeployID:  deployID,
		Status:    &status,
		FileCount: &fileCount,
		ByteSize:  &byteSize,
		Comment:   comment,
	}); err != nil {
		return nil, translate(err, "deploy", deployID)
	}

	s.logger.Info("deploy finalized", "deploy_id", deployID, "file_count", fileCount, "byte_size", byteSize, "framework", report.Framework)
	s.record(ctx, d, logs.LevelInfo, "deploy finalized", map[string]any{
		"fileCount":    fileCount,
		"byteSize":     byteSize,
		"framework":    report.Framework,
		"contentTypes": report.ContentTypes,
	})
	s.notifier.Notify(ctx, notify.Event{Type: notify.DeployFinalized, SiteID: d.SiteID, DeployID: deployID, At: s.now().UTC()})
	return s.Get(ctx, deployID)
}

// Activate makes a finalized deploy the one the site serves. Sites with a
// default profile activate through that profile's adapter.
func (s Service) Activate(ctx context.Context, deployID string, comment *string) (*ActivateResult, error) {
	d, err := s.Get(ctx, deployID)
	if err != nil {
		return nil, err
	}
	if d.Status == domain.DeployUploading {
		return nil, fmt.Errorf("%w: deploy %s has not been finalized", domain.ErrPreconditionFailed, deployID)
	}
	if d.Status == domain.DeployFailed {
		return nil, fmt.Errorf("%w: deploy %s failed", domain.ErrPreconditionFailed, deployID)
	}

	if s.profiles != nil && s.releases != nil {
		profile, err := s.profiles.GetDefault(ctx, d.SiteID)
		switch {
		case err == nil:
			s.logger.Info("activating through default profile", "deploy_id", deployID, "profile_id", profile.ID, "adapter", profile.Adapter)
			activated, err := s.releases.ActivateWithProfile(ctx, deployID, profile.ID, comment)
			if err != nil {
				return nil, err
			}
			return &ActivateResult{Deploy: activated, PublicURL: s.cfg.SiteURL(d.SiteID)}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	activated, err := s.activateNative(ctx, d, comment)
	if err != nil {
		return nil, err
	}
	return &ActivateResult{Deploy: activated, PublicURL: s.cfg.SiteURL(d.SiteID)}, nil
}

func (s Service) activateNative(ctx context.Context, d *domain.Deploy, comment *string) (*domain.Deploy, error) {
	now := s.now().UTC()
	pointerKey := storage.CurrentKey(d.SiteID)

	var previous domain.CurrentPointer
	hadPrevious := true
	if err := storage.GetJSON(ctx, s.store, pointerKey, &previous); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("read current pointer: %w", err)
		}
		hadPrevious = false
	}

	if err := storage.PutJSON(ctx, s.store, pointerKey, domain.CurrentPointer{DeployID: d.ID, ActivatedAt: now}); err != nil {
		s.failUnlessServing(ctx, d, fmt.Sprintf("write current pointer: %v", err))
		return nil, fmt.Errorf("write current pointer: %w", err)
	}

	err := s.deploys.ActivateDeploy(ctx, repository.Activation{
		SiteID:      d.SiteID,
		DeployID:    d.ID,
		ActivatedAt: now,
		DurationMS:  now.Sub(d.CreatedAt).Milliseconds(),
		Comment:     comment,
	})
	if err != nil {
		s.restorePointer(ctx, pointerKey, previous, hadPrevious)
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: deploy %s cannot be activated", domain.ErrPreconditionFailed, d.ID)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, translate(err, "deploy", d.ID)
		}
		s.failUnlessServing(ctx, d, fmt.Sprintf("activate: %v", err))
		return nil, fmt.Errorf("activate deploy %s: %w", d.ID, err)
	}

	s.logger.Info("deploy activated", "deploy_id", d.ID, "site_id", d.SiteID)
	s.record(ctx, d, logs.LevelInfo, "deploy activated", nil)
	s.notifier.Notify(ctx, notify.Event{Type: notify.DeployActivated, SiteID: d.SiteID, DeployID: d.ID, At: now})
	return s.Get(ctx, d.ID)
}

func (s Service) restorePointer(ctx context.Context, key string, previous domain.CurrentPointer, hadPrevious bool) {
	var err error
	if hadPrevious {
		err = storage.PutJSON(ctx, s.store, key, previous)
	} else {
		err = s.store.Delete(ctx, key)
	}
	if err != nil {
		s.logger.Error("restore current pointer failed", "key", key, "error", err)
	}
}

// Delete removes a deploy that is neither active nor a patch base.
func (s Service) Delete(ctx context.Context, deployID string) error {
	d, err := s.Get(ctx, deployID)
	if err != nil {
		return err
	}
	if d.Status == domain.DeployActive {
		return fmt.Errorf("%w: deploy %s is active, activate another deploy first", domain.ErrPreconditionFailed, deployID)
	}
	dependents, err := s.deploys.CountPatchesByBase(ctx, deployID)
	if err != nil {
		return err
	}
	if dependents > 0 {
		return fmt.Errorf("%w: deploy %s is the base of %d patch(es)", domain.ErrPreconditionFailed, deployID, dependents)
	}
	if err := s.deploys.DeleteDeploy(ctx, deployID); err != nil {
		return translate(err, "deploy", deployID)
	}
	s.logger.Info("deploy deleted", "deploy_id", deployID, "site_id", d.SiteID)
	s.notifier.Notify(ctx, notify.Event{Type: notify.DeployDeleted, SiteID: d.SiteID, DeployID: deployID, At: s.now().UTC()})
	s.collect(ctx, deployID)
	return nil
}

func (s Service) collect(ctx context.Context, deployID string) {
	objects, err := s.store.ListPrefix(ctx, storage.DeployPrefix(deployID))
	if err != nil {
		s.logger.Warn("list deploy objects for cleanup failed", "deploy_id", deployID, "error", err)
		return
	}
	for _, obj := range objects {
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			s.logger.Warn("delete deploy object failed", "key", obj.Key, "error", err)
		}
	}
}

// MarkFailed forces a deploy into the failed state.
func (s Service) MarkFailed(ctx context.Context, deployID, reason string) (*domain.Deploy, error) {
	d, err := s.Get(ctx, deployID)
	if err != nil {
		return nil, err
	}
	if d.Status == domain.DeployActive {
		return nil, fmt.Errorf("%w: deploy %s is serving traffic", domain.ErrPreconditionFailed, deployID)
	}
	if d.Status != domain.DeployFailed {
		s.fail(ctx, d, reason)
	}
	return s.Get(ctx, deployID)
}

// failUnlessServing records an activation error without demoting a deploy
// that is already the site's active one.
func (s Service) failUnlessServing(ctx context.Context, d *domain.Deploy, reason string) {
	if d.Status == domain.DeployActive {
		s.logger.Error("re-activation failed", "deploy_id", d.ID, "reason", reason)
		s.record(ctx, d, logs.LevelError, "activation failed: "+reason, nil)
		return
	}
	s.fail(ctx, d, reason)
}

func (s Service) fail(ctx context.Context, d *domain.Deploy, reason string) {
	status := domain.DeployFailed
	if err := s.deploys.UpdateDeploy(ctx, repository.DeployUpdate{DeployID: d.ID, Status: &status, ErrorMessage: &reason}); err != nil {
		s.logger.Error("mark deploy failed", "deploy_id", d.ID, "error", err)
	}
	s.logger.Warn("deploy failed", "deploy_id", d.ID, "reason", reason)
	s.record(ctx, d, logs.LevelError, "deploy failed: "+reason, nil)
	s.notifier.Notify(ctx, notify.Event{Type: notify.DeployFailed, SiteID: d.SiteID, DeployID: d.ID, Message: reason, At: s.now().UTC()})
}

func (s Service) record(ctx context.Context, d *domain.Deploy, level, message string, metadata map[string]any) {
	if s.logs == nil {
		return
	}
	s.logs.Record(ctx, d.SiteID, d.ID, level, message, metadata)
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
