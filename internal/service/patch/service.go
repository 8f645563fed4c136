package patch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/notify"
	"github.com/kagehq/brail/internal/repository"
	"github.com/kagehq/brail/internal/service/deploy"
	"github.com/kagehq/brail/internal/service/logs"
	"github.com/kagehq/brail/internal/storage"
)

// Activator activates a finalized deploy.
type Activator interface {
	Activate(ctx context.Context, deployID string, comment *string) (*deploy.ActivateResult, error)
}

// ReplaceResult is returned by ReplaceFile.
type ReplaceResult struct {
	DeployID     string `json:"deployId"`
	BaseDeployID string `json:"baseDeployId"`
	Path         string `json:"path"`
}

// DeleteResult is returned by DeletePaths.
type DeleteResult struct {
	DeployID     string   `json:"deployId"`
	BaseDeployID string   `json:"baseDeployId"`
	Deletes      []string `json:"deletes"`
}

// FinalizeResult is returned by Finalize.
type FinalizeResult struct {
	Deploy    *domain.Deploy       `json:"deploy"`
	Manifest  domain.PatchManifest `json:"manifest"`
	FileCount uint                 `json:"fileCount"`
	ByteSize  uint64               `json:"byteSize"`
}

// Service builds overlay deploys on top of a base deploy.
type Service struct {
	sites     repository.SiteRepository
	deploys   repository.DeployRepository
	patches   repository.PatchRepository
	store     storage.Gateway
	activator Activator
	logs      deploy.LogSink
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// New returns a patch service.
func New(sites repository.SiteRepository, deploys repository.DeployRepository, patches repository.PatchRepository, store storage.Gateway, activator Activator, logSink deploy.LogSink, notifier notify.Notifier, logger *slog.Logger) Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return Service{
		sites:     sites,
		deploys:   deploys,
		patches:   patches,
		store:     store,
		activator: activator,
		logs:      logSink,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreatePatch opens an uploading patch deploy on top of baseDeployID.
func (s Service) CreatePatch(ctx context.Context, siteID, baseDeployID string, actor domain.Actor) (*domain.Deploy, error) {
	if _, err := s.sites.GetSiteByID(ctx, siteID); err != nil {
		return nil, translate(err, "site", siteID)
	}
	base, err := s.deploys.GetDeployByID(ctx, baseDeployID)
	if err != nil {
		return nil, translate(err, "base deploy", baseDeployID)
	}
	if base.SiteID != siteID {
		return nil, fmt.Errorf("%w: base deploy %s belongs to another site", domain.ErrPreconditionFailed, baseDeployID)
	}

	now := s.now().UTC()
	baseID := base.ID
	d := &domain.Deploy{
		ID:              s.newID(),
		SiteID:          siteID,
		Status:          domain.DeployUploading,
		IsPatch:         true,
		BaseDeployID:    &baseID,
		DeployedBy:      actor.UserID,
		DeployedByEmail: actor.Email,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.deploys.CreateDeploy(ctx, d); err != nil {
		return nil, translate(err, "site", siteID)
	}
	s.logger.Info("patch created", "deploy_id", d.ID, "base_deploy_id", baseID, "site_id", siteID)
	s.record(ctx, d, logs.LevelInfo, "patch created", map[string]any{"baseDeployId": baseID})
	return d, nil
}

// ReplaceFile stores one file in a new patch against the site's active deploy.
func (s Service) ReplaceFile(ctx context.Context, siteID, destPath string, body io.Reader, size int64, contentType string, actor domain.Actor) (*ReplaceResult, error) {
	cleaned, err := domain.NormalizePath(destPath)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(destPath, "/") {
		return nil, fmt.Errorf("%w: %q names a directory", domain.ErrInvalidPath, destPath)
	}
	if storage.IsInternal(cleaned) {
		return nil, fmt.Errorf("%w: %s is reserved", domain.ErrInvalidPath, cleaned)
	}
	baseID, err := s.activeDeploy(ctx, siteID)
	if err != nil {
		return nil, err
	}

	d, err := s.CreatePatch(ctx, siteID, baseID, actor)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Put(ctx, storage.DeployKey(d.ID, cleaned), body, size, storage.PutOptions{ContentType: contentType, Immutable: true}); err != nil {
		err = fmt.Errorf("store %s: %w", cleaned, err)
		s.abandon(ctx, d, err)
		return nil, err
	}
	return &ReplaceResult{DeployID: d.ID, BaseDeployID: baseID, Path: cleaned}, nil
}

// DeletePaths opens a patch whose manifest only removes paths.
func (s Service) DeletePaths(ctx context.Context, siteID string, paths []string, actor domain.Actor) (*DeleteResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths given", domain.ErrInvalidPath)
	}
	deletes := make([]string, 0, len(paths))
	for _, p := range paths {
		cleaned, err := domain.NormalizePath(p)
		if err != nil {
			return nil, err
		}
		deletes = append(deletes, cleaned)
	}
	deletes = uniqueSorted(deletes)

	baseID, err := s.activeDeploy(ctx, siteID)
	if err != nil {
		return nil, err
	}
	d, err := s.CreatePatch(ctx, siteID, baseID, actor)
	if err != nil {
		return nil, err
	}
	manifest := domain.PatchManifest{BaseDeployID: baseID, Overrides: []string{}, Deletes: deletes}
	if err := storage.PutJSON(ctx, s.store, storage.ManifestKey(d.ID), manifest); err != nil {
		err = fmt.Errorf("persist manifest: %w", err)
		s.abandon(ctx, d, err)
		return nil, err
	}
	return &DeleteResult{DeployID: d.ID, BaseDeployID: baseID, Deletes: deletes}, nil
}

// Finalize merges the patch with its base index and marks it uploaded.
// Merge order is fixed: seed from base, upsert overrides, remove deletes.
func (s Service) Finalize(ctx context.Context, patchID string) (*FinalizeResult, error) {
	d, err := s.deploys.GetDeployByID(ctx, patchID)
	if err != nil {
		return nil, translate(err, "deploy", patchID)
	}
	if !d.IsPatch || d.BaseDeployID == nil {
		return nil, fmt.Errorf("%w: deploy %s is not a patch", domain.ErrPreconditionFailed, patchID)
	}
	if d.Status == domain.DeployActive || d.Status == domain.DeployFailed {
		return nil, fmt.Errorf("%w: deploy %s is %s", domain.ErrPreconditionFailed, patchID, d.Status)
	}
	baseID := *d.BaseDeployID

	stored, err := storage.ListDeployFiles(ctx, s.store, patchID)
	if err != nil {
		return nil, err
	}
	existing, _, err := storage.LoadManifest(ctx, s.store, patchID)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	overrides := make([]string, 0, len(stored)+len(existing.Overrides))
	for _, e := range stored {
		overrides = append(overrides, e.Path)
	}
	overrides = uniqueSorted(append(overrides, existing.Overrides...))
	manifest := domain.PatchManifest{
		BaseDeployID: baseID,
		Overrides:    overrides,
		Deletes:      uniqueSorted(existing.Deletes),
	}
	if err := storage.PutJSON(ctx, s.store, storage.ManifestKey(patchID), manifest); err != nil {
		return nil, fmt.Errorf("persist manifest: %w", err)
	}

	baseIndex, found, err := storage.LoadIndex(ctx, s.store, baseID)
	if err != nil {
		return nil, fmt.Errorf("load base index: %w", err)
	}
	if !found {
		s.logger.Warn("base deploy has no index, merging against an empty one", "deploy_id", patchID, "base_deploy_id", baseID)
		s.record(ctx, d, logs.LevelWarn, "base deploy has no index", map[string]any{"baseDeployId": baseID})
	}

	merged := make(map[string]domain.FileIndexEntry, len(baseIndex)+len(overrides))
	for _, e := range baseIndex {
		e.Source = e.SourceOr(baseID)
		merged[e.Path] = e
	}
	deleted := make(map[string]struct{}, len(manifest.Deletes))
	for _, p := range manifest.Deletes {
		deleted[p] = struct{}{}
	}

	var summary domain.PatchSummary
	for _, p := range overrides {
		if _, gone := deleted[p]; gone {
			continue
		}
		info, err := s.store.Head(ctx, storage.DeployKey(patchID, p))
		if err != nil {
			s.logger.Warn("override lookup failed, skipping", "deploy_id", patchID, "path", p, "error", err)
			continue
		}
		if _, inBase := merged[p]; inBase {
			summary.Replaced = append(summary.Replaced, p)
		} else {
			summary.Added = append(summary.Added, p)
		}
		merged[p] = domain.FileIndexEntry{Path: p, Size: info.Size, ETag: info.ETag, Source: patchID}
	}
	for p := range deleted {
		delete(merged, p)
	}
	summary.Deleted = append([]string(nil), manifest.Deletes...)

	index := make([]domain.FileIndexEntry, 0, len(merged))
	for _, e := range merged {
		index = append(index, e)
	}
	storage.SortIndex(index)
	if err := storage.PutJSON(ctx, s.store, storage.IndexKey(patchID), index); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}
	fileCount, byteSize := storage.Totals(index)

	status := domain.DeployUploaded
	if err := s.deploys.UpdateDeploy(ctx, repository.DeployUpdate{
		DeployID:  patchID,
		Status:    &status,
		FileCount: &fileCount,
		ByteSize:  &byteSize,
	}); err != nil {
		return nil, translate(err, "deploy", patchID)
	}
	if err := s.writeAudit(ctx, d, baseID, summary); err != nil {
		return nil, err
	}

	s.logger.Info("patch finalized", "deploy_id", patchID, "base_deploy_id", baseID,
		"added", len(summary.Added), "replaced", len(summary.Replaced), "deleted", len(summary.Deleted))
	s.record(ctx, d, logs.LevelInfo, "patch finalized", map[string]any{
		"fileCount": fileCount,
		"byteSize":  byteSize,
		"added":     len(summary.Added),
		"replaced":  len(summary.Replaced),
		"deleted":   len(summary.Deleted),
	})
	s.notifier.Notify(ctx, notify.Event{Type: notify.PatchFinalized, SiteID: d.SiteID, DeployID: patchID, At: s.now().UTC()})

	updated, err := s.deploys.GetDeployByID(ctx, patchID)
	if err != nil {
		return nil, translate(err, "deploy", patchID)
	}
	return &FinalizeResult{Deploy: updated, Manifest: manifest, FileCount: fileCount, ByteSize: byteSize}, nil
}

// writeAudit stores the patch record once. Re-finalizing keeps the first one.
func (s Service) writeAudit(ctx context.Context, d *domain.Deploy, baseID string, summary domain.PatchSummary) error {
	if _, err := s.patches.GetPatchByDeployID(ctx, d.ID); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	record := &domain.Patch{
		ID:           s.newID(),
		SiteID:       d.SiteID,
		BaseDeployID: baseID,
		NewDeployID:  d.ID,
		Summary:      summary,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.patches.CreatePatch(ctx, record); err != nil {
		return fmt.Errorf("record patch: %w", err)
	}
	return nil
}

// Activate activates a finalized patch like any other deploy.
func (s Service) Activate(ctx context.Context, patchID string, comment *string) (*deploy.ActivateResult, error) {
	d, err := s.deploys.GetDeployByID(ctx, patchID)
	if err != nil {
		return nil, translate(err, "deploy", patchID)
	}
	if !d.IsPatch {
		return nil, fmt.Errorf("%w: deploy %s is not a patch", domain.ErrPreconditionFailed, patchID)
	}
	return s.activator.Activate(ctx, patchID, comment)
}

// GetFileTree returns the merged index of the site's active deploy.
func (s Service) GetFileTree(ctx context.Context, siteID string) ([]domain.FileIndexEntry, error) {
	site, err := s.sites.GetSiteByID(ctx, siteID)
	if err != nil {
		return nil, translate(err, "site", siteID)
	}
	if site.ActiveDeployID == nil {
		return []domain.FileIndexEntry{}, nil
	}
	index, found, err := storage.LoadIndex(ctx, s.store, *site.ActiveDeployID)
	if err != nil {
		return nil, err
	}
	if !found {
		return []domain.FileIndexEntry{}, nil
	}
	return index, nil
}

// List returns the patch audit records of a site.
func (s Service) List(ctx context.Context, siteID string, limit int) ([]domain.Patch, error) {
	if _, err := s.sites.GetSiteByID(ctx, siteID); err != nil {
		return nil, translate(err, "site", siteID)
	}
	return s.patches.ListPatchesBySite(ctx, siteID, limit)
}

func (s Service) activeDeploy(ctx context.Context, siteID string) (string, error) {
	site, err := s.sites.GetSiteByID(ctx, siteID)
	if err != nil {
		return "", translate(err, "site", siteID)
	}
	if site.ActiveDeployID == nil {
		return "", fmt.Errorf("%w: site %s has no active deploy to patch", domain.ErrPreconditionFailed, siteID)
	}
	return *site.ActiveDeployID, nil
}

// abandon marks a patch failed when it could not be filled.
func (s Service) abandon(ctx context.Context, d *domain.Deploy, cause error) {
	status := domain.DeployFailed
	reason := cause.Error()
	if err := s.deploys.UpdateDeploy(ctx, repository.DeployUpdate{DeployID: d.ID, Status: &status, ErrorMessage: &reason}); err != nil {
		s.logger.Error("mark patch failed", "deploy_id", d.ID, "error", err)
	}
	s.logger.Warn("patch abandoned", "deploy_id", d.ID, "reason", reason)
	s.record(ctx, d, logs.LevelError, "patch failed: "+reason, nil)
}

func (s Service) record(ctx context.Context, d *domain.Deploy, level, message string, metadata map[string]any) {
	if s.logs == nil {
		return
	}
	s.logs.Record(ctx, d.SiteID, d.ID, level, message, metadata)
}

func uniqueSorted(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
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
