// Package memory implements the repository interfaces in process. It backs
// single-node development setups and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/repository"
)

// Repository keeps every table in maps guarded by one mutex, which makes the
// activation and promotion flips trivially atomic.
type Repository struct {
	mu       sync.Mutex
	sites    map[string]domain.Site
	deploys  map[string]domain.Deploy
	patches  []domain.Patch
	releases map[string]domain.Release
	profiles map[string]domain.ConnectionProfile
	logs     []domain.DeployLog
	logSeq   int64
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{
		sites:    make(map[string]domain.Site),
		deploys:  make(map[string]domain.Deploy),
		releases: make(map[string]domain.Release),
		profiles: make(map[string]domain.ConnectionProfile),
	}
}

var (
	_ repository.SiteRepository    = (*Repository)(nil)
	_ repository.DeployRepository  = (*Repository)(nil)
	_ repository.PatchRepository   = (*Repository)(nil)
	_ repository.ReleaseRepository = (*Repository)(nil)
	_ repository.ProfileRepository = (*Repository)(nil)
	_ repository.LogRepository     = (*Repository)(nil)
)

// CreateSite inserts a site.
func (r *Repository) CreateSite(_ context.Context, site *domain.Site) error {
	if site == nil || strings.TrimSpace(site.ID) == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sites[site.ID]; exists {
		return repository.ErrInvalidArgument
	}
	r.sites[site.ID] = cloneSite(*site)
	return nil
}

// GetSiteByID fetches a site.
func (r *Repository) GetSiteByID(_ context.Context, siteID string) (*domain.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	site, ok := r.sites[siteID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneSite(site)
	return &out, nil
}

// CreateDeploy inserts a deploy.
func (r *Repository) CreateDeploy(_ context.Context, deploy *domain.Deploy) error {
	if deploy == nil || strings.TrimSpace(deploy.ID) == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sites[deploy.SiteID]; !ok {
		return repository.ErrNotFound
	}
	if _, exists := r.deploys[deploy.ID]; exists {
		return repository.ErrInvalidArgument
	}
	r.deploys[deploy.ID] = cloneDeploy(*deploy)
	return nil
}

// GetDeployByID fetches a deploy.
func (r *Repository) GetDeployByID(_ context.Context, deployID string) (*domain.Deploy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deploy, ok := r.deploys[deployID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneDeploy(deploy)
	return &out, nil
}

// ListDeploysBySite returns the newest deploys of a site first.
func (r *Repository) ListDeploysBySite(_ context.Context, siteID string, limit int) ([]domain.Deploy, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	deploys := make([]domain.Deploy, 0)
	for _, d := range r.deploys {
		if d.SiteID == siteID {
			deploys = append(deploys, cloneDeploy(d))
		}
	}
	sort.Slice(deploys, func(i, j int) bool {
		return deploys[i].CreatedAt.After(deploys[j].CreatedAt)
	})
	if len(deploys) > limit {
		deploys = deploys[:limit]
	}
	return deploys, nil
}

// UpdateDeploy applies the non-nil fields of update.
func (r *Repository) UpdateDeploy(_ context.Context, update repository.DeployUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deploys[update.DeployID]
	if !ok {
		return repository.ErrNotFound
	}
	if update.Status != nil {
		d.Status = *update.Status
	}
	if update.FileCount != nil {
		d.FileCount = *update.FileCount
	}
	if update.ByteSize != nil {
		d.ByteSize = *update.ByteSize
	}
	if update.Comment != nil {
		d.Comment = strPtr(*update.Comment)
	}
	if update.ErrorMessage != nil {
		d.ErrorMessage = strPtr(*update.ErrorMessage)
	}
	r.deploys[d.ID] = d
	return nil
}

// DeleteDeploy removes a deploy record.
func (r *Repository) DeleteDeploy(_ context.Context, deployID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deploys[deployID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.deploys, deployID)
	return nil
}

// CountPatchesByBase counts patch deploys referencing baseDeployID.
func (r *Repository) CountPatchesByBase(_ context.Context, baseDeployID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, d := range r.deploys {
		if d.IsPatch && d.BaseDeployID != nil && *d.BaseDeployID == baseDeployID {
			count++
		}
	}
	return count, nil
}

// ActivateDeploy flips the site's active deploy under the repository lock.
func (r *Repository) ActivateDeploy(_ context.Context, activation repository.Activation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activateLocked(activation.SiteID, activation.DeployID, activation)
}

func (r *Repository) activateLocked(siteID, deployID string, activation repository.Activation) error {
	site, ok := r.sites[siteID]
	if !ok {
		return repository.ErrNotFound
	}
	target, ok := r.deploys[deployID]
	if !ok {
		return repository.ErrNotFound
	}
	if target.SiteID != siteID || target.Status == domain.DeployUploading {
		return repository.ErrConflict
	}
	for id, d := range r.deploys {
		if d.SiteID == siteID && d.Status == domain.DeployActive && id != deployID {
			d.Status = domain.DeployUploaded
			d.UpdatedAt = activation.ActivatedAt
			r.deploys[id] = d
		}
	}
	target.Status = domain.DeployActive
	target.ErrorMessage = nil
	activatedAt := activation.ActivatedAt
	target.ActivatedAt = &activatedAt
	target.UpdatedAt = activatedAt
	if activation.DurationMS > 0 {
		duration := activation.DurationMS
		target.DurationMS = &duration
	}
	if activation.Comment != nil {
		target.Comment = strPtr(*activation.Comment)
	}
	r.deploys[deployID] = target
	site.ActiveDeployID = strPtr(deployID)
	r.sites[siteID] = site
	return nil
}

// CreatePatch appends a patch audit record.
func (r *Repository) CreatePatch(_ context.Context, patch *domain.Patch) error {
	if patch == nil {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, *patch)
	return nil
}

// GetPatchByDeployID returns the audit record written for a patch deploy.
func (r *Repository) GetPatchByDeployID(_ context.Context, newDeployID string) (*domain.Patch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.patches {
		if r.patches[i].NewDeployID == newDeployID {
			out := r.patches[i]
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListPatchesBySite returns patch records of a site, newest first.
func (r *Repository) ListPatchesBySite(_ context.Context, siteID string, limit int) ([]domain.Patch, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	patches := make([]domain.Patch, 0)
	for i := len(r.patches) - 1; i >= 0 && len(patches) < limit; i-- {
		if r.patches[i].SiteID == siteID {
			patches = append(patches, r.patches[i])
		}
	}
	return patches, nil
}

// CreateRelease inserts a release.
func (r *Repository) CreateRelease(_ context.Context, release *domain.Release) error {
	if release == nil || strings.TrimSpace(release.ID) == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases[release.ID] = cloneRelease(*release)
	return nil
}

// GetReleaseByID fetches a release.
func (r *Repository) GetReleaseByID(_ context.Context, releaseID string) (*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.releases[releaseID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneRelease(rel)
	return &out, nil
}

// UpdateRelease overwrites the mutable release fields.
func (r *Repository) UpdateRelease(_ context.Context, release *domain.Release) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.releases[release.ID]; !ok {
		return repository.ErrNotFound
	}
	r.releases[release.ID] = cloneRelease(*release)
	return nil
}

// DeleteRelease removes a release.
func (r *Repository) DeleteRelease(_ context.Context, releaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.releases[releaseID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.releases, releaseID)
	return nil
}

// ListReleasesBySite returns the site's releases, newest first.
func (r *Repository) ListReleasesBySite(_ context.Context, siteID string, limit int) ([]domain.Release, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	releases := make([]domain.Release, 0)
	for _, rel := range r.releases {
		if rel.SiteID == siteID {
			releases = append(releases, cloneRelease(rel))
		}
	}
	sortReleases(releases)
	if len(releases) > limit {
		releases = releases[:limit]
	}
	return releases, nil
}

// FindLatestRelease returns the newest matching release of a deploy.
func (r *Repository) FindLatestRelease(_ context.Context, deployID, adapter string, target domain.ReleaseTarget) (*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := make([]domain.Release, 0)
	for _, rel := range r.releases {
		if rel.DeployID != deployID {
			continue
		}
		if adapter != "" && rel.Adapter != adapter {
			continue
		}
		if target != "" && rel.Target != target {
			continue
		}
		matches = append(matches, rel)
	}
	if len(matches) == 0 {
		return nil, repository.ErrNotFound
	}
	sortReleases(matches)
	out := cloneRelease(matches[0])
	return &out, nil
}

// PromoteRelease activates a release and its deploy under the repository lock.
func (r *Repository) PromoteRelease(_ context.Context, promotion repository.ReleasePromotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.releases[promotion.ReleaseID]
	if !ok {
		return repository.ErrNotFound
	}
	activation := repository.Activation{
		SiteID:      rel.SiteID,
		DeployID:    rel.DeployID,
		ActivatedAt: promotion.ActivatedAt,
		Comment:     promotion.Comment,
	}
	if promotion.DurationMS != nil {
		activation.DurationMS = *promotion.DurationMS
	}
	if err := r.activateLocked(rel.SiteID, rel.DeployID, activation); err != nil {
		return err
	}
	for id, other := range r.releases {
		if id != rel.ID && other.SiteID == rel.SiteID && other.Adapter == rel.Adapter && other.Status == domain.ReleaseActive {
			other.Status = domain.ReleaseStaged
			other.UpdatedAt = promotion.ActivatedAt
			r.releases[id] = other
		}
	}
	rel.Status = domain.ReleaseActive
	rel.ErrorMessage = nil
	rel.UpdatedAt = promotion.ActivatedAt
	r.releases[rel.ID] = rel
	return nil
}

// CreateProfile inserts a profile, clearing the previous default when needed.
func (r *Repository) CreateProfile(_ context.Context, profile *domain.ConnectionProfile) error {
	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.SiteID == profile.SiteID && p.Name == profile.Name {
			return repository.ErrInvalidArgument
		}
	}
	if profile.IsDefault {
		r.clearDefaultLocked(profile.SiteID)
	}
	r.profiles[profile.ID] = cloneProfile(*profile)
	return nil
}

// GetProfileByID fetches a profile.
func (r *Repository) GetProfileByID(_ context.Context, profileID string) (*domain.ConnectionProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[profileID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneProfile(p)
	return &out, nil
}

// ListProfilesBySite returns a site's profiles ordered by name.
func (r *Repository) ListProfilesBySite(_ context.Context, siteID string) ([]domain.ConnectionProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profiles := make([]domain.ConnectionProfile, 0)
	for _, p := range r.profiles {
		if p.SiteID == siteID {
			profiles = append(profiles, cloneProfile(p))
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// GetDefaultProfile returns the site's default profile.
func (r *Repository) GetDefaultProfile(_ context.Context, siteID string) (*domain.ConnectionProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.SiteID == siteID && p.IsDefault {
			out := cloneProfile(p)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// SetDefaultProfile makes profileID the only default of the site.
func (r *Repository) SetDefaultProfile(_ context.Context, siteID, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[profileID]
	if !ok || p.SiteID != siteID {
		return repository.ErrNotFound
	}
	r.clearDefaultLocked(siteID)
	p.IsDefault = true
	r.profiles[profileID] = p
	return nil
}

// DeleteProfile removes a profile.
func (r *Repository) DeleteProfile(_ context.Context, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profileID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.profiles, profileID)
	return nil
}

func (r *Repository) clearDefaultLocked(siteID string) {
	for id, p := range r.profiles {
		if p.SiteID == siteID && p.IsDefault {
			p.IsDefault = false
			r.profiles[id] = p
		}
	}
}

// AppendDeployLog stores a log line and assigns its sequence id.
func (r *Repository) AppendDeployLog(_ context.Context, entry *domain.DeployLog) error {
	if entry == nil {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logSeq++
	entry.ID = r.logSeq
	r.logs = append(r.logs, *entry)
	return nil
}

// ListDeployLogs returns log lines of a deploy in insertion order.
func (r *Repository) ListDeployLogs(_ context.Context, deployID string, limit, offset int) ([]domain.DeployLog, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DeployLog, 0)
	skipped := 0
	for _, entry := range r.logs {
		if entry.DeployID != deployID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func sortReleases(releases []domain.Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		if releases[i].CreatedAt.Equal(releases[j].CreatedAt) {
			return releases[i].ID > releases[j].ID
		}
		return releases[i].CreatedAt.After(releases[j].CreatedAt)
	})
}

func cloneSite(s domain.Site) domain.Site {
	if s.ActiveDeployID != nil {
		s.ActiveDeployID = strPtr(*s.ActiveDeployID)
	}
	return s
}

func cloneDeploy(d domain.Deploy) domain.Deploy {
	if d.BaseDeployID != nil {
		d.BaseDeployID = strPtr(*d.BaseDeployID)
	}
	if d.Comment != nil {
		d.Comment = strPtr(*d.Comment)
	}
	if d.ErrorMessage != nil {
		d.ErrorMessage = strPtr(*d.ErrorMessage)
	}
	if d.DurationMS != nil {
		v := *d.DurationMS
		d.DurationMS = &v
	}
	if d.ActivatedAt != nil {
		v := *d.ActivatedAt
		d.ActivatedAt = &v
	}
	return d
}

func cloneRelease(r domain.Release) domain.Release {
	if r.DestinationRef != nil {
		r.DestinationRef = strPtr(*r.DestinationRef)
	}
	if r.PlatformDeploymentID != nil {
		r.PlatformDeploymentID = strPtr(*r.PlatformDeploymentID)
	}
	if r.PreviewURL != nil {
		r.PreviewURL = strPtr(*r.PreviewURL)
	}
	if r.ErrorMessage != nil {
		r.ErrorMessage = strPtr(*r.ErrorMessage)
	}
	return r
}

func cloneProfile(p domain.ConnectionProfile) domain.ConnectionProfile {
	if p.EncryptedConfig != nil {
		p.EncryptedConfig = append([]byte(nil), p.EncryptedConfig...)
	}
	return p
}

func strPtr(v string) *string {
	return &v
}
