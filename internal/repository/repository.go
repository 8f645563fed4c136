package repository

import (
	"context"
	"time"

	"github.com/kagehq/brail/internal/domain"
)

// SiteRepository persists sites.
type SiteRepository interface {
	CreateSite(ctx context.Context, site *domain.Site) error
	GetSiteByID(ctx context.Context, siteID string) (*domain.Site, error)
}

// DeployUpdate captures mutable deploy fields; nil fields are left untouched.
type DeployUpdate struct {
	DeployID     string
	Status       *domain.DeployStatus
	FileCount    *uint
	ByteSize     *uint64
	Comment      *string
	ErrorMessage *string
}

// Activation describes an atomic "make this the site's active deploy" flip.
type Activation struct {
	SiteID      string
	DeployID    string
	ActivatedAt time.Time
	DurationMS  int64
	Comment     *string
}

// DeployRepository stores deploy history and performs pointer flips.
type DeployRepository interface {
	CreateDeploy(ctx context.Context, deploy *domain.Deploy) error
	GetDeployByID(ctx context.Context, deployID string) (*domain.Deploy, error)
	ListDeploysBySite(ctx context.Context, siteID string, limit int) ([]domain.Deploy, error)
	UpdateDeploy(ctx context.Context, update DeployUpdate) error
	DeleteDeploy(ctx context.Context, deployID string) error
	CountPatchesByBase(ctx context.Context, baseDeployID string) (int, error)
	// ActivateDeploy demotes every other active deploy of the site, promotes
	// the target and moves the site pointer in one transaction. It returns
	// ErrConflict when the target is still uploading or belongs to another site.
	ActivateDeploy(ctx context.Context, activation Activation) error
}

// PatchRepository stores immutable patch audit records.
type PatchRepository interface {
	CreatePatch(ctx context.Context, patch *domain.Patch) error
	GetPatchByDeployID(ctx context.Context, newDeployID string) (*domain.Patch, error)
	ListPatchesBySite(ctx context.Context, siteID string, limit int) ([]domain.Patch, error)
}

// ReleasePromotion describes an atomic release + deploy promotion.
type ReleasePromotion struct {
	ReleaseID   string
	ActivatedAt time.Time
	DurationMS  *int64
	Comment     *string
}

// ReleaseRepository stores adapter release attempts.
type ReleaseRepository interface {
	CreateRelease(ctx context.Context, release *domain.Release) error
	GetReleaseByID(ctx context.Context, releaseID string) (*domain.Release, error)
	UpdateRelease(ctx context.Context, release *domain.Release) error
	DeleteRelease(ctx context.Context, releaseID string) error
	ListReleasesBySite(ctx context.Context, siteID string, limit int) ([]domain.Release, error)
	// FindLatestRelease returns the newest release of deployID, optionally
	// narrowed to an adapter and target (empty values match anything).
	FindLatestRelease(ctx context.Context, deployID, adapter string, target domain.ReleaseTarget) (*domain.Release, error)
	// PromoteRelease marks the release active, demotes the other active
	// releases of the same (site, adapter), promotes its deploy and moves the
	// site pointer in one transaction.
	PromoteRelease(ctx context.Context, promotion ReleasePromotion) error
}

// ProfileRepository stores connection profiles.
type ProfileRepository interface {
	CreateProfile(ctx context.Context, profile *domain.ConnectionProfile) error
	GetProfileByID(ctx context.Context, profileID string) (*domain.ConnectionProfile, error)
	ListProfilesBySite(ctx context.Context, siteID string) ([]domain.ConnectionProfile, error)
	GetDefaultProfile(ctx context.Context, siteID string) (*domain.ConnectionProfile, error)
	// SetDefaultProfile clears the previous default of the site and marks profileID.
	SetDefaultProfile(ctx context.Context, siteID, profileID string) error
	DeleteProfile(ctx context.Context, profileID string) error
}

// LogRepository handles deploy log persistence and retrieval.
type LogRepository interface {
	AppendDeployLog(ctx context.Context, entry *domain.DeployLog) error
	ListDeployLogs(ctx context.Context, deployID string, limit, offset int) ([]domain.DeployLog, error)
}
