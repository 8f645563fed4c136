package domain

import "time"

// DeployStatus is the lifecycle state of a Deploy.
type DeployStatus string

// Deploy lifecycle states.
const (
	DeployUploading DeployStatus = "uploading"
	DeployUploaded  DeployStatus = "uploaded"
	DeployActive    DeployStatus = "active"
	DeployFailed    DeployStatus = "failed"
)

// Deploy is one version of a site's artifact set.
type Deploy struct {
	ID              string       `json:"id"`
	SiteID          string       `json:"siteId"`
	Status          DeployStatus `json:"status"`
	FileCount       uint         `json:"fileCount"`
	ByteSize        uint64       `json:"byteSize"`
	IsPatch         bool         `json:"isPatch"`
	BaseDeployID    *string      `json:"baseDeployId,omitempty"`
	DeployedBy      string       `json:"deployedBy"`
	DeployedByEmail string       `json:"deployedByEmail"`
	Comment         *string      `json:"comment,omitempty"`
	DurationMS      *int64       `json:"duration,omitempty"`
	ErrorMessage    *string      `json:"errorMessage,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	ActivatedAt     *time.Time   `json:"activatedAt,omitempty"`
}

// Actor identifies who triggered an operation.
type Actor struct {
	UserID string
	Email  string
}

// FileIndexEntry describes one file of a deploy. Source names the deploy whose
// storage prefix holds the bytes; empty means the indexed deploy itself.
type FileIndexEntry struct {
	Path   string `json:"path"`
	Size   uint64 `json:"size"`
	ETag   string `json:"etag"`
	Source string `json:"source,omitempty"`
}

// SourceOr returns the entry source, or fallback when unset.
func (e FileIndexEntry) SourceOr(fallback string) string {
	if e.Source == "" {
		return fallback
	}
	return e.Source
}

// PatchManifest records how a patch deploy relates to its base.
type PatchManifest struct {
	BaseDeployID string   `json:"baseDeployId"`
	Overrides    []string `json:"overrides"`
	Deletes      []string `json:"deletes"`
}

// PatchSummary counts the effect of a patch against its base.
type PatchSummary struct {
	Added    []string `json:"added"`
	Replaced []string `json:"replaced"`
	Deleted  []string `json:"deleted"`
}

// Patch is the immutable audit record written when a patch is finalized.
type Patch struct {
	ID           string       `json:"id"`
	SiteID       string       `json:"siteId"`
	BaseDeployID string       `json:"baseDeployId"`
	NewDeployID  string       `json:"newDeployId"`
	Summary      PatchSummary `json:"summary"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// CurrentPointer is the object recording which deploy a site serves.
type CurrentPointer struct {
	DeployID    string    `json:"deployId"`
	ActivatedAt time.Time `json:"activatedAt"`
}
