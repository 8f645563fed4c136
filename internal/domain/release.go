package domain

import "time"

// ReleaseTarget selects the preview or production slot of a destination.
type ReleaseTarget string

// Release targets.
const (
	TargetPreview    ReleaseTarget = "preview"
	TargetProduction ReleaseTarget = "production"
)

// Valid reports whether t is a known target.
func (t ReleaseTarget) Valid() bool {
	return t == TargetPreview || t == TargetProduction
}

// ReleaseStatus is the per-(site, adapter) release state.
type ReleaseStatus string

// Release states.
const (
	ReleaseStaged ReleaseStatus = "staged"
	ReleaseActive ReleaseStatus = "active"
	ReleaseFailed ReleaseStatus = "failed"
)

// Release is one attempt to place a deploy on an adapter target.
type Release struct {
	ID                   string        `json:"id"`
	SiteID               string        `json:"siteId"`
	DeployID             string        `json:"deployId"`
	Adapter              string        `json:"adapter"`
	Target               ReleaseTarget `json:"target"`
	DestinationRef       *string       `json:"destinationRef,omitempty"`
	PlatformDeploymentID *string       `json:"platformDeploymentId,omitempty"`
	PreviewURL           *string       `json:"previewUrl,omitempty"`
	Status               ReleaseStatus `json:"status"`
	ErrorMessage         *string       `json:"errorMessage,omitempty"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}
