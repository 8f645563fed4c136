package domain

import "time"

// DeployLog is one operator-facing line of a deploy's log stream.
type DeployLog struct {
	ID        int64     `json:"id"`
	DeployID  string    `json:"deployId"`
	SiteID    string    `json:"siteId"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
