package domain

import "time"

// Site groups deploys served under one address.
type Site struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"orgId"`
	Name           string    `json:"name"`
	ActiveDeployID *string   `json:"activeDeployId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConnectionProfile is a saved adapter configuration attached to a site.
type ConnectionProfile struct {
	ID              string    `json:"id"`
	SiteID          string    `json:"siteId"`
	Name            string    `json:"name"`
	Adapter         string    `json:"adapter"`
	EncryptedConfig []byte    `json:"-"`
	IsDefault       bool      `json:"isDefault"`
	CreatedAt       time.Time `json:"createdAt"`
}
