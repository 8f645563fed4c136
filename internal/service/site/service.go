// Package site manages the sites deploys are published under.
package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/repository"
)

var (
	errMissingOrgID = errors.New("org id is required")
	errMissingName  = errors.New("site name is required")
)

// Service creates and reads sites.
type Service struct {
	sites  repository.SiteRepository
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New returns a site service.
func New(sites repository.SiteRepository, logger *slog.Logger) Service {
	return Service{sites: sites, logger: logger, now: time.Now, newID: uuid.NewString}
}

// Create registers a site for an organisation.
func (s Service) Create(ctx context.Context, orgID, name string) (*domain.Site, error) {
	orgID = strings.TrimSpace(orgID)
	name = strings.TrimSpace(name)
	if orgID == "" {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, errMissingOrgID)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, errMissingName)
	}
	site := &domain.Site{ID: s.newID(), OrgID: orgID, Name: name, CreatedAt: s.now().UTC()}
	if err := s.sites.CreateSite(ctx, site); err != nil {
		return nil, err
	}
	s.logger.Info("site created", "site_id", site.ID, "org_id", orgID)
	return site, nil
}

// Get fetches a site.
func (s Service) Get(ctx context.Context, siteID string) (*domain.Site, error) {
	site, err := s.sites.GetSiteByID(ctx, siteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: site %s", domain.ErrNotFound, siteID)
		}
		return nil, err
	}
	return site, nil
}
