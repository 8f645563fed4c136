package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/repository"
)

// AdapterLookup resolves adapter names.
type AdapterLookup interface {
	Get(name string) (adapter.Adapter, error)
}

// Sealer encrypts profile configs at rest.
type Sealer interface {
	SealJSON(v any) ([]byte, error)
	OpenJSON(payload []byte, v any) error
}

// CreateInput describes a new profile.
type CreateInput struct {
	SiteID    string         `json:"siteId"`
	Name      string         `json:"name"`
	Adapter   string         `json:"adapter"`
	Config    adapter.Config `json:"config"`
	IsDefault bool           `json:"isDefault"`
}

// Service stores connection profiles with encrypted configs.
type Service struct {
	sites    repository.SiteRepository
	profiles repository.ProfileRepository
	adapters AdapterLookup
	sealer   Sealer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New returns a profile service.
func New(sites repository.SiteRepository, profiles repository.ProfileRepository, adapters AdapterLookup, sealer Sealer, logger *slog.Logger) Service {
	return Service{
		sites:    sites,
		profiles: profiles,
		adapters: adapters,
		sealer:   sealer,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create validates the config against its adapter, seals and stores it.
func (s Service) Create(ctx context.Context, in CreateInput) (*domain.ConnectionProfile, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: profile name is required", domain.ErrInvalidConfig)
	}
	if _, err := s.sites.GetSiteByID(ctx, in.SiteID); err != nil {
		return nil, translate(err, "site", in.SiteID)
	}
	a, err := s.adapters.Get(in.Adapter)
	if err != nil {
		return nil, err
	}
	if err := a.ValidateConfig(in.Config).Err(a.Name()); err != nil {
		return nil, err
	}
	sealed, err := s.sealer.SealJSON(in.Config)
	if err != nil {
		return nil, fmt.Errorf("seal profile config: %w", err)
	}

	p := &domain.ConnectionProfile{
		ID:              s.newID(),
		SiteID:          in.SiteID,
		Name:            name,
		Adapter:         a.Name(),
		EncryptedConfig: sealed,
		IsDefault:       in.IsDefault,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.profiles.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, repository.ErrInvalidArgument) {
			return nil, fmt.Errorf("%w: profile %q already exists", domain.ErrPreconditionFailed, name)
		}
		return nil, err
	}
	s.logger.Info("profile created", "profile_id", p.ID, "site_id", p.SiteID, "adapter", p.Adapter, "default", p.IsDefault)
	return p, nil
}

// Get returns a profile without its decrypted config.
func (s Service) Get(ctx context.Context, profileID string) (*domain.ConnectionProfile, error) {
	p, err := s.profiles.GetProfileByID(ctx, profileID)
	if err != nil {
		return nil, translate(err, "profile", profileID)
	}
	return p, nil
}

// List returns the profiles of a site.
func (s Service) List(ctx context.Context, siteID string) ([]domain.ConnectionProfile, error) {
	if _, err := s.sites.GetSiteByID(ctx, siteID); err != nil {
		return nil, translate(err, "site", siteID)
	}
	return s.profiles.ListProfilesBySite(ctx, siteID)
}

// SetDefault makes profileID the site's only default profile.
func (s Service) SetDefault(ctx context.Context, profileID string) (*domain.ConnectionProfile, error) {
	p, err := s.Get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.SetDefaultProfile(ctx, p.SiteID, p.ID); err != nil {
		return nil, translate(err, "profile", profileID)
	}
	s.logger.Info("default profile set", "profile_id", p.ID, "site_id", p.SiteID)
	return s.Get(ctx, profileID)
}

// Delete removes a profile.
func (s Service) Delete(ctx context.Context, profileID string) error {
	if err := s.profiles.DeleteProfile(ctx, profileID); err != nil {
		return translate(err, "profile", profileID)
	}
	s.logger.Info("profile deleted", "profile_id", profileID)
	return nil
}

// GetDefault returns the site's default profile or domain.ErrNotFound.
func (s Service) GetDefault(ctx context.Context, siteID string) (*domain.ConnectionProfile, error) {
	p, err := s.profiles.GetDefaultProfile(ctx, siteID)
	if err != nil {
		return nil, translate(err, "default profile of site", siteID)
	}
	return p, nil
}

// GetDecryptedConfig returns a profile together with its plaintext config.
func (s Service) GetDecryptedConfig(ctx context.Context, profileID string) (*domain.ConnectionProfile, adapter.Config, error) {
	p, err := s.Get(ctx, profileID)
	if err != nil {
		return nil, nil, err
	}
	var cfg adapter.Config
	if err := s.sealer.OpenJSON(p.EncryptedConfig, &cfg); err != nil {
		return nil, nil, fmt.Errorf("open profile %s config: %w", profileID, err)
	}
	return p, cfg, nil
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
