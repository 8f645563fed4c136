package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/repository"
)

func seedSite(t *testing.T, repo *Repository, siteID string, deploys map[string]domain.DeployStatus) {
	t.Helper()
	ctx := context.Background()
	if err := repo.CreateSite(ctx, &domain.Site{ID: siteID, OrgID: "org", Name: siteID}); err != nil {
		t.Fatalf("create site: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	for id, status := range deploys {
		i++
		if err := repo.CreateDeploy(ctx, &domain.Deploy{ID: id, SiteID: siteID, Status: status, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("create deploy: %v", err)
		}
	}
}

func countActive(t *testing.T, repo *Repository, siteID string) int {
	t.Helper()
	deploys, err := repo.ListDeploysBySite(context.Background(), siteID, 100)
	if err != nil {
		t.Fatalf("list deploys: %v", err)
	}
	active := 0
	for _, d := range deploys {
		if d.Status == domain.DeployActive {
			active++
		}
	}
	return active
}

func TestActivateDeployKeepsSingleActive(t *testing.T) {
	repo := New()
	seedSite(t, repo, "site", map[string]domain.DeployStatus{
		"d1": domain.DeployActive,
		"d2": domain.DeployUploaded,
	})

	now := time.Now().UTC()
	if err := repo.ActivateDeploy(context.Background(), repository.Activation{SiteID: "site", DeployID: "d2", ActivatedAt: now, DurationMS: 42}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := countActive(t, repo, "site"); got != 1 {
		t.Fatalf("expected exactly one active deploy, got %d", got)
	}
	site, _ := repo.GetSiteByID(context.Background(), "site")
	if site.ActiveDeployID == nil || *site.ActiveDeployID != "d2" {
		t.Fatalf("expected site pointer d2, got %v", site.ActiveDeployID)
	}
	d1, _ := repo.GetDeployByID(context.Background(), "d1")
	if d1.Status != domain.DeployUploaded {
		t.Fatalf("expected d1 demoted to uploaded, got %s", d1.Status)
	}
	d2, _ := repo.GetDeployByID(context.Background(), "d2")
	if d2.DurationMS == nil || *d2.DurationMS != 42 {
		t.Fatalf("expected duration recorded, got %v", d2.DurationMS)
	}
}

func TestActivateDeployRejectsUploading(t *testing.T) {
	repo := New()
	seedSite(t, repo, "site", map[string]domain.DeployStatus{
		"d1": domain.DeployActive,
		"d2": domain.DeployUploading,
	})

	err := repo.ActivateDeploy(context.Background(), repository.Activation{SiteID: "site", DeployID: "d2", ActivatedAt: time.Now()})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	d1, _ := repo.GetDeployByID(context.Background(), "d1")
	if d1.Status != domain.DeployActive {
		t.Fatalf("expected d1 to stay active, got %s", d1.Status)
	}
}

func TestPromoteReleaseDemotesSiblingsOfSameAdapter(t *testing.T) {
	repo := New()
	ctx := context.Background()
	seedSite(t, repo, "site", map[string]domain.DeployStatus{
		"d1": domain.DeployActive,
		"d2": domain.DeployUploaded,
	})
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	releases := []domain.Release{
		{ID: "r1", SiteID: "site", DeployID: "d1", Adapter: "ssh", Target: domain.TargetProduction, Status: domain.ReleaseActive, CreatedAt: t0},
		{ID: "r2", SiteID: "site", DeployID: "d1", Adapter: "s3", Target: domain.TargetProduction, Status: domain.ReleaseActive, CreatedAt: t0},
		{ID: "r3", SiteID: "site", DeployID: "d2", Adapter: "ssh", Target: domain.TargetProduction, Status: domain.ReleaseStaged, CreatedAt: t0.Add(time.Minute)},
	}
	for i := range releases {
		if err := repo.CreateRelease(ctx, &releases[i]); err != nil {
			t.Fatalf("create release: %v", err)
		}
	}

	if err := repo.PromoteRelease(ctx, repository.ReleasePromotion{ReleaseID: "r3", ActivatedAt: t0.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("promote: %v", err)
	}

	r1, _ := repo.GetReleaseByID(ctx, "r1")
	r2, _ := repo.GetReleaseByID(ctx, "r2")
	r3, _ := repo.GetReleaseByID(ctx, "r3")
	if r1.Status != domain.ReleaseStaged {
		t.Fatalf("expected r1 demoted, got %s", r1.Status)
	}
	if r2.Status != domain.ReleaseActive {
		t.Fatalf("expected r2 on another adapter to stay active, got %s", r2.Status)
	}
	if r3.Status != domain.ReleaseActive {
		t.Fatalf("expected r3 active, got %s", r3.Status)
	}
	if got := countActive(t, repo, "site"); got != 1 {
		t.Fatalf("expected one active deploy, got %d", got)
	}
}

func TestSetDefaultProfileIsExclusive(t *testing.T) {
	repo := New()
	ctx := context.Background()
	seedSite(t, repo, "site", nil)
	for _, p := range []domain.ConnectionProfile{
		{ID: "p1", SiteID: "site", Name: "a", Adapter: "ssh", IsDefault: true},
		{ID: "p2", SiteID: "site", Name: "b", Adapter: "s3"},
	} {
		p := p
		if err := repo.CreateProfile(ctx, &p); err != nil {
			t.Fatalf("create profile: %v", err)
		}
	}
	if err := repo.SetDefaultProfile(ctx, "site", "p2"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	def, err := repo.GetDefaultProfile(ctx, "site")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if def.ID != "p2" {
		t.Fatalf("expected p2 default, got %s", def.ID)
	}
	p1, _ := repo.GetProfileByID(ctx, "p1")
	if p1.IsDefault {
		t.Fatalf("expected p1 to lose default flag")
	}
}

func TestFindLatestReleaseFilters(t *testing.T) {
	repo := New()
	ctx := context.Background()
	seedSite(t, repo, "site", map[string]domain.DeployStatus{"d1": domain.DeployUploaded})
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, rel := range []domain.Release{
		{ID: "old", SiteID: "site", DeployID: "d1", Adapter: "ssh", Target: domain.TargetPreview, Status: domain.ReleaseStaged, CreatedAt: t0},
		{ID: "new", SiteID: "site", DeployID: "d1", Adapter: "s3", Target: domain.TargetProduction, Status: domain.ReleaseStaged, CreatedAt: t0.Add(time.Hour)},
	} {
		rel := rel
		_ = repo.CreateRelease(ctx, &rel)
	}

	latest, err := repo.FindLatestRelease(ctx, "d1", "", "")
	if err != nil || latest.ID != "new" {
		t.Fatalf("expected newest release, got %v %v", latest, err)
	}
	ssh, err := repo.FindLatestRelease(ctx, "d1", "ssh", "")
	if err != nil || ssh.ID != "old" {
		t.Fatalf("expected ssh release, got %v %v", ssh, err)
	}
	if _, err := repo.FindLatestRelease(ctx, "d1", "docker", ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
