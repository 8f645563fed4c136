package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.SiteRepository    = (*Repository)(nil)
	_ repository.DeployRepository  = (*Repository)(nil)
	_ repository.PatchRepository   = (*Repository)(nil)
	_ repository.ReleaseRepository = (*Repository)(nil)
	_ repository.ProfileRepository = (*Repository)(nil)
	_ repository.LogRepository     = (*Repository)(nil)
)

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateSite inserts a site.
func (r *Repository) CreateSite(ctx context.Context, site *domain.Site) error {
	const query = `INSERT INTO sites (id, org_id, name, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, site.ID, site.OrgID, site.Name, site.CreatedAt)
	return mapError(err)
}

// GetSiteByID fetches a site.
func (r *Repository) GetSiteByID(ctx context.Context, siteID string) (*domain.Site, error) {
	const query = `SELECT id, org_id, name, active_deploy_id, created_at FROM sites WHERE id = $1`
	var (
		site   domain.Site
		active sql.NullString
	)
	if err := r.pool.QueryRow(ctx, query, siteID).Scan(&site.ID, &site.OrgID, &site.Name, &active, &site.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	site.ActiveDeployID = nullString(active)
	return &site, nil
}

const deployColumns = `id, site_id, status, file_count, byte_size, is_patch, base_deploy_id,
	deployed_by, deployed_by_email, comment, duration_ms, error_message, created_at, updated_at, activated_at`

func scanDeploy(row rowScanner) (*domain.Deploy, error) {
	var (
		d           domain.Deploy
		fileCount   int64
		byteSize    int64
		base        sql.NullString
		comment     sql.NullString
		duration    sql.NullInt64
		errMessage  sql.NullString
		activatedAt sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.SiteID, &d.Status, &fileCount, &byteSize, &d.IsPatch, &base,
		&d.DeployedBy, &d.DeployedByEmail, &comment, &duration, &errMessage, &d.CreatedAt, &d.UpdatedAt, &activatedAt); err != nil {
		return nil, err
	}
	d.FileCount = uint(fileCount)
	d.ByteSize = uint64(byteSize)
	d.BaseDeployID = nullString(base)
	d.Comment = nullString(comment)
	d.ErrorMessage = nullString(errMessage)
	if duration.Valid {
		v := duration.Int64
		d.DurationMS = &v
	}
	if activatedAt.Valid {
		v := activatedAt.Time
		d.ActivatedAt = &v
	}
	return &d, nil
}

// CreateDeploy inserts a deploy.
func (r *Repository) CreateDeploy(ctx context.Context, deploy *domain.Deploy) error {
	const query = `INSERT INTO deploys (id, site_id, status, file_count, byte_size, is_patch, base_deploy_id,
		deployed_by, deployed_by_email, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		deploy.ID,
		deploy.SiteID,
		deploy.Status,
		int64(deploy.FileCount),
		int64(deploy.ByteSize),
		deploy.IsPatch,
		stringPtrToNil(deploy.BaseDeployID),
		deploy.DeployedBy,
		deploy.DeployedByEmail,
		stringPtrToNil(deploy.Comment),
		deploy.CreatedAt,
		deploy.UpdatedAt,
	)
	return mapError(err)
}

// GetDeployByID fetches a deploy.
func (r *Repository) GetDeployByID(ctx context.Context, deployID string) (*domain.Deploy, error) {
	query := `SELECT ` + deployColumns + ` FROM deploys WHERE id = $1`
	d, err := scanDeploy(r.pool.QueryRow(ctx, query, deployID))
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

// ListDeploysBySite returns the newest deploys of a site first.
func (r *Repository) ListDeploysBySite(ctx context.Context, siteID string, limit int) ([]domain.Deploy, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + deployColumns + ` FROM deploys WHERE site_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deploys := make([]domain.Deploy, 0)
	for rows.Next() {
		d, err := scanDeploy(rows)
		if err != nil {
			return nil, err
		}
		deploys = append(deploys, *d)
	}
	return deploys, rows.Err()
}

// UpdateDeploy applies the non-nil fields of update.
func (r *Repository) UpdateDeploy(ctx context.Context, update repository.DeployUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{update.DeployID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.FileCount != nil {
		add("file_count", int64(*update.FileCount))
	}
	if update.ByteSize != nil {
		add("byte_size", int64(*update.ByteSize))
	}
	if update.Comment != nil {
		add("comment", *update.Comment)
	}
	if update.ErrorMessage != nil {
		add("error_message", *update.ErrorMessage)
	}
	query := `UPDATE deploys SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteDeploy removes a deploy record. Releases and logs cascade.
func (r *Repository) DeleteDeploy(ctx context.Context, deployID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM deploys WHERE id = $1`, deployID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountPatchesByBase counts patch deploys referencing baseDeployID.
func (r *Repository) CountPatchesByBase(ctx context.Context, baseDeployID string) (int, error) {
	const query = `SELECT COUNT(1) FROM deploys WHERE is_patch AND base_deploy_id = $1`
	var count int
	if err := r.pool.QueryRow(ctx, query, baseDeployID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ActivateDeploy flips the site's active deploy inside one transaction.
func (r *Repository) ActivateDeploy(ctx context.Context, activation repository.Activation) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var duration any
	if activation.DurationMS > 0 {
		duration = activation.DurationMS
	}
	if err := activateInTx(ctx, tx, activation.SiteID, activation.DeployID, activation.ActivatedAt, duration, activation.Comment); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func activateInTx(ctx context.Context, tx pgx.Tx, siteID, deployID string, activatedAt time.Time, duration any, comment *string) error {
	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM sites WHERE id = $1 FOR UPDATE`, siteID).Scan(&locked); err != nil {
		return mapError(err)
	}

	const demote = `UPDATE deploys SET status = 'uploaded', updated_at = $3
		WHERE site_id = $1 AND status = 'active' AND id <> $2`
	if _, err := tx.Exec(ctx, demote, siteID, deployID, activatedAt); err != nil {
		return mapError(err)
	}

	const promote = `UPDATE deploys SET status = 'active', error_message = NULL, activated_at = $3, updated_at = $3,
		duration_ms = COALESCE($4, duration_ms), comment = COALESCE($5, comment)
		WHERE id = $1 AND site_id = $2 AND status <> 'uploading'`
	tag, err := tx.Exec(ctx, promote, deployID, siteID, activatedAt, duration, stringPtrToNil(comment))
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deploys WHERE id = $1)`, deployID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrConflict
	}

	if _, err := tx.Exec(ctx, `UPDATE sites SET active_deploy_id = $2 WHERE id = $1`, siteID, deployID); err != nil {
		return mapError(err)
	}
	return nil
}

// CreatePatch appends a patch audit record.
func (r *Repository) CreatePatch(ctx context.Context, patch *domain.Patch) error {
	summary, err := json.Marshal(patch.Summary)
	if err != nil {
		return err
	}
	const query = `INSERT INTO patches (id, site_id, base_deploy_id, new_deploy_id, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.pool.Exec(ctx, query, patch.ID, patch.SiteID, patch.BaseDeployID, patch.NewDeployID, summary, patch.CreatedAt)
	return mapError(err)
}

// GetPatchByDeployID returns the audit record written for a patch deploy.
func (r *Repository) GetPatchByDeployID(ctx context.Context, newDeployID string) (*domain.Patch, error) {
	const query = `SELECT id, site_id, base_deploy_id, new_deploy_id, summary, created_at
		FROM patches WHERE new_deploy_id = $1 ORDER BY created_at LIMIT 1`
	p, err := scanPatch(r.pool.QueryRow(ctx, query, newDeployID))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func scanPatch(row rowScanner) (*domain.Patch, error) {
	var (
		p       domain.Patch
		summary []byte
	)
	if err := row.Scan(&p.ID, &p.SiteID, &p.BaseDeployID, &p.NewDeployID, &summary, &p.CreatedAt); err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &p.Summary); err != nil {
			return nil, fmt.Errorf("decode patch summary: %w", err)
		}
	}
	return &p, nil
}

// ListPatchesBySite returns patch records of a site, newest first.
func (r *Repository) ListPatchesBySite(ctx context.Context, siteID string, limit int) ([]domain.Patch, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, site_id, base_deploy_id, new_deploy_id, summary, created_at
		FROM patches WHERE site_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	patches := make([]domain.Patch, 0)
	for rows.Next() {
		p, err := scanPatch(rows)
		if err != nil {
			return nil, err
		}
		patches = append(patches, *p)
	}
	return patches, rows.Err()
}

const releaseColumns = `id, site_id, deploy_id, adapter, target, destination_ref, platform_deployment_id,
	preview_url, status, error_message, created_at, updated_at`

func scanRelease(row rowScanner) (*domain.Release, error) {
	var (
		rel         domain.Release
		destination sql.NullString
		platformID  sql.NullString
		previewURL  sql.NullString
		errMessage  sql.NullString
	)
	if err := row.Scan(&rel.ID, &rel.SiteID, &rel.DeployID, &rel.Adapter, &rel.Target, &destination, &platformID,
		&previewURL, &rel.Status, &errMessage, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
		return nil, err
	}
	rel.DestinationRef = nullString(destination)
	rel.PlatformDeploymentID = nullString(platformID)
	rel.PreviewURL = nullString(previewURL)
	rel.ErrorMessage = nullString(errMessage)
	return &rel, nil
}

// CreateRelease inserts a release.
func (r *Repository) CreateRelease(ctx context.Context, release *domain.Release) error {
	const query = `INSERT INTO releases (id, site_id, deploy_id, adapter, target, destination_ref, platform_deployment_id,
		preview_url, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		release.ID,
		release.SiteID,
		release.DeployID,
		release.Adapter,
		release.Target,
		stringPtrToNil(release.DestinationRef),
		stringPtrToNil(release.PlatformDeploymentID),
		stringPtrToNil(release.PreviewURL),
		release.Status,
		stringPtrToNil(release.ErrorMessage),
		release.CreatedAt,
		release.UpdatedAt,
	)
	return mapError(err)
}

// GetReleaseByID fetches a release.
func (r *Repository) GetReleaseByID(ctx context.Context, releaseID string) (*domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE id = $1`
	rel, err := scanRelease(r.pool.QueryRow(ctx, query, releaseID))
	if err != nil {
		return nil, mapError(err)
	}
	return rel, nil
}

// UpdateRelease overwrites the mutable release fields.
func (r *Repository) UpdateRelease(ctx context.Context, release *domain.Release) error {
	const query = `UPDATE releases SET destination_ref = $2, platform_deployment_id = $3, preview_url = $4,
		status = $5, error_message = $6, updated_at = $7 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		release.ID,
		stringPtrToNil(release.DestinationRef),
		stringPtrToNil(release.PlatformDeploymentID),
		stringPtrToNil(release.PreviewURL),
		release.Status,
		stringPtrToNil(release.ErrorMessage),
		release.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteRelease removes a release.
func (r *Repository) DeleteRelease(ctx context.Context, releaseID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM releases WHERE id = $1`, releaseID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListReleasesBySite returns the site's releases, newest first.
func (r *Repository) ListReleasesBySite(ctx context.Context, siteID string, limit int) ([]domain.Release, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE site_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	releases := make([]domain.Release, 0)
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		releases = append(releases, *rel)
	}
	return releases, rows.Err()
}

// FindLatestRelease returns the newest matching release of a deploy.
func (r *Repository) FindLatestRelease(ctx context.Context, deployID, adapter string, target domain.ReleaseTarget) (*domain.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases
		WHERE deploy_id = $1
		  AND ($2::text IS NULL OR adapter = $2)
		  AND ($3::text IS NULL OR target = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	rel, err := scanRelease(r.pool.QueryRow(ctx, query, deployID, emptyToNil(adapter), emptyToNil(string(target))))
	if err != nil {
		return nil, mapError(err)
	}
	return rel, nil
}

// PromoteRelease activates a release and its deploy inside one transaction.
func (r *Repository) PromoteRelease(ctx context.Context, promotion repository.ReleasePromotion) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var siteID, deployID, adapterName string
	const lookup = `SELECT site_id, deploy_id, adapter FROM releases WHERE id = $1`
	if err := tx.QueryRow(ctx, lookup, promotion.ReleaseID).Scan(&siteID, &deployID, &adapterName); err != nil {
		return mapError(err)
	}

	if err := activateInTx(ctx, tx, siteID, deployID, promotion.ActivatedAt, int64PtrToNil(promotion.DurationMS), promotion.Comment); err != nil {
		return err
	}

	const demote = `UPDATE releases SET status = 'staged', updated_at = $4
		WHERE site_id = $1 AND adapter = $2 AND status = 'active' AND id <> $3`
	if _, err := tx.Exec(ctx, demote, siteID, adapterName, promotion.ReleaseID, promotion.ActivatedAt); err != nil {
		return mapError(err)
	}

	const promote = `UPDATE releases SET status = 'active', error_message = NULL, updated_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, promote, promotion.ReleaseID, promotion.ActivatedAt); err != nil {
		return mapError(err)
	}

	return tx.Commit(ctx)
}

const profileColumns = `id, site_id, name, adapter, encrypted_config, is_default, created_at`

func scanProfile(row rowScanner) (*domain.ConnectionProfile, error) {
	var p domain.ConnectionProfile
	if err := row.Scan(&p.ID, &p.SiteID, &p.Name, &p.Adapter, &p.EncryptedConfig, &p.IsDefault, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProfile inserts a profile, clearing the previous default when needed.
func (r *Repository) CreateProfile(ctx context.Context, profile *domain.ConnectionProfile) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if profile.IsDefault {
		if _, err := tx.Exec(ctx, `UPDATE connection_profiles SET is_default = FALSE WHERE site_id = $1 AND is_default`, profile.SiteID); err != nil {
			return mapError(err)
		}
	}
	const query = `INSERT INTO connection_profiles (id, site_id, name, adapter, encrypted_config, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, query, profile.ID, profile.SiteID, profile.Name, profile.Adapter, profile.EncryptedConfig, profile.IsDefault, profile.CreatedAt); err != nil {
		return mapError(err)
	}
	return tx.Commit(ctx)
}

// GetProfileByID fetches a profile.
func (r *Repository) GetProfileByID(ctx context.Context, profileID string) (*domain.ConnectionProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM connection_profiles WHERE id = $1`
	p, err := scanProfile(r.pool.QueryRow(ctx, query, profileID))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// ListProfilesBySite returns a site's profiles ordered by name.
func (r *Repository) ListProfilesBySite(ctx context.Context, siteID string) ([]domain.ConnectionProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM connection_profiles WHERE site_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]domain.ConnectionProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// GetDefaultProfile returns the site's default profile.
func (r *Repository) GetDefaultProfile(ctx context.Context, siteID string) (*domain.ConnectionProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM connection_profiles WHERE site_id = $1 AND is_default LIMIT 1`
	p, err := scanProfile(r.pool.QueryRow(ctx, query, siteID))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// SetDefaultProfile makes profileID the only default of the site.
func (r *Repository) SetDefaultProfile(ctx context.Context, siteID, profileID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE connection_profiles SET is_default = FALSE WHERE site_id = $1 AND is_default`, siteID); err != nil {
		return mapError(err)
	}
	tag, err := tx.Exec(ctx, `UPDATE connection_profiles SET is_default = TRUE WHERE id = $1 AND site_id = $2`, profileID, siteID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

// DeleteProfile removes a profile.
func (r *Repository) DeleteProfile(ctx context.Context, profileID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM connection_profiles WHERE id = $1`, profileID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendDeployLog stores a log line.
func (r *Repository) AppendDeployLog(ctx context.Context, entry *domain.DeployLog) error {
	const query = `INSERT INTO deploy_logs (deploy_id, site_id, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if err := r.pool.QueryRow(ctx, query,
		entry.DeployID,
		entry.SiteID,
		entry.Level,
		entry.Message,
		bytesToNil(entry.Metadata),
		entry.CreatedAt,
	).Scan(&entry.ID); err != nil {
		return mapError(err)
	}
	return nil
}

// ListDeployLogs returns log lines of a deploy in insertion order.
func (r *Repository) ListDeployLogs(ctx context.Context, deployID string, limit, offset int) ([]domain.DeployLog, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, deploy_id, site_id, level, message, metadata, created_at
		FROM deploy_logs WHERE deploy_id = $1 ORDER BY id LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, deployID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.DeployLog, 0)
	for rows.Next() {
		var entry domain.DeployLog
		if err := rows.Scan(&entry.ID, &entry.DeployID, &entry.SiteID, &entry.Level, &entry.Message, &entry.Metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02", "23505":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func stringPtrToNil(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64PtrToNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func bytesToNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
