package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the brail API for command line tools.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	return c.send(ctx, method, path, reader, -1, contentType, v)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, size int64, contentType string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Site is a publishable site.
type Site struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"orgId"`
	Name           string    `json:"name"`
	ActiveDeployID *string   `json:"activeDeployId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Deploy mirrors deploy payloads.
type Deploy struct {
	ID           string     `json:"id"`
	SiteID       string     `json:"siteId"`
	Status       string     `json:"status"`
	FileCount    uint       `json:"fileCount"`
	ByteSize     uint64     `json:"byteSize"`
	IsPatch      bool       `json:"isPatch"`
	BaseDeployID *string    `json:"baseDeployId,omitempty"`
	Comment      *string    `json:"comment,omitempty"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ActivatedAt  *time.Time `json:"activatedAt,omitempty"`
}

// Release mirrors release payloads.
type Release struct {
	ID                   string    `json:"id"`
	SiteID               string    `json:"siteId"`
	DeployID             string    `json:"deployId"`
	Adapter              string    `json:"adapter"`
	Target               string    `json:"target"`
	Status               string    `json:"status"`
	DestinationRef       *string   `json:"destinationRef,omitempty"`
	PlatformDeploymentID *string   `json:"platformDeploymentId,omitempty"`
	PreviewURL           *string   `json:"previewUrl,omitempty"`
	ErrorMessage         *string   `json:"errorMessage,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

// FileEntry is one file of a site's live tree.
type FileEntry struct {
	Path string `json:"path"`
	Size uint64 `json:"size"`
	ETag string `json:"etag"`
}

// Profile is a saved adapter configuration.
type Profile struct {
	ID        string `json:"id"`
	SiteID    string `json:"siteId"`
	Name      string `json:"name"`
	Adapter   string `json:"adapter"`
	IsDefault bool   `json:"isDefault"`
}

// CreateSite provisions a site.
func (c *Client) CreateSite(ctx context.Context, name string) (Site, error) {
	var site Site
	if err := c.do(ctx, http.MethodPost, "/sites", map[string]string{"name": name}, &site); err != nil {
		return Site{}, err
	}
	return site, nil
}

// CreateDeploy opens an uploading deploy on a site.
func (c *Client) CreateDeploy(ctx context.Context, siteID string) (Deploy, error) {
	var resp struct {
		Deploy Deploy `json:"deploy"`
	}
	path := fmt.Sprintf("/sites/%s/deploys", url.PathEscape(siteID))
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return Deploy{}, err
	}
	return resp.Deploy, nil
}

// ListDeploys fetches recent deploys of a site.
func (c *Client) ListDeploys(ctx context.Context, siteID string, limit int) ([]Deploy, error) {
	path := fmt.Sprintf("/sites/%s/deploys%s", url.PathEscape(siteID), limitQuery(limit))
	var deploys []Deploy
	if err := c.do(ctx, http.MethodGet, path, nil, &deploys); err != nil {
		return nil, err
	}
	return deploys, nil
}

// UploadFile stores one file of an uploading deploy.
func (c *Client) UploadFile(ctx context.Context, deployID, sitePath string, body io.Reader, size int64, contentType string) error {
	path := fmt.Sprintf("/deploys/%s/files/%s", url.PathEscape(deployID), escapeSitePath(sitePath))
	return c.send(ctx, http.MethodPut, path, body, size, contentType, nil)
}

// FinalizeDeploy closes uploads and builds the deploy's file index.
func (c *Client) FinalizeDeploy(ctx context.Context, deployID, comment string) (Deploy, error) {
	var d Deploy
	path := fmt.Sprintf("/deploys/%s/finalize", url.PathEscape(deployID))
	if err := c.do(ctx, http.MethodPost, path, commentBody(comment), &d); err != nil {
		return Deploy{}, err
	}
	return d, nil
}

// ActivateResult is returned by ActivateDeploy.
type ActivateResult struct {
	Deploy    Deploy `json:"deploy"`
	PublicURL string `json:"publicUrl"`
}

// ActivateDeploy makes a finalized deploy live.
func (c *Client) ActivateDeploy(ctx context.Context, deployID, comment string) (ActivateResult, error) {
	var res ActivateResult
	path := fmt.Sprintf("/deploys/%s/activate", url.PathEscape(deployID))
	if err := c.do(ctx, http.MethodPost, path, commentBody(comment), &res); err != nil {
		return ActivateResult{}, err
	}
	return res, nil
}

// DeleteDeploy removes an inactive deploy.
func (c *Client) DeleteDeploy(ctx context.Context, deployID string) error {
	return c.do(ctx, http.MethodDelete, "/deploys/"+url.PathEscape(deployID), nil, nil)
}

// Destination selects where a release goes. Empty fields fall back to the
// site's default profile.
type Destination struct {
	ProfileID string         `json:"profileId,omitempty"`
	Adapter   string         `json:"adapter,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	Target    string         `json:"target,omitempty"`
	Comment   *string        `json:"comment,omitempty"`
}

// StageRelease uploads a deploy to a destination without activating it.
func (c *Client) StageRelease(ctx context.Context, deployID string, dest Destination) (Release, error) {
	var rel Release
	path := fmt.Sprintf("/deploys/%s/stage", url.PathEscape(deployID))
	if err := c.do(ctx, http.MethodPost, path, dest, &rel); err != nil {
		return Release{}, err
	}
	return rel, nil
}

// Release activates a deploy on a destination, staging it first if needed.
func (c *Client) Release(ctx context.Context, deployID string, dest Destination) (Release, error) {
	var rel Release
	path := fmt.Sprintf("/deploys/%s/release", url.PathEscape(deployID))
	if err := c.do(ctx, http.MethodPost, path, dest, &rel); err != nil {
		return Release{}, err
	}
	return rel, nil
}

// Rollback re-activates an earlier deploy's release.
func (c *Client) Rollback(ctx context.Context, siteID, toDeployID string, dest Destination) (Release, error) {
	body := struct {
		Destination
		ToDeployID string `json:"toDeployId"`
	}{Destination: dest, ToDeployID: toDeployID}
	var rel Release
	path := fmt.Sprintf("/sites/%s/rollback", url.PathEscape(siteID))
	if err := c.do(ctx, http.MethodPost, path, body, &rel); err != nil {
		return Release{}, err
	}
	return rel, nil
}

// ListReleases returns the recorded releases of a site.
func (c *Client) ListReleases(ctx context.Context, siteID string, limit int) ([]Release, error) {
	path := fmt.Sprintf("/sites/%s/releases%s", url.PathEscape(siteID), limitQuery(limit))
	var releases []Release
	if err := c.do(ctx, http.MethodGet, path, nil, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// PatchResult is returned by ReplaceFile and DeletePaths.
type PatchResult struct {
	DeployID     string `json:"deployId"`
	BaseDeployID string `json:"baseDeployId"`
}

// ReplaceFile opens a patch replacing one file of the live deploy.
func (c *Client) ReplaceFile(ctx context.Context, siteID, sitePath string, body io.Reader, size int64, contentType string) (PatchResult, error) {
	var res PatchResult
	path := fmt.Sprintf("/sites/%s/patch/file?path=%s", url.PathEscape(siteID), url.QueryEscape(sitePath))
	if err := c.send(ctx, http.MethodPut, path, body, size, contentType, &res); err != nil {
		return PatchResult{}, err
	}
	return res, nil
}

// DeletePaths opens a patch removing paths from the live deploy.
func (c *Client) DeletePaths(ctx context.Context, siteID string, paths []string) (PatchResult, error) {
	var res PatchResult
	path := fmt.Sprintf("/sites/%s/patch/delete", url.PathEscape(siteID))
	if err := c.do(ctx, http.MethodPost, path, map[string][]string{"paths": paths}, &res); err != nil {
		return PatchResult{}, err
	}
	return res, nil
}

// FinalizePatch merges a patch with its base.
func (c *Client) FinalizePatch(ctx context.Context, patchID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/patches/%s/finalize", url.PathEscape(patchID)), nil, nil)
}

// ActivatePatch makes a finalized patch live.
func (c *Client) ActivatePatch(ctx context.Context, patchID, comment string) (ActivateResult, error) {
	var res ActivateResult
	path := fmt.Sprintf("/patches/%s/activate", url.PathEscape(patchID))
	if err := c.do(ctx, http.MethodPost, path, commentBody(comment), &res); err != nil {
		return ActivateResult{}, err
	}
	return res, nil
}

// FileTree lists the files the site serves.
func (c *Client) FileTree(ctx context.Context, siteID string) ([]FileEntry, error) {
	var files []FileEntry
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sites/%s/files", url.PathEscape(siteID)), nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// ListProfiles returns the connection profiles of a site.
func (c *Client) ListProfiles(ctx context.Context, siteID string) ([]Profile, error) {
	var profiles []Profile
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sites/%s/profiles", url.PathEscape(siteID)), nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// CreateProfileInput captures the payload for profile creation.
type CreateProfileInput struct {
	Name      string         `json:"name"`
	Adapter   string         `json:"adapter"`
	Config    map[string]any `json:"config"`
	IsDefault bool           `json:"isDefault"`
}

// CreateProfile stores an adapter configuration for a site.
func (c *Client) CreateProfile(ctx context.Context, siteID string, input CreateProfileInput) (Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sites/%s/profiles", url.PathEscape(siteID)), input, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LogEntry is one line of a deploy's operator log.
type LogEntry struct {
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"createdAt"`
}

// FetchLogs returns the operator log of a deploy.
func (c *Client) FetchLogs(ctx context.Context, deployID string, limit int) ([]LogEntry, error) {
	path := fmt.Sprintf("/deploys/%s/logs%s", url.PathEscape(deployID), limitQuery(limit))
	var entries []LogEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("?limit=%d", limit)
}

func commentBody(comment string) any {
	if strings.TrimSpace(comment) == "" {
		return nil
	}
	return map[string]string{"comment": comment}
}

func escapeSitePath(sitePath string) string {
	parts := strings.Split(strings.TrimPrefix(sitePath, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
