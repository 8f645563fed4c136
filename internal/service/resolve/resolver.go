package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/storage"
)

// DropConfigPath is where a deploy carries its routing file.
const DropConfigPath = "/" + storage.DropConfigName

const indexDocument = "index.html"

// Redirect is a short-circuit answer to a request.
type Redirect struct {
	Location string
	Status   int
}

// Resolution is where a public request is served from.
type Resolution struct {
	SiteID          string
	DeployID        string
	ServingDeployID string
	ResolvedPath    string
	Redirect        *Redirect
	Headers         map[string]string
}

// Outcome labels counted by the resolver.
const (
	outcomeServed   = "served"
	outcomeRedirect = "redirect"
	outcomeError    = "error"
)

// Recorder counts resolution outcomes.
type Recorder interface {
	RecordResolution(outcome string)
}

// Resolver maps public requests to stored objects.
type Resolver struct {
	store    storage.Gateway
	logger   *slog.Logger
	recorder Recorder
}

// New returns a resolver reading from store. recorder may be nil.
func New(store storage.Gateway, logger *slog.Logger, recorder Recorder) *Resolver {
	return &Resolver{store: store, logger: logger, recorder: recorder}
}

// snapshot is what a request needs to know about the deploy being served.
type snapshot struct {
	deployID    string
	index       map[string]domain.FileIndexEntry
	hasIndex    bool
	manifest    domain.PatchManifest
	hasManifest bool
}

// Resolve maps a request path on a site to a redirect or a stored object.
func (r *Resolver) Resolve(ctx context.Context, siteID, requestPath string) (*Resolution, error) {
	res, err := r.resolve(ctx, siteID, requestPath)
	if err != nil {
		var miss *domain.ResolutionError
		if errors.As(err, &miss) {
			r.logger.Debug("resolution miss", "site_id", siteID, "path", requestPath, "reason", miss.Reason)
			r.count(miss.Reason)
			return nil, err
		}
		r.logger.Error("resolution failed", "site_id", siteID, "path", requestPath, "error", err)
		r.count(outcomeError)
		return nil, err
	}
	if res.Redirect != nil {
		r.count(outcomeRedirect)
	} else {
		r.count(outcomeServed)
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, siteID, requestPath string) (*Resolution, error) {
	var pointer domain.CurrentPointer
	if err := storage.GetJSON(ctx, r.store, storage.CurrentKey(siteID), &pointer); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &domain.ResolutionError{Reason: domain.ReasonNoActiveDeployment}
		}
		return nil, fmt.Errorf("read current pointer: %w", err)
	}
	if pointer.DeployID == "" {
		return nil, &domain.ResolutionError{Reason: domain.ReasonNoActiveDeployment}
	}

	snap, err := r.load(ctx, pointer.DeployID)
	if err != nil {
		return nil, err
	}

	sitePath, dir, ok := cleanRequestPath(requestPath)
	if !ok {
		return nil, &domain.ResolutionError{Reason: domain.ReasonFileNotFound}
	}

	cfg := r.dropConfig(ctx, snap)
	if redirect, ok := cfg.Redirect(sitePath); ok {
		return &Resolution{SiteID: siteID, DeployID: snap.deployID, Redirect: redirect}, nil
	}

	lookup := sitePath
	if dir {
		lookup = path.Join(sitePath, indexDocument)
	}
	if lookup == DropConfigPath || storage.IsInternal(lookup) {
		return nil, &domain.ResolutionError{Reason: domain.ReasonFileNotFound}
	}

	serving, resolved, err := r.locate(ctx, snap, lookup)
	if err != nil {
		return nil, err
	}

	headers := cfg.HeadersFor(sitePath)
	if _, set := headers["Cache-Control"]; !set {
		headers["Cache-Control"] = storage.CacheImmutable
	}
	return &Resolution{
		SiteID:          siteID,
		DeployID:        snap.deployID,
		ServingDeployID: serving,
		ResolvedPath:    resolved,
		Headers:         headers,
	}, nil
}

// Open streams the object a resolution points at.
func (r *Resolver) Open(ctx context.Context, res *Resolution) (io.ReadCloser, storage.ObjectInfo, error) {
	if res == nil || res.Redirect != nil {
		return nil, storage.ObjectInfo{}, fmt.Errorf("resolution has no object")
	}
	body, info, err := r.store.GetStream(ctx, storage.DeployKey(res.ServingDeployID, res.ResolvedPath))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("indexed object missing from storage", "deploy_id", res.ServingDeployID, "path", res.ResolvedPath)
			return nil, storage.ObjectInfo{}, &domain.ResolutionError{Reason: domain.ReasonFileNotFound}
		}
		return nil, storage.ObjectInfo{}, err
	}
	if info.ContentType == "" {
		info.ContentType = storage.ContentTypeFor(res.ResolvedPath)
	}
	return body, info, nil
}

func (r *Resolver) load(ctx context.Context, deployID string) (snapshot, error) {
	snap := snapshot{deployID: deployID}
	entries, found, err := storage.LoadIndex(ctx, r.store, deployID)
	if err != nil {
		return snap, fmt.Errorf("load index: %w", err)
	}
	if found {
		snap.hasIndex = true
		snap.index = make(map[string]domain.FileIndexEntry, len(entries))
		for _, e := range entries {
			snap.index[e.Path] = e
		}
	}
	snap.manifest, snap.hasManifest, err = storage.LoadManifest(ctx, r.store, deployID)
	if err != nil {
		return snap, fmt.Errorf("load manifest: %w", err)
	}
	return snap, nil
}

// locate finds the deploy holding lookup, trying the clean-URL .html
// variant when the exact path is absent.
func (r *Resolver) locate(ctx context.Context, snap snapshot, lookup string) (string, string, error) {
	candidates := []string{lookup}
	if !strings.HasSuffix(lookup, ".html") {
		candidates = append(candidates, lookup+".html")
	}
	for _, candidate := range candidates {
		if r.deleted(snap, candidate) {
			return "", "", &domain.ResolutionError{Reason: domain.ReasonDeletedInPatch}
		}
		serving, ok, err := r.find(ctx, snap, candidate)
		if err != nil {
			return "", "", err
		}
		if ok {
			return serving, candidate, nil
		}
	}
	return "", "", &domain.ResolutionError{Reason: domain.ReasonFileNotFound}
}

func (r *Resolver) deleted(snap snapshot, sitePath string) bool {
	if !snap.hasManifest {
		return false
	}
	if _, listed := snap.index[sitePath]; listed {
		return false
	}
	for _, p := range snap.manifest.Deletes {
		if p == sitePath {
			return true
		}
	}
	return false
}

// find looks sitePath up in the merged index. Deploys without a persisted
// index fall back to the manifest overlay and a storage lookup.
func (r *Resolver) find(ctx context.Context, snap snapshot, sitePath string) (string, bool, error) {
	if snap.hasIndex {
		e, ok := snap.index[sitePath]
		if !ok {
			return "", false, nil
		}
		return e.SourceOr(snap.deployID), true, nil
	}

	serving := snap.deployID
	if snap.hasManifest && !contains(snap.manifest.Overrides, sitePath) && snap.manifest.BaseDeployID != "" {
		serving = snap.manifest.BaseDeployID
	}
	ok, err := storage.Exists(ctx, r.store, storage.DeployKey(serving, sitePath))
	if err != nil {
		return "", false, err
	}
	return serving, ok, nil
}

// dropConfig loads the routing file of the served deploy. A broken file is
// logged and ignored.
func (r *Resolver) dropConfig(ctx context.Context, snap snapshot) DropConfig {
	var sources []string
	if snap.hasIndex {
		e, ok := snap.index[DropConfigPath]
		if !ok {
			return DropConfig{}
		}
		sources = []string{e.SourceOr(snap.deployID)}
	} else {
		sources = []string{snap.deployID}
		if snap.hasManifest && snap.manifest.BaseDeployID != "" {
			sources = append(sources, snap.manifest.BaseDeployID)
		}
	}

	for _, deployID := range sources {
		body, _, err := r.store.GetStream(ctx, storage.DeployKey(deployID, DropConfigPath))
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				r.logger.Warn("read drop config failed", "deploy_id", deployID, "error", err)
			}
			continue
		}
		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			r.logger.Warn("read drop config failed", "deploy_id", deployID, "error", err)
			continue
		}
		cfg, err := ParseDropConfig(data)
		if err != nil {
			r.logger.Warn("invalid drop config ignored", "deploy_id", deployID, "error", err)
			return DropConfig{}
		}
		return cfg
	}
	return DropConfig{}
}

func (r *Resolver) count(outcome string) {
	if r.recorder != nil {
		r.recorder.RecordResolution(outcome)
	}
}

// cleanRequestPath normalizes a request path. dir reports whether the request
// names a directory and needs the index document appended.
func cleanRequestPath(raw string) (sitePath string, dir bool, ok bool) {
	if raw == "" || raw == "/" {
		return "/", true, true
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	if path.Clean(raw) == "/" {
		// /docs/.. serves the root index; /.. still escapes.
		if _, err := domain.NormalizePath(raw + "/" + indexDocument); err != nil {
			return "", false, false
		}
		return "/", true, true
	}
	cleaned, err := domain.NormalizePath(raw)
	if err != nil {
		return "", false, false
	}
	return cleaned, strings.HasSuffix(raw, "/"), true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
