package patch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kagehq/brail/internal/domain"
	"github.com/kagehq/brail/internal/repository/memory"
	"github.com/kagehq/brail/internal/service/deploy"
	"github.com/kagehq/brail/internal/storage"
	memstore "github.com/kagehq/brail/internal/storage/memory"
	"github.com/kagehq/brail/pkg/config"
)

type testEnv struct {
	svc     Service
	deploys deploy.Service
	repo    *memory.Repository
	store   *memstore.Store
}

var actor = domain.Actor{UserID: "u1", Email: "u1@example.com"}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	repo := memory.New()
	if err := repo.CreateSite(context.Background(), &domain.Site{ID: "site-1", OrgID: "org", Name: "docs"}); err != nil {
		t.Fatalf("create site: %v", err)
	}
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deploys := deploy.New(repo, repo, store, nil, nil, logger, config.BrailConfig{PublicBaseURL: "http://localhost:8080"})
	svc := New(repo, repo, repo, store, deploys, nil, nil, logger)

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("patch-%d", seq)
	}
	return testEnv{svc: svc, deploys: deploys, repo: repo, store: store}
}

// activeBase uploads, finalizes and activates a full deploy.
func (e testEnv) activeBase(t *testing.T, files map[string]string) string {
	t.Helper()
	ctx := context.Background()
	created, err := e.deploys.Create(ctx, "site-1", actor)
	if err != nil {
		t.Fatalf("create base: %v", err)
	}
	id := created.Deploy.ID
	for p, body := range files {
		if _, err := e.deploys.PutFile(ctx, id, p, strings.NewReader(body), int64(len(body)), ""); err != nil {
			t.Fatalf("put %s: %v", p, err)
		}
	}
	if _, err := e.deploys.Finalize(ctx, id, nil); err != nil {
		t.Fatalf("finalize base: %v", err)
	}
	if _, err := e.deploys.Activate(ctx, id, nil); err != nil {
		t.Fatalf("activate base: %v", err)
	}
	return id
}

func sizes(index []domain.FileIndexEntry) map[string]uint64 {
	out := make(map[string]uint64, len(index))
	for _, e := range index {
		out[e.Path] = e.Size
	}
	return out
}

func loadIndex(t *testing.T, e testEnv, deployID string) []domain.FileIndexEntry {
	t.Helper()
	index, found, err := storage.LoadIndex(context.Background(), e.store, deployID)
	if err != nil || !found {
		t.Fatalf("load index %s: found=%v err=%v", deployID, found, err)
	}
	return index
}

func TestFinalizeReplacesOverriddenFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	baseID := env.activeBase(t, map[string]string{"/index.html": "0123456789", "/a.css": "abcde"})

	replaced, err := env.svc.ReplaceFile(ctx, "site-1", "/a.css", strings.NewReader("abcdefgh"), 8, "text/css", actor)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if replaced.BaseDeployID != baseID || replaced.Path != "/a.css" {
		t.Fatalf("unexpected replace result %+v", replaced)
	}

	res, err := env.svc.Finalize(ctx, replaced.DeployID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.FileCount != 2 || res.ByteSize != 18 {
		t.Fatalf("expected 2 files / 18 bytes, got %d / %d", res.FileCount, res.ByteSize)
	}
	if res.Deploy.Status != domain.DeployUploaded {
		t.Fatalf("expected uploaded, got %s", res.Deploy.Status)
	}

	index := loadIndex(t, env, replaced.DeployID)
	got := sizes(index)
	if len(got) != 2 || got["/index.html"] != 10 || got["/a.css"] != 8 {
		t.Fatalf("unexpected merged index %v", got)
	}
	for _, e := range index {
		want := baseID
		if e.Path == "/a.css" {
			want = replaced.DeployID
		}
		if e.Source != want {
			t.Fatalf("%s: expected source %s, got %s", e.Path, want, e.Source)
		}
	}

	records, err := env.svc.List(ctx, "site-1", 0)
	if err != nil {
		t.Fatalf("list patches: %v", err)
	}
	if len(records) != 1 || len(records[0].Summary.Replaced) != 1 || len(records[0].Summary.Added) != 0 {
		t.Fatalf("unexpected patch records %+v", records)
	}
}

func TestFinalizeAppliesDeletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.activeBase(t, map[string]string{"/index.html": "0123456789", "/a.css": "abcde"})

	deleted, err := env.svc.DeletePaths(ctx, "site-1", []string{"/a.css"}, actor)
	if err != nil {
		t.Fatalf("delete paths: %v", err)
	}
	res, err := env.svc.Finalize(ctx, deleted.DeployID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.FileCount != 1 {
		t.Fatalf("expected 1 file, got %d", res.FileCount)
	}
	got := sizes(loadIndex(t, env, deleted.DeployID))
	if len(got) != 1 || got["/index.html"] != 10 {
		t.Fatalf("unexpected merged index %v", got)
	}

	records, _ := env.svc.List(ctx, "site-1", 0)
	if len(records) != 1 {
		t.Fatalf("expected one patch record, got %d", len(records))
	}
	if d := records[0].Summary.Deleted; len(d) != 1 || d[0] != "/a.css" {
		t.Fatalf("expected deleted [/a.css], got %v", d)
	}
}

func TestDeleteWinsOverOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.activeBase(t, map[string]string{"/index.html": "0123456789", "/a.css": "abcde"})

	deleted, err := env.svc.DeletePaths(ctx, "site-1", []string{"/a.css"}, actor)
	if err != nil {
		t.Fatalf("delete paths: %v", err)
	}
	if _, err := env.deploys.PutFile(ctx, deleted.DeployID, "/a.css", strings.NewReader("override"), 8, ""); err != nil {
		t.Fatalf("upload override: %v", err)
	}
	if _, err := env.svc.Finalize(ctx, deleted.DeployID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, ok := sizes(loadIndex(t, env, deleted.DeployID))["/a.css"]; ok {
		t.Fatalf("expected /a.css to be absent from the merged index")
	}
}

func TestFinalizeTwiceProducesSameIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.activeBase(t, map[string]string{"/index.html": "0123456789", "/a.css": "abcde"})

	replaced, err := env.svc.ReplaceFile(ctx, "site-1", "/new.js", strings.NewReader("js"), 2, "", actor)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, err := env.svc.Finalize(ctx, replaced.DeployID); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	first := loadIndex(t, env, replaced.DeployID)
	if _, err := env.svc.Finalize(ctx, replaced.DeployID); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	second := loadIndex(t, env, replaced.DeployID)

	if len(first) != len(second) {
		t.Fatalf("index length changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("index[%d] changed: %+v vs %+v", i, first[i], second[i])
		}
	}
	records, _ := env.svc.List(ctx, "site-1", 0)
	if len(records) != 1 {
		t.Fatalf("expected audit record written once, got %d", len(records))
	}
}

func TestPatchOfPatchKeepsSources(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	baseID := env.activeBase(t, map[string]string{"/index.html": "0123456789", "/a.css": "abcde"})

	first, err := env.svc.ReplaceFile(ctx, "site-1", "/a.css", strings.NewReader("abcdefgh"), 8, "", actor)
	if err != nil {
		t.Fatalf("replace a.css: %v", err)
	}
	if _, err := env.svc.Finalize(ctx, first.DeployID); err != nil {
		t.Fatalf("finalize first: %v", err)
	}
	if _, err := env.svc.Activate(ctx, first.DeployID, nil); err != nil {
		t.Fatalf("activate first: %v", err)
	}

	second, err := env.svc.ReplaceFile(ctx, "site-1", "/index.html", strings.NewReader("hello"), 5, "", actor)
	if err != nil {
		t.Fatalf("replace index.html: %v", err)
	}
	if second.BaseDeployID != first.DeployID {
		t.Fatalf("expected second patch based on %s, got %s", first.DeployID, second.BaseDeployID)
	}
	if _, err := env.svc.Finalize(ctx, second.DeployID); err != nil {
		t.Fatalf("finalize second: %v", err)
	}

	sources := map[string]string{}
	for _, e := range loadIndex(t, env, second.DeployID) {
		sources[e.Path] = e.Source
	}
	if sources["/a.css"] != first.DeployID || sources["/index.html"] != second.DeployID {
		t.Fatalf("unexpected sources %v (base %s)", sources, baseID)
	}
}

func TestPathSafety(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.activeBase(t, map[string]string{"/index.html": "hi"})
	before, _ := env.repo.ListDeploysBySite(ctx, "site-1", 0)

	_, err := env.svc.ReplaceFile(ctx, "site-1", "/../../etc/passwd", strings.NewReader("x"), 1, "", actor)
	if !errors.Is(err, domain.ErrInvalidPath) {
		t.Fatalf("replace: expected ErrInvalidPath, got %v", err)
	}
	_, err = env.svc.DeletePaths(ctx, "site-1", []string{"/ok.html", "/../../etc/passwd"}, actor)
	if !errors.Is(err, domain.ErrInvalidPath) {
		t.Fatalf("delete: expected ErrInvalidPath, got %v", err)
	}
	_, err = env.svc.ReplaceFile(ctx, "site-1", "/docs/", strings.NewReader("x"), 1, "", actor)
	if !errors.Is(err, domain.ErrInvalidPath) {
		t.Fatalf("directory: expected ErrInvalidPath, got %v", err)
	}

	after, _ := env.repo.ListDeploysBySite(ctx, "site-1", 0)
	if len(after) != len(before) {
		t.Fatalf("rejected input created deploys: %d -> %d", len(before), len(after))
	}
}

func TestReplaceFileNeedsActiveDeploy(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.ReplaceFile(context.Background(), "site-1", "/a.css", strings.NewReader("x"), 1, "", actor)
	if !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

type brokenPutStore struct {
	storage.Gateway
}

func (brokenPutStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, errors.New("bucket unavailable")
}

func TestReplaceFileMarksPatchFailedWhenStoreFails(t *testing.T) {
	env := newTestEnv(t)
	env.activeBase(t, map[string]string{"/index.html": "v1"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(env.repo, env.repo, env.repo, brokenPutStore{env.store}, env.deploys, nil, nil, logger)
	svc.newID = func() string { return "patch-broken" }

	ctx := context.Background()
	if _, err := svc.ReplaceFile(ctx, "site-1", "/index.html", strings.NewReader("v2"), 2, "", actor); err == nil {
		t.Fatal("expected store failure")
	}
	d, err := env.repo.GetDeployByID(ctx, "patch-broken")
	if err != nil {
		t.Fatalf("get patch: %v", err)
	}
	if d.Status != domain.DeployFailed || d.ErrorMessage == nil || !strings.Contains(*d.ErrorMessage, "bucket unavailable") {
		t.Fatalf("expected failed patch, got status=%s err=%v", d.Status, d.ErrorMessage)
	}
}

func TestCreatePatchValidatesBase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.CreatePatch(ctx, "site-1", "missing", actor); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created, err := env.deploys.Create(ctx, "site-1", actor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p, err := env.svc.CreatePatch(ctx, "site-1", created.Deploy.ID, actor)
	if err != nil {
		t.Fatalf("create patch: %v", err)
	}
	if !p.IsPatch || p.BaseDeployID == nil || *p.BaseDeployID != created.Deploy.ID {
		t.Fatalf("unexpected patch %+v", p)
	}

	// base was never finalized: merge runs against an empty index
	res, err := env.svc.Finalize(ctx, p.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.FileCount != 0 {
		t.Fatalf("expected empty merge, got %d files", res.FileCount)
	}
}

func TestFinalizeRejectsFullDeploy(t *testing.T) {
	env := newTestEnv(t)
	baseID := env.activeBase(t, map[string]string{"/index.html": "hi"})
	if _, err := env.svc.Finalize(context.Background(), baseID); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestGetFileTree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tree, err := env.svc.GetFileTree(ctx, "site-1")
	if err != nil {
		t.Fatalf("empty tree: %v", err)
	}
	if len(tree) != 0 {
		t.Fatalf("expected no files before activation, got %d", len(tree))
	}

	env.activeBase(t, map[string]string{"/index.html": "hi", "/a.css": "x"})
	tree, err = env.svc.GetFileTree(ctx, "site-1")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(tree) != 2 || tree[0].Path != "/a.css" {
		t.Fatalf("unexpected tree %+v", tree)
	}
}
