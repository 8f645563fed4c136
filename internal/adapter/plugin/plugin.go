package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/domain"
)

// Operations sent in Request.Op.
const (
	OpValidate = "validate"
	OpUpload   = "upload"
	OpActivate = "activate"
	OpRollback = "rollback"
	OpList     = "list"
)

// baseEnv is inherited from the server process; everything else must be
// named by the definition.
var baseEnv = []string{"PATH", "HOME", "TMPDIR", "LANG"}

// Request is written to the plugin's stdin.
type Request struct {
	Op                   string         `json:"op"`
	DeployID             string         `json:"deployId,omitempty"`
	FilesDir             string         `json:"filesDir,omitempty"`
	PlatformDeploymentID string         `json:"platformDeploymentId,omitempty"`
	Target               string         `json:"target,omitempty"`
	Site                 *domain.Site   `json:"site,omitempty"`
	Config               adapter.Config `json:"config"`
}

// Response is read from the plugin's stdout.
type Response struct {
	OK                   bool                  `json:"ok"`
	Error                string                `json:"error,omitempty"`
	Reason               string                `json:"reason,omitempty"`
	DestinationRef       string                `json:"destinationRef,omitempty"`
	PlatformDeploymentID string                `json:"platformDeploymentId,omitempty"`
	PreviewURL           string                `json:"previewUrl,omitempty"`
	Releases             []adapter.ReleaseInfo `json:"releases,omitempty"`
}

// Adapter runs one Definition.
type Adapter struct {
	def    Definition
	logger *slog.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// NewAdapter wraps def.
func NewAdapter(def Definition, logger *slog.Logger) *Adapter {
	return &Adapter{def: def.normalized(), logger: logger}
}

func (a *Adapter) Name() string { return a.def.Name }

func (a *Adapter) Description() string { return a.def.Description }

func (a *Adapter) ValidateConfig(cfg adapter.Config) adapter.Validation {
	resp, err := a.call(context.Background(), nil, Request{Op: OpValidate, Config: cfg})
	if err != nil {
		return adapter.Invalid("%v", err)
	}
	if !resp.OK {
		return adapter.Invalid("%s", firstNonEmpty(resp.Reason, resp.Error, "rejected by plugin"))
	}
	return adapter.Valid()
}

func (a *Adapter) Upload(ctx context.Context, rt adapter.Runtime, in adapter.UploadInput) (adapter.UploadResult, error) {
	site := in.Site
	resp, err := a.call(ctx, rt.Env, Request{
		Op:       OpUpload,
		DeployID: in.DeployID,
		FilesDir: in.FilesDir,
		Target:   string(in.Target),
		Site:     &site,
		Config:   in.Config,
	})
	if err != nil {
		return adapter.UploadResult{}, adapter.Wrap(a.def.Name, "upload", err)
	}
	return adapter.UploadResult{
		DestinationRef:       resp.DestinationRef,
		PlatformDeploymentID: resp.PlatformDeploymentID,
		PreviewURL:           resp.PreviewURL,
	}, nil
}

func (a *Adapter) Activate(ctx context.Context, rt adapter.Runtime, in adapter.ActivateInput) error {
	site := in.Site
	_, err := a.call(ctx, rt.Env, Request{
		Op:                   OpActivate,
		DeployID:             in.DeployID,
		PlatformDeploymentID: in.PlatformDeploymentID,
		Target:               string(in.Target),
		Site:                 &site,
		Config:               in.Config,
	})
	return adapter.Wrap(a.def.Name, "activate", err)
}

func (a *Adapter) Rollback(ctx context.Context, rt adapter.Runtime, in adapter.RollbackInput) error {
	site := in.Site
	_, err := a.call(ctx, rt.Env, Request{
		Op:                   OpRollback,
		DeployID:             in.ToDeployID,
		PlatformDeploymentID: in.PlatformDeploymentID,
		Site:                 &site,
		Config:               in.Config,
	})
	return adapter.Wrap(a.def.Name, "rollback", err)
}

func (a *Adapter) ListReleases(ctx context.Context, rt adapter.Runtime, cfg adapter.Config) ([]adapter.ReleaseInfo, error) {
	resp, err := a.call(ctx, rt.Env, Request{Op: OpList, Config: cfg})
	if err != nil {
		return nil, adapter.Wrap(a.def.Name, "list", err)
	}
	return resp.Releases, nil
}

func (a *Adapter) call(ctx context.Context, extraEnv map[string]string, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.def.Timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	cmd := exec.CommandContext(ctx, a.def.Command, a.def.Args...)
	cmd.Env = a.environ(extraEnv)
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	if a.logger != nil {
		a.logger.Debug("plugin call", "adapter", a.def.Name, "op", req.Op, "duration", time.Since(start), "error", runErr)
	}
	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("%s timed out after %s", req.Op, a.def.Timeout)
		}
		return Response{}, fmt.Errorf("%s: %w: %s", req.Op, runErr, strings.TrimSpace(stderr.String()))
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return Response{}, fmt.Errorf("%s: decode response: %w", req.Op, err)
	}
	if !resp.OK && req.Op != OpValidate {
		return resp, fmt.Errorf("%s: %s", req.Op, firstNonEmpty(resp.Error, "plugin reported failure"))
	}
	return resp, nil
}

func (a *Adapter) environ(extra map[string]string) []string {
	env := map[string]string{}
	for _, name := range append(append([]string{}, baseEnv...), a.def.Env...) {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	for k, v := range extra {
		env[k] = v
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Source serves the loaded community adapters to the registry.
type Source struct {
	adapters map[string]*Adapter
}

var _ adapter.Source = (*Source)(nil)

// NewSource builds a Source from every definition in dir.
func NewSource(dir string, logger *slog.Logger) (*Source, error) {
	files, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	src := &Source{adapters: make(map[string]*Adapter, len(files))}
	for _, f := range files {
		src.adapters[f.Definition.Name] = NewAdapter(f.Definition, logger)
		if logger != nil {
			logger.Info("community adapter loaded", "adapter", f.Definition.Name, "path", f.Path)
		}
	}
	return src, nil
}

func (s *Source) Lookup(name string) (adapter.Adapter, bool) {
	a, ok := s.adapters[name]
	if !ok {
		return nil, false
	}
	return a, true
}

func (s *Source) Entries() []adapter.CatalogEntry {
	entries := make([]adapter.CatalogEntry, 0, len(s.adapters))
	for name, a := range s.adapters {
		entries = append(entries, adapter.CatalogEntry{Name: name, Kind: adapter.KindCommunity, Description: a.def.Description})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
