// Package sshrsync ships releases to a host over SSH and serves them through
// a "current" symlink under the configured base path.
package sshrsync

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kagehq/brail/internal/adapter"
)

// Name is the registry name of the adapter.
const Name = "ssh"

// Config is the decoded adapter config.
type Config struct {
	Host           string                     `json:"host"`
	Port           int                        `json:"port"`
	User           string                     `json:"user"`
	PrivateKey     string                     `json:"privateKey"`
	Passphrase     string                     `json:"passphrase"`
	Password       string                     `json:"password"`
	KnownHostsPath string                     `json:"knownHostsPath"`
	HostKey        string                     `json:"hostKey"`
	BasePath       string                     `json:"basePath"`
	Keep           int                        `json:"keep"`
	HealthCheck    *adapter.HealthCheckConfig `json:"healthCheck,omitempty"`
}

func (c Config) releasesDir() string { return path.Join(c.BasePath, "releases") }

func (c Config) releaseDir(id string) string { return path.Join(c.releasesDir(), id) }

func (c Config) currentLink() string { return path.Join(c.BasePath, "current") }

func decode(cfg adapter.Config) (Config, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return Config{}, err
	}
	if c.Port == 0 {
		c.Port = 22
	}
	c.BasePath = strings.TrimRight(c.BasePath, "/")
	return c, nil
}

// Adapter implements adapter.Adapter for SSH hosts.
type Adapter struct {
	dial Dialer
}

// New returns the SSH adapter. A nil dialer uses DialSSH.
func New(dial Dialer) *Adapter {
	if dial == nil {
		dial = DialSSH
	}
	return &Adapter{dial: dial}
}

var (
	_ adapter.Adapter     = (*Adapter)(nil)
	_ adapter.Cleaner     = (*Adapter)(nil)
	_ adapter.Deleter     = (*Adapter)(nil)
	_ adapter.HealthGated = (*Adapter)(nil)
)

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Description() string {
	return "Upload over SSH and switch releases with an atomic symlink swap"
}

// ValidateConfig checks connection and host-key settings.
func (a *Adapter) ValidateConfig(cfg adapter.Config) adapter.Validation {
	c, err := decode(cfg)
	if err != nil {
		return adapter.Invalid("%v", err)
	}
	switch {
	case c.Host == "":
		return adapter.Invalid("host is required")
	case c.User == "":
		return adapter.Invalid("user is required")
	case c.PrivateKey == "" && c.Password == "":
		return adapter.Invalid("privateKey or password is required")
	case c.HostKey == "" && c.KnownHostsPath == "":
		return adapter.Invalid("hostKey or knownHostsPath is required")
	case !path.IsAbs(c.BasePath) || c.BasePath == "":
		return adapter.Invalid("basePath must be an absolute path")
	case c.Port < 1 || c.Port > 65535:
		return adapter.Invalid("port %d is out of range", c.Port)
	case c.Keep < 0:
		return adapter.Invalid("keep must not be negative")
	}
	if c.HealthCheck != nil && c.HealthCheck.URL == "" && c.HealthCheck.CanaryURL == "" {
		return adapter.Invalid("healthCheck needs url or canaryUrl")
	}
	// The gate runs before current is switched, so the canary has to be
	// fetched from the staged release, e.g. https://host/releases/{deployId}/.brail-canary.
	if c.HealthCheck != nil && c.HealthCheck.CanaryURL != "" && !strings.Contains(c.HealthCheck.CanaryURL, adapter.DeployIDPlaceholder) {
		return adapter.Invalid("healthCheck.canaryUrl must contain %s", adapter.DeployIDPlaceholder)
	}
	return adapter.Valid()
}

// HealthCheck exposes the configured pre-activation gate.
func (a *Adapter) HealthCheck(cfg adapter.Config) (adapter.HealthCheckConfig, bool) {
	c, err := decode(cfg)
	if err != nil || c.HealthCheck == nil {
		return adapter.HealthCheckConfig{}, false
	}
	if c.HealthCheck.URL == "" && c.HealthCheck.CanaryURL == "" {
		return adapter.HealthCheckConfig{}, false
	}
	return *c.HealthCheck, true
}

// Upload streams the staged files as tar.gz into releases/{deployId}.
func (a *Adapter) Upload(ctx context.Context, rt adapter.Runtime, in adapter.UploadInput) (adapter.UploadResult, error) {
	if err := adapter.CheckReleaseID(in.DeployID); err != nil {
		return adapter.UploadResult{}, adapter.Wrap(Name, "upload", err)
	}
	var result adapter.UploadResult
	err := a.with(ctx, in.Config, func(c Config, remote Remote) error {
		if err := adapter.WriteCanary(in.FilesDir, in.DeployID); err != nil {
			return err
		}
		bundle, err := adapter.GzipDir(in.FilesDir)
		if err != nil {
			return err
		}
		defer bundle.Close()

		dir := c.releaseDir(in.DeployID)
		cmd := fmt.Sprintf("rm -rf %[1]s && mkdir -p %[1]s && tar -xzf - -C %[1]s", quote(dir))
		if _, err := remote.Run(ctx, cmd, bundle); err != nil {
			return fmt.Errorf("extract release: %w", err)
		}
		rt.Logger.Info("release uploaded", "adapter", Name, "host", c.Host, "dir", dir)
		result = adapter.UploadResult{DestinationRef: dir, PlatformDeploymentID: in.DeployID}
		return nil
	})
	return result, adapter.Wrap(Name, "upload", err)
}

// Activate points current at the deploy's release directory.
func (a *Adapter) Activate(ctx context.Context, rt adapter.Runtime, in adapter.ActivateInput) error {
	return adapter.Wrap(Name, "activate", a.switchTo(ctx, rt, in.Config, in.DeployID))
}

// Rollback points current at an earlier release directory.
func (a *Adapter) Rollback(ctx context.Context, rt adapter.Runtime, in adapter.RollbackInput) error {
	return adapter.Wrap(Name, "rollback", a.switchTo(ctx, rt, in.Config, in.ToDeployID))
}

func (a *Adapter) switchTo(ctx context.Context, rt adapter.Runtime, cfg adapter.Config, deployID string) error {
	if err := adapter.CheckReleaseID(deployID); err != nil {
		return err
	}
	return a.with(ctx, cfg, func(c Config, remote Remote) error {
		dir := c.releaseDir(deployID)
		tmp := c.currentLink() + ".next"
		cmd := fmt.Sprintf("test -d %s && ln -sfn %s %s && mv -Tf %s %s",
			quote(dir), quote(dir), quote(tmp), quote(tmp), quote(c.currentLink()))
		if _, err := remote.Run(ctx, cmd, nil); err != nil {
			return fmt.Errorf("switch current to %s: %w", deployID, err)
		}
		rt.Logger.Info("current release switched", "adapter", Name, "host", c.Host, "deploy_id", deployID)
		return nil
	})
}

// ListReleases reports the release directories, newest first.
func (a *Adapter) ListReleases(ctx context.Context, rt adapter.Runtime, cfg adapter.Config) ([]adapter.ReleaseInfo, error) {
	var releases []adapter.ReleaseInfo
	err := a.with(ctx, cfg, func(c Config, remote Remote) error {
		var err error
		releases, err = list(ctx, c, remote)
		return err
	})
	return releases, adapter.Wrap(Name, "list", err)
}

// CleanupOld removes all but the newest keep releases. The active release
// is never removed.
func (a *Adapter) CleanupOld(ctx context.Context, rt adapter.Runtime, cfg adapter.Config, keep int) error {
	err := a.with(ctx, cfg, func(c Config, remote Remote) error {
		if c.Keep > 0 {
			keep = c.Keep
		}
		releases, err := list(ctx, c, remote)
		if err != nil {
			return err
		}
		var stale []string
		kept := 0
		for _, r := range releases {
			if r.Active || kept < keep {
				kept++
				continue
			}
			stale = append(stale, quote(c.releaseDir(r.ID)))
		}
		if len(stale) == 0 {
			return nil
		}
		if _, err := remote.Run(ctx, "rm -rf "+strings.Join(stale, " "), nil); err != nil {
			return fmt.Errorf("remove stale releases: %w", err)
		}
		rt.Logger.Info("old releases removed", "adapter", Name, "host", c.Host, "count", len(stale))
		return nil
	})
	return adapter.Wrap(Name, "cleanup", err)
}

// Delete removes one release directory unless it is live.
func (a *Adapter) Delete(ctx context.Context, rt adapter.Runtime, in adapter.DeleteInput) error {
	if err := adapter.CheckReleaseID(in.DeployID); err != nil {
		return adapter.Wrap(Name, "delete", err)
	}
	err := a.with(ctx, in.Config, func(c Config, remote Remote) error {
		releases, err := list(ctx, c, remote)
		if err != nil {
			return err
		}
		for _, r := range releases {
			if r.ID == in.DeployID && r.Active {
				return fmt.Errorf("release %s is live", in.DeployID)
			}
		}
		if _, err := remote.Run(ctx, "rm -rf "+quote(c.releaseDir(in.DeployID)), nil); err != nil {
			return fmt.Errorf("remove release: %w", err)
		}
		return nil
	})
	return adapter.Wrap(Name, "delete", err)
}

func (a *Adapter) with(ctx context.Context, cfg adapter.Config, fn func(Config, Remote) error) error {
	c, err := decode(cfg)
	if err != nil {
		return err
	}
	remote, err := a.dial(ctx, c)
	if err != nil {
		return err
	}
	defer remote.Close()
	return fn(c, remote)
}

const listSeparator = "--current--"

func list(ctx context.Context, c Config, remote Remote) ([]adapter.ReleaseInfo, error) {
	cmd := fmt.Sprintf("find %s -mindepth 1 -maxdepth 1 -type d -printf '%%T@ %%f\\n' 2>/dev/null; echo %s; readlink %s || true",
		quote(c.releasesDir()), listSeparator, quote(c.currentLink()))
	out, err := remote.Run(ctx, cmd, nil)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	return parseListing(string(out)), nil
}

// parseListing reads "<mtime> <name>" lines, the separator, then the
// current symlink target.
func parseListing(out string) []adapter.ReleaseInfo {
	var (
		releases []adapter.ReleaseInfo
		current  string
		after    bool
	)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == listSeparator {
			after = true
			continue
		}
		if after {
			current = path.Base(line)
			continue
		}
		stamp, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		info := adapter.ReleaseInfo{ID: name}
		if secs, err := strconv.ParseFloat(stamp, 64); err == nil {
			info.CreatedAt = time.Unix(int64(secs), 0).UTC()
		}
		releases = append(releases, info)
	}
	for i := range releases {
		releases[i].Active = current != "" && releases[i].ID == current
	}
	sort.SliceStable(releases, func(i, j int) bool { return releases[i].CreatedAt.After(releases[j].CreatedAt) })
	return releases
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
