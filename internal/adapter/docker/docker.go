// Package docker releases sites into a running web server container: files
// are copied into {root}/releases/{id}, {root}/current is re-pointed inside
// the container and the server is sent SIGHUP.
package docker

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
const Name = "docker"

// Config is the decoded adapter config.
type Config struct {
	Container    string `json:"container"`
	Root         string `json:"root"`
	Host         string `json:"host"`
	ReloadSignal string `json:"reloadSignal"`
}

func (c Config) releasesDir() string { return path.Join(c.Root, "releases") }

func (c Config) releaseDir(id string) string { return path.Join(c.releasesDir(), id) }

func (c Config) currentLink() string { return path.Join(c.Root, "current") }

func decode(cfg adapter.Config) (Config, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return Config{}, err
	}
	c.Container = strings.TrimSpace(c.Container)
	c.Root = strings.TrimRight(c.Root, "/")
	if c.ReloadSignal == "" {
		c.ReloadSignal = "HUP"
	}
	return c, nil
}

// Connector opens an Engine for a daemon host.
type Connector func(host string) (Engine, error)

// Adapter implements adapter.Adapter for containers.
type Adapter struct {
	connect Connector
}

// New returns the docker adapter. A nil connector uses Connect.
func New(connect Connector) *Adapter {
	if connect == nil {
		connect = Connect
	}
	return &Adapter{connect: connect}
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Cleaner = (*Adapter)(nil)
	_ adapter.Deleter = (*Adapter)(nil)
)

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Description() string {
	return "Copy releases into a web server container and reload it"
}

func (a *Adapter) ValidateConfig(cfg adapter.Config) adapter.Validation {
	c, err := decode(cfg)
	if err != nil {
		return adapter.Invalid("%v", err)
	}
	if c.Container == "" {
		return adapter.Invalid("container is required")
	}
	if c.Root == "" || !path.IsAbs(c.Root) {
		return adapter.Invalid("root must be an absolute path")
	}
	return adapter.Valid()
}

func (a *Adapter) Upload(ctx context.Context, rt adapter.Runtime, in adapter.UploadInput) (adapter.UploadResult, error) {
	if err := adapter.CheckReleaseID(in.DeployID); err != nil {
		return adapter.UploadResult{}, adapter.Wrap(Name, "upload", err)
	}
	var result adapter.UploadResult
	err := a.with(in.Config, func(c Config, engine Engine) error {
		if err := adapter.WriteCanary(in.FilesDir, in.DeployID); err != nil {
			return err
		}
		dir := c.releaseDir(in.DeployID)
		if _, err := engine.Exec(ctx, c.Container, []string{"mkdir", "-p", dir}); err != nil {
			return err
		}
		tarball, err := adapter.TarDir(in.FilesDir)
		if err != nil {
			return err
		}
		defer tarball.Close()
		if err := engine.CopyTo(ctx, c.Container, dir, tarball); err != nil {
			return fmt.Errorf("copy release: %w", err)
		}
		rt.Logger.Info("release copied", "adapter", Name, "container", c.Container, "dir", dir)
		result = adapter.UploadResult{DestinationRef: c.Container + ":" + dir, PlatformDeploymentID: in.DeployID}
		return nil
	})
	return result, adapter.Wrap(Name, "upload", err)
}

func (a *Adapter) Activate(ctx context.Context, rt adapter.Runtime, in adapter.ActivateInput) error {
	return adapter.Wrap(Name, "activate", a.switchTo(ctx, rt, in.Config, in.DeployID))
}

func (a *Adapter) Rollback(ctx context.Context, rt adapter.Runtime, in adapter.RollbackInput) error {
	return adapter.Wrap(Name, "rollback", a.switchTo(ctx, rt, in.Config, in.ToDeployID))
}

func (a *Adapter) switchTo(ctx context.Context, rt adapter.Runtime, cfg adapter.Config, deployID string) error {
	if err := adapter.CheckReleaseID(deployID); err != nil {
		return err
	}
	return a.with(cfg, func(c Config, engine Engine) error {
		dir := c.releaseDir(deployID)
		tmp := c.currentLink() + ".next"
		script := fmt.Sprintf("test -d %q && ln -sfn %q %q && mv -Tf %q %q", dir, dir, tmp, tmp, c.currentLink())
		if _, err := engine.Exec(ctx, c.Container, []string{"sh", "-c", script}); err != nil {
			return fmt.Errorf("switch current to %s: %w", deployID, err)
		}
		if err := engine.Signal(ctx, c.Container, c.ReloadSignal); err != nil {
			return fmt.Errorf("reload %s: %w", c.Container, err)
		}
		rt.Logger.Info("container release switched", "adapter", Name, "container", c.Container, "deploy_id", deployID)
		return nil
	})
}

func (a *Adapter) ListReleases(ctx context.Context, rt adapter.Runtime, cfg adapter.Config) ([]adapter.ReleaseInfo, error) {
	var releases []adapter.ReleaseInfo
	err := a.with(cfg, func(c Config, engine Engine) error {
		var err error
		releases, err = list(ctx, c, engine)
		return err
	})
	return releases, adapter.Wrap(Name, "list", err)
}

func (a *Adapter) CleanupOld(ctx context.Context, rt adapter.Runtime, cfg adapter.Config, keep int) error {
	err := a.with(cfg, func(c Config, engine Engine) error {
		releases, err := list(ctx, c, engine)
		if err != nil {
			return err
		}
		cmd := []string{"rm", "-rf"}
		kept := 0
		for _, r := range releases {
			if r.Active || kept < keep {
				kept++
				continue
			}
			cmd = append(cmd, c.releaseDir(r.ID))
		}
		if len(cmd) == 2 {
			return nil
		}
		if _, err := engine.Exec(ctx, c.Container, cmd); err != nil {
			return fmt.Errorf("remove stale releases: %w", err)
		}
		rt.Logger.Info("old releases removed", "adapter", Name, "container", c.Container, "count", len(cmd)-2)
		return nil
	})
	return adapter.Wrap(Name, "cleanup", err)
}

func (a *Adapter) Delete(ctx context.Context, rt adapter.Runtime, in adapter.DeleteInput) error {
	if err := adapter.CheckReleaseID(in.DeployID); err != nil {
		return adapter.Wrap(Name, "delete", err)
	}
	err := a.with(in.Config, func(c Config, engine Engine) error {
		releases, err := list(ctx, c, engine)
		if err != nil {
			return err
		}
		for _, r := range releases {
			if r.ID == in.DeployID && r.Active {
				return fmt.Errorf("release %s is live", in.DeployID)
			}
		}
		_, err = engine.Exec(ctx, c.Container, []string{"rm", "-rf", c.releaseDir(in.DeployID)})
		return err
	})
	return adapter.Wrap(Name, "delete", err)
}

func (a *Adapter) with(cfg adapter.Config, fn func(Config, Engine) error) error {
	c, err := decode(cfg)
	if err != nil {
		return err
	}
	engine, err := a.connect(c.Host)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(c, engine)
}

const currentMarker = "current:"

func list(ctx context.Context, c Config, engine Engine) ([]adapter.ReleaseInfo, error) {
	script := fmt.Sprintf("for d in %q/*/; do [ -d \"$d\" ] && echo \"$(stat -c %%Y \"$d\") $(basename \"$d\")\"; done; echo %s$(readlink %q)",
		c.releasesDir(), currentMarker, c.currentLink())
	out, err := engine.Exec(ctx, c.Container, []string{"sh", "-c", script})
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}

	var (
		releases []adapter.ReleaseInfo
		current  string
	)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, currentMarker); ok {
			if rest != "" {
				current = path.Base(rest)
			}
			continue
		}
		stamp, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		info := adapter.ReleaseInfo{ID: name}
		if secs, err := strconv.ParseInt(stamp, 10, 64); err == nil {
			info.CreatedAt = time.Unix(secs, 0).UTC()
		}
		releases = append(releases, info)
	}
	for i := range releases {
		releases[i].Active = releases[i].ID == current
	}
	sort.SliceStable(releases, func(i, j int) bool { return releases[i].CreatedAt.After(releases[j].CreatedAt) })
	return releases, nil
}
