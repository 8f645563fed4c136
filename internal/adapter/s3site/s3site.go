// Package s3site publishes releases to an S3 bucket configured for static
// website hosting. Each release lives under releases/{id}/ and the served
// copy under live/.
package s3site

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/storage"
	"github.com/kagehq/brail/internal/storage/s3"
)

// Name is the registry name of the adapter.
const Name = "s3"

// Config is the decoded adapter config.
type Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	Prefix          string `json:"prefix"`
	ForcePathStyle  bool   `json:"forcePathStyle"`
	PublicURL       string `json:"publicUrl"`
}

func (c Config) releasePrefix(id string) string { return c.Prefix + "releases/" + id + "/" }

func (c Config) livePrefix() string { return c.Prefix + "live/" }

func (c Config) metaPrefix() string { return c.Prefix + "meta/" }

func (c Config) metaKey(id string) string { return c.metaPrefix() + id + ".json" }

func (c Config) currentKey() string { return c.Prefix + "current.json" }

func decode(cfg adapter.Config) (Config, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return Config{}, err
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.Prefix != "" && !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	return c, nil
}

// Opener returns the bucket gateway for a config.
type Opener func(ctx context.Context, cfg Config) (storage.Gateway, error)

// OpenBucket connects with aws-sdk-go-v2.
func OpenBucket(ctx context.Context, cfg Config) (storage.Gateway, error) {
	return s3.Open(ctx, s3.Options{
		Endpoint:       cfg.Endpoint,
		Region:         cfg.Region,
		Bucket:         cfg.Bucket,
		AccessKey:      cfg.AccessKeyID,
		SecretKey:      cfg.SecretAccessKey,
		ForcePathStyle: cfg.ForcePathStyle,
	})
}

type pointer struct {
	DeployID    string    `json:"deployId"`
	ActivatedAt time.Time `json:"activatedAt"`
}

type releaseMeta struct {
	DeployID   string    `json:"deployId"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Adapter implements adapter.Adapter for S3 buckets.
type Adapter struct {
	open Opener
	now  func() time.Time
}

// New returns the S3 adapter. A nil opener uses OpenBucket.
func New(open Opener) *Adapter {
	if open == nil {
		open = OpenBucket
	}
	return &Adapter{open: open, now: time.Now}
}

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Cleaner = (*Adapter)(nil)
	_ adapter.Deleter = (*Adapter)(nil)
)

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Description() string {
	return "Publish to an S3 or MinIO bucket with static website hosting"
}

func (a *Adapter) ValidateConfig(cfg adapter.Config) adapter.Validation {
	c, err := decode(cfg)
	if err != nil {
		return adapter.Invalid("%v", err)
	}
	if c.Bucket == "" {
		return adapter.Invalid("bucket is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return adapter.Invalid("accessKeyId and secretAccessKey must be set together")
	}
	if strings.HasPrefix(c.Prefix, "/") {
		return adapter.Invalid("prefix must be relative")
	}
	return adapter.Valid()
}

// Upload copies the staged files into releases/{deployId}/.
func (a *Adapter) Upload(ctx context.Context, rt adapter.Runtime, in adapter.UploadInput) (adapter.UploadResult, error) {
	if err := adapter.CheckReleaseID(in.DeployID); err != nil {
		return adapter.UploadResult{}, adapter.Wrap(Name, "upload", err)
	}
	var result adapter.UploadResult
	err := a.with(ctx, in.Config, func(c Config, bucket storage.Gateway) error {
		if err := adapter.WriteCanary(in.FilesDir, in.DeployID); err != nil {
			return err
		}
		prefix := c.releasePrefix(in.DeployID)
		count := 0
		err := filepath.WalkDir(in.FilesDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(in.FilesDir, p)
			if err != nil {
				return err
			}
			key := prefix + filepath.ToSlash(rel)
			if err := putFile(ctx, bucket, key, p); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			return err
		}
		if err := storage.PutJSON(ctx, bucket, c.metaKey(in.DeployID), releaseMeta{DeployID: in.DeployID, UploadedAt: a.now().UTC()}); err != nil {
			return err
		}
		rt.Logger.Info("release uploaded", "adapter", Name, "bucket", c.Bucket, "prefix", prefix, "files", count)
		result = adapter.UploadResult{
			DestinationRef:       "s3://" + c.Bucket + "/" + prefix,
			PlatformDeploymentID: in.DeployID,
		}
		if c.PublicURL != "" {
			result.PreviewURL = strings.TrimRight(c.PublicURL, "/") + "/releases/" + in.DeployID + "/"
		}
		return nil
	})
	return result, adapter.Wrap(Name, "upload", err)
}

func putFile(ctx context.Context, bucket storage.Gateway, key, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = bucket.Put(ctx, key, f, info.Size(), storage.PutOptions{ContentType: storage.ContentTypeFor(key)})
	return err
}

// Activate makes live/ an exact copy of the deploy's release.
func (a *Adapter) Activate(ctx context.Context, rt adapter.Runtime, in adapter.ActivateInput) error {
	return adapter.Wrap(Name, "activate", a.publish(ctx, rt, in.Config, in.DeployID))
}

// Rollback republishes an earlier release.
func (a *Adapter) Rollback(ctx context.Context, rt adapter.Runtime, in adapter.RollbackInput) error {
	return adapter.Wrap(Name, "rollback", a.publish(ctx, rt, in.Config, in.ToDeployID))
}

func (a *Adapter) publish(ctx context.Context, rt adapter.Runtime, cfg adapter.Config, deployID string) error {
	if err := adapter.CheckReleaseID(deployID); err != nil {
		return err
	}
	return a.with(ctx, cfg, func(c Config, bucket storage.Gateway) error {
		prefix := c.releasePrefix(deployID)
		objects, err := bucket.ListPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		if len(objects) == 0 {
			return fmt.Errorf("release %s has not been uploaded", deployID)
		}

		wanted := make(map[string]struct{}, len(objects))
		for _, obj := range objects {
			rel := strings.TrimPrefix(obj.Key, prefix)
			wanted[rel] = struct{}{}
			if err := storage.Copy(ctx, bucket, obj.Key, c.livePrefix()+rel); err != nil {
				return fmt.Errorf("publish %s: %w", rel, err)
			}
		}

		live, err := bucket.ListPrefix(ctx, c.livePrefix())
		if err != nil {
			return err
		}
		pruned := 0
		for _, obj := range live {
			if _, keep := wanted[strings.TrimPrefix(obj.Key, c.livePrefix())]; keep {
				continue
			}
			if err := bucket.Delete(ctx, obj.Key); err != nil {
				return fmt.Errorf("prune %s: %w", obj.Key, err)
			}
			pruned++
		}

		if err := storage.PutJSON(ctx, bucket, c.currentKey(), pointer{DeployID: deployID, ActivatedAt: a.now().UTC()}); err != nil {
			return err
		}
		rt.Logger.Info("release published", "adapter", Name, "bucket", c.Bucket, "deploy_id", deployID, "files", len(objects), "pruned", pruned)
		return nil
	})
}

// ListReleases reports uploaded releases, newest first.
func (a *Adapter) ListReleases(ctx context.Context, rt adapter.Runtime, cfg adapter.Config) ([]adapter.ReleaseInfo, error) {
	var releases []adapter.ReleaseInfo
	err := a.with(ctx, cfg, func(c Config, bucket storage.Gateway) error {
		var err error
		releases, err = a.list(ctx, c, bucket)
		return err
	})
	return releases, adapter.Wrap(Name, "list", err)
}

func (a *Adapter) list(ctx context.Context, c Config, bucket storage.Gateway) ([]adapter.ReleaseInfo, error) {
	var current pointer
	if err := storage.GetJSON(ctx, bucket, c.currentKey(), &current); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	metas, err := bucket.ListPrefix(ctx, c.metaPrefix())
	if err != nil {
		return nil, err
	}
	releases := make([]adapter.ReleaseInfo, 0, len(metas))
	for _, obj := range metas {
		var meta releaseMeta
		if err := storage.GetJSON(ctx, bucket, obj.Key, &meta); err != nil {
			meta = releaseMeta{DeployID: strings.TrimSuffix(strings.TrimPrefix(obj.Key, c.metaPrefix()), ".json")}
		}
		info := adapter.ReleaseInfo{ID: meta.DeployID, CreatedAt: meta.UploadedAt, Active: meta.DeployID == current.DeployID}
		if c.PublicURL != "" {
			info.URL = strings.TrimRight(c.PublicURL, "/") + "/releases/" + meta.DeployID + "/"
		}
		releases = append(releases, info)
	}
	sort.SliceStable(releases, func(i, j int) bool { return releases[i].CreatedAt.After(releases[j].CreatedAt) })
	return releases, nil
}

// CleanupOld removes all but the newest keep releases. The live release is
// always kept.
func (a *Adapter) CleanupOld(ctx context.Context, rt adapter.Runtime, cfg adapter.Config, keep int) error {
	err := a.with(ctx, cfg, func(c Config, bucket storage.Gateway) error {
		releases, err := a.list(ctx, c, bucket)
		if err != nil {
			return err
		}
		kept, removed := 0, 0
		for _, r := range releases {
			if r.Active || kept < keep {
				kept++
				continue
			}
			if err := removeRelease(ctx, c, bucket, r.ID); err != nil {
				return err
			}
			removed++
		}
		if removed > 0 {
			rt.Logger.Info("old releases removed", "adapter", Name, "bucket", c.Bucket, "count", removed)
		}
		return nil
	})
	return adapter.Wrap(Name, "cleanup", err)
}

// Delete removes one release unless it is live.
func (a *Adapter) Delete(ctx context.Context, rt adapter.Runtime, in adapter.DeleteInput) error {
	if err := adapter.CheckReleaseID(in.DeployID); err != nil {
		return adapter.Wrap(Name, "delete", err)
	}
	err := a.with(ctx, in.Config, func(c Config, bucket storage.Gateway) error {
		var current pointer
		if err := storage.GetJSON(ctx, bucket, c.currentKey(), &current); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if current.DeployID == in.DeployID {
			return fmt.Errorf("release %s is live", in.DeployID)
		}
		return removeRelease(ctx, c, bucket, in.DeployID)
	})
	return adapter.Wrap(Name, "delete", err)
}

func removeRelease(ctx context.Context, c Config, bucket storage.Gateway, id string) error {
	objects, err := bucket.ListPrefix(ctx, c.releasePrefix(id))
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := bucket.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	if err := bucket.Delete(ctx, c.metaKey(id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (a *Adapter) with(ctx context.Context, cfg adapter.Config, fn func(Config, storage.Gateway) error) error {
	c, err := decode(cfg)
	if err != nil {
		return err
	}
	bucket, err := a.open(ctx, c)
	if err != nil {
		return err
	}
	return fn(c, bucket)
}
