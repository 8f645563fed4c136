package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kagehq/brail/internal/adapter"
	"github.com/kagehq/brail/internal/adapter/docker"
	"github.com/kagehq/brail/internal/adapter/plugin"
	"github.com/kagehq/brail/internal/adapter/s3site"
	"github.com/kagehq/brail/internal/adapter/sshrsync"
	"github.com/kagehq/brail/internal/app/migrate"
	httpx "github.com/kagehq/brail/internal/http"
	"github.com/kagehq/brail/internal/notify"
	"github.com/kagehq/brail/internal/repository/postgres"
	"github.com/kagehq/brail/internal/service/deploy"
	"github.com/kagehq/brail/internal/service/health"
	"github.com/kagehq/brail/internal/service/logs"
	"github.com/kagehq/brail/internal/service/patch"
	"github.com/kagehq/brail/internal/service/profile"
	"github.com/kagehq/brail/internal/service/release"
	"github.com/kagehq/brail/internal/service/resolve"
	"github.com/kagehq/brail/internal/service/site"
	"github.com/kagehq/brail/internal/storage"
	memstore "github.com/kagehq/brail/internal/storage/memory"
	"github.com/kagehq/brail/internal/storage/s3"
	"github.com/kagehq/brail/internal/ws"
	"github.com/kagehq/brail/pkg/config"
	"github.com/kagehq/brail/pkg/crypto"
	"github.com/kagehq/brail/pkg/logger"
)

func main() {
	cfg := config.LoadBrailConfig()
	log := logger.NewWithFormat("api", cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Error("failed to open object storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}

	var notifier notify.Notifier = notify.Noop{}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisNotifier, err := notify.NewRedis(addr, cfg.RedisPassword, cfg.RedisDB, cfg.NotifyChannel, log)
		if err != nil {
			log.Warn("redis notifier unavailable", "error", err)
		} else {
			defer redisNotifier.Close()
			notifier = redisNotifier
		}
	}

	sealer, err := crypto.NewSealer(cfg.ProfileEncryptionKey)
	if err != nil {
		log.Error("invalid profile encryption key", "error", err)
		os.Exit(1)
	}

	registry := adapter.NewRegistry(sshrsync.New(nil), s3site.New(nil), docker.New(nil))
	if dir := strings.TrimSpace(cfg.AdapterPluginDir); dir != "" {
		source, err := plugin.NewSource(dir, log)
		if err != nil {
			log.Error("failed to load adapter plugins", "dir", dir, "error", err)
			os.Exit(1)
		}
		registry.SetCommunity(source)
	}
	catalog := adapter.NewCatalogCache(cfg.AdapterCatalogTTL, registry.Snapshot)

	workspace, err := release.NewWorkspace(cfg.ScratchDir)
	if err != nil {
		log.Error("failed to prepare scratch dir", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	logHub := ws.NewHub(cfg.LogBuffer)
	defer logHub.Close()

	siteSvc := site.New(repo, log)
	logSvc := logs.New(repo, logHub, log)
	profileSvc := profile.New(repo, repo, registry, sealer, log)
	checker := health.New(log, health.WithDefaults(health.Options{Timeout: cfg.HealthTimeout, Retries: cfg.HealthRetries}))
	releaseSvc := release.New(repo, repo, repo, store, registry, profileSvc, checker, workspace, logSvc, notifier, log,
		release.Options{Keep: cfg.ReleaseKeep})
	deploySvc := deploy.New(repo, repo, store, logSvc, notifier, log, cfg).WithProfiles(profileSvc, releaseSvc)
	patchSvc := patch.New(repo, repo, repo, store, deploySvc, logSvc, notifier, log)

	metrics := httpx.NewMetrics(nil)
	resolver := resolve.New(store, log, metrics)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Sites:    siteSvc,
		Deploys:  deploySvc,
		Patches:  patchSvc,
		Releases: releaseSvc,
		Profiles: profileSvc,
		Logs:     logSvc,
		Resolver: resolver,
		Catalog:  catalog,
	}, metrics, limiter, httpx.Options{
		JWTSecret:          cfg.JWTSecret,
		PublicDomainSuffix: cfg.PublicDomainSuffix,
		RateLimitAPI:       cfg.RateLimitAPI,
		RateLimitPublic:    cfg.RateLimitPublic,
		DBHealth:           pool.Ping,
	})
	defer router.Close()

	servers := []*http.Server{
		{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second},
		{Addr: cfg.PublicAddr, Handler: router.Public(), ReadHeaderTimeout: 5 * time.Second},
	}

	errorCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info("server starting", "addr", srv.Addr)
			errorCh <- srv.ListenAndServe()
		}(srv)
	}

	select {
	case <-ctx.Done():
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
			shutdown(log, servers)
			os.Exit(1)
		}
	}
	shutdown(log, servers)
	log.Info("api server stopped")
}

func openStorage(ctx context.Context, cfg config.BrailConfig) (storage.Gateway, error) {
	switch strings.ToLower(cfg.StorageDriver) {
	case "memory":
		return memstore.New(), nil
	case "s3", "":
		return s3.Open(ctx, s3.Options{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
	default:
		return nil, errors.New("unknown storage driver " + cfg.StorageDriver)
	}
}

func shutdown(log *slog.Logger, servers []*http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
}
