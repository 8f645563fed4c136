package config

import (
	"net/url"
	"strings"
	"time"
)

// BrailConfig holds runtime configuration for the orchestration API.
type BrailConfig struct {
	Environment          string
	Addr                 string
	PublicAddr           string
	PublicDomainSuffix   string
	PublicBaseURL        string
	DatabaseURL          string
	MigrationsDir        string
	JWTSecret            string
	ProfileEncryptionKey string
	StorageDriver        string
	S3Endpoint           string
	S3Region             string
	S3Bucket             string
	S3AccessKey          string
	S3SecretKey          string
	S3ForcePathStyle     bool
	ScratchDir           string
	AdapterPluginDir     string
	AdapterCatalogTTL    time.Duration
	ReleaseKeep          int
	HealthTimeout        time.Duration
	HealthRetries        int
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	NotifyChannel        string
	RateLimitPublic      int
	RateLimitAPI         int
	LogLevel             string
	LogFormat            string
	LogBuffer            int
}

// LoadBrailConfig constructs a BrailConfig from environment variables.
func LoadBrailConfig() BrailConfig {
	return BrailConfig{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("API_ADDR", ":4000"),
		PublicAddr:           GetString("PUBLIC_ADDR", ":8080"),
		PublicDomainSuffix:   GetString("PUBLIC_DOMAIN_SUFFIX", ".brail.localhost"),
		PublicBaseURL:        GetString("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:          GetString("DATABASE_URL", "postgres://brail:brail@db:5432/brail?sslmode=disable"),
		MigrationsDir:        GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:            GetString("JWT_SECRET", "supersecuresecret"),
		ProfileEncryptionKey: GetString("PROFILE_ENCRYPTION_KEY", "supersecuresecret"),
		StorageDriver:        GetString("STORAGE_DRIVER", "s3"),
		S3Endpoint:           GetString("S3_ENDPOINT", "http://minio:9000"),
		S3Region:             GetString("S3_REGION", "us-east-1"),
		S3Bucket:             GetString("S3_BUCKET", "brail"),
		S3AccessKey:          GetString("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:          GetString("S3_SECRET_KEY", "minioadmin"),
		S3ForcePathStyle:     GetBool("S3_FORCE_PATH_STYLE", true),
		ScratchDir:           GetString("SCRATCH_DIR", "/tmp/brail"),
		AdapterPluginDir:     GetString("ADAPTER_PLUGIN_DIR", ""),
		AdapterCatalogTTL:    GetDuration("ADAPTER_CATALOG_TTL_SECONDS", 300, time.Second),
		ReleaseKeep:          GetInt("RELEASE_KEEP", 5),
		HealthTimeout:        GetDuration("HEALTH_TIMEOUT_MS", 8000, time.Millisecond),
		HealthRetries:        GetInt("HEALTH_RETRIES", 5),
		RedisAddr:            GetString("REDIS_ADDR", ""),
		RedisPassword:        GetString("REDIS_PASSWORD", ""),
		RedisDB:              GetInt("REDIS_DB", 0),
		NotifyChannel:        GetString("NOTIFY_CHANNEL", "brail_events"),
		RateLimitPublic:      GetInt("RATE_LIMIT_PUBLIC_PER_MIN", 600),
		RateLimitAPI:         GetInt("RATE_LIMIT_API_PER_MIN", 120),
		LogLevel:             GetString("LOG_LEVEL", "info"),
		LogFormat:            GetString("LOG_FORMAT", "json"),
		LogBuffer:            GetInt("WS_LOG_BUFFER", 100),
	}
}

// SiteURL returns the public address of a site. With a domain suffix the
// site is addressed by host, otherwise by path under PublicBaseURL.
func (c BrailConfig) SiteURL(siteID string) string {
	base := strings.TrimRight(c.PublicBaseURL, "/")
	if c.PublicDomainSuffix == "" {
		return base + "/_site/" + siteID + "/"
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return "http://" + siteID + c.PublicDomainSuffix + "/"
	}
	host := siteID + c.PublicDomainSuffix
	if port := parsed.Port(); port != "" {
		host += ":" + port
	}
	return parsed.Scheme + "://" + host + "/"
}
