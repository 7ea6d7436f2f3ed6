package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STATIONSTORE_"

// FileEnv names the variable that points at an optional YAML config file.
const FileEnv = EnvPrefix + "CONFIG"

// Blob drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverEtcd   = "etcd"
	DriverHTTP   = "http"
)

// Config lists the tunable parameters for the station store server.
type Config struct {
	HTTPPort      int                `yaml:"http_port" env:"HTTP_PORT"`
	LogLevel      string             `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat     string             `yaml:"log_format" env:"LOG_FORMAT"`
	PublicBaseURL string             `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	NodeID        int64              `yaml:"node_id" env:"NODE_ID"`
	MDNS          bool               `yaml:"mdns" env:"MDNS"`
	Snapshot      SnapshotConfig     `yaml:"snapshot" envPrefix:"SNAPSHOT_"`
	Blob          BlobConfig         `yaml:"blob" envPrefix:"BLOB_"`
	Assets        AssetsConfig       `yaml:"assets" envPrefix:"ASSETS_"`
	Auth          AuthConfig         `yaml:"auth" envPrefix:"AUTH_"`
	Invalidation  InvalidationConfig `yaml:"invalidation" envPrefix:"INVALIDATE_"`
}

// SnapshotConfig locates the build-time station file.
type SnapshotConfig struct {
	Path     string        `yaml:"path" env:"PATH"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// BlobConfig selects and configures the blob tier.
type BlobConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"`
	WriteToken      string        `yaml:"write_token" env:"WRITE_TOKEN"`
	SQLitePath      string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
	EtcdEndpoints   []string      `yaml:"etcd_endpoints" env:"ETCD_ENDPOINTS" envSeparator:","`
	EtcdPrefix      string        `yaml:"etcd_prefix" env:"ETCD_PREFIX"`
	EtcdDialTimeout time.Duration `yaml:"etcd_dial_timeout" env:"ETCD_DIAL_TIMEOUT"`
	HTTPEndpoint    string        `yaml:"http_endpoint" env:"HTTP_ENDPOINT"`
	HTTPToken       string        `yaml:"http_token" env:"HTTP_TOKEN"`
}

// AssetsConfig bounds the derived cover images.
type AssetsConfig struct {
	MaxDimension   int   `yaml:"max_dimension" env:"MAX_DIMENSION"`
	MaxPixels      int   `yaml:"max_pixels" env:"MAX_PIXELS"`
	Quality        int   `yaml:"quality" env:"QUALITY"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
}

// AuthConfig holds the admin token secret. An empty secret disables the
// admin API.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// InvalidationConfig selects where cache invalidations go.
type InvalidationConfig struct {
	WebhookURL    string      `yaml:"webhook_url" env:"WEBHOOK_URL"`
	WebhookSecret string      `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	MQTTBroker    string      `yaml:"mqtt_broker" env:"MQTT_BROKER"`
	TopicPrefix   string      `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	HubBind       string      `yaml:"hub_bind" env:"HUB_BIND"`
	Paths         PathsConfig `yaml:"paths" envPrefix:"PATH_"`
}

// PathsConfig names the cached views refreshed after a mutation.
type PathsConfig struct {
	Listing      string `yaml:"listing" env:"LISTING"`
	Admin        string `yaml:"admin" env:"ADMIN"`
	DetailPrefix string `yaml:"detail_prefix" env:"DETAIL_PREFIX"`
}

const (
	defaultHTTPPort       = 8080
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultPublicBaseURL  = "http://localhost:8080/blob"
	defaultSnapshotPath   = "data/stations.json"
	defaultSQLitePath     = "data/stationstore.db"
	defaultEtcdPrefix     = "/stationstore/"
	defaultEtcdDial       = 5 * time.Second
	defaultMaxDimension   = 800
	defaultMaxPixels      = 50_000_000
	defaultQuality        = 85
	defaultMaxUploadBytes = 10 << 20
	defaultTopicPrefix    = "stationstore"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPPort:      defaultHTTPPort,
		LogLevel:      defaultLogLevel,
		LogFormat:     defaultLogFormat,
		PublicBaseURL: defaultPublicBaseURL,
		Snapshot:      SnapshotConfig{Path: defaultSnapshotPath},
		Blob: BlobConfig{
			Driver:          DriverSQLite,
			SQLitePath:      defaultSQLitePath,
			EtcdPrefix:      defaultEtcdPrefix,
			EtcdDialTimeout: defaultEtcdDial,
		},
		Assets: AssetsConfig{
			MaxDimension:   defaultMaxDimension,
			MaxPixels:      defaultMaxPixels,
			Quality:        defaultQuality,
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		Invalidation: InvalidationConfig{
			TopicPrefix: defaultTopicPrefix,
			Paths: PathsConfig{
				Listing:      "/",
				Admin:        "/admin",
				DetailPrefix: "/estacion/",
			},
		},
	}
}

// Load derives configuration from defaults, the YAML file named by
// STATIONSTORE_CONFIG (if any) and STATIONSTORE_* environment variables, in
// that order.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(FileEnv))
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid http_port %d", c.HTTPPort))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid log_format %q", c.LogFormat))
	}
	if c.Snapshot.Path == "" {
		errs = append(errs, errors.New("snapshot.path is required"))
	}
	if c.Snapshot.CacheTTL < 0 {
		errs = append(errs, errors.New("snapshot.cache_ttl must not be negative"))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("node_id %d out of range 0-1023", c.NodeID))
	}

	switch c.Blob.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Blob.SQLitePath == "" {
			errs = append(errs, errors.New("blob.sqlite_path is required for the sqlite driver"))
		}
	case DriverEtcd:
		if len(c.Blob.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("blob.etcd_endpoints is required for the etcd driver"))
		}
	case DriverHTTP:
		if c.Blob.HTTPEndpoint == "" {
			errs = append(errs, errors.New("blob.http_endpoint is required for the http driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob.driver %q", c.Blob.Driver))
	}
	if c.Blob.Driver != DriverHTTP && c.PublicBaseURL == "" {
		errs = append(errs, errors.New("public_base_url is required"))
	}

	if c.Assets.MaxDimension <= 0 {
		errs = append(errs, errors.New("assets.max_dimension must be positive"))
	}
	if c.Assets.MaxPixels <= 0 {
		errs = append(errs, errors.New("assets.max_pixels must be positive"))
	}
	if c.Assets.Quality < 1 || c.Assets.Quality > 100 {
		errs = append(errs, fmt.Errorf("assets.quality %d out of range 1-100", c.Assets.Quality))
	}
	if c.Assets.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("assets.max_upload_bytes must be positive"))
	}
	return errors.Join(errs...)
}
