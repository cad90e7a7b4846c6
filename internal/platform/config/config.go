package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	liststr "organlink/pkg/platform/strings"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreMemory   = "memory"
	StorePgx      = "pgx"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	AnchorNone    = "none"
	AnchorLevelDB = "leveldb"
	AnchorS3      = "s3"

	devSigningKey = "dev-secret-key-change-in-production"
)

// Config is the full process configuration, read once at startup.
type Config struct {
	Environment string
	Server      Server
	Store       Store
	Redis       RedisConfig
	Kafka       Kafka
	Anchor      Anchor
	Distance    Distance
	Auth        Auth
	RateLimit   RateLimit
	Allocation  Allocation
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AdminToken      string
	SeedDemoData    bool
}

type Store struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Kafka struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
	QueueSize         int
}

type Anchor struct {
	Driver      string
	Timeout     time.Duration
	LevelDBPath string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

type Distance struct {
	RouteURL         string
	Timeout          time.Duration
	CacheTTL         time.Duration
	FallbackSpeedKmh float64
	FailureThreshold int
	Cooldown         time.Duration
}

type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	TokenTTL      time.Duration
}

// RateLimit budgets are per caller per window. Redis makes them shared
// across instances when configured.
type RateLimit struct {
	Enabled       bool
	ReadRequests  int
	WriteRequests int
	Window        time.Duration
}

type Allocation struct {
	LockTimeout          time.Duration
	CandidateConcurrency int
	DistanceTimeout      time.Duration
}

// Load reads a .env file when present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Environment: getEnv("ORGANLINK_ENV", EnvDevelopment),
		Server: Server{
			Addr:            getEnv("ORGANLINK_ADDR", ":8080"),
			ShutdownTimeout: getDuration("ORGANLINK_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getDuration("ORGANLINK_REQUEST_TIMEOUT", 30*time.Second),
			AdminToken:      os.Getenv("ORGANLINK_ADMIN_TOKEN"),
			SeedDemoData:    getBool("ORGANLINK_SEED_DEMO", false),
		},
		Store: Store{
			Driver: strings.ToLower(getEnv("ORGANLINK_STORE", StoreMemory)),
			DSN:    os.Getenv("ORGANLINK_DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:           getList("KAFKA_BROKERS"),
			Topic:             getEnv("KAFKA_NOTIFICATIONS_TOPIC", "organlink.notifications"),
			ClientID:          getEnv("KAFKA_CLIENT_ID", "organlink"),
			Partitions:        int32(getInt("KAFKA_PARTITIONS", 3)),
			ReplicationFactor: int16(getInt("KAFKA_REPLICATION_FACTOR", 1)),
			QueueSize:         getInt("NOTIFY_QUEUE_SIZE", 1024),
		},
		Anchor: Anchor{
			Driver:      strings.ToLower(getEnv("ANCHOR_DRIVER", AnchorNone)),
			Timeout:     getDuration("ANCHOR_TIMEOUT", 2*time.Second),
			LevelDBPath: getEnv("ANCHOR_LEVELDB_PATH", "data/anchors"),
			S3Bucket:    os.Getenv("ANCHOR_S3_BUCKET"),
			S3Prefix:    getEnv("ANCHOR_S3_PREFIX", "audit"),
			S3Region:    getEnv("ANCHOR_S3_REGION", "us-east-1"),
			S3Endpoint:  os.Getenv("ANCHOR_S3_ENDPOINT"),
			S3PathStyle: getBool("ANCHOR_S3_PATH_STYLE", false),
		},
		Distance: Distance{
			RouteURL:         os.Getenv("ROUTE_SERVICE_URL"),
			Timeout:          getDuration("ROUTE_SERVICE_TIMEOUT", 3*time.Second),
			CacheTTL:         getDuration("ROUTE_CACHE_TTL", 24*time.Hour),
			FallbackSpeedKmh: getFloat("ROUTE_FALLBACK_SPEED_KMH", 60),
			FailureThreshold: getInt("ROUTE_FAILURE_THRESHOLD", 5),
			Cooldown:         getDuration("ROUTE_COOLDOWN", 30*time.Second),
		},
		Auth: Auth{
			// Use a default for development - should be overridden in production
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", devSigningKey),
			JWTIssuer:     getEnv("JWT_ISSUER", "organlink"),
			JWTAudience:   getEnv("JWT_AUDIENCE", "organlink-api"),
			TokenTTL:      getDuration("JWT_TOKEN_TTL", 12*time.Hour),
		},
		RateLimit: RateLimit{
			Enabled:       getBool("RATE_LIMIT_ENABLED", true),
			ReadRequests:  getInt("RATE_LIMIT_READ_REQUESTS", 120),
			WriteRequests: getInt("RATE_LIMIT_WRITE_REQUESTS", 30),
			Window:        getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Allocation: Allocation{
			LockTimeout:          getDuration("ALLOCATION_LOCK_TIMEOUT", 5*time.Second),
			CandidateConcurrency: getInt("ALLOCATION_CANDIDATE_CONCURRENCY", 8),
			DistanceTimeout:      getDuration("ALLOCATION_DISTANCE_TIMEOUT", 2*time.Second),
		},
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Validate rejects combinations that would fail later at wiring time.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreMemory:
	case StorePgx, StorePostgres, StoreSQLite:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("ORGANLINK_DATABASE_URL required for store %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	switch c.Anchor.Driver {
	case AnchorNone, AnchorLevelDB:
	case AnchorS3:
		if c.Anchor.S3Bucket == "" {
			errs = append(errs, errors.New("ANCHOR_S3_BUCKET required for s3 anchor"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown anchor driver %q", c.Anchor.Driver))
	}

	if c.IsProduction() {
		if c.Auth.JWTSigningKey == devSigningKey {
			errs = append(errs, errors.New("JWT_SIGNING_KEY must be set in production"))
		}
		if c.Store.Driver == StoreMemory {
			errs = append(errs, errors.New("memory store is not allowed in production"))
		}
		if c.Server.SeedDemoData {
			errs = append(errs, errors.New("demo seed is not allowed in production"))
		}
	}
	if c.RateLimit.Enabled && (c.RateLimit.ReadRequests < 1 || c.RateLimit.WriteRequests < 1 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate limit budgets and window must be positive"))
	}
	if c.Allocation.CandidateConcurrency < 1 {
		errs = append(errs, errors.New("ALLOCATION_CANDIDATE_CONCURRENCY must be positive"))
	}
	if c.Allocation.LockTimeout <= 0 {
		errs = append(errs, errors.New("ALLOCATION_LOCK_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getList(key string) []string {
	return liststr.SplitList(os.Getenv(key), ",")
}
