package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/repairjourney-backend/internal/data/db"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
	"github.com/yungbote/repairjourney-backend/internal/utils"
)

// Config is read once at startup. Values from CONFIG_FILE (YAML) act as
// defaults; environment variables win.
type Config struct {
	Port        string   `yaml:"port"`
	ServiceName string   `yaml:"service_name"`
	CORSOrigins []string `yaml:"cors_origins"`

	DBDriver         string `yaml:"db_driver"`
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresName     string `yaml:"postgres_name"`
	SQLitePath       string `yaml:"sqlite_path"`

	ObjectStorageMode         string `yaml:"object_storage_mode"`
	StorageEmulatorHost       string `yaml:"storage_emulator_host"`
	StorageModeCompatFallback bool   `yaml:"-"`
	JourneyBucket             string `yaml:"journey_bucket"`
	LocalFallbackDir          string `yaml:"local_fallback_dir"`

	UserStoreMode string        `yaml:"user_store_mode"`
	CacheMode     string        `yaml:"cache_mode"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	CacheTTL      time.Duration `yaml:"-"`
	CacheTTLSecs  int           `yaml:"cache_ttl_seconds"`

	CorpusScanConcurrency int  `yaml:"corpus_scan_concurrency"`
	MetricsEnabled        bool `yaml:"metrics_enabled"`
}

func defaultConfig() Config {
	return Config{
		Port:                  "8080",
		ServiceName:           "repairjourney",
		DBDriver:              db.DriverPostgres,
		PostgresHost:          "localhost",
		PostgresPort:          "5432",
		PostgresUser:          "postgres",
		PostgresName:          "repairjourney",
		SQLitePath:            "repairjourney.db",
		LocalFallbackDir:      "./data/fallback",
		UserStoreMode:         "relational",
		CacheMode:             "memory",
		CacheTTLSecs:          300,
		CorpusScanConcurrency: 4,
	}
}

// LoadConfig overlays CONFIG_FILE (if set) and then the environment onto the
// defaults.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := defaultConfig()
	if path := utils.GetEnv("CONFIG_FILE", "", log); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
		log.Info("Loaded config file", "path", path)
	}

	cfg.Port = utils.GetEnv("PORT", cfg.Port, log)
	cfg.ServiceName = utils.GetEnv("SERVICE_NAME", cfg.ServiceName, log)
	cfg.CORSOrigins = utils.GetEnvAsList("CORS_ORIGINS", cfg.CORSOrigins, log)

	cfg.DBDriver = strings.ToLower(utils.GetEnv("DB_DRIVER", cfg.DBDriver, log))
	cfg.PostgresHost = utils.GetEnv("POSTGRES_HOST", cfg.PostgresHost, log)
	cfg.PostgresPort = utils.GetEnv("POSTGRES_PORT", cfg.PostgresPort, log)
	cfg.PostgresUser = utils.GetEnv("POSTGRES_USER", cfg.PostgresUser, log)
	cfg.PostgresPassword = utils.GetEnv("POSTGRES_PASSWORD", cfg.PostgresPassword, log)
	cfg.PostgresName = utils.GetEnv("POSTGRES_NAME", cfg.PostgresName, log)
	cfg.SQLitePath = utils.GetEnv("SQLITE_PATH", cfg.SQLitePath, log)

	cfg.ObjectStorageMode = strings.ToLower(utils.GetEnv("OBJECT_STORAGE_MODE", cfg.ObjectStorageMode, log))
	cfg.StorageEmulatorHost = utils.GetEnv("STORAGE_EMULATOR_HOST", cfg.StorageEmulatorHost, log)
	if cfg.ObjectStorageMode == "" {
		cfg.ObjectStorageMode = "gcs"
		if cfg.StorageEmulatorHost != "" {
			cfg.ObjectStorageMode = "gcs_emulator"
			cfg.StorageModeCompatFallback = true
		}
	}
	cfg.JourneyBucket = utils.GetEnv("JOURNEY_GCS_BUCKET_NAME", cfg.JourneyBucket, log)
	cfg.LocalFallbackDir = utils.GetEnv("LOCAL_FALLBACK_DIR", cfg.LocalFallbackDir, log)

	cfg.UserStoreMode = strings.ToLower(utils.GetEnv("USER_STORE_MODE", cfg.UserStoreMode, log))
	cfg.CacheMode = strings.ToLower(utils.GetEnv("CACHE_MODE", cfg.CacheMode, log))
	cfg.RedisAddr = utils.GetEnv("REDIS_ADDR", cfg.RedisAddr, log)
	cfg.RedisPassword = utils.GetEnv("REDIS_PASSWORD", cfg.RedisPassword, log)
	cfg.CacheTTLSecs = utils.GetEnvAsInt("CACHE_TTL_SECONDS", cfg.CacheTTLSecs, log)
	cfg.CacheTTL = time.Duration(cfg.CacheTTLSecs) * time.Second

	cfg.CorpusScanConcurrency = utils.GetEnvAsInt("CORPUS_SCAN_CONCURRENCY", cfg.CorpusScanConcurrency, log)
	cfg.MetricsEnabled = utils.GetEnvAsBool("METRICS_ENABLED", cfg.MetricsEnabled, log)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) validate() error {
	switch c.DBDriver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.CacheMode {
	case "memory", "none":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("CACHE_MODE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unsupported CACHE_MODE %q", c.CacheMode)
	}
	if c.LocalFallbackDir == "" {
		return fmt.Errorf("LOCAL_FALLBACK_DIR must not be empty")
	}
	return nil
}

func (c Config) DB() db.Config {
	return db.Config{
		Driver:           c.DBDriver,
		PostgresHost:     c.PostgresHost,
		PostgresPort:     c.PostgresPort,
		PostgresUser:     c.PostgresUser,
		PostgresPassword: c.PostgresPassword,
		PostgresName:     c.PostgresName,
		SQLitePath:       c.SQLitePath,
	}
}
