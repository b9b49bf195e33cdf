package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "engagement/development"
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Snowflake struct {
		NodeID int64 `mapstructure:"NODE_ID"`
	} `mapstructure:"SNOWFLAKE"`
	Score struct {
		ClickWeight        float64 `mapstructure:"CLICK_WEIGHT"`
		LikeWeight         float64 `mapstructure:"LIKE_WEIGHT"`
		CompletenessWeight float64 `mapstructure:"COMPLETENESS_WEIGHT"`
		WindowHours        float64 `mapstructure:"WINDOW_HOURS"`
		BatchSize          int     `mapstructure:"BATCH_SIZE"`
	} `mapstructure:"SCORE"`
	Points struct {
		RuleCacheTTL time.Duration `mapstructure:"RULE_CACHE_TTL"`
	} `mapstructure:"POINTS"`
	Level struct {
		BaseUploadLimit int `mapstructure:"BASE_UPLOAD_LIMIT"`
	} `mapstructure:"LEVEL"`
	Moderation struct {
		LockThreshold  int64 `mapstructure:"LOCK_THRESHOLD"`
		DefaultTTLDays int   `mapstructure:"DEFAULT_TTL_DAYS"`
	} `mapstructure:"MODERATION"`
	Scheduler struct {
		Enable        bool          `mapstructure:"ENABLE"`
		RecomputeSpec string        `mapstructure:"RECOMPUTE_SPEC"`
		RebuildSpec   string        `mapstructure:"REBUILD_SPEC"`
		Timezone      string        `mapstructure:"TIMEZONE"`
		LockTTL       time.Duration `mapstructure:"LOCK_TTL"`
	} `mapstructure:"SCHEDULER"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "engagement")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("SNOWFLAKE.NODE_ID", 1)
	v.SetDefault("SCORE.CLICK_WEIGHT", 1.0)
	v.SetDefault("SCORE.LIKE_WEIGHT", 8.0)
	v.SetDefault("SCORE.COMPLETENESS_WEIGHT", 0.05)
	v.SetDefault("SCORE.WINDOW_HOURS", 48.0)
	v.SetDefault("SCORE.BATCH_SIZE", 200)
	v.SetDefault("POINTS.RULE_CACHE_TTL", time.Minute)
	v.SetDefault("LEVEL.BASE_UPLOAD_LIMIT", 5)
	v.SetDefault("MODERATION.LOCK_THRESHOLD", 3)
	v.SetDefault("MODERATION.DEFAULT_TTL_DAYS", 30)
	v.SetDefault("SCHEDULER.ENABLE", true)
	v.SetDefault("SCHEDULER.RECOMPUTE_SPEC", "0 * * * *")
	v.SetDefault("SCHEDULER.REBUILD_SPEC", "30 3 * * *")
	v.SetDefault("SCHEDULER.LOCK_TTL", 5*time.Minute)
	v.SetDefault("SCHEDULER.TIMEZONE", "UTC")
}

// Load reads config.yaml (if present) and the environment into a Config.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType(configType)
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadConfig(p Params) *Config {
	cfg, err := Load(config)
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applySecrets(context.Background(), p.Vault, cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	configHolder.Store(cfg)
	return cfg
}

func LoadRemote(p Params) *Config {
	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	setDefaults(config)
	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		zap.L().Error("failed to add remote config provider", zap.Error(err))
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		zap.L().Error("failed to read remote config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applySecrets(context.Background(), p.Vault, &cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var next Config
			if err := config.Unmarshal(&next); err != nil {
				zap.L().Error("unable to decode remote config", zap.Error(err))
				continue
			}
			// secrets are not part of the remote document
			next.Database.User = cfg.Database.User
			next.Database.Password = cfg.Database.Password
			next.Redis.Password = cfg.Redis.Password
			next.Flagsmith.ApiKey = cfg.Flagsmith.ApiKey
			configHolder.Store(&next)
		}
	}()

	return &cfg
}

// Current returns the most recently loaded configuration, including remote
// updates picked up by the watcher.
func Current() *Config {
	if v, ok := configHolder.Load().(*Config); ok {
		return v
	}
	return nil
}

func applySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("postgres_user", cfg.Database.User)
	cfg.Database.Password = get("postgres_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)
	return nil
}
