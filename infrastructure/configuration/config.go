package configuration

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"social-publisher/infrastructure/logger"

	"github.com/spf13/viper"
)

// Config is loaded once at startup and handed to components by value; the
// publishing core never reads ambient configuration.
type Config struct {
	App         App         `json:"app"`
	Database    Database    `json:"database"`
	RedisClient RedisClient `json:"redisClient"`
	Logger      Logger      `json:"logger"`
	OAuth       OAuth       `json:"oauth"`
	RateLimit   RateLimit   `json:"rateLimit"`
	Cache       Cache       `json:"cache"`
	Media       Media       `json:"media"`
}

type App struct {
	Port      int    `json:"port"`
	SecretKey string `json:"secretKey"`
}

type Database struct {
	Psql Db `json:"psql"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisClient struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type Logger struct {
	Format string `json:"format"`
}

// OAuth holds per-platform client credentials.
type OAuth struct {
	YouTube   OAuthClient `json:"youtube"`
	Facebook  OAuthClient `json:"facebook"`
	Instagram OAuthClient `json:"instagram"`
	TikTok    OAuthClient `json:"tiktok"`
	Threads   OAuthClient `json:"threads"`
}

type OAuthClient struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RedirectURI  string `json:"redirectURI"`
}

// RateLimit configures the per-platform fixed window.
type RateLimit struct {
	Enabled       bool `json:"enabled"`
	Limit         int  `json:"limit"`
	WindowSeconds int  `json:"windowSeconds"`
}

// Window returns the configured window length.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Cache configures the response cache for idempotent reads.
type Cache struct {
	Enabled    bool   `json:"enabled"`
	Prefix     string `json:"prefix"`
	TTLSeconds int    `json:"ttlSeconds"`
}

func (c Cache) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Media holds the public base URL used to expose local video files to
// platforms that ingest by URL (Instagram, Threads).
type Media struct {
	PublicBaseURL string `json:"publicBaseURL"`
}

// Load reads config(-ENV).json via viper with env overrides and fills
// defaults. Missing config files are tolerated (env-only deployments).
func Load() (*Config, error) {
	name := configName()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
	return cfg, nil
}

func configName() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.App.SecretKey = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = p
		}
	}
	if v := os.Getenv("DB_NAME"); cfg.Database.Psql.Name == "" && v != "" {
		cfg.Database.Psql.Name = v
	}
	if v := os.Getenv("DB_HOST"); cfg.Database.Psql.Host == "" && v != "" {
		cfg.Database.Psql.Host = v
	}
	if v := os.Getenv("DB_PORT"); cfg.Database.Psql.Port == "" && v != "" {
		cfg.Database.Psql.Port = v
	}
	if v := os.Getenv("DB_USER"); cfg.Database.Psql.User == "" && v != "" {
		cfg.Database.Psql.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); cfg.Database.Psql.Password == "" && v != "" {
		cfg.Database.Psql.Password = v
	}

	type cred struct {
		client *OAuthClient
		prefix string
	}
	for _, c := range []cred{
		{&cfg.OAuth.YouTube, "YOUTUBE"},
		{&cfg.OAuth.Facebook, "FACEBOOK"},
		{&cfg.OAuth.Instagram, "INSTAGRAM"},
		{&cfg.OAuth.TikTok, "TIKTOK"},
		{&cfg.OAuth.Threads, "THREADS"},
	} {
		if v := os.Getenv(c.prefix + "_CLIENT_ID"); c.client.ClientID == "" && v != "" {
			c.client.ClientID = v
		}
		if v := os.Getenv(c.prefix + "_CLIENT_SECRET"); c.client.ClientSecret == "" && v != "" {
			c.client.ClientSecret = v
		}
		if v := os.Getenv(c.prefix + "_REDIRECT_URI"); c.client.RedirectURI == "" && v != "" {
			c.client.RedirectURI = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Port == 0 {
		cfg.App.Port = 10001
	}
	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = 100
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "social"
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 300
	}
	if cfg.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; API authentication will fail. Provide SECRET_KEY via environment.")
	}
}
