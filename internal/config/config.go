package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PORTAL"

// Config represents runtime configuration for the portal service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Feed        FeedConfig                `mapstructure:"feed"`
	Audio       AudioConfig               `mapstructure:"audio"`
	SeedUsers   []SeedUser                `mapstructure:"seed_users"`
	Modules     []ModuleConfig            `mapstructure:"modules"`
}

type BasicConfig struct {
	ServerAddress  string `mapstructure:"server_address"`
	Env            string `mapstructure:"env"`
	LogLevel       string `mapstructure:"log_level"`
	DBType         string `mapstructure:"db_type"`
	TabIdleTimeout int    `mapstructure:"tab_idle_timeout"` // minutes
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig selects where the browser-profile key-value data lives and
// how change notifications travel between tabs.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`  // memory, sql, redis
	Notifier   string `mapstructure:"notifier"` // local, redis
	QuotaBytes int    `mapstructure:"quota_bytes"`
}

type FeedConfig struct {
	Passkey      string `mapstructure:"passkey"`
	DraftTTL     int    `mapstructure:"draft_ttl"`      // minutes
	ReapInterval int    `mapstructure:"reap_interval"` // minutes
}

type AudioConfig struct {
	Device    string `mapstructure:"device"`
	MediaType string `mapstructure:"media_type"`
}

type SeedUser struct {
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type ModuleConfig struct {
	Title      string `mapstructure:"title"`
	CoverImage string `mapstructure:"cover_image"`
	PDFURL     string `mapstructure:"pdf_url"`
}

// Load reads configuration from the provided path (defaults to config.json).
// Values may be overridden with PORTAL_* environment variables, including
// those declared in a local .env file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(absPath)
	v.SetConfigType(configType(absPath))
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing file is fine: defaults and environment still apply.
	if _, err := os.Stat(absPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config %s: %w", absPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.normalize(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.env", "development")
	v.SetDefault("basic_config.log_level", "info")
	v.SetDefault("basic_config.db_type", "sqlite3")
	v.SetDefault("basic_config.tab_idle_timeout", 30)
	v.SetDefault("storage.backend", "sql")
	v.SetDefault("storage.notifier", "local")
	v.SetDefault("feed.passkey", "admin123")
	v.SetDefault("feed.draft_ttl", 15)
	v.SetDefault("feed.reap_interval", 1)
	v.SetDefault("audio.media_type", "audio/webm")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func (c *Config) normalize(baseDir string) error {
	c.BasicConfig.DBType = strings.ToLower(strings.TrimSpace(c.BasicConfig.DBType))
	switch c.Storage.Backend {
	case "memory", "sql", "redis":
	default:
		return fmt.Errorf("unsupported storage backend: %q", c.Storage.Backend)
	}
	switch c.Storage.Notifier {
	case "local", "redis":
	default:
		return fmt.Errorf("unsupported storage notifier: %q", c.Storage.Notifier)
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "portal.db"}
	}
	for name, db := range c.Databases {
		if (name == "sqlite" || name == "sqlite3") && db.DSN != "" && db.DSN != ":memory:" &&
			!strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(baseDir, db.DSN)
			c.Databases[name] = db
		}
	}
	if c.Audio.Device != "" && !filepath.IsAbs(c.Audio.Device) {
		c.Audio.Device = filepath.Join(baseDir, c.Audio.Device)
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.BasicConfig.Env == "" || c.BasicConfig.Env == "development"
}
