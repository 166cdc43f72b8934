package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path    string `mapstructure:"path"`
	LogMode bool   `mapstructure:"log_mode"`
}

type SessionConfig struct {
	CookieName  string `mapstructure:"cookie_name"`
	LifetimeHrs int    `mapstructure:"lifetime_hours"`
	Secure      bool   `mapstructure:"secure"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type SecurityConfig struct {
	BcryptCost    int    `mapstructure:"bcrypt_cost"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

type StorageConfig struct {
	UploadRoot           string `mapstructure:"upload_root"`
	MaxUploadBytes       int64  `mapstructure:"max_upload_bytes"`
	AllowGlobalDownloads bool   `mapstructure:"allow_global_downloads"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

type BackupConfig struct {
	Dir string `mapstructure:"dir"`
}

type AppSubConfig struct {
	PageSize int `mapstructure:"page_size"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Security SecurityConfig `mapstructure:"security"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
	Backup   BackupConfig   `mapstructure:"backup"`
	App      AppSubConfig   `mapstructure:"app"`
}

var (
	appConfig *Config
	once      sync.Once
)

// Load loads configuration from given file path (e.g. "config.yaml").
// If path is empty, it defaults to "config.yaml" in current working directory.
func Load(path string) (*Config, error) {
	var err error
	once.Do(func() {
		v := viper.New()

		if path == "" {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
		} else {
			v.SetConfigFile(path)
		}

		// environment overrides, e.g. WH_SERVER_PORT=9000
		v.SetEnvPrefix("WH") // warehouse
		v.AutomaticEnv()

		if err = v.ReadInConfig(); err != nil {
			err = fmt.Errorf("read config: %w", err)
			return
		}

		var c Config
		if err = v.Unmarshal(&c); err != nil {
			err = fmt.Errorf("unmarshal config: %w", err)
			return
		}

		applyDefaults(&c)
		appConfig = &c
	})

	if err != nil {
		return nil, err
	}
	return appConfig, nil
}

func applyDefaults(c *Config) {
	if c.Session.CookieName == "" {
		c.Session.CookieName = "wh_session"
	}
	if c.Session.LifetimeHrs <= 0 {
		c.Session.LifetimeHrs = 24
	}
	if c.Security.BcryptCost <= 0 {
		c.Security.BcryptCost = 12
	}
	if c.Storage.UploadRoot == "" {
		c.Storage.UploadRoot = "uploads"
	}
	if c.Storage.MaxUploadBytes <= 0 {
		c.Storage.MaxUploadBytes = 64 << 20
	}
	if c.App.PageSize <= 0 {
		c.App.PageSize = 20
	}
}

// Get returns the loaded global configuration.
// Call Load() once at application startup.
func Get() *Config {
	return appConfig
}
