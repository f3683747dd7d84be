package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/andresuchdata/thumbnailer/internal/naming"
	"github.com/andresuchdata/thumbnailer/internal/storage"
)

type Config struct {
	App     AppConfig
	Storage StorageConfig
	Naming  NamingConfig
	Server  ServerConfig
	Ledger  LedgerConfig
	Journal JournalConfig
}

type AppConfig struct {
	LogLevel                 string
	LogFormat                string
	InvocationTimeoutSeconds int
}

// InvocationTimeout is the per-invocation deadline; zero disables it.
func (a AppConfig) InvocationTimeout() time.Duration {
	if a.InvocationTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.InvocationTimeoutSeconds) * time.Second
}

type StorageConfig struct {
	Driver    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

func (s StorageConfig) StoreConfig() storage.Config {
	return storage.Config{
		Driver:    s.Driver,
		Endpoint:  s.Endpoint,
		Region:    s.Region,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		UseSSL:    s.UseSSL,
		PathStyle: s.PathStyle,
	}
}

// NamingConfig selects a preset and optional overrides. Nil pointers leave
// the preset's value alone.
type NamingConfig struct {
	Preset        string
	SourceMarker  *string
	PrimaryMarker *string
	PrimarySuffix *string
	ArchiveMarker *string
	KeyPrefix     *string
	DeleteSource  *bool
	ArchiveOn     *bool
}

// Policy builds the naming policy from the preset and overrides.
func (n NamingConfig) Policy() (naming.Policy, error) {
	p, err := naming.Preset(n.Preset)
	if err != nil {
		return naming.Policy{}, err
	}

	if n.SourceMarker != nil {
		p.Primary.Find = *n.SourceMarker
		if p.Archive != nil {
			p.Archive.Find = *n.SourceMarker
		}
	}
	if n.PrimaryMarker != nil {
		p.Primary.Replace = *n.PrimaryMarker
	}
	if n.PrimarySuffix != nil {
		p.Primary.Suffix = *n.PrimarySuffix
	}
	if n.ArchiveMarker != nil {
		if p.Archive == nil {
			p.Archive = &naming.BucketRule{Find: p.Primary.Find}
		}
		p.Archive.Replace = *n.ArchiveMarker
	}
	if n.KeyPrefix != nil {
		p.KeyPrefix = *n.KeyPrefix
	}
	if n.DeleteSource != nil {
		p.DeleteSource = *n.DeleteSource
	}
	if n.ArchiveOn != nil && !*n.ArchiveOn {
		p.Archive = nil
	}
	if n.ArchiveOn != nil && *n.ArchiveOn && p.Archive == nil {
		return naming.Policy{}, fmt.Errorf("archive enabled but preset %q has no archive rule and NAMING_ARCHIVE_MARKER is unset", n.Preset)
	}
	return p, nil
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type LedgerConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	TTLSeconds    int
	KeyPrefix     string
}

type JournalConfig struct {
	Enabled bool
	Driver  string
	DSN     string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env and the environment once and returns the shared config.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		SetDefaults(viper.GetViper())
		viper.AutomaticEnv()

		instance = FromViper(viper.GetViper())
	})

	return instance
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("INVOCATION_TIMEOUT_SECONDS", 30)

	v.SetDefault("STORAGE_DRIVER", storage.DriverS3)
	v.SetDefault("STORAGE_ENDPOINT", "")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_USE_SSL", true)
	v.SetDefault("STORAGE_PATH_STYLE", false)

	v.SetDefault("NAMING_PRESET", "relocate")

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "release")
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 60)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{})

	v.SetDefault("LEDGER_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LEDGER_TTL_SECONDS", 86400)
	v.SetDefault("LEDGER_KEY_PREFIX", "thumbnailer:done")

	v.SetDefault("JOURNAL_ENABLED", false)
	v.SetDefault("JOURNAL_DRIVER", "postgres")
	v.SetDefault("JOURNAL_DSN", "")
}

// FromViper builds a Config from v without touching the singleton.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			LogLevel:                 v.GetString("LOG_LEVEL"),
			LogFormat:                v.GetString("LOG_FORMAT"),
			InvocationTimeoutSeconds: v.GetInt("INVOCATION_TIMEOUT_SECONDS"),
		},
		Storage: StorageConfig{
			Driver:    strings.ToLower(v.GetString("STORAGE_DRIVER")),
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			Region:    v.GetString("STORAGE_REGION"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
			PathStyle: v.GetBool("STORAGE_PATH_STYLE"),
		},
		Naming: NamingConfig{
			Preset:        v.GetString("NAMING_PRESET"),
			SourceMarker:  optionalString(v, "NAMING_SOURCE_MARKER"),
			PrimaryMarker: optionalString(v, "NAMING_PRIMARY_MARKER"),
			PrimarySuffix: optionalString(v, "NAMING_PRIMARY_SUFFIX"),
			ArchiveMarker: optionalString(v, "NAMING_ARCHIVE_MARKER"),
			KeyPrefix:     optionalString(v, "NAMING_KEY_PREFIX"),
			DeleteSource:  optionalBool(v, "NAMING_DELETE_SOURCE"),
			ArchiveOn:     optionalBool(v, "NAMING_ARCHIVE_ENABLED"),
		},
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Ledger: LedgerConfig{
			Enabled:       v.GetBool("LEDGER_ENABLED"),
			RedisURL:      v.GetString("REDIS_URL"),
			RedisHost:     v.GetString("REDIS_HOST"),
			RedisPort:     v.GetString("REDIS_PORT"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTLSeconds:    v.GetInt("LEDGER_TTL_SECONDS"),
			KeyPrefix:     v.GetString("LEDGER_KEY_PREFIX"),
		},
		Journal: JournalConfig{
			Enabled: v.GetBool("JOURNAL_ENABLED"),
			Driver:  v.GetString("JOURNAL_DRIVER"),
			DSN:     v.GetString("JOURNAL_DSN"),
		},
	}
}

func optionalString(v *viper.Viper, key string) *string {
	if !v.IsSet(key) {
		return nil
	}
	s := v.GetString(key)
	return &s
}

func optionalBool(v *viper.Viper, key string) *bool {
	if !v.IsSet(key) {
		return nil
	}
	b := v.GetBool(key)
	return &b
}
