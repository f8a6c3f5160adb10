package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CHAPTERTRACK"

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTDuration time.Duration
}

type GrpcConfig struct {
	Addr string
}

type CoversConfig struct {
	Dir     string
	BaseURL string
}

type RemindersConfig struct {
	Trigger      string // "interval" or "calendar"
	PollInterval time.Duration
}

// Config is shared by the server binaries and the CLI; each reads the
// parts it needs.
type Config struct {
	Home string

	LocalDBPath  string
	ServerDBPath string
	TokenPath    string
	LogFile      string

	APIURL      string
	APIAddr     string
	SyncTCPAddr string
	NotifyAddr  string

	Auth      AuthConfig
	Grpc      GrpcConfig
	Covers    CoversConfig
	Reminders RemindersConfig

	TombstoneRetention time.Duration
	PushOnEdit         bool // send single edits to the cloud right away
	DeletionGrace      time.Duration
	PurgeInterval      time.Duration
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".chaptertrack")
}

func newViper(home string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("home", home)
	v.SetDefault("db.path", filepath.Join(home, "local.db"))
	v.SetDefault("server.db_path", filepath.Join(home, "cloud.db"))
	v.SetDefault("token.path", filepath.Join(home, "token.json"))
	v.SetDefault("log.file", "")

	v.SetDefault("api.url", "http://localhost:8080")
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("sync.tcp_addr", ":7070")
	v.SetDefault("notify.addr", "127.0.0.1:9091")
	v.SetDefault("grpc.addr", ":9092")

	// dev default (change for any real deployment)
	v.SetDefault("auth.jwt_secret", "dev-secret-change-me")
	v.SetDefault("auth.jwt_issuer", "chaptertrack")
	v.SetDefault("auth.jwt_ttl", 24*time.Hour)

	v.SetDefault("covers.dir", filepath.Join(home, "covers"))
	v.SetDefault("covers.base_url", "http://localhost:8080")

	v.SetDefault("reminders.trigger", "calendar")
	v.SetDefault("reminders.poll_interval", 30*time.Second)

	v.SetDefault("sync.tombstone_retention", 30*24*time.Hour)
	v.SetDefault("sync.push_on_edit", true)
	v.SetDefault("account.deletion_grace", 15*24*time.Hour)
	v.SetDefault("account.purge_interval", 24*time.Hour)

	v.SetConfigName("config")
	v.AddConfigPath(home)
	v.AddConfigPath(".")
	return v
}

// Load reads defaults, then ~/.chaptertrack/config.{yaml,toml,json},
// then CHAPTERTRACK_* environment variables.
func Load() (Config, error) {
	home := defaultHome()
	if h := os.Getenv(EnvPrefix + "_HOME"); h != "" {
		home = h
	}
	v := newViper(home)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Home:         v.GetString("home"),
		LocalDBPath:  v.GetString("db.path"),
		ServerDBPath: v.GetString("server.db_path"),
		TokenPath:    v.GetString("token.path"),
		LogFile:      v.GetString("log.file"),
		APIURL:       strings.TrimRight(v.GetString("api.url"), "/"),
		APIAddr:      v.GetString("api.addr"),
		SyncTCPAddr:  v.GetString("sync.tcp_addr"),
		NotifyAddr:   v.GetString("notify.addr"),
		Auth: AuthConfig{
			JWTSecret:   v.GetString("auth.jwt_secret"),
			JWTIssuer:   v.GetString("auth.jwt_issuer"),
			JWTDuration: v.GetDuration("auth.jwt_ttl"),
		},
		Grpc: GrpcConfig{Addr: v.GetString("grpc.addr")},
		Covers: CoversConfig{
			Dir:     v.GetString("covers.dir"),
			BaseURL: strings.TrimRight(v.GetString("covers.base_url"), "/"),
		},
		Reminders: RemindersConfig{
			Trigger:      v.GetString("reminders.trigger"),
			PollInterval: v.GetDuration("reminders.poll_interval"),
		},
		TombstoneRetention: v.GetDuration("sync.tombstone_retention"),
		PushOnEdit:         v.GetBool("sync.push_on_edit"),
		DeletionGrace:      v.GetDuration("account.deletion_grace"),
		PurgeInterval:      v.GetDuration("account.purge_interval"),
	}

	if cfg.Auth.JWTDuration <= 0 {
		// fallback to 24h on a bad ttl
		cfg.Auth.JWTDuration = 24 * time.Hour
	}
	if cfg.Reminders.Trigger != "interval" && cfg.Reminders.Trigger != "calendar" {
		return Config{}, fmt.Errorf("reminders.trigger must be interval or calendar, got %q", cfg.Reminders.Trigger)
	}
	return cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func LoadAuthConfig() AuthConfig {
	return MustLoad().Auth
}

func LoadGrpcConfig() GrpcConfig {
	return MustLoad().Grpc
}
