package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvPrefix+"_HOME", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalDBPath != filepath.Join(home, "local.db") {
		t.Errorf("LocalDBPath = %q", cfg.LocalDBPath)
	}
	if cfg.Auth.JWTDuration != 24*time.Hour {
		t.Errorf("JWTDuration = %v", cfg.Auth.JWTDuration)
	}
	if cfg.Reminders.Trigger != "calendar" {
		t.Errorf("Trigger = %q", cfg.Reminders.Trigger)
	}
	if cfg.DeletionGrace != 15*24*time.Hour {
		t.Errorf("DeletionGrace = %v", cfg.DeletionGrace)
	}
	if !cfg.PushOnEdit {
		t.Error("PushOnEdit should default to true")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvPrefix+"_HOME", home)
	t.Setenv(EnvPrefix+"_API_URL", "https://cloud.example/")
	t.Setenv(EnvPrefix+"_REMINDERS_TRIGGER", "interval")
	t.Setenv(EnvPrefix+"_AUTH_JWT_TTL", "2h")
	t.Setenv(EnvPrefix+"_SYNC_PUSH_ON_EDIT", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "https://cloud.example" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.Reminders.Trigger != "interval" {
		t.Errorf("Trigger = %q", cfg.Reminders.Trigger)
	}
	if cfg.Auth.JWTDuration != 2*time.Hour {
		t.Errorf("JWTDuration = %v", cfg.Auth.JWTDuration)
	}
	if cfg.PushOnEdit {
		t.Error("PushOnEdit not overridden")
	}
}

func TestLoadConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvPrefix+"_HOME", home)
	body := "grpc:\n  addr: \":5555\"\ncovers:\n  dir: /srv/covers\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Grpc.Addr != ":5555" {
		t.Errorf("Grpc.Addr = %q", cfg.Grpc.Addr)
	}
	if cfg.Covers.Dir != "/srv/covers" {
		t.Errorf("Covers.Dir = %q", cfg.Covers.Dir)
	}
}

func TestLoadRejectsUnknownTrigger(t *testing.T) {
	t.Setenv(EnvPrefix+"_HOME", t.TempDir())
	t.Setenv(EnvPrefix+"_REMINDERS_TRIGGER", "cron")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown trigger")
	}
}
