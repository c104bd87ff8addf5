package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultClampsWorkers(t *testing.T) {
	if got := Default(1).Pool.MaxConcurrentWorkers; got != 2 {
		t.Errorf("min clamp: %d", got)
	}
	if got := Default(32).Pool.MaxConcurrentWorkers; got != 8 {
		t.Errorf("max clamp: %d", got)
	}
	if got := Default(4).Pool.MaxConcurrentWorkers; got != 4 {
		t.Errorf("passthrough: %d", got)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), 4)
	if err != nil {
		t.Fatal(err)
	}
	if c.Pool.MaxConcurrentWorkers != 4 || c.Storage.DBPath != "mokuro.db" {
		t.Errorf("defaults: %+v", c)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "mokoro.yaml")
	c := Default(4)
	c.Storage.DBPath = "/data/library.db"
	c.Providers = []ProviderConfig{{
		Name:                     "google-drive",
		UploadConcurrencyLimit:   3,
		DownloadConcurrencyLimit: 2,
	}}
	if err := Save(c, path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	if got.Storage.DBPath != "/data/library.db" {
		t.Errorf("db path: %q", got.Storage.DBPath)
	}
	p := got.ProviderByName("google-drive")
	if p.UploadConcurrencyLimit != 3 || p.DownloadConcurrencyLimit != 2 {
		t.Errorf("provider: %+v", p)
	}
	if got.ProviderByName("unknown").Name != "unknown" {
		t.Error("unknown provider should get a zero-value entry with the name filled")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mokoro.yaml")
	if err := Save(Default(4), path); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOKURO_DB_PATH", "/override/db")
	t.Setenv("MOKURO_MAX_WORKERS", "6")
	c, err := Load(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	if c.Storage.DBPath != "/override/db" {
		t.Errorf("db override: %q", c.Storage.DBPath)
	}
	if c.Pool.MaxConcurrentWorkers != 6 {
		t.Errorf("worker override: %d", c.Pool.MaxConcurrentWorkers)
	}
}

func TestEncryptionKeyFromEnv(t *testing.T) {
	c := Default(4)
	os.Unsetenv(c.CredentialsEncryptionKeyEnv)
	if c.EncryptionKey() != nil {
		t.Error("unset env should yield nil key")
	}
	t.Setenv(c.CredentialsEncryptionKeyEnv, "hunter2")
	if string(c.EncryptionKey()) != "hunter2" {
		t.Error("env key not read")
	}
}
