package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTempConfig writes content to a temporary YAML file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `app:
  name: "TestApp"
  version: "1.0"
channels:
  raw_buffer: 8
  processed_buffer: 2
reader:
  timeout: 3s
  forward_frames: true
processor:
  max_workers: 1
  batch_size: 10
  batch_timeout: 1s
writer:
  buffer:
    flush_interval: 5s
storage:
  s3:
    enabled: false
dashboard:
  enabled: true
  address: ":9100"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Reader.Timeout != 3*time.Second || !cfg.Reader.ForwardFrames {
		t.Errorf("unexpected reader config: %+v", cfg.Reader)
	}
	if cfg.Writer.Buffer.FlushInterval != 5*time.Second {
		t.Errorf("unexpected flush interval: %v", cfg.Writer.Buffer.FlushInterval)
	}
	// keys absent from the file keep their defaults
	if cfg.Writer.Partitioning.TimeFormat != "{year}/{month}/{day}/{hour}" {
		t.Errorf("default time format not applied: %q", cfg.Writer.Partitioning.TimeFormat)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("default log format not applied: %q", cfg.Logging.Format)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Address != ":9100" || cfg.Dashboard.RefreshInterval != 5*time.Second {
		t.Errorf("unexpected dashboard config: %+v", cfg.Dashboard)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := writeTempConfig(t, `processor:
  batch_size: 0
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for zero batch size")
	}
}

func TestLoadConfigS3EnvOverrides(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", " key ")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("S3_BUCKET", "kraken-ticks")

	path := writeTempConfig(t, `storage:
  s3:
    enabled: true
    bucket: "placeholder"
    region: "us-east-1"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	s3 := cfg.Storage.S3
	if s3.AccessKeyID != "key" || s3.SecretAccessKey != "secret" {
		t.Errorf("credentials not overridden: %+v", s3)
	}
	if s3.Region != "eu-west-1" || s3.Bucket != "kraken-ticks" {
		t.Errorf("region/bucket not overridden: %+v", s3)
	}
}

func TestValidateRejectsUnknownCompression(t *testing.T) {
	cfg := Default()
	cfg.Writer.Formats.Parquet.Compression = "brotli"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported compression")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := ResolveConfigPath(""); got != "config/config.production.yml" {
		t.Errorf("unexpected production path: %s", got)
	}
	if got := ResolveConfigPath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path should win, got %s", got)
	}

	t.Setenv("APP_ENV", "")
	if got := ResolveConfigPath(DefaultPath); got != DefaultPath {
		t.Errorf("unexpected development path: %s", got)
	}
	if AppEnvironment() != EnvironmentDevelopment {
		t.Errorf("expected development environment, got %s", AppEnvironment())
	}
	if IsProductionLike(EnvironmentDevelopment) || !IsProductionLike(EnvironmentStaging) {
		t.Error("IsProductionLike classification wrong")
	}
}
