package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"DB_HOST", "DB_PORT", "HTTP_PORT", "JWT_SECRET",
		"NOTIFICATION_SERVICE_URL", "SCHEDULER_LOCAL_OFFSET",
		"SCHEDULER_WORKERS", "SCHEDULER_POLL_INTERVAL",
	} {
		os.Unsetenv(key)
	}

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.env"))
	if err != nil {
		t.Fatalf("missing .env must not be an error, got %v", err)
	}

	if cfg.HTTP.Port != 4000 {
		t.Errorf("http port = %d, want 4000", cfg.HTTP.Port)
	}
	if cfg.Scheduler.LocalOffset != 3*time.Hour {
		t.Errorf("local offset = %v, want 3h", cfg.Scheduler.LocalOffset)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.PollInterval != time.Second {
		t.Errorf("poll interval = %v, want 1s", cfg.Scheduler.PollInterval)
	}
	if cfg.Notification.BaseURL != "http://notification-service:3001" {
		t.Errorf("notification url = %q", cfg.Notification.BaseURL)
	}
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := `# comment line
DB_HOST=db.internal
HTTP_PORT=8080
SCHEDULER_LOCAL_OFFSET=2h
JWT_SECRET="quoted-secret"

malformed line without equals
`
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		for _, key := range []string{"DB_HOST", "HTTP_PORT", "SCHEDULER_LOCAL_OFFSET", "JWT_SECRET"} {
			os.Unsetenv(key)
		}
	})

	cfg, err := LoadConfig(envFile)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.DB.Host != "db.internal" {
		t.Errorf("db host = %q, want db.internal", cfg.DB.Host)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("http port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Scheduler.LocalOffset != 2*time.Hour {
		t.Errorf("local offset = %v, want 2h", cfg.Scheduler.LocalOffset)
	}
	if cfg.JWT.Secret != "quoted-secret" {
		t.Errorf("jwt secret = %q, want quotes stripped", cfg.JWT.Secret)
	}
}
