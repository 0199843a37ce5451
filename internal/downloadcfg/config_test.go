package downloadcfg

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"VODCACHE_ADDR", "VODCACHE_STORAGE_DIR", "VODCACHE_TEMP_DIR", "VODCACHE_EXTENSION",
	"VODCACHE_HEADER_TIMEOUT_MS", "VODCACHE_PROGRESS_STEP", "VODCACHE_API_TOKEN",
	"VODCACHE_LOG_FILE", "VODCACHE_LOG_MAX_MB", "VODCACHE_LOG_LEVEL", "POSTGRES_HOST",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		// t.Setenv registers the restore; Unsetenv then removes it for the test.
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantAddr    string
		wantTimeout time.Duration
		wantStep    float64
		wantMaxMB   int
		wantLevel   slog.Level
		wantPG      bool
	}{
		{
			name:        "defaults",
			wantAddr:    ":9090",
			wantTimeout: 10 * time.Second,
			wantStep:    0.01,
			wantMaxMB:   50,
			wantLevel:   slog.LevelInfo,
		},
		{
			name: "valid values",
			env: map[string]string{
				"VODCACHE_ADDR":              ":8081",
				"VODCACHE_HEADER_TIMEOUT_MS": "1500",
				"VODCACHE_PROGRESS_STEP":     "0.05",
				"VODCACHE_LOG_MAX_MB":        "10",
				"VODCACHE_LOG_LEVEL":         "debug",
				"POSTGRES_HOST":              "db",
			},
			wantAddr:    ":8081",
			wantTimeout: 1500 * time.Millisecond,
			wantStep:    0.05,
			wantMaxMB:   10,
			wantLevel:   slog.LevelDebug,
			wantPG:      true,
		},
		{
			name: "invalid numbers fall back",
			env: map[string]string{
				"VODCACHE_HEADER_TIMEOUT_MS": "-25",
				"VODCACHE_PROGRESS_STEP":     "2",
				"VODCACHE_LOG_MAX_MB":        "lots",
				"VODCACHE_LOG_LEVEL":         "loud",
			},
			wantAddr:    ":9090",
			wantTimeout: 10 * time.Second,
			wantStep:    0.01,
			wantMaxMB:   50,
			wantLevel:   slog.LevelInfo,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			c := FromEnv()
			if c.Addr != tc.wantAddr {
				t.Fatalf("addr: got %q want %q", c.Addr, tc.wantAddr)
			}
			if c.HeaderTimeout != tc.wantTimeout {
				t.Fatalf("timeout: got %v want %v", c.HeaderTimeout, tc.wantTimeout)
			}
			if c.ProgressStep != tc.wantStep {
				t.Fatalf("step: got %v want %v", c.ProgressStep, tc.wantStep)
			}
			if c.LogMaxMB != tc.wantMaxMB {
				t.Fatalf("log max: got %d want %d", c.LogMaxMB, tc.wantMaxMB)
			}
			if c.LogLevel != tc.wantLevel {
				t.Fatalf("level: got %v want %v", c.LogLevel, tc.wantLevel)
			}
			if c.UsePostgres != tc.wantPG {
				t.Fatalf("postgres: got %v want %v", c.UsePostgres, tc.wantPG)
			}
			if c.Extension != ".mp4" {
				t.Fatalf("extension: got %q", c.Extension)
			}
			if c.TempDir == "" {
				t.Fatalf("temp dir should default to the os temp dir")
			}
		})
	}
}

func TestLoadReadsDotenvWithoutOverriding(t *testing.T) {
	clearEnv(t)
	p := filepath.Join(t.TempDir(), "test.env")
	body := "VODCACHE_STORAGE_DIR=/srv/videos\nVODCACHE_ADDR=:7000\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("VODCACHE_ADDR", ":7001")

	c := Load(p)
	if c.StorageDir != "/srv/videos" {
		t.Fatalf("storage dir: got %q", c.StorageDir)
	}
	if c.Addr != ":7001" {
		t.Fatalf("existing env was overridden: %q", c.Addr)
	}
	// godotenv.Load sets variables with os.Setenv; drop what it added.
	_ = os.Unsetenv("VODCACHE_STORAGE_DIR")
}

func TestLoadMissingFileIgnored(t *testing.T) {
	clearEnv(t)
	c := Load(filepath.Join(t.TempDir(), "absent.env"))
	if c.Addr != ":9090" {
		t.Fatalf("addr: got %q", c.Addr)
	}
}
