package downloadcfg

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries process settings for the orchestrator, the transfer client
// and the HTTP surface.
type Config struct {
	Addr string
	// StorageDir is where completed artifacts live. Empty means the
	// platform cache directory.
	StorageDir string
	TempDir    string
	Extension  string
	// HeaderTimeout bounds the wait for response headers only; transfers
	// themselves are never timed out here.
	HeaderTimeout time.Duration
	// ProgressStep is the minimum fraction delta between progress events.
	ProgressStep float64

	APIToken string

	LogFile  string
	LogMaxMB int
	LogLevel slog.Level

	// UsePostgres is set when POSTGRES_HOST is configured.
	UsePostgres bool
}

const (
	defaultAddr          = ":9090"
	defaultExtension     = ".mp4"
	defaultHeaderTimeout = 10 * time.Second
	defaultProgressStep  = 0.01
	defaultLogMaxMB      = 50
)

// Load reads the given dotenv files (".env" when none are given) into the
// process environment without overriding variables that are already set,
// then builds the Config. Missing files are ignored.
func Load(files ...string) Config {
	_ = godotenv.Load(files...)
	return FromEnv()
}

// FromEnv builds a Config from the environment. Invalid values fall back
// to their defaults.
func FromEnv() Config {
	c := Config{
		Addr:          getenv("VODCACHE_ADDR", defaultAddr),
		StorageDir:    strings.TrimSpace(os.Getenv("VODCACHE_STORAGE_DIR")),
		TempDir:       strings.TrimSpace(os.Getenv("VODCACHE_TEMP_DIR")),
		Extension:     getenv("VODCACHE_EXTENSION", defaultExtension),
		HeaderTimeout: defaultHeaderTimeout,
		ProgressStep:  defaultProgressStep,
		APIToken:      os.Getenv("VODCACHE_API_TOKEN"),
		LogFile:       strings.TrimSpace(os.Getenv("VODCACHE_LOG_FILE")),
		LogMaxMB:      defaultLogMaxMB,
		LogLevel:      ParseLevel(os.Getenv("VODCACHE_LOG_LEVEL")),
		UsePostgres:   os.Getenv("POSTGRES_HOST") != "",
	}
	if v := os.Getenv("VODCACHE_HEADER_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.HeaderTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("VODCACHE_PROGRESS_STEP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f < 1 {
			c.ProgressStep = f
		}
	}
	if v := os.Getenv("VODCACHE_LOG_MAX_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LogMaxMB = n
		}
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	return c
}

// ParseLevel converts a level name to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
