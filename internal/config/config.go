package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SourceAPI      = "api"
	SourcePostgres = "postgres"
	SourceFile     = "file"
)

type Config struct {
	Source          string
	APIBaseURL      string
	SnapshotFile    string
	DatabaseURL     string
	Timetable       string
	HTTPTimeout     time.Duration
	SnapshotTTL     time.Duration
	SnapshotStale   time.Duration
	RefreshInterval time.Duration

	TickInterval      time.Duration
	FrameInterval     time.Duration
	AnimationDuration time.Duration
	CoordEpsilon      float64
	FocusTrainID      int64
	Location          *time.Location

	NATSURL         string
	NATSStreamName  string
	PublishFrames   bool
	LogNATSSubjects bool

	RedisAddr string
	RedisTTL  time.Duration

	HTTPAddr       string
	AllowedOrigins []string
	MetricsAddr    string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Source = strings.ToLower(getenvDefault("SOURCE", SourceAPI))
	switch cfg.Source {
	case SourceAPI:
		cfg.APIBaseURL = strings.TrimRight(getenvDefault("GAPEKA_API_URL", "https://gapeka2025.com/api/v1"), "/")
	case SourceFile:
		cfg.SnapshotFile = os.Getenv("SNAPSHOT_FILE")
		if cfg.SnapshotFile == "" {
			return nil, errors.New("SNAPSHOT_FILE must be set when SOURCE=file")
		}
	case SourcePostgres:
		dsn, err := databaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
		cfg.Timetable = os.Getenv("TIMETABLE")
	default:
		return nil, fmt.Errorf("invalid SOURCE: %q (want api, postgres or file)", cfg.Source)
	}

	var err error
	if cfg.TickInterval, err = durationMs("TICK_INTERVAL_MS", time.Second); err != nil {
		return nil, err
	}
	if cfg.FrameInterval, err = durationMs("FRAME_INTERVAL_MS", 16*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.AnimationDuration, err = durationMs("ANIMATION_DURATION_MS", 900*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = durationMs("HTTP_TIMEOUT_MS", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = durationSec("REFRESH_INTERVAL_SEC", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SnapshotTTL, err = durationSec("SNAPSHOT_CACHE_TTL_SEC", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SnapshotStale, err = durationSec("SNAPSHOT_MAX_STALE_SEC", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RedisTTL, err = durationSec("REDIS_TTL_SEC", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.CoordEpsilon = 1e-6
	if v := os.Getenv("COORD_EPSILON"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid COORD_EPSILON: %q", v)
		}
		cfg.CoordEpsilon = f
	}

	if v := os.Getenv("FOCUS_TRAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid FOCUS_TRAIN_ID: %q", v)
		}
		cfg.FocusTrainID = id
	}

	// Empty NATS_URL / REDIS_ADDR / METRICS_ADDR disables that output.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSStreamName = os.Getenv("NATS_STREAM_NAME")
	cfg.PublishFrames = parseBool(os.Getenv("PUBLISH_FRAMES"))
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.AllowedOrigins = splitList(getenvDefault("CORS_ALLOWED_ORIGINS", "*"))

	// Time zone of the timetable
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars.
func databaseURL() (string, error) {
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	// With TIMETABLE the base DB only serves import lookups.
	if db == "" && os.Getenv("TIMETABLE") != "" {
		db = "postgres"
	}
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using TIMETABLE)")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func durationMs(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func durationSec(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
