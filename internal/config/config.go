// Package config provides configuration management for lectern.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Defaults.
const (
	DefaultWorkerHost          = "127.0.0.1"
	DefaultWorkerPort          = 37790
	DefaultSimilarityThreshold = 0.7
	DefaultTopClusters         = 5
	DefaultReportTimeout       = 30 * time.Second
	DefaultCacheTTL            = 15 * time.Minute
	DefaultDBDriver            = "sqlite"
	DefaultMaxConns            = 4
	DefaultLogLevel            = "info"

	dataDirName  = ".lectern"
	dbFileName   = "lectern.db"
	settingsFile = "settings.json"
	coursesFile  = "courses.yaml"
)

// Environment variable and settings.json key names.
const (
	EnvDataDir             = "LECTERN_DATA_DIR"
	EnvWorkerHost          = "LECTERN_WORKER_HOST"
	EnvWorkerPort          = "LECTERN_WORKER_PORT"
	EnvReportEndpoint      = "LECTERN_REPORT_ENDPOINT"
	EnvReportTimeout       = "LECTERN_REPORT_TIMEOUT"
	EnvSimilarityThreshold = "LECTERN_SIMILARITY_THRESHOLD"
	EnvTopClusters         = "LECTERN_TOP_CLUSTERS"
	EnvDBDriver            = "LECTERN_DB_DRIVER"
	EnvDBPath              = "LECTERN_DB_PATH"
	EnvDBDSN               = "LECTERN_DB_DSN"
	EnvDBMaxConns          = "LECTERN_DB_MAX_CONNS"
	EnvRedisURL            = "LECTERN_REDIS_URL"
	EnvCacheTTL            = "LECTERN_CACHE_TTL"
	EnvCoursesFile         = "LECTERN_COURSES_FILE"
	EnvLogLevel            = "LECTERN_LOG_LEVEL"
	EnvCORSOrigins         = "LECTERN_CORS_ORIGINS"
)

// Config holds lectern settings. JSON keys match the environment variable names
// so settings.json and the environment share one vocabulary.
type Config struct {
	WorkerHost          string   `json:"LECTERN_WORKER_HOST"`
	WorkerPort          int      `json:"LECTERN_WORKER_PORT"`
	ReportEndpoint      string   `json:"LECTERN_REPORT_ENDPOINT"`
	ReportTimeoutSecs   int      `json:"LECTERN_REPORT_TIMEOUT"`
	SimilarityThreshold float64  `json:"LECTERN_SIMILARITY_THRESHOLD"`
	TopClusters         int      `json:"LECTERN_TOP_CLUSTERS"`
	DBDriver            string   `json:"LECTERN_DB_DRIVER"`
	DBPath              string   `json:"LECTERN_DB_PATH"`
	DBDSN               string   `json:"LECTERN_DB_DSN"`
	MaxConns            int      `json:"LECTERN_DB_MAX_CONNS"`
	RedisURL            string   `json:"LECTERN_REDIS_URL"`
	CacheTTLSecs        int      `json:"LECTERN_CACHE_TTL"`
	CoursesFile         string   `json:"LECTERN_COURSES_FILE"`
	LogLevel            string   `json:"LECTERN_LOG_LEVEL"`
	CORSOrigins         []string `json:"LECTERN_CORS_ORIGINS"`
}

var (
	global   *Config
	globalMu sync.Mutex
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkerHost:          DefaultWorkerHost,
		WorkerPort:          DefaultWorkerPort,
		ReportTimeoutSecs:   int(DefaultReportTimeout / time.Second),
		SimilarityThreshold: DefaultSimilarityThreshold,
		TopClusters:         DefaultTopClusters,
		DBDriver:            DefaultDBDriver,
		DBPath:              DBPath(),
		MaxConns:            DefaultMaxConns,
		CacheTTLSecs:        int(DefaultCacheTTL / time.Second),
		CoursesFile:         filepath.Join(DataDir(), coursesFile),
		LogLevel:            DefaultLogLevel,
		CORSOrigins:         []string{},
	}
}

// DataDir returns the lectern data directory.
func DataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, dataDirName)
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), dbFileName)
}

// SettingsPath returns the settings.json path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsFile)
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings.json unless one already exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode default settings: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and the default settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := EnsureSettings(); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	return nil
}

// Load reads settings.json and applies LECTERN_* environment overrides on top of
// the defaults. A missing or malformed settings file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	values := make(map[string]string)
	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		if parseErr := decodeSettings(data, values); parseErr != nil {
			log.Warn().Err(parseErr).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			values = make(map[string]string)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	for _, b := range bindings {
		if v, ok := os.LookupEnv(b.key); ok && v != "" {
			values[b.key] = v
		}
	}

	for _, b := range bindings {
		raw, ok := values[b.key]
		if !ok {
			continue
		}
		if applyErr := b.apply(cfg, strings.TrimSpace(raw)); applyErr != nil {
			log.Warn().Err(applyErr).Str("key", b.key).Msg("Ignoring invalid setting")
		}
	}

	return cfg, nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load config, using defaults")
			cfg = Default()
		}
		global = cfg
	}
	return global
}

// Reload drops the cached configuration so the next Get reads it again.
func Reload() {
	globalMu.Lock()
	global = nil
	globalMu.Unlock()
}

// NeedsRestart reports whether next differs from c in anything other than the
// log level, the one setting applied while running.
func (c *Config) NeedsRestart(next *Config) bool {
	a, b := *c, *next
	a.LogLevel, b.LogLevel = "", ""
	return !reflect.DeepEqual(a, b)
}

// Addr returns the worker listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.WorkerHost, strconv.Itoa(c.WorkerPort))
}

// ReportTimeout returns the upstream report request timeout.
func (c *Config) ReportTimeout() time.Duration {
	return time.Duration(c.ReportTimeoutSecs) * time.Second
}

// CacheTTL returns how long fetched report payloads stay cached.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// decodeSettings flattens settings.json into string values so file and
// environment go through the same parsers.
func decodeSettings(data []byte, out map[string]string) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			out[key] = v
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[key] = strconv.FormatBool(v)
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return nil
}

type binding struct {
	key   string
	apply func(cfg *Config, raw string) error
}

var bindings = []binding{
	{EnvWorkerHost, func(c *Config, v string) error { return setString(&c.WorkerHost, v) }},
	{EnvWorkerPort, func(c *Config, v string) error { return setPositiveInt(&c.WorkerPort, v) }},
	{EnvReportEndpoint, func(c *Config, v string) error { c.ReportEndpoint = v; return nil }},
	{EnvReportTimeout, func(c *Config, v string) error { return setPositiveInt(&c.ReportTimeoutSecs, v) }},
	{EnvSimilarityThreshold, func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("threshold %v outside [0, 1]", f)
		}
		c.SimilarityThreshold = f
		return nil
	}},
	{EnvTopClusters, func(c *Config, v string) error { return setPositiveInt(&c.TopClusters, v) }},
	{EnvDBDriver, func(c *Config, v string) error {
		switch v {
		case "sqlite", "postgres":
			c.DBDriver = v
			return nil
		}
		return fmt.Errorf("unknown driver %q", v)
	}},
	{EnvDBPath, func(c *Config, v string) error { return setString(&c.DBPath, v) }},
	{EnvDBDSN, func(c *Config, v string) error { c.DBDSN = v; return nil }},
	{EnvDBMaxConns, func(c *Config, v string) error { return setPositiveInt(&c.MaxConns, v) }},
	{EnvRedisURL, func(c *Config, v string) error { c.RedisURL = v; return nil }},
	{EnvCacheTTL, func(c *Config, v string) error { return setPositiveInt(&c.CacheTTLSecs, v) }},
	{EnvCoursesFile, func(c *Config, v string) error { return setString(&c.CoursesFile, v) }},
	{EnvLogLevel, func(c *Config, v string) error { return setString(&c.LogLevel, strings.ToLower(v)) }},
	{EnvCORSOrigins, func(c *Config, v string) error { c.CORSOrigins = splitTrim(v); return nil }},
}

func setString(dst *string, v string) error {
	if v == "" {
		return errors.New("empty value")
	}
	*dst = v
	return nil
}

func setPositiveInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("value %d must be positive", n)
	}
	*dst = n
	return nil
}

// splitTrim splits a comma-separated list, trimming blanks and dropping empties.
func splitTrim(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}
