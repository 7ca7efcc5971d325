package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// ErrInvalid is returned when a configuration does not satisfy the schema.
var ErrInvalid = errors.New("invalid configuration")

// Environment variables that override the file.
const (
	EnvTenantID    = "BIZPOS_TENANT_ID"
	EnvTerminalID  = "BIZPOS_TERMINAL_ID"
	EnvDBPath      = "BIZPOS_DB_PATH"
	EnvRedisAddr   = "BIZPOS_REDIS_ADDR"
	EnvRemoteKind  = "BIZPOS_REMOTE_KIND"
	EnvRemoteURL   = "BIZPOS_REMOTE_URL"
	EnvAPIKey      = "BIZPOS_API_KEY"
	EnvDatabaseURL = "BIZPOS_DATABASE_URL"
	EnvRealtimeURL = "BIZPOS_REALTIME_URL"
	EnvHTTPAddr    = "BIZPOS_HTTP_ADDR"
	EnvLogLevel    = "BIZPOS_LOG_LEVEL"
	EnvAttempts    = "BIZPOS_READINESS_ATTEMPTS"
)

// Duration is a time.Duration written as a Go duration string ("1s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the terminal configuration.
type Config struct {
	TenantID    string `yaml:"tenant_id" json:"tenant_id"`
	TerminalID  string `yaml:"terminal_id" json:"terminal_id"`
	PhoneRegion string `yaml:"phone_region" json:"phone_region"`

	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Remote    RemoteConfig    `yaml:"remote" json:"remote"`
	Network   NetworkConfig   `yaml:"network" json:"network"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
	Readiness ReadinessConfig `yaml:"readiness" json:"readiness"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// StorageConfig selects where the cache is persisted. The mutation log
// always lives in the SQLite file at Path.
type StorageConfig struct {
	Backend     string `yaml:"backend" json:"backend"` // "sqlite" | "redis"
	Path        string `yaml:"path" json:"path"`
	RedisAddr   string `yaml:"redis_addr" json:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix"`
}

// RemoteConfig selects the remote store.
type RemoteConfig struct {
	Kind         string   `yaml:"kind" json:"kind"` // "memory" | "http" | "postgres"
	BaseURL      string   `yaml:"base_url" json:"base_url"`
	APIKey       string   `yaml:"api_key" json:"api_key"`
	APIKeyHeader string   `yaml:"api_key_header" json:"api_key_header"`
	DatabaseURL  string   `yaml:"database_url" json:"database_url"`
	RealtimeURL  string   `yaml:"realtime_url" json:"realtime_url"`
	Timeout      Duration `yaml:"timeout" json:"timeout"`
}

type NetworkConfig struct {
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
	ProbeTimeout Duration `yaml:"probe_timeout" json:"probe_timeout"`
}

type SyncConfig struct {
	BaseBackoff Duration `yaml:"base_backoff" json:"base_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff" json:"max_backoff"`
	LockTTL     Duration `yaml:"lock_ttl" json:"lock_ttl"`
	Retention   Duration `yaml:"retention" json:"retention"`
}

// ReadinessConfig bounds the wait for the first reference snapshot.
type ReadinessConfig struct {
	Attempts int      `yaml:"attempts" json:"attempts"`
	Interval Duration `yaml:"interval" json:"interval"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "text" | "json"
}

// Redacted returns a copy of c with secrets masked, for display.
func (c Config) Redacted() Config {
	if c.Remote.APIKey != "" {
		c.Remote.APIKey = "***"
	}
	if c.Remote.DatabaseURL != "" {
		c.Remote.DatabaseURL = redactURL(c.Remote.DatabaseURL)
	}
	c.HTTP.AllowedOrigins = slices.Clone(c.HTTP.AllowedOrigins)
	return c
}

// redactURL masks the password of a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

// Default returns a configuration that runs a single terminal against the
// in-memory remote store.
func Default() Config {
	return Config{
		TenantID:    "demo",
		TerminalID:  "till-1",
		PhoneRegion: "PK",
		Storage:     StorageConfig{Backend: "sqlite", Path: "bizpos.db", RedisPrefix: "bizpos"},
		Remote: RemoteConfig{
			Kind:         "memory",
			APIKeyHeader: "X-API-Key",
			Timeout:      Duration(10 * time.Second),
		},
		Network: NetworkConfig{
			PollInterval: Duration(time.Second),
			ProbeTimeout: Duration(2 * time.Second),
		},
		Sync: SyncConfig{
			BaseBackoff: Duration(time.Second),
			MaxBackoff:  Duration(60 * time.Second),
			LockTTL:     Duration(30 * time.Second),
			Retention:   Duration(7 * 24 * time.Hour),
		},
		Readiness: ReadinessConfig{Attempts: 30, Interval: Duration(100 * time.Millisecond)},
		HTTP:      HTTPConfig{Addr: "127.0.0.1:8787", AllowedOrigins: []string{}},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// Path of the YAML file. Empty uses defaults only.
	Path string
	// EnvFile is loaded into the environment first if it exists.
	// Variables already set are not replaced.
	EnvFile string
}

// Load reads defaults, then the YAML file, then environment overrides,
// and validates the result.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", opts.Path, err)
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg. Unknown fields are rejected.
func Parse(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		EnvTenantID:    &cfg.TenantID,
		EnvTerminalID:  &cfg.TerminalID,
		EnvDBPath:      &cfg.Storage.Path,
		EnvRedisAddr:   &cfg.Storage.RedisAddr,
		EnvRemoteKind:  &cfg.Remote.Kind,
		EnvRemoteURL:   &cfg.Remote.BaseURL,
		EnvAPIKey:      &cfg.Remote.APIKey,
		EnvDatabaseURL: &cfg.Remote.DatabaseURL,
		EnvRealtimeURL: &cfg.Remote.RealtimeURL,
		EnvHTTPAddr:    &cfg.HTTP.Addr,
		EnvLogLevel:    &cfg.Log.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := os.LookupEnv(EnvRedisAddr); ok && v != "" {
		cfg.Storage.Backend = "redis"
	}
	if v, ok := os.LookupEnv(EnvAttempts); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAttempts, err)
		}
		cfg.Readiness.Attempts = n
	}
	return nil
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(cfg))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	if cfg.Sync.MaxBackoff < cfg.Sync.BaseBackoff {
		return fmt.Errorf("%w: sync.max_backoff %s is below sync.base_backoff %s",
			ErrInvalid, cfg.Sync.MaxBackoff.Std(), cfg.Sync.BaseBackoff.Std())
	}
	return nil
}
