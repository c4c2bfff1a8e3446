package feedgateway

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ferro-labs/feed-gateway/internal/cache"
	"github.com/ferro-labs/feed-gateway/internal/fetchlog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var configSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("config.schema.json", configSchemaJSON)
	})
	return schema, schemaErr
}

// LoadConfig reads and parses a config file from the given path on top of
// DefaultConfig. Supported formats: JSON (.json), YAML (.yaml, .yml). The
// document is checked against the embedded JSON schema before decoding.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var doc interface{}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	// Normalise YAML scalars into the JSON value space the validator expects.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalizing config: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(normalized, &generic); err != nil {
		return nil, fmt.Errorf("normalizing config: %w", err)
	}

	sch, err := configSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	if err := sch.Validate(generic); err != nil {
		return nil, fmt.Errorf("config does not match schema: %w", err)
	}

	cfg := DefaultConfig()
	dec := json.NewDecoder(bytes.NewReader(normalized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	switch cfg.Cache.Backend {
	case "", cache.BackendMemory, cache.BackendLRU:
	default:
		return fmt.Errorf("unknown cache backend: %q", cfg.Cache.Backend)
	}
	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max_entries must not be negative")
	}
	if cfg.Cache.SweepIntervalMS < 0 {
		return fmt.Errorf("cache sweep_interval_ms must not be negative")
	}

	if base := strings.TrimSpace(cfg.Upstream.BaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("invalid upstream base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream base_url must be http or https, got %q", base)
		}
	}
	if cfg.Upstream.TimeoutMS < 0 {
		return fmt.Errorf("upstream timeout_ms must not be negative")
	}

	if cfg.RateLimit.RPS < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}

	switch strings.ToLower(cfg.FetchLog.Driver) {
	case "", fetchlog.DriverSQLite, fetchlog.DriverPostgres, "postgresql":
	default:
		return fmt.Errorf("unsupported fetch_log driver: %q", cfg.FetchLog.Driver)
	}
	if strings.HasPrefix(strings.ToLower(cfg.FetchLog.Driver), "postgres") && cfg.FetchLog.DSN == "" {
		return fmt.Errorf("fetch_log postgres driver requires a dsn")
	}

	return nil
}

// ParseTTLMillis interprets a TTL override in milliseconds. Empty, malformed
// or negative input yields cache.DefaultTTL; zero is returned as-is and
// disables caching.
func ParseTTLMillis(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return cache.DefaultTTL
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return cache.DefaultTTL
	}
	return time.Duration(n) * time.Millisecond
}

// ApplyEnv overlays environment overrides on cfg. getenv is usually
// os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if p := getenv("PORT"); p != "" {
		cfg.Server.Addr = ":" + p
	}
	if origins := getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}

	if v := getenv("INSTAGRAM_ACCESS_TOKEN"); v != "" {
		cfg.Upstream.AccessToken = v
	}
	if v := getenv("INSTAGRAM_USER_ID"); v != "" {
		cfg.Upstream.UserID = v
	}
	if v := getenv("GRAPH_API_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := getenv("GRAPH_API_VERSION"); v != "" {
		cfg.Upstream.Version = v
	}

	if raw := getenv("INSTAGRAM_CACHE_TTL_MS"); raw != "" {
		ms := ParseTTLMillis(raw).Milliseconds()
		cfg.Cache.TTLMillis = &ms
	}
	if raw := getenv("INSTAGRAM_CACHE_MAX_ENTRIES"); raw != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			cfg.Cache.MaxEntries = n
		}
	}
	if v := getenv("CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}

	if raw := getenv("RATE_LIMIT_RPS"); raw != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && f >= 0 {
			cfg.RateLimit.RPS = f
		}
	}

	if v := getenv("FETCHLOG_DRIVER"); v != "" {
		cfg.FetchLog.Driver = v
	}
	if v := getenv("FETCHLOG_DSN"); v != "" {
		cfg.FetchLog.DSN = v
	}
	if v := getenv("ADMIN_TOKEN"); v != "" {
		cfg.Admin.Token = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
