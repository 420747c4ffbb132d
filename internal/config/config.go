/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package config covers process-level configuration read from the
// environment. Mount-level and ACL-level configuration (spec.md §6.7) lives
// in internal/mountstore and is loaded separately, under the config rwlock,
// once this process config is available.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseBackend selects the control-plane persistence driver.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string

	// HTTP listen sockets (spec.md §4.F listen-socket container).
	HTTPBind string
	HTTPPort int
	BaseURL  string

	// Control-plane persistence (internal/mountstore).
	DBBackend    DatabaseBackend
	DBDSN        string
	SeedFilePath string

	// Connection pool and header parsing (spec.md §4.G, §6.1).
	ConnPoolSize     int
	HeaderTimeout    time.Duration
	BodySizeLimit    int64
	ClientLimit      int
	SourceLimit      int
	BurstSize        int
	QueueSizeLimit   int

	// Event bus distribution (internal/eventbus).
	EventBusBackend string // "memory", "nats", "redis"
	NATSURL         string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	// JWT-based listener/source authentication (internal/authstack).
	JWTSigningKey string

	// Metrics (internal/stats).
	MetricsBind string

	// Matchfile reload (internal/matchfile).
	MatchfileReloadInterval time.Duration

	// YP directory registration (internal/yp), contract-only.
	YPEnabled bool
	YPURLs    []string

	InstanceID string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"ICECASTGO_ENV"}, "development"),

		HTTPBind: getEnvAny([]string{"ICECASTGO_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort: getEnvIntAny([]string{"ICECASTGO_HTTP_PORT"}, 8000),
		BaseURL:  getEnvAny([]string{"ICECASTGO_BASE_URL"}, ""),

		DBBackend:    DatabaseBackend(getEnvAny([]string{"ICECASTGO_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:        getEnvAny([]string{"ICECASTGO_DB_DSN"}, "icecastgo.db"),
		SeedFilePath: getEnvAny([]string{"ICECASTGO_SEED_FILE"}, ""),

		ConnPoolSize:   getEnvIntAny([]string{"ICECASTGO_CONN_POOL_SIZE"}, 16),
		HeaderTimeout:  time.Duration(getEnvIntAny([]string{"ICECASTGO_HEADER_TIMEOUT_SECONDS"}, 15)) * time.Second,
		BodySizeLimit:  int64(getEnvIntAny([]string{"ICECASTGO_BODY_SIZE_LIMIT_BYTES"}, 4096)),
		ClientLimit:    getEnvIntAny([]string{"ICECASTGO_CLIENT_LIMIT"}, 1000),
		SourceLimit:    getEnvIntAny([]string{"ICECASTGO_SOURCE_LIMIT"}, 50),
		BurstSize:      getEnvIntAny([]string{"ICECASTGO_BURST_SIZE_BYTES"}, 65536),
		QueueSizeLimit: getEnvIntAny([]string{"ICECASTGO_QUEUE_SIZE_LIMIT_BYTES"}, 524288),

		EventBusBackend: getEnvAny([]string{"ICECASTGO_EVENTBUS_BACKEND"}, "memory"),
		NATSURL:         getEnvAny([]string{"ICECASTGO_NATS_URL"}, "nats://localhost:4222"),
		RedisAddr:       getEnvAny([]string{"ICECASTGO_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:   getEnvAny([]string{"ICECASTGO_REDIS_PASSWORD"}, ""),
		RedisDB:         getEnvIntAny([]string{"ICECASTGO_REDIS_DB"}, 0),

		JWTSigningKey: getEnvAny([]string{"ICECASTGO_JWT_SIGNING_KEY"}, ""),

		MetricsBind: getEnvAny([]string{"ICECASTGO_METRICS_BIND"}, "127.0.0.1:9100"),

		MatchfileReloadInterval: time.Duration(getEnvIntAny([]string{"ICECASTGO_MATCHFILE_RELOAD_SECONDS"}, 10)) * time.Second,

		YPEnabled:  getEnvBoolAny([]string{"ICECASTGO_YP_ENABLED"}, false),
		InstanceID: getEnvAny([]string{"ICECASTGO_INSTANCE_ID"}, ""),
	}

	if ypURLs := getEnvAny([]string{"ICECASTGO_YP_URLS"}, ""); ypURLs != "" {
		cfg.YPURLs = strings.Split(ypURLs, ",")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.ConnPoolSize <= 0 {
		return fmt.Errorf("conn pool size must be positive")
	}
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unsupported db backend: %s", c.DBBackend)
	}
	return nil
}

func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
	}
	return def
}
