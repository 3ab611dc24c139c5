package regioncache

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/vnykmshr/regioncache-go/pkg/compression"
)

// cacheSection is the [cache] table. Durations are in seconds.
type cacheSection struct {
	Enabled           *bool    `toml:"enabled"`
	Backend           string   `toml:"backend"`
	ExpirationTime    *int64   `toml:"expiration_time"`
	ConfigPrefix      string   `toml:"config_prefix"`
	DebugCacheBackend bool     `toml:"debug_cache_backend"`
	Codec             string   `toml:"codec"`
	Compression       string   `toml:"compression"`
	MaxEntries        int      `toml:"max_entries"`
	Servers           []string `toml:"memcache_servers"`

	DeadRetry         *int64   `toml:"memcache_dead_retry"`
	SocketTimeout     *float64 `toml:"memcache_socket_timeout"`
	PoolMaxSize       *int     `toml:"memcache_pool_maxsize"`
	PoolUnusedTimeout *int64   `toml:"memcache_pool_unused_timeout"`
	PoolGetTimeout    *int64   `toml:"memcache_pool_connection_get_timeout"`
	FlushOnReconnect  bool     `toml:"memcache_pool_flush_on_reconnect"`

	RedisUsername string `toml:"redis_username"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	TLSEnabled        bool     `toml:"tls_enabled"`
	TLSCAFile         string   `toml:"tls_cafile"`
	TLSCertFile       string   `toml:"tls_certfile"`
	TLSKeyFile        string   `toml:"tls_keyfile"`
	TLSAllowedCiphers []string `toml:"tls_allowed_ciphers"`

	RetryAttempts *int   `toml:"retry_attempts"`
	BatchRetry    string `toml:"batch_retry"`
	MaxValueSize  int    `toml:"max_value_size"`
}

type fileConfig struct {
	Cache cacheSection `toml:"cache"`
}

// LoadConfig reads a region configuration from a TOML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig builds a validated Config from TOML. Options not present keep
// their NewDefaultConfig values. Any other top-level table carrying a
// caching or cache_time key configures a memoization group of that name.
func ParseConfig(data []byte) (*Config, error) {
	var file fileConfig
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %w", ErrConfiguration, err)
	}

	cfg := NewDefaultConfig()
	if err := file.Cache.apply(cfg); err != nil {
		return nil, err
	}

	groups, err := parseGroups(data)
	if err != nil {
		return nil, err
	}
	for name, group := range groups {
		cfg.WithGroup(name, group)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s cacheSection) apply(cfg *Config) error {
	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.Backend != "" {
		cfg.Backend = BackendType(strings.ToLower(s.Backend))
	}
	if s.ExpirationTime != nil {
		cfg.ExpirationTime = seconds(*s.ExpirationTime)
	}
	cfg.Namespace = s.ConfigPrefix
	cfg.Debug = s.DebugCacheBackend
	cfg.Codec = s.Codec
	if s.MaxEntries > 0 {
		cfg.Memory.MaxEntries = s.MaxEntries
	}

	switch strings.ToLower(s.Compression) {
	case "", string(compression.CompressorNone):
	case string(compression.CompressorGzip), string(compression.CompressorDeflate):
		cfg.Compression = compression.NewDefaultConfig().
			WithEnabled(true).
			WithAlgorithm(compression.CompressorType(strings.ToLower(s.Compression)))
	default:
		return configError("unknown compression %q", s.Compression)
	}

	if cfg.Backend != BackendRedis {
		return nil
	}

	r := NewDefaultRedisConfig(s.Servers...)
	if s.DeadRetry != nil {
		r.DeadRetry = seconds(*s.DeadRetry)
	}
	if s.SocketTimeout != nil {
		r.SocketTimeout = time.Duration(*s.SocketTimeout * float64(time.Second))
	}
	if s.PoolMaxSize != nil {
		r.PoolMaxSize = *s.PoolMaxSize
	}
	if s.PoolUnusedTimeout != nil {
		r.PoolUnusedTimeout = seconds(*s.PoolUnusedTimeout)
	}
	if s.PoolGetTimeout != nil {
		r.PoolAcquireTimeout = seconds(*s.PoolGetTimeout)
	}
	r.FlushOnReconnect = s.FlushOnReconnect
	r.Username = s.RedisUsername
	r.Password = s.RedisPassword
	r.DB = s.RedisDB
	r.TLS = TLSConfig{
		Enabled:        s.TLSEnabled,
		CAFile:         s.TLSCAFile,
		CertFile:       s.TLSCertFile,
		KeyFile:        s.TLSKeyFile,
		AllowedCiphers: s.TLSAllowedCiphers,
	}
	if s.RetryAttempts != nil {
		r.RetryAttempts = *s.RetryAttempts
	}
	r.MaxValueSize = s.MaxValueSize

	switch strings.ToLower(s.BatchRetry) {
	case "", "whole":
		r.BatchRetry = BatchRetryWhole
	case "remaining":
		r.BatchRetry = BatchRetryRemaining
	default:
		return configError("unknown batch_retry %q", s.BatchRetry)
	}

	cfg.Redis = r
	return nil
}

func parseGroups(data []byte) (map[string]GroupConfig, error) {
	var tables map[string]any
	if err := toml.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %w", ErrConfiguration, err)
	}

	groups := make(map[string]GroupConfig)
	for name, raw := range tables {
		if name == "cache" {
			continue
		}
		table, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		caching, hasCaching := table["caching"]
		cacheTime, hasCacheTime := table["cache_time"]
		if !hasCaching && !hasCacheTime {
			continue
		}

		group := GroupConfig{Caching: true}
		if hasCaching {
			b, ok := caching.(bool)
			if !ok {
				return nil, configError("[%s] caching must be a boolean", name)
			}
			group.Caching = b
		}
		if hasCacheTime {
			n, ok := cacheTime.(int64)
			if !ok || n < 0 {
				return nil, configError("[%s] cache_time must be a non-negative integer", name)
			}
			group.CacheTime = seconds(n)
		}
		groups[name] = group
	}
	return groups, nil
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
