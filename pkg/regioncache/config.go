package regioncache

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/regioncache-go/internal/pool"
	redisstore "github.com/vnykmshr/regioncache-go/internal/store/redis"
	"github.com/vnykmshr/regioncache-go/pkg/codec"
	"github.com/vnykmshr/regioncache-go/pkg/compression"
	"github.com/vnykmshr/regioncache-go/pkg/logging"
	"github.com/vnykmshr/regioncache-go/pkg/metrics"
)

// BackendType names the store a region dispatches to
type BackendType string

const (
	// BackendMemory is the in-process LRU dictionary (default)
	BackendMemory BackendType = "memory"
	// BackendRedis is the pooled Redis backend
	BackendRedis BackendType = "redis"
	// BackendBigcache is the in-process sharded byte cache
	BackendBigcache BackendType = "bigcache"
	// BackendRistretto is the in-process cost-admitted cache
	BackendRistretto BackendType = "ristretto"
	// BackendNull always misses; it is selected whenever caching is disabled
	BackendNull BackendType = "null"
)

// BatchRetryMode selects what a Redis multi-key operation re-sends after a transport failure
type BatchRetryMode = redisstore.BatchRetryMode

const (
	BatchRetryWhole     = redisstore.BatchRetryWhole
	BatchRetryRemaining = redisstore.BatchRetryRemaining
)

// DefaultExpirationTime applies when a call passes ttl <= 0
const DefaultExpirationTime = 600 * time.Second

// MemoryConfig holds memory backend configuration
type MemoryConfig struct {
	// MaxEntries bounds the LRU. Default: 10000
	MaxEntries int

	// CleanupInterval sweeps expired entries. Zero expires lazily on read.
	CleanupInterval time.Duration
}

// BigcacheConfig holds bigcache backend configuration. Entries live for the
// region's ExpirationTime regardless of the per-call ttl.
type BigcacheConfig struct {
	Shards             int
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int
}

// RistrettoConfig holds ristretto backend configuration
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// TLSConfig describes how to secure Redis sessions
type TLSConfig struct {
	Enabled  bool
	CAFile   string
	CertFile string
	KeyFile  string

	// AllowedCiphers are Go cipher suite names, e.g. TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256
	AllowedCiphers []string
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// Addrs are host:port pairs. More than one shards keys over a ring.
	Addrs []string

	Username string
	Password string
	DB       int
	TLS      TLSConfig

	// SocketTimeout bounds dialing and each attempt. Default: 3s
	SocketTimeout time.Duration

	// DeadRetry is how long dialing fails fast after a refused session. Default: 300s
	DeadRetry time.Duration

	// PoolMaxSize caps open sessions. Default: 10
	PoolMaxSize int

	// PoolUnusedTimeout closes sessions idle this long. Default: 60s
	PoolUnusedTimeout time.Duration

	// PoolAcquireTimeout bounds the wait for a free session. Default: 10s
	PoolAcquireTimeout time.Duration

	// PoolReapInterval is how often idle sessions are swept. Default: 30s
	PoolReapInterval time.Duration

	FlushOnReconnect bool

	// HealthCheck pings idle sessions before reuse
	HealthCheck bool

	// RetryAttempts re-issues an operation after transport failures. Default: 1
	RetryAttempts int

	BatchRetry BatchRetryMode

	// MaxValueSize rejects larger encoded values. Zero disables the check.
	MaxValueSize int

	// Hooks are installed on every go-redis session
	Hooks []redis.Hook
}

// MetricsConfig holds metrics exporter configuration
type MetricsConfig struct {
	Exporter metrics.Exporter
	Enabled  bool

	// ReportingInterval exports a snapshot periodically. Zero disables the reporter.
	ReportingInterval time.Duration

	// Labels are added to every metric; "region" is set from Config.Name
	Labels metrics.Labels
}

// GroupConfig controls memoization for one group of functions
type GroupConfig struct {
	// Caching disables memoization for the group when false
	Caching bool

	// CacheTime overrides the region's ExpirationTime when positive
	CacheTime time.Duration
}

// Config defines the configuration options for a Region
type Config struct {
	// Name labels metrics and log lines. Default: "default"
	Name string

	// Enabled selects the null backend when false
	Enabled bool

	Backend BackendType

	// ExpirationTime applies when a call passes ttl <= 0. Zero never expires.
	ExpirationTime time.Duration

	// Namespace is prepended to every key before mangling
	Namespace string

	// KeyMangler rewrites namespaced keys. Nil keeps them verbatim.
	KeyMangler KeyMangler

	// KeyGenFunc renders memoized function arguments. Default: DefaultKeyFunc
	KeyGenFunc KeyGenFunc

	// Codec names the value serializer (see codec.ByName). Default: msgpack
	Codec string

	// Debug logs every backend call at debug level
	Debug bool

	Memory    MemoryConfig
	Bigcache  BigcacheConfig
	Ristretto RistrettoConfig
	Redis     *RedisConfig

	Compression *compression.Config
	Metrics     *MetricsConfig
	Hooks       *Hooks
	Logger      logging.Logger

	// Groups configure memoization by group name
	Groups map[string]GroupConfig
}

// NewDefaultConfig returns a Config for an in-process memory region
func NewDefaultConfig() *Config {
	return &Config{
		Name:           "default",
		Enabled:        true,
		Backend:        BackendMemory,
		ExpirationTime: DefaultExpirationTime,
		KeyMangler:     SHA1Mangler,
		Memory:         MemoryConfig{MaxEntries: 10000},
		Hooks:          &Hooks{},
		Groups:         make(map[string]GroupConfig),
	}
}

// NewRedisConfig returns a Config for a Redis region over addrs
func NewRedisConfig(addrs ...string) *Config {
	return NewDefaultConfig().WithRedis(NewDefaultRedisConfig(addrs...))
}

// NewDefaultRedisConfig returns Redis settings with the pool defaults
func NewDefaultRedisConfig(addrs ...string) *RedisConfig {
	p := pool.DefaultConfig()
	return &RedisConfig{
		Addrs:              addrs,
		SocketTimeout:      3 * time.Second,
		DeadRetry:          300 * time.Second,
		PoolMaxSize:        p.MaxSize,
		PoolUnusedTimeout:  p.MaxIdleTime,
		PoolAcquireTimeout: p.AcquireTimeout,
		PoolReapInterval:   p.ReapInterval,
		RetryAttempts:      1,
		BatchRetry:         BatchRetryWhole,
	}
}

// WithName sets the region name
func (c *Config) WithName(name string) *Config {
	c.Name = name
	return c
}

// WithEnabled turns caching on or off
func (c *Config) WithEnabled(enabled bool) *Config {
	c.Enabled = enabled
	return c
}

// WithBackend selects the backend
func (c *Config) WithBackend(backend BackendType) *Config {
	c.Backend = backend
	return c
}

// WithExpirationTime sets the default entry lifetime
func (c *Config) WithExpirationTime(ttl time.Duration) *Config {
	c.ExpirationTime = ttl
	return c
}

// WithNamespace sets the key namespace
func (c *Config) WithNamespace(namespace string) *Config {
	c.Namespace = namespace
	return c
}

// WithKeyMangler sets the key mangler; nil disables mangling
func (c *Config) WithKeyMangler(mangler KeyMangler) *Config {
	c.KeyMangler = mangler
	return c
}

// WithKeyGenFunc sets how memoized arguments are rendered
func (c *Config) WithKeyGenFunc(fn KeyGenFunc) *Config {
	c.KeyGenFunc = fn
	return c
}

// WithCodec selects the value serializer by name
func (c *Config) WithCodec(name string) *Config {
	c.Codec = name
	return c
}

// WithDebug wraps the backend in a logging proxy
func (c *Config) WithDebug(debug bool) *Config {
	c.Debug = debug
	return c
}

// WithMaxEntries sets the memory backend capacity
func (c *Config) WithMaxEntries(maxEntries int) *Config {
	c.Memory.MaxEntries = maxEntries
	return c
}

// WithCleanupInterval sets how often the memory backend sweeps expired entries
func (c *Config) WithCleanupInterval(interval time.Duration) *Config {
	c.Memory.CleanupInterval = interval
	return c
}

// WithRedis configures the region to use Redis
func (c *Config) WithRedis(redisConfig *RedisConfig) *Config {
	c.Backend = BackendRedis
	c.Redis = redisConfig
	return c
}

// WithRedisAuth sets Redis credentials
func (c *Config) WithRedisAuth(username, password string) *Config {
	c.redis().Username = username
	c.redis().Password = password
	return c
}

// WithRedisDB sets the Redis database number
func (c *Config) WithRedisDB(db int) *Config {
	c.redis().DB = db
	return c
}

// WithRedisTLS sets TLS material for Redis sessions
func (c *Config) WithRedisTLS(tlsConfig TLSConfig) *Config {
	c.redis().TLS = tlsConfig
	return c
}

// WithRetryAttempts sets how often a Redis operation is retried after transport failures
func (c *Config) WithRetryAttempts(attempts int) *Config {
	c.redis().RetryAttempts = attempts
	return c
}

// WithBatchRetry sets the Redis batch retry mode
func (c *Config) WithBatchRetry(mode BatchRetryMode) *Config {
	c.redis().BatchRetry = mode
	return c
}

// WithPoolMaxSize sets the Redis pool capacity
func (c *Config) WithPoolMaxSize(size int) *Config {
	c.redis().PoolMaxSize = size
	return c
}

// WithPoolAcquireTimeout sets how long an operation waits for a free session
func (c *Config) WithPoolAcquireTimeout(timeout time.Duration) *Config {
	c.redis().PoolAcquireTimeout = timeout
	return c
}

// WithCompression configures value compression
func (c *Config) WithCompression(compressionConfig *compression.Config) *Config {
	c.Compression = compressionConfig
	return c
}

// WithCompressionEnabled enables compression with default settings
func (c *Config) WithCompressionEnabled(enabled bool) *Config {
	if c.Compression == nil {
		c.Compression = compression.NewDefaultConfig()
	}
	c.Compression.Enabled = enabled
	return c
}

// WithMetrics configures metrics export
func (c *Config) WithMetrics(metricsConfig *MetricsConfig) *Config {
	c.Metrics = metricsConfig
	return c
}

// WithMetricsExporter enables metrics with exporter and a 30s reporting interval
func (c *Config) WithMetricsExporter(exporter metrics.Exporter) *Config {
	c.Metrics = &MetricsConfig{
		Exporter:          exporter,
		Enabled:           true,
		ReportingInterval: 30 * time.Second,
		Labels:            make(metrics.Labels),
	}
	return c
}

// WithHooks sets the event hooks
func (c *Config) WithHooks(hooks *Hooks) *Config {
	c.Hooks = hooks
	return c
}

// WithLogger sets the logger shared by the region, its backend and pool
func (c *Config) WithLogger(logger logging.Logger) *Config {
	c.Logger = logger
	return c
}

// WithGroup configures a memoization group
func (c *Config) WithGroup(name string, group GroupConfig) *Config {
	if c.Groups == nil {
		c.Groups = make(map[string]GroupConfig)
	}
	c.Groups[name] = group
	return c
}

func (c *Config) redis() *RedisConfig {
	if c.Redis == nil {
		c.Redis = NewDefaultRedisConfig()
	}
	return c.Redis
}

// Validate reports the first configuration problem, wrapped in ErrConfiguration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ExpirationTime < 0 {
		return configError("expiration time must not be negative, got %s", c.ExpirationTime)
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return configError("%v", err)
	}

	switch c.Backend {
	case "", BackendMemory, BackendNull, BackendRistretto:
	case BackendBigcache:
		if c.ExpirationTime <= 0 {
			return configError("bigcache needs a positive expiration time")
		}
	case BackendRedis:
		return c.Redis.validate()
	default:
		return configError("unknown backend %q", c.Backend)
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if r == nil || len(r.Addrs) == 0 {
		return configError("redis backend needs at least one address")
	}
	for _, addr := range r.Addrs {
		if addr == "" {
			return configError("empty redis address")
		}
	}
	if r.PoolMaxSize < 0 {
		return configError("pool max size must not be negative, got %d", r.PoolMaxSize)
	}
	if r.RetryAttempts < 0 {
		return configError("retry attempts must not be negative, got %d", r.RetryAttempts)
	}
	if r.MaxValueSize < 0 {
		return configError("max value size must not be negative, got %d", r.MaxValueSize)
	}
	if r.TLS.KeyFile != "" && r.TLS.CertFile == "" {
		return configError("tls key file given without a certificate file")
	}
	return nil
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// build turns the TLS settings into a tls.Config; nil when disabled
func (t TLSConfig) build() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, configError("reading tls ca file: %v", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, configError("no certificates found in %s", t.CAFile)
		}
		cfg.RootCAs = roots
	}

	if t.CertFile != "" {
		keyFile := t.KeyFile
		if keyFile == "" {
			keyFile = t.CertFile
		}
		cert, err := tls.LoadX509KeyPair(t.CertFile, keyFile)
		if err != nil {
			return nil, configError("loading tls key pair: %v", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if len(t.AllowedCiphers) > 0 {
		suites, err := cipherSuites(t.AllowedCiphers)
		if err != nil {
			return nil, err
		}
		cfg.CipherSuites = suites
	}
	return cfg, nil
}

func cipherSuites(names []string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}

	ids := make([]uint16, 0, len(names))
	var unknown []error
	for _, name := range names {
		id, ok := known[name]
		if !ok {
			unknown = append(unknown, fmt.Errorf("unknown cipher suite %q", name))
			continue
		}
		ids = append(ids, id)
	}
	if len(unknown) > 0 {
		return nil, configError("%v", errors.Join(unknown...))
	}
	return ids, nil
}

// backendConfig maps the region settings onto the Redis backend
func (r *RedisConfig) backendConfig(expiration time.Duration, logger logging.Logger) (redisstore.Config, error) {
	tlsConfig, err := r.TLS.build()
	if err != nil {
		return redisstore.Config{}, err
	}

	poolCfg := pool.DefaultConfig()
	if r.PoolMaxSize > 0 {
		poolCfg.MaxSize = r.PoolMaxSize
	}
	if r.PoolAcquireTimeout > 0 {
		poolCfg.AcquireTimeout = r.PoolAcquireTimeout
	}
	if r.PoolUnusedTimeout > 0 {
		poolCfg.MaxIdleTime = r.PoolUnusedTimeout
	}
	poolCfg.ReapInterval = r.PoolReapInterval
	poolCfg.DialTimeout = 0

	return redisstore.Config{
		Addrs:            r.Addrs,
		Username:         r.Username,
		Password:         r.Password,
		DB:               r.DB,
		TLSConfig:        tlsConfig,
		DefaultTTL:       expiration,
		SocketTimeout:    r.SocketTimeout,
		Pool:             poolCfg,
		RetryAttempts:    r.RetryAttempts,
		BatchRetry:       r.BatchRetry,
		MaxValueSize:     r.MaxValueSize,
		DeadRetry:        r.DeadRetry,
		FlushOnReconnect: r.FlushOnReconnect,
		HealthCheck:      r.HealthCheck,
		Hooks:            r.Hooks,
		Logger:           logger,
	}, nil
}
