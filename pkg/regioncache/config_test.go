package regioncache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vnykmshr/regioncache-go/pkg/compression"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Backend != BackendMemory {
		t.Errorf("Expected memory backend, got %s", config.Backend)
	}
	if config.ExpirationTime != 600*time.Second {
		t.Errorf("Expected 600s expiration, got %v", config.ExpirationTime)
	}
	if config.Memory.MaxEntries != 10000 {
		t.Errorf("Expected 10000 max entries, got %d", config.Memory.MaxEntries)
	}
	if !config.Enabled {
		t.Error("Expected caching to be enabled")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestNewDefaultRedisConfig(t *testing.T) {
	config := NewRedisConfig("localhost:6379")

	if config.Backend != BackendRedis {
		t.Fatalf("Expected redis backend, got %s", config.Backend)
	}
	r := config.Redis
	if r.SocketTimeout != 3*time.Second || r.DeadRetry != 300*time.Second {
		t.Errorf("Unexpected timeouts: socket=%v dead=%v", r.SocketTimeout, r.DeadRetry)
	}
	if r.PoolMaxSize != 10 || r.PoolAcquireTimeout != 10*time.Second || r.PoolUnusedTimeout != 60*time.Second {
		t.Errorf("Unexpected pool defaults: %+v", r)
	}
	if r.RetryAttempts != 1 || r.BatchRetry != BatchRetryWhole {
		t.Errorf("Unexpected retry defaults: attempts=%d mode=%v", r.RetryAttempts, r.BatchRetry)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"default", NewDefaultConfig(), false},
		{"disabled ignores everything", NewDefaultConfig().WithEnabled(false).WithBackend("nope"), false},
		{"negative expiration", NewDefaultConfig().WithExpirationTime(-time.Second), true},
		{"unknown codec", NewDefaultConfig().WithCodec("yaml"), true},
		{"unknown backend", NewDefaultConfig().WithBackend("memcached"), true},
		{"bigcache without expiration", NewDefaultConfig().WithBackend(BackendBigcache).WithExpirationTime(0), true},
		{"redis without address", NewRedisConfig(), true},
		{"redis empty address", NewRedisConfig(""), true},
		{"redis negative pool", NewRedisConfig("localhost:6379").WithPoolMaxSize(-1), true},
		{"redis negative retries", NewRedisConfig("localhost:6379").WithRetryAttempts(-1), true},
		{"redis key without cert", NewRedisConfig("localhost:6379").WithRedisTLS(TLSConfig{Enabled: true, KeyFile: "k.pem"}), true},
		{"redis", NewRedisConfig("localhost:6379"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(NewDefaultConfig().WithBackend("memcached")); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
[cache]
enabled = true
backend = "redis"
expiration_time = 120
config_prefix = "svc:"
debug_cache_backend = true
codec = "json"
compression = "deflate"
memcache_servers = ["10.0.0.1:6379", "10.0.0.2:6379"]
memcache_dead_retry = 30
memcache_socket_timeout = 0.5
memcache_pool_maxsize = 20
memcache_pool_unused_timeout = 90
memcache_pool_connection_get_timeout = 2
memcache_pool_flush_on_reconnect = true
redis_db = 3
retry_attempts = 2
batch_retry = "remaining"
max_value_size = 1048576

[identity]
caching = true
cache_time = 30

[catalog]
caching = false

[unrelated]
something = 1
`)

	config, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if config.Backend != BackendRedis || config.ExpirationTime != 2*time.Minute {
		t.Errorf("Unexpected backend settings: %s %v", config.Backend, config.ExpirationTime)
	}
	if config.Namespace != "svc:" || !config.Debug || config.Codec != "json" {
		t.Errorf("Unexpected region settings: %q %v %q", config.Namespace, config.Debug, config.Codec)
	}
	if config.Compression == nil || !config.Compression.Enabled || config.Compression.Algorithm != compression.CompressorDeflate {
		t.Errorf("Expected deflate compression, got %+v", config.Compression)
	}

	r := config.Redis
	if len(r.Addrs) != 2 || r.DB != 3 {
		t.Errorf("Unexpected redis target: %v db=%d", r.Addrs, r.DB)
	}
	if r.DeadRetry != 30*time.Second || r.SocketTimeout != 500*time.Millisecond {
		t.Errorf("Unexpected timeouts: dead=%v socket=%v", r.DeadRetry, r.SocketTimeout)
	}
	if r.PoolMaxSize != 20 || r.PoolUnusedTimeout != 90*time.Second || r.PoolAcquireTimeout != 2*time.Second {
		t.Errorf("Unexpected pool settings: %+v", r)
	}
	if !r.FlushOnReconnect || r.RetryAttempts != 2 || r.BatchRetry != BatchRetryRemaining || r.MaxValueSize != 1<<20 {
		t.Errorf("Unexpected retry settings: %+v", r)
	}

	if len(config.Groups) != 2 {
		t.Fatalf("Expected 2 groups, got %v", config.Groups)
	}
	if g := config.Groups["identity"]; !g.Caching || g.CacheTime != 30*time.Second {
		t.Errorf("Unexpected identity group %+v", g)
	}
	if g := config.Groups["catalog"]; g.Caching {
		t.Errorf("Expected catalog caching off, got %+v", g)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	config, err := ParseConfig([]byte("[cache]\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if !config.Enabled || config.Backend != BackendMemory || config.ExpirationTime != DefaultExpirationTime {
		t.Errorf("Expected defaults, got %+v", config)
	}
	if config.Compression != nil {
		t.Error("Expected compression to stay off")
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", "[cache\nbackend = "},
		{"unknown compression", "[cache]\ncompression = \"lz4\""},
		{"unknown batch retry", "[cache]\nbackend = \"redis\"\nmemcache_servers = [\"a:1\"]\nbatch_retry = \"some\""},
		{"redis without servers", "[cache]\nbackend = \"redis\""},
		{"bad group caching", "[cache]\n[users]\ncaching = \"yes\""},
		{"negative cache time", "[cache]\n[users]\ncache_time = -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.data)); !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.toml")
	if err := os.WriteFile(path, []byte("[cache]\nbackend = \"ristretto\"\nexpiration_time = 5\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Backend != BackendRistretto || config.ExpirationTime != 5*time.Second {
		t.Errorf("Unexpected config %s %v", config.Backend, config.ExpirationTime)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestCipherSuites(t *testing.T) {
	ids, err := cipherSuites([]string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"})
	if err != nil || len(ids) != 1 {
		t.Errorf("cipherSuites = %v, %v", ids, err)
	}

	if _, err := cipherSuites([]string{"TLS_NOT_A_CIPHER"}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for an unknown cipher, got %v", err)
	}

	tlsConfig, err := TLSConfig{}.build()
	if err != nil || tlsConfig != nil {
		t.Errorf("Disabled TLS should build nothing, got %v, %v", tlsConfig, err)
	}
}
