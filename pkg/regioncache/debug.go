package regioncache

import (
	"encoding/json"
	"net/http"
	"time"
)

// DebugResponse is the JSON body served by DebugHandler
type DebugResponse struct {
	Region  string       `json:"region"`
	Stats   *DebugStats  `json:"stats"`
	Backend BackendStats `json:"backend"`
	Pool    *PoolStats   `json:"pool,omitempty"`
	Config  *DebugConfig `json:"config,omitempty"`
}

// DebugStats are the region counters
type DebugStats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Sets     int64   `json:"sets"`
	Deletes  int64   `json:"deletes"`
	Errors   int64   `json:"errors"`
	InFlight int64   `json:"inFlight"`
	Degraded int64   `json:"degraded"`
	HitRate  float64 `json:"hitRate"`
	Total    int64   `json:"total"`
}

// DebugConfig is the region configuration without credentials
type DebugConfig struct {
	Enabled        bool          `json:"enabled"`
	Backend        BackendType   `json:"backend"`
	ExpirationTime time.Duration `json:"expirationTime"`
	Namespace      string        `json:"namespace,omitempty"`
	Codec          string        `json:"codec"`
	Compression    string        `json:"compression"`
	Mangled        bool          `json:"mangled"`
	Debug          bool          `json:"debug"`
	Redis          *DebugRedis   `json:"redis,omitempty"`
}

// DebugRedis is the Redis configuration without credentials
type DebugRedis struct {
	Addrs         []string      `json:"addrs"`
	DB            int           `json:"db"`
	TLS           bool          `json:"tls"`
	SocketTimeout time.Duration `json:"socketTimeout"`
	RetryAttempts int           `json:"retryAttempts"`
	PoolMaxSize   int           `json:"poolMaxSize"`
}

// DebugHandler returns an HTTP handler that serves region state as JSON:
//   - GET /stats - statistics, backend and pool counters
//   - GET /config and GET / - the same plus the configuration
func (r *Region) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		response := DebugResponse{
			Region: r.metricsName(),
			Stats: &DebugStats{
				Hits:     r.stats.Hits(),
				Misses:   r.stats.Misses(),
				Sets:     r.stats.Sets(),
				Deletes:  r.stats.Deletes(),
				Errors:   r.stats.Errors(),
				InFlight: r.stats.InFlight(),
				Degraded: r.stats.Degraded(),
				HitRate:  r.stats.HitRate(),
				Total:    r.stats.Total(),
			},
			Backend: r.BackendStats(),
		}
		if p, ok := r.PoolStats(); ok {
			response.Pool = &p
		}
		if req.URL.Path != "/stats" {
			response.Config = r.debugConfig()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
		}
	})
}

// NewDebugServer creates an HTTP server exposing DebugHandler on addr
func (r *Region) NewDebugServer(addr string) *http.Server {
	mux := http.NewServeMux()
	handler := r.DebugHandler()

	mux.Handle("/stats", handler)
	mux.Handle("/config", handler)
	mux.Handle("/", handler)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (r *Region) metricsName() string {
	if r.config.Name == "" {
		return "default"
	}
	return r.config.Name
}

func (r *Region) debugConfig() *DebugConfig {
	c := r.config
	dc := &DebugConfig{
		Enabled:        c.Enabled,
		Backend:        c.Backend,
		ExpirationTime: c.ExpirationTime,
		Namespace:      c.Namespace,
		Codec:          r.codec.Name(),
		Compression:    "none",
		Mangled:        c.KeyMangler != nil,
		Debug:          c.Debug,
	}
	if r.framer != nil {
		dc.Compression = r.framer.Name()
	}
	if c.Redis != nil && c.Backend == BackendRedis {
		dc.Redis = &DebugRedis{
			Addrs:         c.Redis.Addrs,
			DB:            c.Redis.DB,
			TLS:           c.Redis.TLS.Enabled,
			SocketTimeout: c.Redis.SocketTimeout,
			RetryAttempts: c.Redis.RetryAttempts,
			PoolMaxSize:   c.Redis.PoolMaxSize,
		}
	}
	return dc
}
