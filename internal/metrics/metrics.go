// Package metrics exposes the engine's Prometheus metrics and the
// /metrics + /healthz HTTP server.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the execution core.
type Metrics struct {
	// Market data ingress
	TicksTotal     prometheus.Counter
	IngressRejects prometheus.Counter
	LateTicks      prometheus.Counter
	CandlesTotal   *prometheus.CounterVec // labels: tf

	// Signal pipeline
	SignalsEmitted      prometheus.Counter
	SignalsExpired      prometheus.Counter
	SignalsStale        prometheus.Counter
	DeliveriesCreated   prometheus.Counter
	DeliveriesConsumed  prometheus.Counter
	IntentsTotal        *prometheus.CounterVec // labels: decision=approved|rejected
	TradeTransitions    *prometheus.CounterVec // labels: status entered
	ExitsPlaced         *prometheus.CounterVec // labels: reason
	ActorQueueDepth     *prometheus.GaugeVec   // labels: partition
	ReconcileRuns       prometheus.Counter

	// Broker
	BrokerCallDur   *prometheus.HistogramVec // labels: op
	WatchdogReloads prometheus.Counter
	WSReconnects    prometheus.Counter

	// Event journal
	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter

	// Redis hot publisher
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Total ticks received from the data broker",
		}),
		IngressRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ingress_rejects_total",
			Help: "Malformed ticks rejected at ingress",
		}),
		LateTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_late_ticks_total",
			Help: "Ticks dropped because their candle bucket already closed",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_candles_total",
			Help: "Closed candles emitted (by timeframe)",
		}, []string{"tf"}),

		SignalsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_signals_emitted_total",
			Help: "Signals emitted by the confluence pipeline",
		}),
		SignalsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_signals_expired_total",
			Help: "Signals expired by TTL sweep",
		}),
		SignalsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_signals_stale_total",
			Help: "Signals invalidated by config changes",
		}),
		DeliveriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_deliveries_created_total",
			Help: "Per-user-broker deliveries fanned out",
		}),
		DeliveriesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_deliveries_consumed_total",
			Help: "Deliveries atomically consumed by an intent",
		}),
		IntentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_intents_total",
			Help: "Trade intents by validation decision",
		}, []string{"decision"}),
		TradeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trade_transitions_total",
			Help: "Trade state transitions by status entered",
		}, []string{"status"}),
		ExitsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_exits_placed_total",
			Help: "Exit orders placed (by reason)",
		}, []string{"reason"}),
		ActorQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_actor_queue_depth",
			Help: "Trade actor mailbox occupancy per partition",
		}, []string{"partition"}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_reconcile_runs_total",
			Help: "Reconciler sweeps over pending trades",
		}),

		BrokerCallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_broker_call_duration_seconds",
			Help:    "Broker adapter call latency by operation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"op"}),
		WatchdogReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_watchdog_reloads_total",
			Help: "Broker token reloads triggered by session rotation",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ws_reconnects_total",
			Help: "Tick stream reconnection attempts",
		}),

		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_events_published_total",
			Help: "Events appended to the journal",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_events_dropped_total",
			Help: "Events dropped on slow subscriber channels",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis circuit was open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.IngressRejects,
		m.LateTicks,
		m.CandlesTotal,
		m.SignalsEmitted,
		m.SignalsExpired,
		m.SignalsStale,
		m.DeliveriesCreated,
		m.DeliveriesConsumed,
		m.IntentsTotal,
		m.TradeTransitions,
		m.ExitsPlaced,
		m.ActorQueueDepth,
		m.ReconcileRuns,
		m.BrokerCallDur,
		m.WatchdogReloads,
		m.WSReconnects,
		m.EventsPublished,
		m.EventsDropped,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.MarketState,
	)

	return m
}

// HealthStatus is the system health snapshot served on /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	ActorOK        bool      `json:"actor_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetActorOK(v bool) {
	h.mu.Lock()
	h.ActorOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected || !h.SQLiteOK || !h.ActorOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && !h.ActorOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		ActorOK         bool    `json:"actor_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		ActorOK:         h.ActorOK,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
