package observability

import (
    "context"
    "errors"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"
)

// Metrics are the relay counters. A nil *Metrics records nothing.
type Metrics struct {
    received   *prometheus.CounterVec
    forwarded  prometheus.Counter
    registered prometheus.Counter
    evicted    prometheus.Counter
    pollIdle   prometheus.Counter
    livePeers  prometheus.Gauge
}

// NewMetrics creates the relay collectors and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
    m := &Metrics{
        received: prometheus.NewCounterVec(prometheus.CounterOpts{
            Namespace: namespace, Name: "datagrams_received_total",
            Help: "Datagrams received, by endpoint kind and classification.",
        }, []string{"endpoint", "kind"}),
        forwarded: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: namespace, Name: "datagrams_forwarded_total",
            Help: "Payload copies sent during fan-out.",
        }),
        registered: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: namespace, Name: "peers_registered_total",
            Help: "Peer records created.",
        }),
        evicted: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: namespace, Name: "peers_evicted_total",
            Help: "Peer records tombstoned after the liveness timeout.",
        }),
        pollIdle: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace: namespace, Name: "poll_idle_total",
            Help: "Readiness waits that timed out with nothing to read.",
        }),
        livePeers: prometheus.NewGauge(prometheus.GaugeOpts{
            Namespace: namespace, Name: "registry_live_peers",
            Help: "Peer records not tombstoned.",
        }),
    }
    for _, c := range []prometheus.Collector{m.received, m.forwarded, m.registered, m.evicted, m.pollIdle, m.livePeers} {
        if err := reg.Register(c); err != nil {
            return nil, err
        }
    }
    return m, nil
}

func (m *Metrics) Received(endpoint, kind string) {
    if m == nil { return }
    m.received.WithLabelValues(endpoint, kind).Inc()
}

func (m *Metrics) Forwarded() {
    if m == nil { return }
    m.forwarded.Inc()
}

func (m *Metrics) Registered(live int) {
    if m == nil { return }
    m.registered.Inc()
    m.livePeers.Set(float64(live))
}

func (m *Metrics) Evicted(live int) {
    if m == nil { return }
    m.evicted.Inc()
    m.livePeers.Set(float64(live))
}

func (m *Metrics) PollIdle() {
    if m == nil { return }
    m.pollIdle.Inc()
}

// ServeMetrics exposes g on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, g prometheus.Gatherer) error {
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
    srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
    go func() {
        <-ctx.Done()
        sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = srv.Shutdown(sctx)
    }()
    zap.L().Info("metrics listening", zap.String("addr", addr))
    if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
        return err
    }
    return nil
}
