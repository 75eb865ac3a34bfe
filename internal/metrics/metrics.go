// Package metrics exports session activity in the Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"v2ray-session/internal/core"
)

// Metrics holds the session collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	state       prometheus.Gauge
	transitions *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	validations *prometheus.CounterVec
	switches    prometheus.Counter

	mu       sync.Mutex
	lastUp   int64
	lastDown int64
}

// New creates a registry with the session collectors plus the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "v2ray_session_state",
			Help: "Current session state (0 disconnected, 1 connecting, 2 connected)",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2ray_session_transitions_total",
			Help: "Session state transitions",
		}, []string{"from", "to"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2ray_session_bytes_total",
			Help: "Bytes carried by the tunnel by direction",
		}, []string{"direction"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "v2ray_session_validation_passes_total",
			Help: "Profile validation passes by result",
		}, []string{"result"}),
		switches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "v2ray_session_network_switches_total",
			Help: "Session restarts caused by a network path change",
		}),
	}
	m.registry.MustRegister(
		m.state, m.transitions, m.bytes, m.validations, m.switches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Attach feeds the collectors from bus.
func (m *Metrics) Attach(bus *core.EventBus) {
	bus.Subscribe(core.EventSessionStateChanged, func(e core.Event) {
		p, ok := e.Payload.(core.SessionStatePayload)
		if !ok {
			return
		}
		m.state.Set(float64(p.NewState))
		m.transitions.WithLabelValues(p.OldState.String(), p.NewState.String()).Inc()
	})
	bus.Subscribe(core.EventTrafficSnapshot, func(e core.Event) {
		if p, ok := e.Payload.(core.SnapshotPayload); ok {
			m.observeTotals(p.Snapshot)
		}
	})
	bus.Subscribe(core.EventValidationPass, func(e core.Event) {
		p, ok := e.Payload.(core.ValidationPayload)
		if !ok {
			return
		}
		result := "invalid"
		if p.Valid {
			result = "valid"
		}
		m.validations.WithLabelValues(result).Inc()
	})
	bus.Subscribe(core.EventNetworkSwitched, func(core.Event) {
		m.switches.Inc()
	})
}

// observeTotals turns the per-session running totals into counter deltas.
// A total lower than the last one seen starts a new session.
func (m *Metrics) observeTotals(s core.TrafficSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bytes.WithLabelValues("up").Add(float64(delta(m.lastUp, s.TotalUpload)))
	m.bytes.WithLabelValues("down").Add(float64(delta(m.lastDown, s.TotalDownload)))
	m.lastUp, m.lastDown = s.TotalUpload, s.TotalDownload
}

func delta(last, now int64) int64 {
	switch {
	case now >= last:
		return now - last
	case now > 0:
		return now
	default:
		return 0
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	core.Log.Infof("Metrics", "Listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
