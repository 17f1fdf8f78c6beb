// Package metrics exports feed ingest outcomes to Prometheus and serves them,
// together with the pprof handlers, on the admin listener.
package metrics

import (
	"seismicdash/event"
	"seismicdash/feed"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seismicdash"

// Collector implements feed.Observer on a private registry so several
// dashboards (or tests) never collide on registration.
type Collector struct {
	registry *prometheus.Registry

	frames      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	windowSize  prometheus.Gauge
	maxMag      prometheus.Gauge
	status      prometheus.Gauge
	magnitudes  prometheus.Histogram
}

var _ feed.Observer = (*Collector)(nil)

// NewCollector builds and registers the dashboard metrics, plus the Go
// runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Feed frames by ingest result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Connection status transitions by new status.",
		}, []string{"status"}),
		windowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_events",
			Help:      "Events currently held in the recent-event window.",
		}),
		maxMag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_magnitude",
			Help:      "Largest magnitude seen since the dashboard was mounted.",
		}),
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "Connection status: 0 disconnected, 1 connected, 2 error.",
		}),
		magnitudes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_magnitude",
			Help:      "Distribution of accepted event magnitudes.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8},
		}),
	}
	c.registry.MustRegister(
		c.frames,
		c.transitions,
		c.windowSize,
		c.maxMag,
		c.status,
		c.magnitudes,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	for _, r := range []string{"accepted", "ignored", "rejected"} {
		c.frames.WithLabelValues(r)
	}
	return c
}

// Registry exposes the private registry for handlers and tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) FrameAccepted(e event.Event, snap *feed.Snapshot) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues("accepted").Inc()
	c.magnitudes.Observe(e.Mag)
	if snap != nil {
		c.windowSize.Set(float64(snap.Window.Len()))
		c.maxMag.Set(snap.Stats.MaxMagnitude)
	}
}

func (c *Collector) FrameIgnored() {
	if c == nil {
		return
	}
	c.frames.WithLabelValues("ignored").Inc()
}

func (c *Collector) FrameRejected(error) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues("rejected").Inc()
}

func (c *Collector) StatusChanged(s feed.Status) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(s.Label()).Inc()
	c.status.Set(float64(s))
}

// Reset zeroes the per-mount gauges when a dashboard is unmounted.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.windowSize.Set(0)
	c.maxMag.Set(0)
	c.status.Set(float64(feed.Disconnected))
}
