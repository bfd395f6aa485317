package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AssetPipelineMetrics records generation and storage outcomes.
type AssetPipelineMetrics struct {
	composeDuration *prometheus.HistogramVec
	compositions    *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	cleanupFailures prometheus.Counter
	scans           prometheus.Counter
}

// NewAssetPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewAssetPipelineMetrics(reg prometheus.Registerer) *AssetPipelineMetrics {
	if reg == nil {
		return &AssetPipelineMetrics{}
	}
	composeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "asset_compose_duration_seconds",
		Help:    "Duration of scannable-code composition in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	compositions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asset_compositions_total",
		Help: "Composition attempts partitioned by outcome.",
	}, []string{"kind", "outcome"})
	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asset_uploads_total",
		Help: "Asset stores partitioned by destination (remote or local fallback).",
	}, []string{"destination"})
	cleanupFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asset_cleanup_failures_total",
		Help: "Best-effort asset deletions that did not complete.",
	})
	scans := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asset_scans_total",
		Help: "Recorded scans across all venues.",
	})
	reg.MustRegister(composeDuration, compositions, uploads, cleanupFailures, scans)
	return &AssetPipelineMetrics{
		composeDuration: composeDuration,
		compositions:    compositions,
		uploads:         uploads,
		cleanupFailures: cleanupFailures,
		scans:           scans,
	}
}

// ObserveCompose records the duration of one composition.
func (m *AssetPipelineMetrics) ObserveCompose(kind string, duration time.Duration) {
	if m == nil || m.composeDuration == nil {
		return
	}
	m.composeDuration.WithLabelValues(normalizeLabel(kind)).Observe(duration.Seconds())
}

// IncComposition counts one composition attempt.
func (m *AssetPipelineMetrics) IncComposition(kind, outcome string) {
	if m == nil || m.compositions == nil {
		return
	}
	m.compositions.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// IncUpload counts one stored asset by destination.
func (m *AssetPipelineMetrics) IncUpload(destination string) {
	if m == nil || m.uploads == nil {
		return
	}
	m.uploads.WithLabelValues(normalizeLabel(destination)).Inc()
}

// IncCleanupFailure counts one failed best-effort deletion.
func (m *AssetPipelineMetrics) IncCleanupFailure() {
	if m == nil || m.cleanupFailures == nil {
		return
	}
	m.cleanupFailures.Inc()
}

// IncScan counts one recorded scan.
func (m *AssetPipelineMetrics) IncScan() {
	if m == nil || m.scans == nil {
		return
	}
	m.scans.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
