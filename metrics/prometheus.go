package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "joblog"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// PrometheusCollector exposes a Collector's snapshot as Prometheus
// counters, labeled with the backend dimensions.
type PrometheusCollector struct {
	c        *Collector
	counters []counterDesc
	byKind   *prometheus.Desc
}

// NewPrometheusCollector wraps c.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	labels := []string{"chunk_backend", "artifact_backend"}
	counter := func(name, help string, value func(Snapshot) int64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil),
			value: value,
		}
	}

	return &PrometheusCollector{
		c: c,
		counters: []counterDesc{
			counter("archive_success_total", "Traces archived.", func(s Snapshot) int64 { return s.ArchiveSuccess }),
			counter("archive_failure_total", "Failed archival attempts.", func(s Snapshot) int64 { return s.ArchiveFailure }),
			counter("archive_retries_total", "Archival retries scheduled.", func(s Snapshot) int64 { return s.ArchiveRetries }),
			counter("archive_lost_total", "Traces lost after the last archival attempt.", func(s Snapshot) int64 { return s.ArchiveLost }),
			counter("retry_reclaimed_total", "Archival retries claimed again after an unfinished claim.", func(s Snapshot) int64 { return s.RetryReclaimed }),
			counter("checksum_mismatch_total", "Archives whose local and remote MD5 differ.", func(s Snapshot) int64 { return s.ChecksumMismatch }),
			counter("checksum_invalid_total", "Traces whose CRC32 differs from the pending state.", func(s Snapshot) int64 { return s.ChecksumInvalid }),
			counter("checksum_corrupted_total", "Traces with a missing chunk.", func(s Snapshot) int64 { return s.ChecksumCorrupted }),
			counter("chunk_fetch_errors_total", "Failed remote window fetches.", func(s Snapshot) int64 { return s.ChunkFetchErrors }),
			counter("migrations_total", "Legacy traces migrated.", func(s Snapshot) int64 { return s.Migrations }),
			counter("migration_failures_total", "Legacy traces that could not be migrated.", func(s Snapshot) int64 { return s.MigrationFailures }),
		},
		byKind: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "archive_failure_by_kind_total"),
			"Failed archival attempts by storage error kind.",
			append(labels, "kind"), nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range p.counters {
		ch <- cd.desc
	}
	ch <- p.byKind
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.c.Snapshot()
	for _, cd := range p.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(s)), s.ChunkBackend, s.ArtifactBackend)
	}
	for kind, v := range s.FailuresByKind {
		ch <- prometheus.MustNewConstMetric(p.byKind, prometheus.CounterValue, float64(v), s.ChunkBackend, s.ArtifactBackend, kind)
	}
}

// Handler returns a /metrics handler on a dedicated registry holding c.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewPrometheusCollector(c)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)
