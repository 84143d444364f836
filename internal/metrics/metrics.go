// Package metrics defines the Prometheus collectors exported by lumen. They
// are registered with the default registry and served by the inspect server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source metrics
var (
	SourceRangeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_source_range_requests_total",
			Help: "Total number of HTTP range requests issued",
		},
		[]string{"status"}, // "ok", "error"
	)

	SourceBytesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_source_bytes_fetched_total",
			Help: "Total bytes fetched from remote sources",
		},
	)

	SourceCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_source_cache_lookups_total",
			Help: "Chunk cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	MetadataCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_metadata_cache_lookups_total",
			Help: "Backend metadata hint lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)
)

// Demux metrics
var (
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumen_sessions_active",
			Help: "Number of open container sessions",
		},
	)

	SessionOpenDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumen_session_open_duration_seconds",
			Help:    "Time spent parsing container metadata",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	PacketsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_packets_read_total",
			Help: "Packets delivered by track readers",
		},
		[]string{"kind"},
	)

	PacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_packets_dropped_total",
			Help: "Packets dropped by bounded delivery queues",
		},
		[]string{"kind"},
	)

	ReadersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lumen_readers_active",
			Help: "Track readers currently pulling packets",
		},
		[]string{"kind"},
	)

	ReaderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_reader_errors_total",
			Help: "Track reader loops that ended with an error",
		},
		[]string{"kind"},
	)
)

// Audio metrics
var (
	AudioDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_audio_decode_errors_total",
			Help: "Audio packets that failed to decode",
		},
	)

	AudioUnderruns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_audio_underruns_total",
			Help: "Times the schedule cursor fell behind the output clock",
		},
	)

	AudioBuffersScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_audio_buffers_scheduled_total",
			Help: "Decoded audio buffers scheduled on the output",
		},
	)
)

// Subtitle metrics
var (
	SubtitleFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_subtitle_fetches_total",
			Help: "Subtitle window fetches by outcome",
		},
		[]string{"result"}, // "ok", "error", "skipped"
	)

	SubtitleFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumen_subtitle_fetch_duration_seconds",
			Help:    "Subtitle window fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	OpenSubtitlesRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_opensubtitles_requests_total",
			Help: "OpenSubtitles API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
)
