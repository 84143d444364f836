package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric prometheus.Collector
	}{
		{"SourceRangeRequests", SourceRangeRequests},
		{"SourceBytesFetched", SourceBytesFetched},
		{"SourceCacheLookups", SourceCacheLookups},
		{"SessionsActive", SessionsActive},
		{"SessionOpenDuration", SessionOpenDuration},
		{"PacketsRead", PacketsRead},
		{"PacketsDropped", PacketsDropped},
		{"ReadersActive", ReadersActive},
		{"ReaderErrors", ReaderErrors},
		{"AudioDecodeErrors", AudioDecodeErrors},
		{"AudioUnderruns", AudioUnderruns},
		{"AudioBuffersScheduled", AudioBuffersScheduled},
		{"SubtitleFetches", SubtitleFetches},
		{"SubtitleFetchDuration", SubtitleFetchDuration},
		{"OpenSubtitlesRequests", OpenSubtitlesRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestCounterVecOperations(t *testing.T) {
	before := value(t, PacketsDropped.WithLabelValues("subtitle"))
	PacketsDropped.WithLabelValues("subtitle").Inc()
	PacketsDropped.WithLabelValues("subtitle").Add(2)
	got := value(t, PacketsDropped.WithLabelValues("subtitle"))
	if got-before != 3 {
		t.Errorf("dropped delta: got %v, want 3", got-before)
	}
}

func TestGaugeVecOperations(t *testing.T) {
	g := ReadersActive.WithLabelValues("video")
	before := value(t, g)
	g.Inc()
	g.Inc()
	g.Dec()
	if got := value(t, g) - before; got != 1 {
		t.Errorf("active delta: got %v, want 1", got)
	}
	g.Dec()
}
