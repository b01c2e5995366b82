package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func histogramSampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestTimerObserveDurationRecordsSample(t *testing.T) {
	// A private histogram rather than one of the package-level collectors,
	// so the assertion is not affected by other tests observing into them.
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zeta_test_cold_start_seconds",
		Help:    "cold start timing for the timer test",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(h)

	if got := histogramSampleCount(t, h); got != 1 {
		t.Fatalf("sample count = %d, want 1", got)
	}
}

func TestTimerObserveDurationVecRecordsLabeledSample(t *testing.T) {
	hv := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zeta_test_invocation_seconds",
			Help:    "invocation timing for the timer test",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(hv, "echo")

	h, err := hv.GetMetricWithLabelValues("echo")
	if err != nil {
		t.Fatalf("get labeled histogram: %v", err)
	}
	if got := histogramSampleCount(t, h.(prometheus.Histogram)); got != 1 {
		t.Fatalf("sample count for function=echo = %d, want 1", got)
	}
}

func TestTimerDurationGrowsBetweenCalls(t *testing.T) {
	timer := NewTimer()

	time.Sleep(10 * time.Millisecond)
	first := timer.Duration()
	time.Sleep(10 * time.Millisecond)
	second := timer.Duration()

	if first <= 0 {
		t.Fatalf("first Duration() = %v, want > 0", first)
	}
	if second <= first {
		t.Fatalf("Duration() must grow between calls: first=%v second=%v", first, second)
	}
}
