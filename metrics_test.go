package credlife

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsCountersAndHistograms(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(MetricLoginSuccess)
			}
		}()
	}
	wg.Wait()
	m.Add(MetricSessionRevoked, 3)
	m.Add(MetricSessionRevoked, -1)

	m.Observe(MetricLoginLatency, 3*time.Millisecond)
	m.Observe(MetricLoginLatency, 2*time.Second)
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	if got := snap.Counters[MetricLoginSuccess]; got != 800 {
		t.Fatalf("expected 800 logins, got %d", got)
	}
	if got := snap.Counters[MetricSessionRevoked]; got != 3 {
		t.Fatalf("expected 3 revocations, got %d", got)
	}
	if _, ok := snap.Counters[MetricLoginLatency]; ok {
		t.Fatalf("histograms must not appear as counters")
	}
	h := snap.Histograms[MetricLoginLatency]
	if len(h.Buckets) != HistogramBucketCount || h.Buckets[0] != 1 || h.Buckets[HistogramBucketCount-1] != 1 {
		t.Fatalf("unexpected buckets %v", h.Buckets)
	}
	if h.Sum != 2*time.Second+3*time.Millisecond {
		t.Fatalf("unexpected sum %v", h.Sum)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false, EnableLatencyHistograms: true})
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricLoginLatency, time.Millisecond)
	if m.Enabled() || m.Value(MetricLoginSuccess) != 0 {
		t.Fatalf("disabled metrics must ignore writes")
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Observe(MetricLoginLatency, time.Millisecond)
	_ = nilMetrics.Snapshot()
}

func TestEngineCountsOperations(t *testing.T) {
	env := newTestEnv(t, nil)
	pair := env.join(t, "alice@example.com")
	env.login(t, "alice@example.com", "")
	if _, err := env.engine.Refresh(t.Context(), pair.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	for id, want := range map[MetricID]uint64{
		MetricJoinSuccess:    1,
		MetricLoginSuccess:   1,
		MetricRefreshSuccess: 1,
		MetricSessionCreated: 2,
	} {
		if got := snap.Counters[id]; got != want {
			t.Fatalf("metric %d: expected %d, got %d", id, want, got)
		}
	}
}
