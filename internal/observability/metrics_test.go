package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsIndependentRegistries(t *testing.T) {
	// Two instances in one process must not collide.
	a := NewMetrics("coach")
	b := NewMetrics("coach")

	a.ActiveSessions.Set(3)
	b.ActiveSessions.Set(1)
	if got := testutil.ToFloat64(a.ActiveSessions); got != 3 {
		t.Errorf("a active = %v, want 3", got)
	}
	if got := testutil.ToFloat64(b.ActiveSessions); got != 1 {
		t.Errorf("b active = %v, want 1", got)
	}
}

func TestCounters(t *testing.T) {
	m := NewMetrics("coach")
	m.Inbound("audio_data")
	m.Inbound("audio_data")
	m.Outbound("transcript")
	m.ProviderError("elevenlabs", "503")
	m.Event("barge_in")

	if got := testutil.ToFloat64(m.WSMessages.WithLabelValues("in", "audio_data")); got != 2 {
		t.Errorf("inbound audio_data = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.WSMessages.WithLabelValues("out", "transcript")); got != 1 {
		t.Errorf("outbound transcript = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProviderErrors.WithLabelValues("elevenlabs", "503")); got != 1 {
		t.Errorf("provider errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionEvents.WithLabelValues("barge_in")); got != 1 {
		t.Errorf("barge_in = %v, want 1", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := NewMetrics("coach")
	m.ObserveFirstAudioLatency(250 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{"coach_active_sessions", "coach_first_audio_latency_ms_count 1"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}
