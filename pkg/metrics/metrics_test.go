package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	pc := NewPrometheusCollector("fiskal")
	require.NoError(t, pc.Register(reg))

	pc.JobFinished("VERIFIED", "CAMT053", 2*time.Second)
	pc.JobFinished("VERIFIED", "CAMT053", time.Second)
	pc.DedupOutcome("skipped")
	pc.VisionRepair(true)
	pc.CircuitState("gemini", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(pc.jobsTotal.WithLabelValues("VERIFIED", "CAMT053")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.dedup.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pc.visionRepair.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pc.circuitState.WithLabelValues("gemini")))

	// registering twice fails
	assert.Error(t, pc.Register(reg))
}

func TestNoopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Noop{}
	r.JobFinished("FAILED", "PDF", time.Millisecond)
	r.AICall("text", "ok", time.Millisecond)
}
