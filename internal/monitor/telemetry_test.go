package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"prologd-judge/internal/config"
)

// saveAndRestoreGlobalProvider snapshots the global tracer provider so tests
// don't leak state.
func saveAndRestoreGlobalProvider(t *testing.T) {
	t.Helper()
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
}

func TestInitTelemetry_Disabled(t *testing.T) {
	saveAndRestoreGlobalProvider(t)

	tel, err := InitTelemetry(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel)
	assert.Nil(t, tel.tp)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestInitTelemetry_Enabled(t *testing.T) {
	saveAndRestoreGlobalProvider(t)

	// The gRPC exporter connects lazily, so no collector is needed here.
	tel, err := InitTelemetry(context.Background(), config.TracingConfig{
		Enabled:     true,
		Endpoint:    "localhost:4317",
		ServiceName: "prologd-judge-test",
		Sample:      1,
	})
	require.NoError(t, err)
	require.NotNil(t, tel.tp)
	assert.Same(t, tel.tp, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = tel.Shutdown(ctx)
}

func TestShutdown_NilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTracer_StartSpanUsesGivenName(t *testing.T) {
	tr := NewTracer()
	ctx, span := tr.StartSpan(context.Background(), "judge.debug", AttrExecID.String("x"))
	defer span.End()
	assert.Equal(t, span, SpanFromContext(ctx))
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordRun("testing", "success", 0.2, 12)
	m.RecordRun("testing", "timeout", 5, 0)
	m.RecordCase(true)
	m.RecordCase(false)
	m.RecordCase(false)
	m.RecordGradingError("non_boolean")
	m.RecordSecurityEvent("file_write")
	m.RecordError("infrastructure")

	assert.Equal(t, 1.0, counterValue(t, m.RunsTotal.WithLabelValues("testing", "success")))
	assert.Equal(t, 1.0, counterValue(t, m.RunsTotal.WithLabelValues("testing", "timeout")))
	assert.Equal(t, 1.0, counterValue(t, m.CasesTotal.WithLabelValues("passed")))
	assert.Equal(t, 2.0, counterValue(t, m.CasesTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, counterValue(t, m.GradingErrors.WithLabelValues("non_boolean")))
	assert.Equal(t, 1.0, counterValue(t, m.SecurityEvents.WithLabelValues("file_write")))
	assert.Equal(t, 1.0, counterValue(t, m.RunErrors.WithLabelValues("infrastructure")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func TestMetrics_TrackActiveRuns(t *testing.T) {
	m := NewMetrics()
	var active int64 = 3
	m.TrackActiveRuns(func() int64 { return active })

	gauge := func() float64 {
		t.Helper()
		families, err := m.Registry.Gather()
		require.NoError(t, err)
		for _, f := range families {
			if f.GetName() == "judge_active_runs" {
				return f.GetMetric()[0].GetGauge().GetValue()
			}
		}
		t.Fatal("judge_active_runs not exported")
		return 0
	}

	assert.Equal(t, 3.0, gauge())
	active = 0
	assert.Equal(t, 0.0, gauge())
}
