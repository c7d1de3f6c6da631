package metrics

import (
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, m *Metrics) map[string][]*dto.Metric {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	out := make(map[string][]*dto.Metric, len(families))
	for _, f := range families {
		out[f.GetName()] = f.GetMetric()
	}
	return out
}

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.Developed()
	m.Developed()
	m.CacheHit()
	m.NonExecutable()
	m.Scored()
	m.Failure()

	got := gather(t, m)
	assert.Equal(t, 2.0, got["roper_developed_total"][0].GetCounter().GetValue())
	assert.Equal(t, 1.0, got["roper_profile_cache_hits_total"][0].GetCounter().GetValue())
	assert.Equal(t, 0.0, got["roper_emulated_total"][0].GetCounter().GetValue())
	assert.Equal(t, 1.0, got["roper_fitness_failures_total"][0].GetCounter().GetValue())
}

func TestObjectiveQuantiles(t *testing.T) {
	m := New()
	for i := 1; i <= 100; i++ {
		m.ObserveObjective("register_novelty", float64(i)/100)
	}
	m.ObserveObjective("register_novelty", math.Inf(1))
	m.ObserveObjective("register_novelty", math.NaN())

	q, ok := m.Quantile("register_novelty", 0.5)
	require.True(t, ok)
	assert.InDelta(t, 0.5, q, 0.05)
	_, ok = m.Quantile("zeroes", 0.5)
	assert.False(t, ok)
	assert.Equal(t, []string{"register_novelty"}, m.Objectives())

	got := gather(t, m)
	assert.Len(t, got["roper_objective_quantile"], len(Quantiles))
	require.Len(t, got["roper_objective_mean"], 1)
	assert.InDelta(t, 0.505, got["roper_objective_mean"][0].GetGauge().GetValue(), 1e-9)
}

func TestNilMetricsDiscard(t *testing.T) {
	var m *Metrics
	m.Developed()
	m.ObserveObjective("x", 1)
	_, ok := m.Quantile("x", 0.5)
	assert.False(t, ok)
	assert.Nil(t, m.Objectives())
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.Scored()
	m.ObserveObjective("code_coverage", 0.25)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "roper_scored_total 1"))
	assert.True(t, strings.Contains(string(body), `objective="code_coverage"`))
}
