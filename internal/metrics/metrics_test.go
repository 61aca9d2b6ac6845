package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Page(OutcomeIngested)
	m.Page(OutcomeIngested)
	m.Page(OutcomeDuplicate)
	m.Waited(70 * time.Second)
	m.TokensCharged.Add(42)

	assert.InDelta(t, 2, testutil.ToFloat64(m.PagesTotal.WithLabelValues(OutcomeIngested)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PagesTotal.WithLabelValues(OutcomeDuplicate)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RateLimitWaits), 0)
	assert.InDelta(t, 70, testutil.ToFloat64(m.RateLimitWaitTime), 1e-9)
	assert.InDelta(t, 42, testutil.ToFloat64(m.TokensCharged), 0)

	n, err := testutil.GatherAndCount(reg, "sitemap_ingestor_pages_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestNopInstancesAreIndependent(t *testing.T) {
	a, b := NewNop(), NewNop()
	a.Page(OutcomeFailed)
	assert.Zero(t, testutil.ToFloat64(b.PagesTotal.WithLabelValues(OutcomeFailed)))
}
