package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New("")

	m.ObserveCache("dashboard", true)
	m.ObserveCache("dashboard", false)
	m.ObserveCache("dashboard", false)
	m.ObserveLiveTick("skipped")
	m.SetSubscribers(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("dashboard", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("dashboard", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveTicks.WithLabelValues("skipped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Subscribers))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "ledgerview_aggregate_cache_lookups_total")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRead("getUserInfo", "ok")
		m.ObserveEvent("Withdrawal")
		m.SetSubscribers(1)
	})
	assert.Nil(t, m.Registry())
	assert.NotNil(t, m.Handler())
}
