package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("billing:interest:accrue").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("billing:interest:accrue").End(boom), boom)

	require.Equal(t, 1.0, value(t, m.runs.WithLabelValues("billing:interest:accrue", "success")))
	require.Equal(t, 1.0, value(t, m.runs.WithLabelValues("billing:interest:accrue", "failure")))
	require.Equal(t, 1.0, value(t, m.failures.WithLabelValues("billing:interest:accrue")))
}

func TestLedgerCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddGeneration(5, 1, 0)
	m.AddInterest(2, 7000)
	m.AddInterest(0, 100)

	require.Equal(t, 5.0, value(t, m.invoices.WithLabelValues("created")))
	require.Equal(t, 1.0, value(t, m.invoices.WithLabelValues("skipped")))
	require.Equal(t, 2.0, value(t, m.interestUpdates))
	require.Equal(t, 7000.0, value(t, m.interestAccrued))

	var missing *Metrics
	missing.AddGeneration(1, 1, 1)
	require.NoError(t, missing.Track("x").End(nil))
}
