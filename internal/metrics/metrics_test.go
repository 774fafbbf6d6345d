package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mrtrack/internal/scanid"
)

func TestObserveParse(t *testing.T) {
	m := New(prometheus.NewRegistry())

	id, err := scanid.Parse("STU01_UTO_10001")
	require.NoError(t, err)
	m.ObserveParse(id, nil)
	m.ObserveParse(id, nil)

	_, err = scanid.Parse("not a label")
	require.Error(t, err)
	m.ObserveParse(scanid.Identifier{}, err)
	m.ObserveError(errors.New("disk full"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Parsed.WithLabelValues("internal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("grammar_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("internal")))
}

func TestIngestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncrementIndexed()
	m.IncrementRejected("unknown_study")
	m.IncrementRejected("unknown_study")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansIndexed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScansRejected.WithLabelValues("unknown_study")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveParse(scanid.Identifier{}, nil)
		m.ObserveError(errors.New("x"))
		m.IncrementIndexed()
		m.IncrementRejected("x")
		m.ObserveSync(0)
	})
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
