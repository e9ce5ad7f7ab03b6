package metrics

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCall("add", time.Millisecond, nil)
	m.ObserveCall("add", time.Millisecond, errors.New("boom"))
	m.ObserveRequest("ping", OutcomeOK)
	m.PendingAdd(2)
	m.PendingAdd(-1)
	m.RegisteredAdd(1)
	m.CorrelationMisuse()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls().WithLabelValues("add", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls().WithLabelValues("add", OutcomeFault)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests().WithLabelValues("ping", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pending()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registered()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Misuse()))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCall("add", time.Second, nil)
		m.ObserveRequest("ping", OutcomeFault)
		m.PendingAdd(1)
		m.RegisteredAdd(1)
		m.CorrelationMisuse()
	})
}
