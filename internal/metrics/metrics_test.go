package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg)
	b := New(reg)

	a.JobsProcessed.WithLabelValues("send_email", OutcomeCompleted).Inc()
	b.JobsProcessed.WithLabelValues("send_email", OutcomeCompleted).Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.JobsProcessed.WithLabelValues("send_email", OutcomeCompleted)))
}

func TestNewNop_Isolated(t *testing.T) {
	a := NewNop()
	b := NewNop()
	a.ClaimErrors.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ClaimErrors))
}
