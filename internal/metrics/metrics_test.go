package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventAppended("TaskAssigned")
	m.EventAppended("TaskAssigned")
	m.DeliveryAttempted("webhook", true, 40*time.Millisecond)
	m.DeliveryAttempted("webhook", false, time.Second)
	m.DeliveryExhausted("webhook")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsAppended.WithLabelValues("TaskAssigned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryAttempts.WithLabelValues("webhook", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryAttempts.WithLabelValues("webhook", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryExhausted.WithLabelValues("webhook")))

	expected := `
# HELP switchboard_delivery_exhausted_total Publish log rows that ran out of attempts.
# TYPE switchboard_delivery_exhausted_total counter
switchboard_delivery_exhausted_total{subscriber_type="webhook"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "switchboard_delivery_exhausted_total"))
}

func TestOrchestrationMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TaskAssigned("assigned")
	m.ConflictRaised("resource", "high")
	m.ReadyTasks("apollo", 4)
	m.ReadyTasks("apollo", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.assignments.WithLabelValues("assigned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictsRaised.WithLabelValues("resource", "high")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.readyTasks.WithLabelValues("apollo")))
}

func TestNewTwiceOnOneRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
