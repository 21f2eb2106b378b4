package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestNewCorrelationIDIsTimeOrdered(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
	assert.Len(t, a, 36)
}

func TestCorrelationIDRoundTripsThroughContext(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc-123")
	assert.Equal(t, "abc-123", CorrelationID(ctx))
}

func TestCorrelationIDAbsentReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", CorrelationID(context.Background()))
}

func TestRecordTaskUpdatesCounterAndHistogram(t *testing.T) {
	m := New()
	m.RecordTask("developer", "success", 250*time.Millisecond)

	metric := &io_prometheus_client.Metric{}
	counter, err := m.TaskCount.GetMetricWithLabelValues("developer", "success")
	require.NoError(t, err)
	require.NoError(t, counter.Write(metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())

	histMetric := &io_prometheus_client.Metric{}
	observer, err := m.TaskDuration.GetMetricWithLabelValues("developer")
	require.NoError(t, err)
	require.NoError(t, observer.(prometheus.Metric).Write(histMetric))
	assert.Equal(t, uint64(1), histMetric.GetHistogram().GetSampleCount())
}

func TestRecordTaskPublishesToHooks(t *testing.T) {
	m := New()
	var received []Measurement
	m.OnMeasurement(func(meas Measurement) { received = append(received, meas) })

	m.RecordTask("tester", "failure", time.Second)

	require.Len(t, received, 1)
	assert.Equal(t, "task", received[0].Name)
	assert.Equal(t, "failure", received[0].Labels["outcome"])
}

func TestRecordTokensAccumulates(t *testing.T) {
	m := New()
	m.RecordTokens("analyst", 100, 50)
	m.RecordTokens("analyst", 20, 10)

	metric := &io_prometheus_client.Metric{}
	counter, err := m.TokensIn.GetMetricWithLabelValues("analyst")
	require.NoError(t, err)
	require.NoError(t, counter.Write(metric))
	assert.Equal(t, float64(120), metric.GetCounter().GetValue())
}
