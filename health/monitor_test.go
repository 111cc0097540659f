package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_SnapshotAggregatesWorstState(t *testing.T) {
	monitor := NewMonitor()
	monitor.RegisterCheck("transport", func() Status { return Healthy("transport") })
	monitor.RegisterCheck("directory", func() Status { return Degraded("directory", "ping stale") })

	snapshot := monitor.Snapshot()
	assert.Equal(t, StateDegraded, snapshot.State)
	require.Len(t, snapshot.SubStatuses, 2)
	assert.Equal(t, "transport", snapshot.SubStatuses[0].Component)
	assert.Equal(t, "directory", snapshot.SubStatuses[1].Component)

	monitor.RegisterCheck("queues", func() Status { return Unhealthy("queues", "stuck") })
	assert.Equal(t, StateUnhealthy, monitor.Snapshot().State)
}

func TestMonitor_EmptySnapshotIsHealthy(t *testing.T) {
	snapshot := NewMonitor().Snapshot()
	assert.True(t, snapshot.IsHealthy())
	assert.Empty(t, snapshot.SubStatuses)
}

func TestMonitor_ReplaceCheck(t *testing.T) {
	monitor := NewMonitor()
	monitor.RegisterCheck("directory", func() Status { return Unhealthy("directory", "down") })
	monitor.RegisterCheck("directory", func() Status { return Healthy("directory") })

	snapshot := monitor.Snapshot()
	assert.True(t, snapshot.IsHealthy())
	assert.Len(t, snapshot.SubStatuses, 1)
}

func TestPingCheck_Thresholds(t *testing.T) {
	elapsed := time.Duration(0)
	check := PingCheck("directory", func() time.Duration { return elapsed },
		30*time.Second, 2*time.Minute)

	elapsed = time.Second
	assert.Equal(t, StateHealthy, check().State)

	elapsed = time.Minute
	assert.Equal(t, StateDegraded, check().State)

	elapsed = 3 * time.Minute
	assert.Equal(t, StateUnhealthy, check().State)
}

func TestPingCheck_NeverPingedIsUnhealthy(t *testing.T) {
	// The directory reports an effectively infinite elapsed time
	// before registration.
	check := PingCheck("directory", func() time.Duration { return time.Duration(1<<63 - 1) },
		30*time.Second, 2*time.Minute)
	assert.Equal(t, StateUnhealthy, check().State)
}

func TestWorst(t *testing.T) {
	assert.Equal(t, StateHealthy, Worst())
	assert.Equal(t, StateHealthy, Worst(StateHealthy, StateHealthy))
	assert.Equal(t, StateDegraded, Worst(StateHealthy, StateDegraded))
	assert.Equal(t, StateUnhealthy, Worst(StateDegraded, StateUnhealthy, StateHealthy))
}
