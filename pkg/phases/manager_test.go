package phases

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

func TestStartAndComplete(t *testing.T) {
	m := NewManager().WithClock(fixedClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), time.Minute))

	exec := m.Start(Ingestion, map[string]any{"records": 100})
	assert.Equal(t, StatusRunning, exec.Status)
	assert.Contains(t, exec.ID, "INGESTION_")

	ok := m.Complete(exec.ID, map[string]any{"ingested_records": 100}, map[string]any{"processed": true})
	require.True(t, ok)

	got, found := m.Execution(exec.ID)
	require.True(t, found)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, time.Minute, got.Duration)
	assert.Equal(t, 100, got.Outputs["ingested_records"])
}

func TestComplete_Idempotence(t *testing.T) {
	m := NewManager()
	exec := m.Start(Processing, nil)

	assert.True(t, m.Complete(exec.ID, map[string]any{"v": 1}, nil))
	assert.False(t, m.Complete(exec.ID, map[string]any{"v": 2}, nil), "re-completing must be a rejected no-op")

	got, _ := m.Execution(exec.ID)
	assert.Equal(t, 1, got.Outputs["v"], "outputs reflect only the first call")
}

func TestComplete_UnknownExecution(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Complete("PROCESSING_missing", nil, nil))
}

func TestFail_Unconditional(t *testing.T) {
	m := NewManager()

	running := m.Start(Analysis, nil)
	assert.True(t, m.Fail(running.ID, "boom"))
	got, _ := m.Execution(running.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	blocked := m.Start(Validation, nil)
	require.True(t, m.Block(blocked.ID, "waiting for review"))
	assert.True(t, m.Fail(blocked.ID, "gate rejected"), "fail must override BLOCKED")
	got, _ = m.Execution(blocked.ID)
	assert.Equal(t, StatusFailed, got.Status)

	completed := m.Start(Synthesis, nil)
	require.True(t, m.Complete(completed.ID, nil, nil))
	assert.True(t, m.Fail(completed.ID, "late failure"), "fail accepts any current status")
}

func TestBlockUnblock(t *testing.T) {
	m := NewManager()
	exec := m.Start(Ingestion, nil)

	require.True(t, m.Block(exec.ID, "waiting for HRG review"))
	got, _ := m.Execution(exec.ID)
	assert.Equal(t, StatusBlocked, got.Status)
	assert.Equal(t, "waiting for HRG review", got.Error)

	require.True(t, m.Unblock(exec.ID))
	got, _ = m.Execution(exec.ID)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Empty(t, got.Error)

	assert.False(t, m.Unblock(exec.ID), "unblocking a running execution is rejected")
}

func TestNext(t *testing.T) {
	assert.Equal(t, Preprocessing, Next(Ingestion))
	assert.Equal(t, Finalization, Next(Review))
	assert.Equal(t, Name(""), Next(Finalization))
	assert.Equal(t, Name(""), Next(Name("BOGUS")))
}

func TestGateFor(t *testing.T) {
	assert.Equal(t, "GATE_1_INGESTION", GateFor(Ingestion))
	assert.Equal(t, "GATE_2_PROCESSING", GateFor(Processing))
	assert.Equal(t, "GATE_3_VALIDATION", GateFor(Validation))
	assert.Equal(t, "GATE_4_FINALIZATION", GateFor(Finalization))
	assert.Empty(t, GateFor(Preprocessing))
	assert.Empty(t, GateFor(Review))
}

func TestStatus_Aggregation(t *testing.T) {
	m := NewManager()
	assert.Equal(t, PipelineNotStarted, m.Status().State)

	first := m.Start(Ingestion, nil)
	assert.Equal(t, PipelineRunning, m.Status().State)

	m.Block(first.ID, "gate")
	assert.Equal(t, PipelineBlocked, m.Status().State)

	m.Unblock(first.ID)
	m.Complete(first.ID, nil, nil)
	assert.Equal(t, PipelineInProgress, m.Status().State)

	second := m.Start(Preprocessing, nil)
	m.Fail(second.ID, "bad data")
	status := m.Status()
	assert.Equal(t, PipelineFailed, status.State, "failure dominates all other states")
	assert.Equal(t, 1, status.PhasesCompleted)
}

func TestStatus_FullRun(t *testing.T) {
	m := NewManager()
	for _, phase := range Order {
		exec := m.Start(phase, nil)
		require.True(t, m.Complete(exec.ID, nil, nil))
	}

	status := m.Status()
	assert.Equal(t, PipelineCompleted, status.State)
	assert.Equal(t, 8, status.PhasesCompleted)
	assert.InDelta(t, 100.0, status.Progress, 0.001)
}

func TestPhaseMetrics(t *testing.T) {
	m := NewManager().WithClock(fixedClock(time.Now(), time.Second))

	e1 := m.Start(Processing, nil)
	m.Complete(e1.ID, nil, nil)
	e2 := m.Start(Processing, nil)
	m.Fail(e2.ID, "err")

	metrics := m.PhaseMetrics(Processing)
	assert.Equal(t, 2, metrics.TotalExecutions)
	assert.Equal(t, 1, metrics.Completed)
	assert.Equal(t, 1, metrics.Failed)
	assert.InDelta(t, 0.5, metrics.SuccessRate, 0.001)

	empty := m.PhaseMetrics(Review)
	assert.Equal(t, 0, empty.TotalExecutions)
	assert.InDelta(t, 1.0, empty.SuccessRate, 0.001)
}
