package phases

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager tracks phase executions for a single pipeline run.
//
// A given execution id is expected to be driven by one caller at a time; the
// internal lock protects the registry itself, not cross-call sequences.
type Manager struct {
	mu         sync.Mutex
	executions map[string]*Execution
	pipeline   []string // execution ids of the active run, in start order
	clock      func() time.Time
}

// NewManager creates an empty phase manager.
func NewManager() *Manager {
	return &Manager{
		executions: make(map[string]*Execution),
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Start creates a new execution for phase with status RUNNING.
// It always succeeds; the returned record is a copy.
func (m *Manager) Start(phase Name, inputs map[string]any) Execution {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec := &Execution{
		ID:        fmt.Sprintf("%s_%s", phase, uuid.New().String()),
		Phase:     phase,
		Status:    StatusRunning,
		StartedAt: m.clock().UTC(),
		Inputs:    inputs,
	}

	m.executions[exec.ID] = exec
	m.pipeline = append(m.pipeline, exec.ID)
	return *exec
}

// Complete transitions a RUNNING execution to COMPLETED, recording outputs,
// metrics and duration. It is a rejected no-op (false) if the execution is
// unknown or not currently RUNNING, so re-completing is harmless.
func (m *Manager) Complete(executionID string, outputs, metrics map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[executionID]
	if !ok || exec.Status != StatusRunning {
		return false
	}

	now := m.clock().UTC()
	exec.Status = StatusCompleted
	exec.CompletedAt = &now
	exec.Duration = now.Sub(exec.StartedAt)
	if outputs != nil {
		exec.Outputs = outputs
	}
	if metrics != nil {
		exec.Metrics = metrics
	}
	return true
}

// Fail transitions an execution to FAILED regardless of its prior status.
// Unlike Complete this is unconditional: a failure signal must never be lost
// because the execution happened to be BLOCKED at the time.
func (m *Manager) Fail(executionID, errMsg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[executionID]
	if !ok {
		return false
	}

	now := m.clock().UTC()
	exec.Status = StatusFailed
	exec.CompletedAt = &now
	exec.Error = errMsg
	if !exec.StartedAt.IsZero() {
		exec.Duration = now.Sub(exec.StartedAt)
	}
	return true
}

// Block transitions an execution to BLOCKED, storing reason in the error
// field as the pending cause.
func (m *Manager) Block(executionID, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[executionID]
	if !ok {
		return false
	}

	exec.Status = StatusBlocked
	exec.Error = reason
	return true
}

// Unblock transitions a BLOCKED execution back to RUNNING and clears the
// stored reason. Returns false if the execution is unknown or not blocked.
func (m *Manager) Unblock(executionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[executionID]
	if !ok || exec.Status != StatusBlocked {
		return false
	}

	exec.Status = StatusRunning
	exec.Error = ""
	return true
}

// AttachReview records the review request associated with an execution.
func (m *Manager) AttachReview(executionID, reviewID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[executionID]
	if !ok {
		return false
	}
	exec.ReviewID = reviewID
	return true
}

// Execution returns a copy of the execution record, if known.
func (m *Manager) Execution(executionID string) (Execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[executionID]
	if !ok {
		return Execution{}, false
	}
	return *exec, true
}

// Status derives the aggregate pipeline state from the active run's
// executions. Failure dominates; a blocked phase only reports BLOCKED when
// nothing has failed.
func (m *Manager) Status() PipelineStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(Order)
	if len(m.pipeline) == 0 {
		return PipelineStatus{
			State:       PipelineNotStarted,
			PhasesTotal: total,
		}
	}

	counts := make(map[Status]int)
	for _, id := range m.pipeline {
		counts[m.executions[id].Status]++
	}

	var state PipelineState
	switch {
	case counts[StatusFailed] > 0:
		state = PipelineFailed
	case counts[StatusBlocked] > 0:
		state = PipelineBlocked
	case counts[StatusRunning] > 0:
		state = PipelineRunning
	case counts[StatusCompleted] == total:
		state = PipelineCompleted
	default:
		state = PipelineInProgress
	}

	return PipelineStatus{
		State:           state,
		PhasesCompleted: counts[StatusCompleted],
		PhasesTotal:     total,
		Progress:        float64(counts[StatusCompleted]) / float64(total) * 100,
		StatusBreakdown: counts,
	}
}

// ExecutionsWhere returns copies of executions matching the optional phase
// and status filters ("" means any).
func (m *Manager) ExecutionsWhere(phase Name, status Status) []Execution {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Execution
	for _, id := range m.pipeline {
		exec := m.executions[id]
		if phase != "" && exec.Phase != phase {
			continue
		}
		if status != "" && exec.Status != status {
			continue
		}
		result = append(result, *exec)
	}
	return result
}

// PhaseMetrics aggregates all executions of one phase. With no executions
// the success rate is vacuously 1.0.
func (m *Manager) PhaseMetrics(phase Name) Metrics {
	execs := m.ExecutionsWhere(phase, "")
	if len(execs) == 0 {
		return Metrics{SuccessRate: 1.0}
	}

	var completed, failed, withDuration int
	var totalDuration time.Duration
	for _, e := range execs {
		switch e.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
		if e.Duration > 0 {
			totalDuration += e.Duration
			withDuration++
		}
	}

	metrics := Metrics{
		TotalExecutions: len(execs),
		Completed:       completed,
		Failed:          failed,
		SuccessRate:     float64(completed) / float64(len(execs)),
	}
	if withDuration > 0 {
		metrics.AverageDuration = totalDuration / time.Duration(withDuration)
	}
	return metrics
}
