// Package phases implements the lifecycle state machine for the fixed
// eight-phase conductor pipeline.
//
// The Manager owns every PhaseExecution record: executions are created by
// Start, mutated only through Manager operations, and retained for the life
// of the run.
package phases

import (
	"time"
)

// Name identifies one of the eight pipeline phases, in fixed order.
type Name string

const (
	Ingestion     Name = "INGESTION"
	Preprocessing Name = "PREPROCESSING"
	Processing    Name = "PROCESSING"
	Analysis      Name = "ANALYSIS"
	Validation    Name = "VALIDATION"
	Synthesis     Name = "SYNTHESIS"
	Review        Name = "REVIEW"
	Finalization  Name = "FINALIZATION"
)

// Order is the canonical phase sequence.
var Order = []Name{
	Ingestion,
	Preprocessing,
	Processing,
	Analysis,
	Validation,
	Synthesis,
	Review,
	Finalization,
}

// Valid reports whether n is one of the eight known phases.
func (n Name) Valid() bool {
	for _, p := range Order {
		if p == n {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a phase execution.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusBlocked   Status = "BLOCKED"
	StatusSkipped   Status = "SKIPPED"
)

// PipelineState is the aggregate state of an active run.
type PipelineState string

const (
	PipelineNotStarted PipelineState = "NOT_STARTED"
	PipelineRunning    PipelineState = "RUNNING"
	PipelineBlocked    PipelineState = "BLOCKED"
	PipelineFailed     PipelineState = "FAILED"
	PipelineCompleted  PipelineState = "COMPLETED"
	PipelineInProgress PipelineState = "IN_PROGRESS"
)

// Execution is one attempt to run a named phase.
type Execution struct {
	ID          string         `json:"execution_id"`
	Phase       Name           `json:"phase"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration  `json:"duration_ns,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	Error       string         `json:"error,omitempty"`
	ReviewID    string         `json:"review_id,omitempty"`
}

// PhaseInfo is static configuration for one phase.
type PhaseInfo struct {
	Ordinal     int    `json:"order"`
	Description string `json:"description"`
	Gate        string `json:"gate,omitempty"`
	Required    bool   `json:"required"`
}

// phaseTable is the static phase configuration: ordering, descriptions and
// the review gate (if any) guarding each phase.
var phaseTable = map[Name]PhaseInfo{
	Ingestion:     {Ordinal: 1, Description: "Ingest data and requests", Gate: "GATE_1_INGESTION", Required: true},
	Preprocessing: {Ordinal: 2, Description: "Preprocess and clean data", Required: true},
	Processing:    {Ordinal: 3, Description: "Execute main processing", Gate: "GATE_2_PROCESSING", Required: true},
	Analysis:      {Ordinal: 4, Description: "Analyze results and patterns", Required: true},
	Validation:    {Ordinal: 5, Description: "Validate quality and correctness", Gate: "GATE_3_VALIDATION", Required: true},
	Synthesis:     {Ordinal: 6, Description: "Synthesize final results", Required: true},
	Review:        {Ordinal: 7, Description: "Human review and approval", Required: true},
	Finalization:  {Ordinal: 8, Description: "Finalize and deliver", Gate: "GATE_4_FINALIZATION", Required: true},
}

// Info returns the static configuration for a phase.
func Info(phase Name) (PhaseInfo, bool) {
	info, ok := phaseTable[phase]
	return info, ok
}

// GateFor returns the review gate name guarding a phase, or "" if the phase
// is ungated.
func GateFor(phase Name) string {
	return phaseTable[phase].Gate
}

// Next returns the phase one position later in the fixed order, or "" if
// phase is the last one (or unknown).
func Next(phase Name) Name {
	for i, p := range Order {
		if p == phase && i+1 < len(Order) {
			return Order[i+1]
		}
	}
	return ""
}

// PipelineStatus summarizes the aggregate state of a run.
type PipelineStatus struct {
	State           PipelineState  `json:"status"`
	PhasesCompleted int            `json:"phases_completed"`
	PhasesTotal     int            `json:"phases_total"`
	Progress        float64        `json:"progress_percentage"`
	StatusBreakdown map[Status]int `json:"status_breakdown,omitempty"`
}

// Metrics aggregates executions of a single phase.
type Metrics struct {
	TotalExecutions int           `json:"total_executions"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	AverageDuration time.Duration `json:"average_duration_ns"`
	SuccessRate     float64       `json:"success_rate"`
}
