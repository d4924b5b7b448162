// Package hrg implements human review gates: review requests with SLA time
// budgets, an escalation ladder, and auto-escalation of stale reviews.
package hrg

import (
	"time"
)

// ReviewStatus is the lifecycle state of a review request.
type ReviewStatus string

const (
	StatusPending    ReviewStatus = "PENDING"
	StatusInProgress ReviewStatus = "IN_PROGRESS"
	StatusApproved   ReviewStatus = "APPROVED"
	StatusRejected   ReviewStatus = "REJECTED"
	StatusEscalated  ReviewStatus = "ESCALATED"
	StatusExpired    ReviewStatus = "EXPIRED"
)

// EscalationLevel is a rung on the escalation ladder. It only ever increases
// over a review's lifetime.
type EscalationLevel string

const (
	LevelNone     EscalationLevel = "NONE"
	Level1        EscalationLevel = "LEVEL_1" // team lead
	Level2        EscalationLevel = "LEVEL_2" // manager
	Level3        EscalationLevel = "LEVEL_3" // director
	LevelCritical EscalationLevel = "CRITICAL" // executive
)

// ladder is the fixed escalation sequence.
var ladder = []EscalationLevel{LevelNone, Level1, Level2, Level3, LevelCritical}

// NextLevel returns the rung above current. Unknown levels escalate straight
// to CRITICAL as a safe fallback; CRITICAL is a fixed point.
func NextLevel(current EscalationLevel) EscalationLevel {
	for i, l := range ladder {
		if l == current {
			if i+1 < len(ladder) {
				return ladder[i+1]
			}
			return LevelCritical
		}
	}
	return LevelCritical
}

// SLA holds per-review time budgets, in hours.
type SLA struct {
	ResponseHours   float64 `json:"response_time_hours" yaml:"response_time_hours"`
	ResolutionHours float64 `json:"resolution_time_hours" yaml:"resolution_time_hours"`
	EscalationHours float64 `json:"escalation_time_hours" yaml:"escalation_time_hours"`
}

// DefaultSLA is applied when a review is requested without a custom SLA.
var DefaultSLA = SLA{
	ResponseHours:   4,
	ResolutionHours: 24,
	EscalationHours: 8,
}

// Review is one human-review gate invocation.
type Review struct {
	ID              string          `json:"review_id"`
	GateName        string          `json:"gate_name"`
	Phase           string          `json:"phase"`
	CreatedAt       time.Time       `json:"created_at"`
	Status          ReviewStatus    `json:"status"`
	AssignedTo      string          `json:"assigned_to,omitempty"`
	Reviewer        string          `json:"reviewer,omitempty"`
	Decision        string          `json:"decision,omitempty"`
	Rationale       string          `json:"rationale,omitempty"`
	EscalationLevel EscalationLevel `json:"escalation_level"`
	SLA             SLA             `json:"sla"`
	RespondedAt     *time.Time      `json:"responded_at,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	Context         map[string]any  `json:"context,omitempty"`
	Artifacts       []string        `json:"artifacts,omitempty"`
}

// EscalationEvent is an immutable record of one escalation transition.
type EscalationEvent struct {
	ID          string          `json:"event_id"`
	ReviewID    string          `json:"review_id"`
	Timestamp   time.Time       `json:"timestamp"`
	FromLevel   EscalationLevel `json:"from_level"`
	ToLevel     EscalationLevel `json:"to_level"`
	Reason      string          `json:"reason"`
	EscalatedTo string          `json:"escalated_to"`
}

// ViolationType classifies an SLA breach.
type ViolationType string

const (
	ViolationResponseTime       ViolationType = "RESPONSE_TIME"
	ViolationResolutionTime     ViolationType = "RESOLUTION_TIME"
	ViolationEscalationRequired ViolationType = "ESCALATION_REQUIRED"
)

// Violation reports one SLA breach for one review. The same review can
// appear multiple times in one compliance pass with different types.
type Violation struct {
	ReviewID     string        `json:"review_id"`
	Type         ViolationType `json:"violation_type"`
	ElapsedHours float64       `json:"elapsed_hours"`
	SLAHours     float64       `json:"sla_hours"`
}

// Gate is static configuration for one named review gate.
type Gate struct {
	Phase       string `json:"phase"`
	Description string `json:"description"`
	Criticality string `json:"criticality"`
}

// gateTable is read-only reference data: the four configured gates.
var gateTable = map[string]Gate{
	"GATE_1_INGESTION": {
		Phase:       "ingestion",
		Description: "Review data ingestion and validation",
		Criticality: "high",
	},
	"GATE_2_PROCESSING": {
		Phase:       "processing",
		Description: "Review processing strategy and approach",
		Criticality: "medium",
	},
	"GATE_3_VALIDATION": {
		Phase:       "validation",
		Description: "Review validation results and quality metrics",
		Criticality: "high",
	},
	"GATE_4_FINALIZATION": {
		Phase:       "finalization",
		Description: "Review final outputs and approve for release",
		Criticality: "critical",
	},
}

// Gates returns a copy of the static gate table.
func Gates() map[string]Gate {
	gates := make(map[string]Gate, len(gateTable))
	for name, g := range gateTable {
		gates[name] = g
	}
	return gates
}

// Statistics summarizes reviews handled by a Service.
type Statistics struct {
	TotalReviews          int                  `json:"total_reviews"`
	ByStatus              map[ReviewStatus]int `json:"by_status"`
	ByGate                map[string]int       `json:"by_gate"`
	AverageResolutionHrs  float64              `json:"average_resolution_time_hours"`
	SLAComplianceRate     float64              `json:"sla_compliance_rate"`
	TotalEscalations      int                  `json:"total_escalations"`
}
