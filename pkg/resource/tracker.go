// Package resource tracks per-phase resource allocation, utilization and
// waste governance. Allocations are shaped by priority, usage is compared
// against allocations, and waste above per-kind thresholds flips the
// governance assessment to NON_COMPLIANT.
package resource

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is a category of tracked resource.
type Kind string

const (
	KindCompute   Kind = "COMPUTE"
	KindMemory    Kind = "MEMORY"
	KindStorage   Kind = "STORAGE"
	KindNetwork   Kind = "NETWORK"
	KindAPICalls  Kind = "API_CALLS"
	KindHumanTime Kind = "HUMAN_TIME"
)

// ErrAllocationNotFound is returned when usage is recorded against an
// unknown allocation.
var ErrAllocationNotFound = errors.New("allocation not found")

// Allocation records a granted resource request. Allocated may be below
// Requested for lower priorities.
type Allocation struct {
	ID        string    `json:"allocation_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"resource_type"`
	Phase     string    `json:"phase"`
	Requested float64   `json:"amount_requested"`
	Allocated float64   `json:"amount_allocated"`
	Unit      string    `json:"unit"`
	Priority  int       `json:"priority"`
}

// Usage records actual consumption against an allocation.
type Usage struct {
	ID           string    `json:"usage_id"`
	AllocationID string    `json:"allocation_id"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         Kind      `json:"resource_type"`
	Phase        string    `json:"phase"`
	Used         float64   `json:"amount_used"`
	Wasted       float64   `json:"amount_wasted"`
	Unit         string    `json:"unit"`
	Efficiency   float64   `json:"efficiency"`
}

// Assessment is a waste governance judgment over recorded usage.
type Assessment struct {
	ID               string           `json:"assessment_id"`
	Timestamp        time.Time        `json:"timestamp"`
	TimePeriod       string           `json:"time_period"`
	TotalWaste       map[Kind]float64 `json:"total_waste"`
	ThresholdBreach  []string         `json:"waste_threshold_breaches"`
	Recommendations  []string         `json:"recommendations"`
	ComplianceStatus string           `json:"compliance_status"`
}

// UtilizationStats summarizes usage records, optionally grouped by kind.
type UtilizationStats struct {
	Count             int                       `json:"count"`
	AverageEfficiency float64                   `json:"average_efficiency"`
	TotalWaste        float64                   `json:"total_waste"`
	TotalUsed         float64                   `json:"total_used"`
	ByKind            map[Kind]UtilizationStats `json:"by_resource_type,omitempty"`
}

// WasteReport bundles the assessment history with current utilization.
type WasteReport struct {
	TotalAssessments     int              `json:"total_assessments"`
	LatestAssessment     *Assessment      `json:"latest_assessment"`
	HistoricalCompliance []string         `json:"historical_compliance"`
	Utilization          UtilizationStats `json:"utilization_stats"`
}

// DefaultWasteThresholds is the per-kind waste fraction above which an
// assessment flags a breach.
func DefaultWasteThresholds() map[Kind]float64 {
	return map[Kind]float64{
		KindCompute:   0.15,
		KindMemory:    0.20,
		KindStorage:   0.10,
		KindNetwork:   0.25,
		KindAPICalls:  0.05,
		KindHumanTime: 0.10,
	}
}

// Tracker is the resource stewardship layer. All methods are safe for
// concurrent use.
type Tracker struct {
	mu          sync.Mutex
	allocations map[string]Allocation
	order       []string
	usages      []Usage
	assessments []Assessment
	thresholds  map[Kind]float64
	clock       func() time.Time
}

// NewTracker returns a tracker with the default waste thresholds.
func NewTracker() *Tracker {
	return NewTrackerWithThresholds(nil)
}

// NewTrackerWithThresholds overrides waste thresholds; nil keeps defaults.
func NewTrackerWithThresholds(thresholds map[Kind]float64) *Tracker {
	if thresholds == nil {
		thresholds = DefaultWasteThresholds()
	}
	return &Tracker{
		allocations: make(map[string]Allocation),
		thresholds:  thresholds,
		clock:       time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

// Allocate grants a resource request, shaping the granted amount by
// priority: 8 and above receive the full request, 4 to 7 receive 80 to 95
// percent, lower priorities receive roughly 60 to 80 percent.
func (t *Tracker) Allocate(kind Kind, phase string, requested float64, unit string, priority int) Allocation {
	t.mu.Lock()
	defer t.mu.Unlock()

	alloc := Allocation{
		ID:        fmt.Sprintf("ALLOC_%s_%s", kind, uuid.New().String()),
		Timestamp: t.clock().UTC(),
		Kind:      kind,
		Phase:     phase,
		Requested: requested,
		Allocated: shapeAllocation(requested, priority),
		Unit:      unit,
		Priority:  priority,
	}

	t.allocations[alloc.ID] = alloc
	t.order = append(t.order, alloc.ID)
	return alloc
}

func shapeAllocation(requested float64, priority int) float64 {
	switch {
	case priority >= 8:
		return requested
	case priority >= 4:
		return requested * (0.80 + float64(priority-4)*0.05)
	default:
		return requested * (0.60 + float64(priority)*0.067)
	}
}

// RecordUsage records consumption against an allocation. Waste is the
// shortfall between allocated and used, never negative; efficiency is the
// used fraction of the allocation.
func (t *Tracker) RecordUsage(allocationID string, used float64) (Usage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	alloc, ok := t.allocations[allocationID]
	if !ok {
		return Usage{}, fmt.Errorf("%w: %s", ErrAllocationNotFound, allocationID)
	}

	wasted := alloc.Allocated - used
	if wasted < 0 {
		wasted = 0
	}
	efficiency := 1.0
	if alloc.Allocated > 0 {
		efficiency = used / alloc.Allocated
	}

	usage := Usage{
		ID:           fmt.Sprintf("USAGE_%s_%s", allocationID, uuid.New().String()),
		AllocationID: allocationID,
		Timestamp:    t.clock().UTC(),
		Kind:         alloc.Kind,
		Phase:        alloc.Phase,
		Used:         used,
		Wasted:       wasted,
		Unit:         alloc.Unit,
		Efficiency:   efficiency,
	}

	t.usages = append(t.usages, usage)
	return usage, nil
}

// AssessWasteGovernance computes per-kind waste fractions over all recorded
// usage and flags kinds whose waste exceeds their threshold. The assessment
// is appended to the tracker's history.
func (t *Tracker) AssessWasteGovernance(timePeriod string) Assessment {
	t.mu.Lock()
	defer t.mu.Unlock()

	totalWaste := make(map[Kind]float64)
	totalAllocated := make(map[Kind]float64)
	for _, u := range t.usages {
		totalWaste[u.Kind] += u.Wasted
		if alloc, ok := t.allocations[u.AllocationID]; ok {
			totalAllocated[u.Kind] += alloc.Allocated
		}
	}

	var breaches []string
	for kind, threshold := range t.thresholds {
		allocated, haveAlloc := totalAllocated[kind]
		waste, haveWaste := totalWaste[kind]
		if !haveAlloc || !haveWaste || allocated <= 0 {
			continue
		}
		fraction := waste / allocated
		if fraction > threshold {
			breaches = append(breaches,
				fmt.Sprintf("%s: %.2f%% waste exceeds threshold of %.2f%%", kind, fraction*100, threshold*100))
		}
	}

	var recommendations []string
	if len(breaches) > 0 {
		recommendations = append(recommendations,
			"Reduce resource over-allocation in high-waste categories",
			"Review phase requirements and adjust allocation policies")
	}
	if len(t.usages) > 0 {
		var effSum float64
		for _, u := range t.usages {
			effSum += u.Efficiency
		}
		avg := effSum / float64(len(t.usages))
		if avg < 0.8 {
			recommendations = append(recommendations,
				fmt.Sprintf("Overall efficiency is %.2f%%, consider optimization", avg*100))
		}
	}

	status := "COMPLIANT"
	if len(breaches) > 0 {
		status = "NON_COMPLIANT"
	}

	assessment := Assessment{
		ID:               fmt.Sprintf("WASTE_ASSESS_%s", uuid.New().String()),
		Timestamp:        t.clock().UTC(),
		TimePeriod:       timePeriod,
		TotalWaste:       totalWaste,
		ThresholdBreach:  breaches,
		Recommendations:  recommendations,
		ComplianceStatus: status,
	}

	t.assessments = append(t.assessments, assessment)
	return assessment
}

// Utilization summarizes usage records. Empty kind and phase match all
// records; an empty result carries a vacuous average efficiency of 1.0.
func (t *Tracker) Utilization(kind Kind, phase string) UtilizationStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var matched []Usage
	for _, u := range t.usages {
		if kind != "" && u.Kind != kind {
			continue
		}
		if phase != "" && u.Phase != phase {
			continue
		}
		matched = append(matched, u)
	}

	stats := summarize(matched)
	if len(matched) > 0 && kind == "" {
		stats.ByKind = make(map[Kind]UtilizationStats)
		grouped := make(map[Kind][]Usage)
		for _, u := range matched {
			grouped[u.Kind] = append(grouped[u.Kind], u)
		}
		for k, group := range grouped {
			stats.ByKind[k] = summarize(group)
		}
	}
	return stats
}

func summarize(usages []Usage) UtilizationStats {
	if len(usages) == 0 {
		return UtilizationStats{AverageEfficiency: 1.0}
	}
	stats := UtilizationStats{Count: len(usages)}
	var effSum float64
	for _, u := range usages {
		effSum += u.Efficiency
		stats.TotalWaste += u.Wasted
		stats.TotalUsed += u.Used
	}
	stats.AverageEfficiency = effSum / float64(len(usages))
	return stats
}

// Report bundles assessment history with overall utilization.
func (t *Tracker) Report() WasteReport {
	t.mu.Lock()
	report := WasteReport{TotalAssessments: len(t.assessments)}
	if n := len(t.assessments); n > 0 {
		latest := t.assessments[n-1]
		report.LatestAssessment = &latest
	}
	for _, a := range t.assessments {
		report.HistoricalCompliance = append(report.HistoricalCompliance, a.ComplianceStatus)
	}
	t.mu.Unlock()

	report.Utilization = t.Utilization("", "")
	return report
}

// AllocationsForPhase returns every allocation made for a phase, in
// allocation order.
func (t *Tracker) AllocationsForPhase(phase string) []Allocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Allocation
	for _, id := range t.order {
		if alloc := t.allocations[id]; alloc.Phase == phase {
			out = append(out, alloc)
		}
	}
	return out
}

// Allocation returns an allocation by ID.
func (t *Tracker) Allocation(id string) (Allocation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	alloc, ok := t.allocations[id]
	return alloc, ok
}
