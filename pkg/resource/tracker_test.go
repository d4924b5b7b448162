package resource

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatePriorityShaping(t *testing.T) {
	tr := NewTracker()

	high := tr.Allocate(KindCompute, "PROCESSING", 100, "cores", 9)
	assert.InDelta(t, 100.0, high.Allocated, 1e-9)

	mid := tr.Allocate(KindCompute, "PROCESSING", 100, "cores", 5)
	assert.InDelta(t, 85.0, mid.Allocated, 1e-9)

	low := tr.Allocate(KindCompute, "PROCESSING", 100, "cores", 2)
	assert.InDelta(t, 73.4, low.Allocated, 1e-9)

	assert.True(t, strings.HasPrefix(high.ID, "ALLOC_COMPUTE_"))
	assert.InDelta(t, 100.0, high.Requested, 1e-9)
}

func TestRecordUsage(t *testing.T) {
	tr := NewTracker()
	alloc := tr.Allocate(KindMemory, "ANALYSIS", 64, "GB", 8)

	usage, err := tr.RecordUsage(alloc.ID, 48)
	require.NoError(t, err)
	assert.InDelta(t, 48.0, usage.Used, 1e-9)
	assert.InDelta(t, 16.0, usage.Wasted, 1e-9)
	assert.InDelta(t, 0.75, usage.Efficiency, 1e-9)
	assert.Equal(t, KindMemory, usage.Kind)
	assert.Equal(t, "ANALYSIS", usage.Phase)
}

func TestRecordUsageOveruseHasNoNegativeWaste(t *testing.T) {
	tr := NewTracker()
	alloc := tr.Allocate(KindAPICalls, "INGESTION", 1000, "calls", 10)

	usage, err := tr.RecordUsage(alloc.ID, 1200)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, usage.Wasted, 1e-9)
	assert.InDelta(t, 1.2, usage.Efficiency, 1e-9)
}

func TestRecordUsageUnknownAllocation(t *testing.T) {
	tr := NewTracker()
	_, err := tr.RecordUsage("ALLOC_COMPUTE_missing", 10)
	assert.ErrorIs(t, err, ErrAllocationNotFound)
}

func TestAssessWasteGovernanceCompliant(t *testing.T) {
	tr := NewTracker()
	alloc := tr.Allocate(KindCompute, "PROCESSING", 100, "cores", 10)
	_, err := tr.RecordUsage(alloc.ID, 95)
	require.NoError(t, err)

	assessment := tr.AssessWasteGovernance("current")
	assert.Equal(t, "COMPLIANT", assessment.ComplianceStatus)
	assert.Empty(t, assessment.ThresholdBreach)
	assert.InDelta(t, 5.0, assessment.TotalWaste[KindCompute], 1e-9)
}

func TestAssessWasteGovernanceBreach(t *testing.T) {
	tr := NewTracker()

	// 40% compute waste against a 15% threshold.
	alloc := tr.Allocate(KindCompute, "PROCESSING", 100, "cores", 10)
	_, err := tr.RecordUsage(alloc.ID, 60)
	require.NoError(t, err)

	assessment := tr.AssessWasteGovernance("current")
	assert.Equal(t, "NON_COMPLIANT", assessment.ComplianceStatus)
	require.Len(t, assessment.ThresholdBreach, 1)
	assert.Contains(t, assessment.ThresholdBreach[0], "COMPUTE")
	assert.Contains(t, assessment.Recommendations, "Reduce resource over-allocation in high-waste categories")
}

func TestAssessWasteGovernanceLowEfficiencyRecommendation(t *testing.T) {
	tr := NewTrackerWithThresholds(map[Kind]float64{KindStorage: 0.99})

	alloc := tr.Allocate(KindStorage, "SYNTHESIS", 100, "GB", 10)
	_, err := tr.RecordUsage(alloc.ID, 50)
	require.NoError(t, err)

	assessment := tr.AssessWasteGovernance("current")
	assert.Equal(t, "COMPLIANT", assessment.ComplianceStatus)
	require.NotEmpty(t, assessment.Recommendations)
	assert.Contains(t, assessment.Recommendations[0], "efficiency")
}

func TestUtilizationStats(t *testing.T) {
	tr := NewTracker()

	a1 := tr.Allocate(KindCompute, "PROCESSING", 100, "cores", 10)
	a2 := tr.Allocate(KindMemory, "PROCESSING", 64, "GB", 10)
	_, err := tr.RecordUsage(a1.ID, 80)
	require.NoError(t, err)
	_, err = tr.RecordUsage(a2.ID, 64)
	require.NoError(t, err)

	all := tr.Utilization("", "")
	assert.Equal(t, 2, all.Count)
	assert.InDelta(t, 144.0, all.TotalUsed, 1e-9)
	assert.InDelta(t, 20.0, all.TotalWaste, 1e-9)
	assert.InDelta(t, 0.9, all.AverageEfficiency, 1e-9)
	require.Contains(t, all.ByKind, KindCompute)
	assert.Equal(t, 1, all.ByKind[KindCompute].Count)

	compute := tr.Utilization(KindCompute, "")
	assert.Equal(t, 1, compute.Count)
	assert.Nil(t, compute.ByKind)

	none := tr.Utilization(KindNetwork, "")
	assert.Equal(t, 0, none.Count)
	assert.InDelta(t, 1.0, none.AverageEfficiency, 1e-9)
}

func TestAllocationsForPhaseKeepsAllocationOrder(t *testing.T) {
	tr := NewTracker()

	kinds := []Kind{KindCompute, KindMemory, KindStorage, KindNetwork, KindAPICalls, KindHumanTime}
	for _, kind := range kinds {
		tr.Allocate(kind, "PROCESSING", 10, "units", 5)
	}
	tr.Allocate(KindCompute, "ANALYSIS", 10, "units", 5)

	allocs := tr.AllocationsForPhase("PROCESSING")
	require.Len(t, allocs, len(kinds))
	for i, kind := range kinds {
		assert.Equal(t, kind, allocs[i].Kind)
	}
}

func TestReport(t *testing.T) {
	tr := NewTracker()

	empty := tr.Report()
	assert.Equal(t, 0, empty.TotalAssessments)
	assert.Nil(t, empty.LatestAssessment)

	alloc := tr.Allocate(KindCompute, "PROCESSING", 100, "cores", 10)
	_, err := tr.RecordUsage(alloc.ID, 50)
	require.NoError(t, err)
	tr.AssessWasteGovernance("window-1")
	tr.AssessWasteGovernance("window-2")

	report := tr.Report()
	assert.Equal(t, 2, report.TotalAssessments)
	require.NotNil(t, report.LatestAssessment)
	assert.Equal(t, "window-2", report.LatestAssessment.TimePeriod)
	assert.Equal(t, []string{"NON_COMPLIANT", "NON_COMPLIANT"}, report.HistoricalCompliance)
	assert.Equal(t, 1, report.Utilization.Count)
}
