package orchestrator

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/conductor/core/pkg/hrg"
	"github.com/Mindburn-Labs/conductor/core/pkg/phases"
)

// builtinRunner is the default phase logic: each phase echoes the common
// bookkeeping fields and applies its own transformation to the piped data.
// Real deployments replace it through WithPhaseRunner.
type builtinRunner struct {
	clock func() time.Time
}

func (r builtinRunner) Run(_ context.Context, phase phases.Name, inputs map[string]any) (map[string]any, error) {
	outputs := map[string]any{
		"phase":     string(phase),
		"processed": true,
		"timestamp": r.clock().UTC().Format(time.RFC3339Nano),
		"data":      valueOr(inputs, "data", map[string]any{}),
	}

	switch phase {
	case phases.Ingestion:
		outputs["ingested_records"] = valueOr(inputs, "records", 0)
	case phases.Preprocessing:
		outputs["preprocessed_records"] = valueOr(inputs, "ingested_records", 0)
	case phases.Processing:
		outputs["processed_records"] = valueOr(inputs, "preprocessed_records", 0)
	case phases.Analysis:
		outputs["analysis_results"] = map[string]any{"status": "analyzed"}
	case phases.Validation:
		outputs["validation_passed"] = true
	case phases.Synthesis:
		outputs["synthesized_output"] = map[string]any{"status": "synthesized"}
	case phases.Review:
		outputs["review_status"] = "reviewed"
	case phases.Finalization:
		outputs["final_output"] = map[string]any{"status": "finalized"}
	}
	return outputs, nil
}

func valueOr(m map[string]any, key string, fallback any) any {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

// autoApproveResolver approves every requested review immediately. It
// stands in for a real reviewer integration and keeps unattended runs
// moving while still exercising the full review lifecycle.
type autoApproveResolver struct {
	reviews *hrg.Service
}

func (r autoApproveResolver) Resolve(_ context.Context, review hrg.Review) error {
	r.reviews.StartReview(review.ID, "simulated_reviewer")
	r.reviews.CompleteReview(review.ID, "APPROVE", "Automatic approval by gate policy", "")
	return nil
}
