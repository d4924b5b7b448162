// Package orchestrator coordinates the eight-phase pipeline with its
// governance components: phase lifecycle, human review gates, resource
// tracking, ethics audits, reproducibility snapshots and the audit chain.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Mindburn-Labs/conductor/core/pkg/audit"
	"github.com/Mindburn-Labs/conductor/core/pkg/ethics"
	"github.com/Mindburn-Labs/conductor/core/pkg/hrg"
	"github.com/Mindburn-Labs/conductor/core/pkg/observability"
	"github.com/Mindburn-Labs/conductor/core/pkg/phases"
	"github.com/Mindburn-Labs/conductor/core/pkg/repro"
	"github.com/Mindburn-Labs/conductor/core/pkg/resource"
)

const actorSystem = "SYSTEM"

// PhaseRunner executes the domain logic of a single phase. Implementations
// receive the previous phase's outputs as inputs and return their own
// outputs, which are piped forward.
type PhaseRunner interface {
	Run(ctx context.Context, phase phases.Name, inputs map[string]any) (map[string]any, error)
}

// GateResolver decides the outcome of a requested human review. The default
// resolver approves automatically; deployments plug in real reviewer
// integrations here.
type GateResolver interface {
	Resolve(ctx context.Context, review hrg.Review) error
}

// Config configures a pipeline run. Start from DefaultConfig: the zero
// value disables every governance component.
type Config struct {
	PipelineID             string
	RandomSeed             int64
	EnableReviewGates      bool
	EnableEthicsAudit      bool
	EnableResourceTracking bool
	AuditDir               string
	StateDir               string
	IndexPath              string
	ReviewSLA              *hrg.SLA
}

// DefaultConfig enables all governance components with local storage.
func DefaultConfig(pipelineID string) Config {
	return Config{
		PipelineID:             pipelineID,
		EnableReviewGates:      true,
		EnableEthicsAudit:      true,
		EnableResourceTracking: true,
		AuditDir:               "./audit_logs",
		StateDir:               "./state_snapshots",
	}
}

// Result is the outcome of a pipeline execution.
type Result struct {
	Success       bool           `json:"success"`
	FailedAtPhase phases.Name    `json:"failed_at_phase,omitempty"`
	Error         string         `json:"error,omitempty"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	Status        Status         `json:"pipeline_status"`
}

// Status aggregates the state of every governance component.
type Status struct {
	PipelineID       string                     `json:"pipeline_id"`
	Started          bool                       `json:"started"`
	Completed        bool                       `json:"completed"`
	Phases           phases.PipelineStatus      `json:"phase_status"`
	ReviewStats      *hrg.Statistics            `json:"hrg_stats,omitempty"`
	ResourceStats    *resource.UtilizationStats `json:"resource_stats,omitempty"`
	EthicsCompliance *ethics.ComplianceSummary  `json:"ethics_compliance,omitempty"`
	Reproducibility  repro.Info                 `json:"reproducibility"`
	AuditChainValid  bool                       `json:"audit_chain_valid"`
}

// Orchestrator wires the governance components around phase execution.
type Orchestrator struct {
	config    Config
	phases    *phases.Manager
	reviews   *hrg.Service
	resources *resource.Tracker
	states    *repro.Manager
	ethics    *ethics.Framework
	chain     *audit.Chain
	telemetry *observability.Provider
	runner    PhaseRunner
	resolver  GateResolver
	usageRand *rand.Rand
	logger    *slog.Logger
	clock     func() time.Time

	started   bool
	completed bool
}

// New assembles an orchestrator from the configuration. Component
// construction failures (unreadable audit log, bad state dir) are fatal.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.AuditDir == "" {
		cfg.AuditDir = "./audit_logs"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "./state_snapshots"
	}

	chain, err := audit.NewChain(cfg.AuditDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: audit chain: %w", err)
	}
	if cfg.IndexPath != "" {
		index, err := audit.OpenIndex(cfg.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: audit index: %w", err)
		}
		chain.AttachIndex(index)
	}

	var states *repro.Manager
	if cfg.RandomSeed != 0 {
		states, err = repro.NewManagerWithSeed(cfg.StateDir, cfg.RandomSeed)
	} else {
		states, err = repro.NewManager(cfg.StateDir)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: state manager: %w", err)
	}

	o := &Orchestrator{
		config:    cfg,
		phases:    phases.NewManager(),
		states:    states,
		chain:     chain,
		usageRand: states.Rand(),
		logger:    slog.Default().With("component", "orchestrator", "pipeline_id", cfg.PipelineID),
		clock:     time.Now,
	}
	o.runner = builtinRunner{clock: func() time.Time { return o.clock() }}

	if cfg.EnableReviewGates {
		if cfg.ReviewSLA != nil {
			o.reviews = hrg.NewServiceWithSLA(*cfg.ReviewSLA)
		} else {
			o.reviews = hrg.NewService()
		}
		o.resolver = autoApproveResolver{reviews: o.reviews}
	}
	if cfg.EnableResourceTracking {
		o.resources = resource.NewTracker()
	}
	if cfg.EnableEthicsAudit {
		framework, err := ethics.NewFramework()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: ethics framework: %w", err)
		}
		o.ethics = framework
	}

	_, err = chain.LogEvent("ORCHESTRATOR_INIT", actorSystem, "Orchestrator initialized", "",
		map[string]any{
			"pipeline_id":              cfg.PipelineID,
			"enable_hrg":               cfg.EnableReviewGates,
			"enable_ethics_audit":      cfg.EnableEthicsAudit,
			"enable_resource_tracking": cfg.EnableResourceTracking,
		})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// WithPhaseRunner replaces the built-in phase logic.
func (o *Orchestrator) WithPhaseRunner(runner PhaseRunner) *Orchestrator {
	o.runner = runner
	return o
}

// WithGateResolver replaces the automatic approval resolver.
func (o *Orchestrator) WithGateResolver(resolver GateResolver) *Orchestrator {
	o.resolver = resolver
	return o
}

// WithObservability attaches a telemetry provider for phase spans and
// metrics.
func (o *Orchestrator) WithObservability(provider *observability.Provider) *Orchestrator {
	o.telemetry = provider
	return o
}

// WithClock overrides the clock everywhere it matters for determinism:
// the orchestrator itself, the phase manager, the review service and the
// audit chain.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	o.phases.WithClock(clock)
	o.chain.WithClock(clock)
	o.states.WithClock(clock)
	if o.reviews != nil {
		o.reviews.WithClock(clock)
	}
	if o.resources != nil {
		o.resources.WithClock(clock)
	}
	if o.ethics != nil {
		o.ethics.WithClock(clock)
	}
	return o
}

// Reviews exposes the review service, nil when gates are disabled.
func (o *Orchestrator) Reviews() *hrg.Service { return o.reviews }

// Resources exposes the resource tracker, nil when tracking is disabled.
func (o *Orchestrator) Resources() *resource.Tracker { return o.resources }

// Ethics exposes the axiom framework, nil when audits are disabled.
func (o *Orchestrator) Ethics() *ethics.Framework { return o.ethics }

// States exposes the reproducibility manager.
func (o *Orchestrator) States() *repro.Manager { return o.states }

// ExecutePipeline runs all eight phases in order, piping each phase's
// outputs into the next. The first failing phase halts the pipeline. The
// returned error reports infrastructure failures (audit persistence); phase
// logic failures are reported through the Result.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, initialInputs map[string]any) (Result, error) {
	o.started = true
	if initialInputs == nil {
		initialInputs = map[string]any{}
	}

	_, err := o.chain.LogEvent("PIPELINE_START", actorSystem, "Started pipeline execution", "",
		map[string]any{
			"pipeline_id": o.config.PipelineID,
			"inputs":      initialInputs,
		})
	if err != nil {
		return Result{}, err
	}

	currentInputs := initialInputs
	for _, phase := range phases.Order {
		outputs, phaseErr, infraErr := o.executePhase(ctx, phase, currentInputs)
		if infraErr != nil {
			return Result{}, infraErr
		}
		if phaseErr != nil {
			_, err := o.chain.LogEvent("PIPELINE_FAILED", actorSystem,
				fmt.Sprintf("Pipeline failed at phase %s", phase), string(phase),
				map[string]any{"error": phaseErr.Error()})
			if err != nil {
				return Result{}, err
			}
			o.logger.Error("pipeline failed", "phase", phase, "error", phaseErr)
			return Result{
				Success:       false,
				FailedAtPhase: phase,
				Error:         phaseErr.Error(),
				Status:        o.Status(),
			}, nil
		}
		currentInputs = outputs
	}

	o.completed = true
	_, err = o.chain.LogEvent("PIPELINE_COMPLETED", actorSystem, "Pipeline completed successfully", "",
		map[string]any{"pipeline_id": o.config.PipelineID})
	if err != nil {
		return Result{}, err
	}

	if err := o.generateFinalAttestations(); err != nil {
		return Result{}, err
	}

	o.logger.Info("pipeline completed", "phases", len(phases.Order))
	return Result{
		Success: true,
		Outputs: currentInputs,
		Status:  o.Status(),
	}, nil
}

// executePhase runs one phase under full governance. It returns the phase
// outputs, a phase-level failure, and an infrastructure failure; only one
// of the two errors is ever set.
func (o *Orchestrator) executePhase(ctx context.Context, phase phases.Name, inputs map[string]any) (map[string]any, error, error) {
	execution := o.phases.Start(phase, inputs)

	_, err := o.chain.LogEvent("PHASE_START", actorSystem,
		fmt.Sprintf("Started phase %s", phase), string(phase),
		map[string]any{"execution_id": execution.ID})
	if err != nil {
		return nil, nil, err
	}

	if o.resources != nil {
		o.allocatePhaseResources(phase)
	}

	if o.ethics != nil {
		if err := o.conductEthicsAudit(phase, inputs, "PRE_PHASE"); err != nil {
			return nil, nil, err
		}
	}

	if gate := phases.GateFor(phase); gate != "" && o.reviews != nil {
		if err := o.resolveGate(ctx, gate, phase, execution.ID, inputs); err != nil {
			return nil, nil, err
		}
	}

	var done func(error)
	if o.telemetry != nil {
		ctx, done = o.telemetry.TrackPhase(ctx, string(phase))
	}

	outputs, runErr := o.runner.Run(ctx, phase, inputs)
	if done != nil {
		done(runErr)
	}
	if runErr != nil {
		o.phases.Fail(execution.ID, runErr.Error())
		_, err := o.chain.LogEvent("PHASE_FAILED", actorSystem,
			fmt.Sprintf("Phase %s failed", phase), string(phase),
			map[string]any{
				"execution_id": execution.ID,
				"error":        runErr.Error(),
			})
		if err != nil {
			return nil, nil, err
		}
		return nil, runErr, nil
	}

	_, err = o.states.CreateSnapshot(execution.ID, string(phase), map[string]any{
		"inputs":    inputs,
		"outputs":   outputs,
		"timestamp": o.clock().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, nil, err
	}

	o.phases.Complete(execution.ID, outputs, map[string]any{"processed": true})

	if o.resources != nil {
		o.recordPhaseResourceUsage(phase)
	}

	if o.ethics != nil {
		if err := o.conductEthicsAudit(phase, outputs, "POST_PHASE"); err != nil {
			return nil, nil, err
		}
	}

	completed, _ := o.phases.Execution(execution.ID)
	_, err = o.chain.LogEvent("PHASE_COMPLETED", actorSystem,
		fmt.Sprintf("Completed phase %s", phase), string(phase),
		map[string]any{
			"execution_id": execution.ID,
			"duration":     completed.Duration,
		})
	if err != nil {
		return nil, nil, err
	}
	return outputs, nil, nil
}

// resolveGate requests a human review at the phase's gate, blocks the
// execution while the resolver decides, and unblocks afterwards. The review
// outcome is recorded in the chain; it does not by itself halt the
// pipeline, the resolver signals a hard stop through its error.
func (o *Orchestrator) resolveGate(ctx context.Context, gate string, phase phases.Name, executionID string, inputs map[string]any) error {
	review := o.reviews.RequestReview(gate, string(phase), "human_reviewer",
		map[string]any{
			"execution_id": executionID,
			"phase":        string(phase),
			"inputs":       inputs,
		}, nil, nil)

	o.phases.AttachReview(executionID, review.ID)
	o.phases.Block(executionID, fmt.Sprintf("Waiting for HRG review: %s", review.ID))

	_, err := o.chain.LogEvent("HRG_REVIEW_REQUESTED", actorSystem,
		fmt.Sprintf("Requested HRG review at %s", gate), string(phase),
		map[string]any{
			"review_id":    review.ID,
			"execution_id": executionID,
		})
	if err != nil {
		return err
	}

	if o.resolver != nil {
		if err := o.resolver.Resolve(ctx, review); err != nil {
			return fmt.Errorf("orchestrator: gate %s unresolved: %w", gate, err)
		}
	}

	o.phases.Unblock(executionID)
	return nil
}

func (o *Orchestrator) allocatePhaseResources(phase phases.Name) {
	o.resources.Allocate(resource.KindCompute, string(phase), 100.0, "compute_units", 7)
	o.resources.Allocate(resource.KindMemory, string(phase), 1024.0, "MB", 6)
}

// recordPhaseResourceUsage simulates consumption of 80 to 95 percent of
// each of the phase's allocations, drawn from the pinned random source so
// reruns with the same seed reproduce identical usage.
func (o *Orchestrator) recordPhaseResourceUsage(phase phases.Name) {
	for _, alloc := range o.resources.AllocationsForPhase(string(phase)) {
		factor := 0.80 + o.usageRand.Float64()*0.15
		if _, err := o.resources.RecordUsage(alloc.ID, alloc.Allocated*factor); err != nil {
			o.logger.Warn("usage recording failed", "allocation_id", alloc.ID, "error", err)
		}
	}
}

func (o *Orchestrator) conductEthicsAudit(phase phases.Name, context map[string]any, stage string) error {
	evalCtx := map[string]any{
		"actor":     actorSystem,
		"rationale": fmt.Sprintf("Automated phase execution: %s", phase),
		"stage":     stage,
	}
	for k, v := range context {
		evalCtx[k] = v
	}

	result := o.ethics.ConductNormativeAudit(fmt.Sprintf("%s_%s", phase, stage), evalCtx, nil)

	_, err := o.chain.LogEvent("ETHICS_AUDIT", actorSystem,
		fmt.Sprintf("Conducted ethics audit for %s (%s)", phase, stage), string(phase),
		map[string]any{
			"audit_id":         result.ID,
			"compliance_score": result.ComplianceScore,
			"violations":       len(result.Violations),
			"warnings":         len(result.Warnings),
		})
	return err
}

// generateFinalAttestations records the three closing compliance
// attestations: resource waste governance, ethics compliance and
// reproducibility.
func (o *Orchestrator) generateFinalAttestations() error {
	if o.resources != nil {
		assessment := o.resources.AssessWasteGovernance("current")
		_, err := o.chain.CreateAttestation("RESOURCE_COMPLIANCE", actorSystem,
			"Pipeline Execution", assessment.ComplianceStatus, assessment.ThresholdBreach)
		if err != nil {
			return err
		}
	}

	if o.ethics != nil {
		summary := o.ethics.Summary()
		status := "COMPLIANT"
		if summary.AverageComplianceScore < 0.8 {
			status = "REQUIRES_REVIEW"
		}
		_, err := o.chain.CreateAttestation("ETHICS_COMPLIANCE", actorSystem,
			"Pipeline Execution", status, []string{
				fmt.Sprintf("Average compliance score: %.2f%%", summary.AverageComplianceScore*100),
				fmt.Sprintf("Total violations: %d", summary.TotalViolations),
				fmt.Sprintf("Total warnings: %d", summary.TotalWarnings),
			})
		if err != nil {
			return err
		}
	}

	info := o.states.ReproducibilityInfo()
	_, err := o.chain.CreateAttestation("REPRODUCIBILITY", actorSystem,
		"Pipeline Execution", "COMPLIANT", []string{
			fmt.Sprintf("Config hash: %s", info.ConfigHash),
			fmt.Sprintf("Random seed: %d", info.RandomSeed),
			fmt.Sprintf("Snapshots created: %d", info.SnapshotCount),
		})
	return err
}

// Status reports the combined state of every component.
func (o *Orchestrator) Status() Status {
	status := Status{
		PipelineID:      o.config.PipelineID,
		Started:         o.started,
		Completed:       o.completed,
		Phases:          o.phases.Status(),
		Reproducibility: o.states.ReproducibilityInfo(),
	}

	if o.reviews != nil {
		stats := o.reviews.Statistics()
		status.ReviewStats = &stats
	}
	if o.resources != nil {
		stats := o.resources.Utilization("", "")
		status.ResourceStats = &stats
	}
	if o.ethics != nil {
		summary := o.ethics.Summary()
		status.EthicsCompliance = &summary
	}

	valid, err := o.chain.VerifyChain()
	if err != nil {
		o.logger.Error("audit chain verification failed", "error", err)
	}
	status.AuditChainValid = valid
	return status
}

// AuditTrail queries the audit chain.
func (o *Orchestrator) AuditTrail(filter audit.EntryFilter) ([]audit.Entry, error) {
	return o.chain.EntriesWhere(filter)
}

// Attestations queries recorded attestations.
func (o *Orchestrator) Attestations(filter audit.AttestationFilter) ([]audit.Attestation, error) {
	return o.chain.AttestationsWhere(filter)
}

// VerifyAuditChain checks the integrity of the full audit chain.
func (o *Orchestrator) VerifyAuditChain() (bool, error) {
	return o.chain.VerifyChain()
}
