// Command conductor runs the governed eight-phase pipeline from the command
// line: execute a pipeline, verify a persisted audit chain, or inspect the
// state of a previous run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Mindburn-Labs/conductor/core/pkg/audit"
	"github.com/Mindburn-Labs/conductor/core/pkg/config"
	"github.com/Mindburn-Labs/conductor/core/pkg/hrg"
	"github.com/Mindburn-Labs/conductor/core/pkg/observability"
	"github.com/Mindburn-Labs/conductor/core/pkg/orchestrator"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "run":
		return runPipelineCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: conductor <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run      Execute the governed eight-phase pipeline")
	fmt.Fprintln(w, "  verify   Verify the integrity of a persisted audit chain")
	fmt.Fprintln(w, "  status   Summarize a previous run from its audit chain")
	fmt.Fprintln(w, "  help     Show this help")
}

func setupLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func runPipelineCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		pipelineID string
		records    int
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config profile")
	cmd.StringVar(&pipelineID, "pipeline", "", "Pipeline identifier (overrides config)")
	cmd.IntVar(&records, "records", 0, "Record count fed into the ingestion phase")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 2
		}
	} else {
		cfg = config.Load()
	}
	if pipelineID != "" {
		cfg.PipelineID = pipelineID
	}

	logger := setupLogger(cfg.LogLevel, stderr)
	ctx := context.Background()

	ocfg := orchestrator.DefaultConfig(cfg.PipelineID)
	ocfg.AuditDir = cfg.AuditDir
	ocfg.StateDir = cfg.StateDir
	ocfg.IndexPath = cfg.IndexPath
	ocfg.RandomSeed = cfg.RandomSeed
	if cfg.Review != (config.ReviewSLA{}) {
		ocfg.ReviewSLA = &hrg.SLA{
			ResponseHours:   cfg.Review.ResponseHours,
			ResolutionHours: cfg.Review.ResolutionHours,
			EscalationHours: cfg.Review.EscalationHours,
		}
	}

	o, err := orchestrator.New(ocfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing orchestrator: %v\n", err)
		return 1
	}

	if cfg.Telemetry.Enabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.Enabled = true
		obsCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
		provider, err := observability.New(ctx, obsCfg)
		if err != nil {
			logger.Warn("telemetry setup failed, continuing without", "error", err)
		} else {
			o.WithObservability(provider)
			defer func() { _ = provider.Shutdown(ctx) }()
		}
	}

	inputs := map[string]any{}
	if records > 0 {
		inputs["records"] = records
	}

	result, err := o.ExecutePipeline(ctx, inputs)
	if err != nil {
		fmt.Fprintf(stderr, "Pipeline execution error: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if result.Success {
		fmt.Fprintf(stdout, "Pipeline %s completed: %d/%d phases, audit chain valid: %v\n",
			cfg.PipelineID, result.Status.Phases.PhasesCompleted, result.Status.Phases.PhasesTotal,
			result.Status.AuditChainValid)
	} else {
		fmt.Fprintf(stdout, "Pipeline %s failed at %s: %s\n",
			cfg.PipelineID, result.FailedAtPhase, result.Error)
	}

	if !result.Success {
		return 1
	}
	return 0
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		auditDir   string
		jsonOutput bool
	)
	cmd.StringVar(&auditDir, "audit-dir", "./audit_logs", "Audit chain directory")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	chain, err := audit.NewChain(auditDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening audit chain: %v\n", err)
		return 1
	}

	valid, verifyErr := chain.VerifyChain()
	entries, _ := chain.EntriesWhere(audit.EntryFilter{})

	if jsonOutput {
		result := map[string]any{
			"audit_dir": auditDir,
			"valid":     valid,
			"entries":   len(entries),
		}
		if verifyErr != nil {
			result["error"] = verifyErr.Error()
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if valid {
		fmt.Fprintf(stdout, "Audit chain valid: %d entries\n", len(entries))
	} else {
		fmt.Fprintf(stdout, "Audit chain INVALID: %v\n", verifyErr)
	}

	if !valid {
		return 1
	}
	return 0
}

func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		auditDir   string
		jsonOutput bool
	)
	cmd.StringVar(&auditDir, "audit-dir", "./audit_logs", "Audit chain directory")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	chain, err := audit.NewChain(auditDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening audit chain: %v\n", err)
		return 1
	}

	entries, err := chain.EntriesWhere(audit.EntryFilter{})
	if err != nil {
		fmt.Fprintf(stderr, "Error reading audit chain: %v\n", err)
		return 1
	}
	attestations, _ := chain.AttestationsWhere(audit.AttestationFilter{})
	valid, _ := chain.VerifyChain()

	byType := make(map[string]int)
	for _, e := range entries {
		byType[e.EventType]++
	}

	if jsonOutput {
		result := map[string]any{
			"audit_dir":       auditDir,
			"entries":         len(entries),
			"events_by_type":  byType,
			"attestations":    len(attestations),
			"chain_valid":     valid,
			"pipeline_runs":   byType["PIPELINE_START"],
			"completed_runs":  byType["PIPELINE_COMPLETED"],
			"failed_runs":     byType["PIPELINE_FAILED"],
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "Audit chain: %s\n", auditDir)
	fmt.Fprintf(stdout, "  Entries:      %d\n", len(entries))
	fmt.Fprintf(stdout, "  Attestations: %d\n", len(attestations))
	fmt.Fprintf(stdout, "  Runs:         %d started, %d completed, %d failed\n",
		byType["PIPELINE_START"], byType["PIPELINE_COMPLETED"], byType["PIPELINE_FAILED"])
	fmt.Fprintf(stdout, "  Chain valid:  %v\n", valid)
	return 0
}
