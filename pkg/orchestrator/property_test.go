//go:build property
// +build property

// Property-based tests for canonical hashing, chain integrity and
// escalation monotonicity.
package orchestrator_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/conductor/core/pkg/audit"
	"github.com/Mindburn-Labs/conductor/core/pkg/canonicalize"
	"github.com/Mindburn-Labs/conductor/core/pkg/hrg"
)

// TestCanonicalHashDeterminism verifies content hashing is stable across
// repeated encodings of the same value.
func TestCanonicalHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical hash is deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}

			h1, err1 := canonicalize.CanonicalHash(obj)
			h2, err2 := canonicalize.CanonicalHash(obj)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestChainAlwaysVerifiesAfterAppends verifies any sequence of appends
// yields a valid chain.
func TestChainAlwaysVerifiesAfterAppends(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("appended chains verify", prop.ForAll(
		func(actions []string) bool {
			chain, err := audit.NewChain(t.TempDir())
			if err != nil {
				return false
			}
			for _, action := range actions {
				if _, err := chain.LogEvent("EVENT", "actor", action, "", nil); err != nil {
					return false
				}
			}
			ok, err := chain.VerifyChain()
			return err == nil && ok
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestEscalationLadderMonotonicity verifies NextLevel never moves down the
// ladder and CRITICAL is a fixed point.
func TestEscalationLadderMonotonicity(t *testing.T) {
	rank := map[hrg.EscalationLevel]int{
		hrg.LevelNone:     0,
		hrg.Level1:        1,
		hrg.Level2:        2,
		hrg.Level3:        3,
		hrg.LevelCritical: 4,
	}
	levels := []hrg.EscalationLevel{
		hrg.LevelNone, hrg.Level1, hrg.Level2, hrg.Level3, hrg.LevelCritical,
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("escalation never de-escalates", prop.ForAll(
		func(idx int) bool {
			level := levels[idx%len(levels)]
			next := hrg.NextLevel(level)
			if level == hrg.LevelCritical {
				return next == hrg.LevelCritical
			}
			return rank[next] > rank[level]
		},
		gen.IntRange(0, len(levels)-1),
	))

	properties.TestingRun(t)
}
