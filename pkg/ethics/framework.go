// Package ethics implements the axiom framework: a weighted catalog of
// normative axioms, per-phase normative audits against them, and reflexive
// meta-commentary on system behavior.
package ethics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category groups axioms by the value they protect.
type Category string

const (
	CategoryFairness       Category = "FAIRNESS"
	CategoryTransparency   Category = "TRANSPARENCY"
	CategoryAccountability Category = "ACCOUNTABILITY"
	CategoryPrivacy        Category = "PRIVACY"
	CategorySafety         Category = "SAFETY"
	CategoryBeneficence    Category = "BENEFICENCE"
	CategoryNonMaleficence Category = "NON_MALEFICENCE"
	CategoryAutonomy       Category = "AUTONOMY"
)

// Enforcement levels. BLOCK violations count against compliance and surface
// as violations, WARN surfaces as warnings, LOG is recorded silently.
const (
	EnforceBlock = "BLOCK"
	EnforceWarn  = "WARN"
	EnforceLog   = "LOG"
)

// Axiom is a single normative rule. Expression, when set, is a CEL
// expression over the variables `phase` (string) and `context` (map) that
// must evaluate to true for the axiom to hold; categories with built-in
// checks are evaluated even without one.
type Axiom struct {
	ID          string   `json:"axiom_id"`
	Category    Category `json:"category"`
	Statement   string   `json:"statement"`
	Weight      float64  `json:"weight"`
	Enforcement string   `json:"enforcement_level"`
	Expression  string   `json:"expression,omitempty"`
}

// Issue is one detected axiom breach.
type Issue struct {
	AxiomID     string   `json:"axiom_id"`
	Category    Category `json:"category"`
	Statement   string   `json:"statement"`
	Enforcement string   `json:"enforcement_level"`
	Context     string   `json:"context"`
}

// NormativeAudit is the outcome of evaluating a set of axioms against one
// phase's evaluation context.
type NormativeAudit struct {
	ID              string         `json:"audit_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Phase           string         `json:"phase"`
	AxiomsEvaluated []string       `json:"axioms_evaluated"`
	Violations      []Issue        `json:"violations"`
	Warnings        []Issue        `json:"warnings"`
	ComplianceScore float64        `json:"compliance_score"`
	Metadata        map[string]any `json:"metadata"`
}

// MetaCommentary is a reflexive observation about system behavior.
type MetaCommentary struct {
	ID               string    `json:"commentary_id"`
	Timestamp        time.Time `json:"timestamp"`
	Context          string    `json:"context"`
	Observation      string    `json:"observation"`
	Implications     []string  `json:"implications"`
	Recommendations  []string  `json:"recommendations"`
	ReflexivityLevel int       `json:"reflexivity_level"`
}

// AuditFilter selects audits; zero values match everything. Scores are in
// [0, 1], so a zero minimum excludes nothing.
type AuditFilter struct {
	Phase              string
	MinComplianceScore float64
}

// CommentaryFilter selects commentaries by context substring and minimum
// reflexivity depth.
type CommentaryFilter struct {
	Context             string
	MinReflexivityLevel int
}

// ComplianceSummary aggregates audit outcomes across the framework's life.
type ComplianceSummary struct {
	TotalAudits            int     `json:"total_audits"`
	AverageComplianceScore float64 `json:"average_compliance_score"`
	TotalViolations        int     `json:"total_violations"`
	TotalWarnings          int     `json:"total_warnings"`
	RecentAudits           int     `json:"recent_audits"`
}

// Framework holds the axiom catalog and the audit and commentary history.
type Framework struct {
	mu           sync.Mutex
	axioms       map[string]Axiom
	audits       []NormativeAudit
	commentaries []MetaCommentary
	eval         *exprEvaluator
	clock        func() time.Time
}

// NewFramework returns a framework seeded with the default axiom catalog.
func NewFramework() (*Framework, error) {
	eval, err := newExprEvaluator()
	if err != nil {
		return nil, fmt.Errorf("ethics: init expression evaluator: %w", err)
	}

	f := &Framework{
		axioms: make(map[string]Axiom),
		eval:   eval,
		clock:  time.Now,
	}
	for _, a := range defaultAxioms() {
		f.axioms[a.ID] = a
	}
	return f, nil
}

// WithClock overrides the clock for deterministic testing.
func (f *Framework) WithClock(clock func() time.Time) *Framework {
	f.clock = clock
	return f
}

func defaultAxioms() []Axiom {
	return []Axiom{
		{ID: "FAIR_001", Category: CategoryFairness, Weight: 1.0, Enforcement: EnforceWarn,
			Statement: "All actors must have equitable access to oversight mechanisms"},
		{ID: "TRANS_001", Category: CategoryTransparency, Weight: 1.0, Enforcement: EnforceWarn,
			Statement: "All decisions must be logged with clear rationale"},
		{ID: "ACCT_001", Category: CategoryAccountability, Weight: 1.0, Enforcement: EnforceBlock,
			Statement: "Every action must have a traceable actor or system component"},
		{ID: "PRIV_001", Category: CategoryPrivacy, Weight: 1.0, Enforcement: EnforceBlock,
			Statement: "Sensitive data must be handled with appropriate protections"},
		{ID: "SAFE_001", Category: CategorySafety, Weight: 1.5, Enforcement: EnforceBlock,
			Statement: "Operations must not cause harm to systems or stakeholders"},
		{ID: "BENEF_001", Category: CategoryBeneficence, Weight: 0.8, Enforcement: EnforceLog,
			Statement: "System should actively promote beneficial outcomes"},
		{ID: "NON_MAL_001", Category: CategoryNonMaleficence, Weight: 1.5, Enforcement: EnforceBlock,
			Statement: "System must avoid causing harm even through inaction"},
		{ID: "AUTO_001", Category: CategoryAutonomy, Weight: 1.2, Enforcement: EnforceWarn,
			Statement: "Human oversight must retain meaningful control over critical decisions"},
	}
}

// AddAxiom registers an axiom, replacing any existing one with the same ID.
func (f *Framework) AddAxiom(a Axiom) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.axioms[a.ID] = a
}

// RemoveAxiom deletes an axiom and reports whether it existed.
func (f *Framework) RemoveAxiom(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.axioms[id]; !ok {
		return false
	}
	delete(f.axioms, id)
	return true
}

// AxiomsByCategory returns the registered axioms in a category.
func (f *Framework) AxiomsByCategory(category Category) []Axiom {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Axiom
	for _, a := range f.axioms {
		if a.Category == category {
			out = append(out, a)
		}
	}
	return out
}

// ConductNormativeAudit evaluates axioms against a phase's evaluation
// context. When axiomIDs is empty every registered axiom is evaluated;
// unknown IDs are skipped. The compliance score is the weight fraction of
// axioms that held, 1.0 when nothing was evaluated.
func (f *Framework) ConductNormativeAudit(phase string, evalCtx map[string]any, axiomIDs []string) NormativeAudit {
	f.mu.Lock()
	defer f.mu.Unlock()

	var selected []Axiom
	if len(axiomIDs) > 0 {
		for _, id := range axiomIDs {
			if a, ok := f.axioms[id]; ok {
				selected = append(selected, a)
			}
		}
	} else {
		for _, a := range f.axioms {
			selected = append(selected, a)
		}
	}

	audit := NormativeAudit{
		ID:         fmt.Sprintf("AUDIT_%s", uuid.New().String()),
		Timestamp:  f.clock().UTC(),
		Phase:      phase,
		Violations: []Issue{},
		Warnings:   []Issue{},
		Metadata:   evalCtx,
	}

	var totalWeight, compliantWeight float64
	for _, a := range selected {
		audit.AxiomsEvaluated = append(audit.AxiomsEvaluated, a.ID)
		totalWeight += a.Weight

		breach := f.evaluateAxiom(a, phase, evalCtx)
		if breach == "" {
			compliantWeight += a.Weight
			continue
		}

		issue := Issue{
			AxiomID:     a.ID,
			Category:    a.Category,
			Statement:   a.Statement,
			Enforcement: a.Enforcement,
			Context:     breach,
		}
		switch a.Enforcement {
		case EnforceBlock:
			audit.Violations = append(audit.Violations, issue)
		case EnforceWarn:
			audit.Warnings = append(audit.Warnings, issue)
		}
	}

	if totalWeight > 0 {
		audit.ComplianceScore = compliantWeight / totalWeight
	} else {
		audit.ComplianceScore = 1.0
	}

	f.audits = append(f.audits, audit)
	return audit
}

// evaluateAxiom returns a breach description, or "" when the axiom holds.
func (f *Framework) evaluateAxiom(a Axiom, phase string, evalCtx map[string]any) string {
	switch a.Category {
	case CategoryAccountability:
		if actor, _ := evalCtx["actor"].(string); actor == "" {
			return "No actor identified for action"
		}
	case CategoryTransparency:
		if rationale, _ := evalCtx["rationale"].(string); rationale == "" {
			return "No rationale provided for decision"
		}
	case CategoryPrivacy:
		sensitive, _ := evalCtx["contains_sensitive_data"].(bool)
		protected, _ := evalCtx["privacy_protections_applied"].(bool)
		if sensitive && !protected {
			return "Sensitive data without privacy protections"
		}
	case CategorySafety:
		risk, _ := evalCtx["risk_level"].(string)
		reviewed, _ := evalCtx["safety_review_completed"].(bool)
		if (risk == "high" || risk == "critical") && !reviewed {
			return "High-risk operation without safety review"
		}
	}

	if a.Expression != "" {
		ok, err := f.eval.evaluate(a.Expression, phase, evalCtx)
		if err != nil {
			return fmt.Sprintf("Expression evaluation failed: %v", err)
		}
		if !ok {
			return fmt.Sprintf("Expression not satisfied: %s", a.Expression)
		}
	}
	return ""
}

// AddMetaCommentary records a reflexive observation.
func (f *Framework) AddMetaCommentary(context, observation string, implications, recommendations []string, reflexivityLevel int) MetaCommentary {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := MetaCommentary{
		ID:               fmt.Sprintf("META_%s", uuid.New().String()),
		Timestamp:        f.clock().UTC(),
		Context:          context,
		Observation:      observation,
		Implications:     implications,
		Recommendations:  recommendations,
		ReflexivityLevel: reflexivityLevel,
	}
	if c.Implications == nil {
		c.Implications = []string{}
	}
	if c.Recommendations == nil {
		c.Recommendations = []string{}
	}

	f.commentaries = append(f.commentaries, c)
	return c
}

// Audits returns recorded audits matching the filter, oldest first.
func (f *Framework) Audits(filter AuditFilter) []NormativeAudit {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []NormativeAudit
	for _, a := range f.audits {
		if filter.Phase != "" && a.Phase != filter.Phase {
			continue
		}
		if a.ComplianceScore < filter.MinComplianceScore {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Commentaries returns recorded commentaries matching the filter.
func (f *Framework) Commentaries(filter CommentaryFilter) []MetaCommentary {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []MetaCommentary
	for _, c := range f.commentaries {
		if filter.Context != "" && !strings.Contains(c.Context, filter.Context) {
			continue
		}
		if c.ReflexivityLevel < filter.MinReflexivityLevel {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Summary aggregates all recorded audits. With no audits the average score
// is vacuously 1.0.
func (f *Framework) Summary() ComplianceSummary {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.audits) == 0 {
		return ComplianceSummary{AverageComplianceScore: 1.0}
	}

	s := ComplianceSummary{TotalAudits: len(f.audits)}
	var scoreSum float64
	for _, a := range f.audits {
		scoreSum += a.ComplianceScore
		s.TotalViolations += len(a.Violations)
		s.TotalWarnings += len(a.Warnings)
	}
	s.AverageComplianceScore = scoreSum / float64(len(f.audits))
	s.RecentAudits = len(f.audits)
	if s.RecentAudits > 10 {
		s.RecentAudits = 10
	}
	return s
}
