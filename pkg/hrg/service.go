package hrg

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// autoEscalationReason is the fixed reason recorded by AutoEscalateExpired.
const autoEscalationReason = "Auto-escalation due to SLA violation"

// Service manages review requests, SLA timers and escalation. It exclusively
// owns its Review records; callers only ever see copies.
type Service struct {
	mu          sync.Mutex
	reviews     map[string]*Review
	escalations []EscalationEvent
	defaultSLA  SLA
	clock       func() time.Time
}

// NewService creates a review gate service with the standard default SLA.
func NewService() *Service {
	return NewServiceWithSLA(DefaultSLA)
}

// NewServiceWithSLA creates a review gate service with a custom default SLA.
func NewServiceWithSLA(defaultSLA SLA) *Service {
	return &Service{
		reviews:    make(map[string]*Review),
		defaultSLA: defaultSLA,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// RequestReview creates a PENDING review at a gate. A nil sla selects the
// service default.
func (s *Service) RequestReview(gateName, phase, assignedTo string, reviewCtx map[string]any, artifacts []string, sla *SLA) Review {
	s.mu.Lock()
	defer s.mu.Unlock()

	effective := s.defaultSLA
	if sla != nil {
		effective = *sla
	}

	review := &Review{
		ID:              fmt.Sprintf("HRG_%s_%s", gateName, uuid.New().String()),
		GateName:        gateName,
		Phase:           phase,
		CreatedAt:       s.clock().UTC(),
		Status:          StatusPending,
		AssignedTo:      assignedTo,
		EscalationLevel: LevelNone,
		SLA:             effective,
		Context:         reviewCtx,
		Artifacts:       artifacts,
	}

	s.reviews[review.ID] = review
	return *review
}

// StartReview marks a PENDING review IN_PROGRESS, recording the reviewer and
// the response timestamp. Returns false if the review is unknown or already
// past PENDING.
func (s *Service) StartReview(reviewID, reviewer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	review, ok := s.reviews[reviewID]
	if !ok || review.Status != StatusPending {
		return false
	}

	now := s.clock().UTC()
	review.Status = StatusInProgress
	review.Reviewer = reviewer
	review.RespondedAt = &now
	return true
}

// CompleteReview records a decision. The reviewer may be supplied here or
// have been recorded by StartReview; with neither, completion is refused.
//
// The decision is normalized to upper case: APPROVE and REJECT move the
// review to the corresponding terminal status. Any other decision value is
// stored as-is without a status change, so callers can use custom decision
// vocabularies.
func (s *Service) CompleteReview(reviewID, decision, rationale, reviewer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	review, ok := s.reviews[reviewID]
	if !ok {
		return false
	}

	if reviewer != "" {
		review.Reviewer = reviewer
	} else if review.Reviewer == "" {
		return false
	}

	now := s.clock().UTC()
	review.Decision = strings.ToUpper(decision)
	review.Rationale = rationale
	review.ResolvedAt = &now

	switch review.Decision {
	case "APPROVE":
		review.Status = StatusApproved
	case "REJECT":
		review.Status = StatusRejected
	}
	return true
}

// EscalateReview raises a review to toLevel, reassigning it to escalatedTo
// and recording an immutable EscalationEvent. It does not validate that
// toLevel is above the current level; auto-escalation is the only caller
// constrained to move strictly forward.
func (s *Service) EscalateReview(reviewID string, toLevel EscalationLevel, reason, escalatedTo string) (EscalationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalateLocked(reviewID, toLevel, reason, escalatedTo)
}

func (s *Service) escalateLocked(reviewID string, toLevel EscalationLevel, reason, escalatedTo string) (EscalationEvent, error) {
	review, ok := s.reviews[reviewID]
	if !ok {
		return EscalationEvent{}, fmt.Errorf("review %q not found", reviewID)
	}

	event := EscalationEvent{
		ID:          fmt.Sprintf("ESC_%s_%s", reviewID, uuid.New().String()),
		ReviewID:    reviewID,
		Timestamp:   s.clock().UTC(),
		FromLevel:   review.EscalationLevel,
		ToLevel:     toLevel,
		Reason:      reason,
		EscalatedTo: escalatedTo,
	}

	review.EscalationLevel = toLevel
	review.Status = StatusEscalated
	review.AssignedTo = escalatedTo
	s.escalations = append(s.escalations, event)
	return event, nil
}

// CheckSLACompliance reports SLA breaches for every review still PENDING or
// IN_PROGRESS. A single review may produce several violation types in one
// pass.
func (s *Service) CheckSLACompliance() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkSLALocked()
}

func (s *Service) checkSLALocked() []Violation {
	var violations []Violation
	now := s.clock().UTC()

	for _, review := range s.reviews {
		if review.Status != StatusPending && review.Status != StatusInProgress {
			continue
		}
		elapsed := now.Sub(review.CreatedAt).Hours()

		if review.Status == StatusPending && elapsed > review.SLA.ResponseHours {
			violations = append(violations, Violation{
				ReviewID:     review.ID,
				Type:         ViolationResponseTime,
				ElapsedHours: elapsed,
				SLAHours:     review.SLA.ResponseHours,
			})
		}
		if elapsed > review.SLA.ResolutionHours {
			violations = append(violations, Violation{
				ReviewID:     review.ID,
				Type:         ViolationResolutionTime,
				ElapsedHours: elapsed,
				SLAHours:     review.SLA.ResolutionHours,
			})
		}
		if elapsed > review.SLA.EscalationHours && review.EscalationLevel == LevelNone {
			violations = append(violations, Violation{
				ReviewID:     review.ID,
				Type:         ViolationEscalationRequired,
				ElapsedHours: elapsed,
				SLAHours:     review.SLA.EscalationHours,
			})
		}
	}
	return violations
}

// AutoEscalateExpired escalates every review flagged ESCALATION_REQUIRED to
// the next ladder rung and returns the escalated review ids.
func (s *Service) AutoEscalateExpired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var escalated []string
	for _, v := range s.checkSLALocked() {
		if v.Type != ViolationEscalationRequired {
			continue
		}
		review := s.reviews[v.ReviewID]
		next := NextLevel(review.EscalationLevel)
		if _, err := s.escalateLocked(v.ReviewID, next, autoEscalationReason, fmt.Sprintf("escalation_%s", next)); err != nil {
			continue
		}
		escalated = append(escalated, v.ReviewID)
	}
	return escalated
}

// Review returns a copy of a review, if known.
func (s *Service) Review(reviewID string) (Review, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	review, ok := s.reviews[reviewID]
	if !ok {
		return Review{}, false
	}
	return *review, true
}

// PendingReviews returns reviews still PENDING or IN_PROGRESS, optionally
// filtered by assignee and gate ("" means any).
func (s *Service) PendingReviews(assignedTo, gateName string) []Review {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []Review
	for _, review := range s.reviews {
		if review.Status != StatusPending && review.Status != StatusInProgress {
			continue
		}
		if assignedTo != "" && review.AssignedTo != assignedTo {
			continue
		}
		if gateName != "" && review.GateName != gateName {
			continue
		}
		pending = append(pending, *review)
	}
	return pending
}

// Escalations returns copies of all recorded escalation events.
func (s *Service) Escalations() []EscalationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]EscalationEvent, len(s.escalations))
	copy(events, s.escalations)
	return events
}

// Statistics summarizes all reviews: counts by status and gate, mean
// resolution time, and the fraction of resolved reviews within their own
// resolution budget. With zero resolved reviews the compliance rate is
// vacuously 1.0.
func (s *Service) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		TotalReviews:      len(s.reviews),
		ByStatus:          make(map[ReviewStatus]int),
		ByGate:            make(map[string]int),
		SLAComplianceRate: 1.0,
		TotalEscalations:  len(s.escalations),
	}
	if len(s.reviews) == 0 {
		return stats
	}

	var resolutionHours []float64
	var compliant int
	for _, review := range s.reviews {
		stats.ByStatus[review.Status]++
		stats.ByGate[review.GateName]++

		if review.ResolvedAt != nil {
			hours := review.ResolvedAt.Sub(review.CreatedAt).Hours()
			resolutionHours = append(resolutionHours, hours)
			if hours <= review.SLA.ResolutionHours {
				compliant++
			}
		}
	}

	if len(resolutionHours) > 0 {
		var total float64
		for _, h := range resolutionHours {
			total += h
		}
		stats.AverageResolutionHrs = total / float64(len(resolutionHours))
		stats.SLAComplianceRate = float64(compliant) / float64(len(resolutionHours))
	}
	return stats
}
