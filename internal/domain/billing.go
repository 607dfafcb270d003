package domain

import (
	"time"

	"github.com/google/uuid"
)

// Family is the billed unit within a school. Read-only here; the family
// roster is owned by an upstream collaborator.
type Family struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Email    string
}

// Term is a teaching period (e.g., "Autumn 2026") with a fixed week count
// used for flat-rate enrollment billing.
type Term struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Weeks    int32
	StartsAt time.Time
	EndsAt   time.Time
}

// EnrollmentKind distinguishes flat-rate enrollments from hybrid ones.
type EnrollmentKind string

const (
	EnrollmentStandard EnrollmentKind = "standard"
	EnrollmentHybrid   EnrollmentKind = "hybrid"
)

// Enrollment links a family's student to a lesson within a term, with the
// rates agreed for it. Rates are configuration inputs, not hard-coded policy.
type Enrollment struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	FamilyID   uuid.UUID
	TermID     uuid.UUID
	LessonID   uuid.UUID
	LessonName string
	Kind       EnrollmentKind
	Active     bool

	// RateCents is the flat weekly rate for standard enrollments and the
	// group-week rate for hybrid enrollments.
	RateCents int64

	// IndividualRateCents is the individual-week rate for hybrid enrollments.
	IndividualRateCents int64
}

// HybridPattern is a lesson's alternating week pattern: which week numbers
// of the term are group-taught and which are individually taught. A week
// number appears in at most one of the two sets.
type HybridPattern struct {
	LessonID        uuid.UUID
	TenantID        uuid.UUID
	GroupWeeks      []int32
	IndividualWeeks []int32
}

// Validate checks the disjointness invariant and week number sanity.
func (p HybridPattern) Validate() error {
	seen := make(map[int32]bool, len(p.GroupWeeks)+len(p.IndividualWeeks))
	for _, w := range p.GroupWeeks {
		if w < 1 {
			return Invalid("pattern.validate", "week numbers must be positive")
		}
		if seen[w] {
			return Invalid("pattern.validate", "duplicate week number in pattern")
		}
		seen[w] = true
	}
	for _, w := range p.IndividualWeeks {
		if w < 1 {
			return Invalid("pattern.validate", "week numbers must be positive")
		}
		if seen[w] {
			return Invalid("pattern.validate", "week number appears in both group and individual sets")
		}
		seen[w] = true
	}
	return nil
}
