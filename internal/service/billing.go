package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// StandardLineItem prices a flat-rate enrollment: the weekly rate times the
// term's week count.
func StandardLineItem(e domain.Enrollment, term domain.Term) domain.LineItemInput {
	return domain.LineItemInput{
		Description:    fmt.Sprintf("%s (%s)", e.LessonName, term.Name),
		Quantity:       term.Weeks,
		UnitPriceCents: e.RateCents,
	}
}

// HybridLineItems prices a hybrid enrollment from its alternating week
// pattern: one line per rate tier, with the week count as quantity. Tiers
// with zero weeks produce no line.
func HybridLineItems(e domain.Enrollment, term domain.Term, pattern domain.HybridPattern) []domain.LineItemInput {
	var items []domain.LineItemInput
	if n := len(pattern.GroupWeeks); n > 0 {
		items = append(items, domain.LineItemInput{
			Description:    fmt.Sprintf("%s - group weeks (%s)", e.LessonName, term.Name),
			Quantity:       int32(n),
			UnitPriceCents: e.RateCents,
		})
	}
	if n := len(pattern.IndividualWeeks); n > 0 {
		items = append(items, domain.LineItemInput{
			Description:    fmt.Sprintf("%s - individual weeks (%s)", e.LessonName, term.Name),
			Quantity:       int32(n),
			UnitPriceCents: e.IndividualRateCents,
		})
	}
	return items
}

// TermGenerationResult summarizes a bulk generation run.
type TermGenerationResult struct {
	Generated int
	Skipped   int
	Failed    int
	// Errors maps family id to the error that prevented its invoice. Families
	// skipped because an invoice already exists are counted, not recorded here.
	Errors map[uuid.UUID]error
}

// TermGenerator builds term invoices from the enrollment roster.
type TermGenerator struct {
	store    store.Store
	invoices InvoiceService
	logger   zerolog.Logger
}

// NewTermGenerator creates the term invoice generator. Invoice creation is
// delegated to the invoice service so numbering and uniqueness rules hold.
func NewTermGenerator(st store.Store, invoices InvoiceService, logger zerolog.Logger) *TermGenerator {
	return &TermGenerator{
		store:    st,
		invoices: invoices,
		logger:   logger.With().Str("component", "term_generator").Logger(),
	}
}

// lineItemsForFamily prices every active enrollment of one family.
func (g *TermGenerator) lineItemsForFamily(ctx context.Context, tenantID, familyID uuid.UUID, term domain.Term) ([]domain.LineItemInput, error) {
	enrollments, err := g.store.ListActiveEnrollments(ctx, tenantID, term.ID, familyID)
	if err != nil {
		return nil, err
	}
	if len(enrollments) == 0 {
		return nil, ErrNoEnrollments
	}

	var items []domain.LineItemInput
	for _, e := range enrollments {
		switch e.Kind {
		case domain.EnrollmentHybrid:
			pattern, err := g.store.GetHybridPattern(ctx, tenantID, e.LessonID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, domain.Errorf(domain.EINVALID, "billing.term",
						"Lesson %q has no hybrid pattern configured.", e.LessonName)
				}
				return nil, err
			}
			if err := pattern.Validate(); err != nil {
				return nil, err
			}
			items = append(items, HybridLineItems(e, term, *pattern)...)
		default:
			items = append(items, StandardLineItem(e, term))
		}
	}
	return items, nil
}

// GenerateTermInvoice creates the draft term invoice for one family.
// A second call for the same family and term fails with a conflict.
func (g *TermGenerator) GenerateTermInvoice(ctx context.Context, familyID, termID uuid.UUID, dueDate time.Time) (*domain.InvoiceDetail, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	term, err := g.store.GetTerm(ctx, tenantID, termID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTermNotFound
		}
		return nil, domain.Internal(err, "billing.term", "Failed to load term.")
	}

	if _, err := g.store.GetInvoiceForFamilyTerm(ctx, tenantID, familyID, termID); err == nil {
		return nil, ErrDuplicateTermInvoice
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, domain.Internal(err, "billing.term", "Failed to check existing invoices.")
	}

	items, err := g.lineItemsForFamily(ctx, tenantID, familyID, *term)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return nil, err
		}
		return nil, domain.Internal(err, "billing.term", "Failed to price enrollments.")
	}

	if dueDate.IsZero() {
		dueDate = term.StartsAt
	}

	return g.invoices.CreateInvoice(ctx, domain.CreateInvoiceParams{
		FamilyID:    familyID,
		TermID:      &termID,
		DueDate:     dueDate,
		Description: fmt.Sprintf("Tuition for %s", term.Name),
		Items:       items,
	})
}

// GenerateTermInvoices creates draft invoices for every family with active
// enrollments in the term. One family's failure never aborts the run;
// families that already have a term invoice are skipped.
func (g *TermGenerator) GenerateTermInvoices(ctx context.Context, termID uuid.UUID, dueDate time.Time) (*TermGenerationResult, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	families, err := g.store.ListFamiliesWithActiveEnrollments(ctx, tenantID, termID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTermNotFound
		}
		return nil, domain.Internal(err, "billing.term_bulk", "Failed to list families.")
	}

	result := &TermGenerationResult{Errors: make(map[uuid.UUID]error)}
	for _, f := range families {
		_, err := g.GenerateTermInvoice(ctx, f.ID, termID, dueDate)
		switch {
		case err == nil:
			result.Generated++
		case errors.Is(err, ErrDuplicateTermInvoice):
			result.Skipped++
		default:
			result.Failed++
			result.Errors[f.ID] = err
			g.logger.Error().Err(err).
				Str("tenant_id", tenantID.String()).
				Str("family_id", f.ID.String()).
				Str("term_id", termID.String()).
				Msg("term invoice generation failed for family")
		}
	}

	g.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("term_id", termID.String()).
		Int("generated", result.Generated).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("term invoice generation finished")

	return result, nil
}
