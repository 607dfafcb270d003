package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpeggiohq/arpeggio/internal/domain"
)

func TestStandardLineItem(t *testing.T) {
	term := domain.Term{Name: "Autumn 2026", Weeks: 10}
	e := domain.Enrollment{LessonName: "Piano", Kind: domain.EnrollmentStandard, RateCents: 2500}

	item := StandardLineItem(e, term)

	assert.Equal(t, int32(10), item.Quantity)
	assert.Equal(t, int64(2500), item.UnitPriceCents)
	assert.Contains(t, item.Description, "Piano")
}

func TestHybridLineItems(t *testing.T) {
	term := domain.Term{Name: "Autumn 2026", Weeks: 10}
	e := domain.Enrollment{
		LessonName:          "Voice",
		Kind:                domain.EnrollmentHybrid,
		RateCents:           2500,
		IndividualRateCents: 4500,
	}

	t.Run("mixed pattern", func(t *testing.T) {
		pattern := domain.HybridPattern{
			GroupWeeks:      []int32{1, 2, 3},
			IndividualWeeks: []int32{4},
		}

		items := HybridLineItems(e, term, pattern)
		require.Len(t, items, 2)

		assert.Equal(t, int32(3), items[0].Quantity)
		assert.Equal(t, int64(2500), items[0].UnitPriceCents)
		assert.Equal(t, int32(1), items[1].Quantity)
		assert.Equal(t, int64(4500), items[1].UnitPriceCents)

		var total int64
		for _, it := range items {
			total += int64(it.Quantity) * it.UnitPriceCents
		}
		assert.Equal(t, int64(12000), total)
	})

	t.Run("group-only pattern suppresses individual line", func(t *testing.T) {
		pattern := domain.HybridPattern{GroupWeeks: []int32{1, 2, 3, 4}}

		items := HybridLineItems(e, term, pattern)
		require.Len(t, items, 1)
		assert.Equal(t, int32(4), items[0].Quantity)
		assert.Equal(t, int64(2500), items[0].UnitPriceCents)
	})

	t.Run("individual-only pattern suppresses group line", func(t *testing.T) {
		pattern := domain.HybridPattern{IndividualWeeks: []int32{1, 2}}

		items := HybridLineItems(e, term, pattern)
		require.Len(t, items, 1)
		assert.Equal(t, int32(2), items[0].Quantity)
		assert.Equal(t, int64(4500), items[0].UnitPriceCents)
	})

	t.Run("empty pattern yields no lines", func(t *testing.T) {
		items := HybridLineItems(e, term, domain.HybridPattern{})
		assert.Empty(t, items)
	})
}

func (f *fixture) addEnrollment(kind domain.EnrollmentKind, lessonName string, rate, individualRate int64) uuid.UUID {
	lessonID := uuid.New()
	f.store.AddEnrollment(domain.Enrollment{
		ID:                  uuid.New(),
		TenantID:            f.tenantID,
		FamilyID:            f.familyID,
		TermID:              f.termID,
		LessonID:            lessonID,
		LessonName:          lessonName,
		Kind:                kind,
		Active:              true,
		RateCents:           rate,
		IndividualRateCents: individualRate,
	})
	return lessonID
}

func TestGenerateTermInvoice(t *testing.T) {
	f := newFixture()
	svc := f.invoiceService()
	gen := NewTermGenerator(f.store, svc, testLogger())

	f.addEnrollment(domain.EnrollmentStandard, "Piano", 2500, 0)
	voiceLesson := f.addEnrollment(domain.EnrollmentHybrid, "Voice", 2500, 4500)
	f.store.AddHybridPattern(domain.HybridPattern{
		LessonID:        voiceLesson,
		TenantID:        f.tenantID,
		GroupWeeks:      []int32{1, 2, 3},
		IndividualWeeks: []int32{4},
	})

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	detail, err := gen.GenerateTermInvoice(f.ctx, f.familyID, f.termID, due)
	require.NoError(t, err)

	// Piano: 10 weeks at 25.00; Voice: 3 group at 25.00 plus 1 individual at 45.00.
	assert.Equal(t, int64(25000+7500+4500), detail.Invoice.TotalCents)
	require.Len(t, detail.Items, 3)
	assert.Equal(t, domain.InvoiceDraft, detail.Invoice.Status)
	assert.Equal(t, due, detail.Invoice.DueDate)
	require.NotNil(t, detail.Invoice.TermID)
	assert.Equal(t, f.termID, *detail.Invoice.TermID)
}

func TestGenerateTermInvoiceConflicts(t *testing.T) {
	f := newFixture()
	svc := f.invoiceService()
	gen := NewTermGenerator(f.store, svc, testLogger())

	f.addEnrollment(domain.EnrollmentStandard, "Piano", 2500, 0)

	_, err := gen.GenerateTermInvoice(f.ctx, f.familyID, f.termID, time.Time{})
	require.NoError(t, err)

	_, err = gen.GenerateTermInvoice(f.ctx, f.familyID, f.termID, time.Time{})
	require.ErrorIs(t, err, ErrDuplicateTermInvoice)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestGenerateTermInvoiceNoEnrollments(t *testing.T) {
	f := newFixture()
	svc := f.invoiceService()
	gen := NewTermGenerator(f.store, svc, testLogger())

	_, err := gen.GenerateTermInvoice(f.ctx, f.familyID, f.termID, time.Time{})
	require.ErrorIs(t, err, ErrNoEnrollments)
}

func TestGenerateTermInvoiceMissingPattern(t *testing.T) {
	f := newFixture()
	svc := f.invoiceService()
	gen := NewTermGenerator(f.store, svc, testLogger())

	// Hybrid enrollment with no pattern configured.
	f.addEnrollment(domain.EnrollmentHybrid, "Voice", 2500, 4500)

	_, err := gen.GenerateTermInvoice(f.ctx, f.familyID, f.termID, time.Time{})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestGenerateTermInvoicesBulk(t *testing.T) {
	f := newFixture()
	svc := f.invoiceService()
	gen := NewTermGenerator(f.store, svc, testLogger())

	f.addEnrollment(domain.EnrollmentStandard, "Piano", 2500, 0)

	// Second family: standard enrollment.
	secondFamily := uuid.New()
	f.store.AddFamily(domain.Family{ID: secondFamily, TenantID: f.tenantID, Name: "The Blooms"})
	f.store.AddEnrollment(domain.Enrollment{
		ID: uuid.New(), TenantID: f.tenantID, FamilyID: secondFamily, TermID: f.termID,
		LessonID: uuid.New(), LessonName: "Cello", Kind: domain.EnrollmentStandard,
		Active: true, RateCents: 3000,
	})

	// Third family: broken hybrid setup; its failure must not abort the run.
	thirdFamily := uuid.New()
	f.store.AddFamily(domain.Family{ID: thirdFamily, TenantID: f.tenantID, Name: "The Cashes"})
	f.store.AddEnrollment(domain.Enrollment{
		ID: uuid.New(), TenantID: f.tenantID, FamilyID: thirdFamily, TermID: f.termID,
		LessonID: uuid.New(), LessonName: "Voice", Kind: domain.EnrollmentHybrid,
		Active: true, RateCents: 2500, IndividualRateCents: 4500,
	})

	result, err := gen.GenerateTermInvoices(f.ctx, f.termID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Generated)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 1, result.Failed)
	require.Contains(t, result.Errors, thirdFamily)

	// Re-running skips the families that already have invoices and still
	// reports the broken one.
	result, err = gen.GenerateTermInvoices(f.ctx, f.termID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Generated)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 1, result.Failed)
}
