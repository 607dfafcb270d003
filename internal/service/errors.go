package service

import "github.com/arpeggiohq/arpeggio/internal/domain"

// Sentinel errors returned by the billing services. Handlers map the
// embedded domain code to an HTTP status, so every sentinel carries one.
var (
	ErrInvoiceNotFound = &domain.Error{Code: domain.ENOTFOUND, Message: "Invoice not found."}
	ErrFamilyNotFound  = &domain.Error{Code: domain.ENOTFOUND, Message: "Family not found."}
	ErrTermNotFound    = &domain.Error{Code: domain.ENOTFOUND, Message: "Term not found."}

	ErrInvalidState  = &domain.Error{Code: domain.EINVALID, Message: "Invoice state does not permit this operation."}
	ErrNoLineItems   = &domain.Error{Code: domain.EINVALID, Message: "Invoice requires at least one line item."}
	ErrNoEnrollments = &domain.Error{Code: domain.EINVALID, Message: "Family has no active enrollments for this term."}
	ErrInvalidAmount = &domain.Error{Code: domain.EINVALID, Message: "Payment amount must be positive."}

	ErrOverpayment = &domain.Error{Code: domain.EPAYMENT, Message: "Payment exceeds the invoice balance."}

	ErrDuplicateTermInvoice = &domain.Error{Code: domain.ECONFLICT, Message: "An invoice already exists for this family and term."}
	ErrHasPayments          = &domain.Error{Code: domain.ECONFLICT, Message: "Invoice has recorded payments."}
)
