// Package api exposes the billing REST surface consumed by the school
// admin application. Every route runs behind the tenant middleware.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/gateway"
	"github.com/arpeggiohq/arpeggio/internal/handler"
	"github.com/arpeggiohq/arpeggio/internal/service"
	"github.com/arpeggiohq/arpeggio/internal/telemetry"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// InvoiceHandler serves invoice, payment, and term generation routes.
type InvoiceHandler struct {
	invoices  service.InvoiceService
	engine    service.PaymentEngine
	generator *service.TermGenerator
	provider  gateway.Provider
	metrics   *telemetry.BusinessMetrics
	logger    zerolog.Logger
	baseURL   string
}

// NewInvoiceHandler creates the invoice API handler. provider may be nil
// when no gateway is configured; the checkout route then returns 404.
func NewInvoiceHandler(
	invoices service.InvoiceService,
	engine service.PaymentEngine,
	generator *service.TermGenerator,
	provider gateway.Provider,
	metrics *telemetry.BusinessMetrics,
	logger zerolog.Logger,
	baseURL string,
) *InvoiceHandler {
	return &InvoiceHandler{
		invoices:  invoices,
		engine:    engine,
		generator: generator,
		provider:  provider,
		metrics:   metrics,
		logger:    logger.With().Str("component", "invoice_api").Logger(),
		baseURL:   baseURL,
	}
}

// Register mounts the routes on a tenant-scoped group.
func (h *InvoiceHandler) Register(g *echo.Group) {
	g.POST("/invoices", h.Create)
	g.GET("/invoices", h.List)
	g.GET("/invoices/:id", h.Get)
	g.GET("/invoices/number/:number", h.GetByNumber)
	g.PATCH("/invoices/:id", h.UpdateDraft)
	g.DELETE("/invoices/:id", h.Delete)
	g.POST("/invoices/:id/send", h.Send)
	g.POST("/invoices/:id/cancel", h.Cancel)
	g.POST("/invoices/:id/refund", h.Refund)
	g.POST("/invoices/:id/payments", h.ApplyPayment)
	g.POST("/invoices/:id/checkout", h.CreateCheckout)
	g.GET("/families/:familyID/invoices", h.ListForFamily)
	g.POST("/terms/:termID/invoices", h.GenerateForTerm)
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type lineItemRequest struct {
	Description    string `json:"description"`
	Quantity       int32  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type createInvoiceRequest struct {
	FamilyID    uuid.UUID         `json:"family_id"`
	TermID      *uuid.UUID        `json:"term_id,omitempty"`
	DueDate     time.Time         `json:"due_date"`
	Description string            `json:"description"`
	Items       []lineItemRequest `json:"items"`
}

type updateDraftRequest struct {
	DueDate     *time.Time        `json:"due_date,omitempty"`
	Description *string           `json:"description,omitempty"`
	Items       []lineItemRequest `json:"items,omitempty"`
}

type applyPaymentRequest struct {
	AmountCents int64      `json:"amount_cents"`
	Method      string     `json:"method"`
	Reference   string     `json:"reference,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

type generateTermRequest struct {
	FamilyID *uuid.UUID `json:"family_id,omitempty"`
	DueDate  *time.Time `json:"due_date,omitempty"`
}

type lineItemResponse struct {
	ID             uuid.UUID `json:"id"`
	Description    string    `json:"description"`
	Quantity       int32     `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	TotalCents     int64     `json:"total_cents"`
}

type paymentResponse struct {
	ID              uuid.UUID `json:"id"`
	AmountCents     int64     `json:"amount_cents"`
	Method          string    `json:"method"`
	Reference       string    `json:"reference,omitempty"`
	GatewayChargeID string    `json:"gateway_charge_id,omitempty"`
	PaidAt          time.Time `json:"paid_at"`
}

type invoiceResponse struct {
	ID              uuid.UUID  `json:"id"`
	FamilyID        uuid.UUID  `json:"family_id"`
	TermID          *uuid.UUID `json:"term_id,omitempty"`
	Number          string     `json:"number"`
	Status          string     `json:"status"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	TaxCents        int64      `json:"tax_cents"`
	TotalCents      int64      `json:"total_cents"`
	AmountPaidCents int64      `json:"amount_paid_cents"`
	BalanceCents    int64      `json:"balance_cents"`
	DueDate         time.Time  `json:"due_date"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	Description     string     `json:"description,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type invoiceDetailResponse struct {
	invoiceResponse
	Items    []lineItemResponse `json:"items"`
	Payments []paymentResponse  `json:"payments"`
}

func toInvoiceResponse(inv domain.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:              inv.ID,
		FamilyID:        inv.FamilyID,
		TermID:          inv.TermID,
		Number:          inv.Number,
		Status:          string(inv.Status),
		SubtotalCents:   inv.SubtotalCents,
		TaxCents:        inv.TaxCents,
		TotalCents:      inv.TotalCents,
		AmountPaidCents: inv.AmountPaidCents,
		BalanceCents:    inv.BalanceCents(),
		DueDate:         inv.DueDate,
		SentAt:          inv.SentAt,
		PaidAt:          inv.PaidAt,
		Description:     inv.Description,
		CreatedAt:       inv.CreatedAt,
	}
}

func toDetailResponse(detail *domain.InvoiceDetail) invoiceDetailResponse {
	resp := invoiceDetailResponse{
		invoiceResponse: toInvoiceResponse(detail.Invoice),
		Items:           make([]lineItemResponse, len(detail.Items)),
		Payments:        make([]paymentResponse, len(detail.Payments)),
	}
	for i, item := range detail.Items {
		resp.Items[i] = lineItemResponse{
			ID:             item.ID,
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.TotalCents,
		}
	}
	for i, p := range detail.Payments {
		resp.Payments[i] = paymentResponse{
			ID:              p.ID,
			AmountCents:     p.AmountCents,
			Method:          string(p.Method),
			Reference:       p.Reference,
			GatewayChargeID: p.GatewayChargeID,
			PaidAt:          p.PaidAt,
		}
	}
	return resp
}

func toLineItemInputs(items []lineItemRequest) []domain.LineItemInput {
	if items == nil {
		return nil
	}
	out := make([]domain.LineItemInput, len(items))
	for i, item := range items {
		out[i] = domain.LineItemInput{
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		}
	}
	return out
}

func invoiceID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, domain.Invalid("api.invoice_id", "Invalid invoice id.")
	}
	return id, nil
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

// Create handles POST /invoices.
func (h *InvoiceHandler) Create(c echo.Context) error {
	var req createInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return handler.ErrorResponse(c, domain.Invalid("api.invoice_create", "Invalid request body."))
	}

	detail, err := h.invoices.CreateInvoice(c.Request().Context(), domain.CreateInvoiceParams{
		FamilyID:    req.FamilyID,
		TermID:      req.TermID,
		DueDate:     req.DueDate,
		Description: req.Description,
		Items:       toLineItemInputs(req.Items),
	})
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	h.countInvoiceCreated(c, detail, "manual")
	return c.JSON(http.StatusCreated, toDetailResponse(detail))
}

// Get handles GET /invoices/:id.
func (h *InvoiceHandler) Get(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	detail, err := h.invoices.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, toDetailResponse(detail))
}

// GetByNumber handles GET /invoices/number/:number.
func (h *InvoiceHandler) GetByNumber(c echo.Context) error {
	detail, err := h.invoices.GetInvoiceByNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return handler.ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, toDetailResponse(detail))
}

// List handles GET /invoices.
func (h *InvoiceHandler) List(c echo.Context) error {
	limit, offset := pagination(c)
	invoices, err := h.invoices.ListInvoices(c.Request().Context(), limit, offset)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, toInvoiceList(invoices))
}

// ListForFamily handles GET /families/:familyID/invoices.
func (h *InvoiceHandler) ListForFamily(c echo.Context) error {
	familyID, err := uuid.Parse(c.Param("familyID"))
	if err != nil {
		return handler.ErrorResponse(c, domain.Invalid("api.family_invoices", "Invalid family id."))
	}

	limit, offset := pagination(c)
	invoices, err := h.invoices.ListInvoicesForFamily(c.Request().Context(), familyID, limit, offset)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, toInvoiceList(invoices))
}

// UpdateDraft handles PATCH /invoices/:id.
func (h *InvoiceHandler) UpdateDraft(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	var req updateDraftRequest
	if err := c.Bind(&req); err != nil {
		return handler.ErrorResponse(c, domain.Invalid("api.invoice_update", "Invalid request body."))
	}

	detail, err := h.invoices.UpdateDraft(c.Request().Context(), domain.UpdateDraftParams{
		InvoiceID:   id,
		DueDate:     req.DueDate,
		Description: req.Description,
		Items:       toLineItemInputs(req.Items),
	})
	if err != nil {
		return handler.ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, toDetailResponse(detail))
}

// Delete handles DELETE /invoices/:id.
func (h *InvoiceHandler) Delete(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	if err := h.invoices.DeleteInvoice(c.Request().Context(), id); err != nil {
		return handler.ErrorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Send handles POST /invoices/:id/send.
func (h *InvoiceHandler) Send(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	if err := h.invoices.SendInvoice(c.Request().Context(), id); err != nil {
		return handler.ErrorResponse(c, err)
	}

	if h.metrics != nil {
		if t := tenant.FromContext(c.Request().Context()); t != nil {
			h.metrics.InvoicesSent.WithLabelValues(t.ID.String()).Inc()
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// Cancel handles POST /invoices/:id/cancel.
func (h *InvoiceHandler) Cancel(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	if err := h.invoices.CancelInvoice(c.Request().Context(), id); err != nil {
		return handler.ErrorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Refund handles POST /invoices/:id/refund.
func (h *InvoiceHandler) Refund(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	if err := h.invoices.MarkRefunded(c.Request().Context(), id); err != nil {
		return handler.ErrorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ApplyPayment handles POST /invoices/:id/payments.
func (h *InvoiceHandler) ApplyPayment(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	var req applyPaymentRequest
	if err := c.Bind(&req); err != nil {
		return handler.ErrorResponse(c, domain.Invalid("api.payment", "Invalid request body."))
	}

	params := domain.ApplyPaymentParams{
		InvoiceID:   id,
		AmountCents: req.AmountCents,
		Method:      domain.PaymentMethod(req.Method),
		Reference:   req.Reference,
	}
	if req.PaidAt != nil {
		params.PaidAt = *req.PaidAt
	}

	payment, err := h.engine.ApplyPayment(c.Request().Context(), params)
	if err != nil {
		if h.metrics != nil {
			if t := tenant.FromContext(c.Request().Context()); t != nil {
				if reason := rejectionReason(err); reason != "" {
					h.metrics.PaymentsRejected.WithLabelValues(t.ID.String(), reason).Inc()
				}
			}
		}
		return handler.ErrorResponse(c, err)
	}

	if h.metrics != nil {
		if t := tenant.FromContext(c.Request().Context()); t != nil {
			h.metrics.PaymentsRecorded.WithLabelValues(t.ID.String(), string(payment.Method)).Inc()
			h.metrics.RevenueCollected.WithLabelValues(t.ID.String(), string(payment.Method)).Add(float64(payment.AmountCents))
		}
	}

	return c.JSON(http.StatusCreated, paymentResponse{
		ID:              payment.ID,
		AmountCents:     payment.AmountCents,
		Method:          string(payment.Method),
		Reference:       payment.Reference,
		GatewayChargeID: payment.GatewayChargeID,
		PaidAt:          payment.PaidAt,
	})
}

// CreateCheckout handles POST /invoices/:id/checkout.
func (h *InvoiceHandler) CreateCheckout(c echo.Context) error {
	if h.provider == nil {
		return handler.ErrorResponse(c, domain.NotFound("api.checkout", "checkout", "gateway not configured"))
	}

	id, err := invoiceID(c)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	ctx := c.Request().Context()
	detail, err := h.invoices.GetInvoice(ctx, id)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	inv := detail.Invoice
	if inv.Status.Terminal() || inv.Status == domain.InvoicePaid || inv.Status == domain.InvoiceDraft {
		return handler.ErrorResponse(c, domain.Invalid("api.checkout", "Invoice is not payable."))
	}

	session, err := h.provider.CreateCheckoutSession(ctx, gateway.CheckoutParams{
		TenantID:    inv.TenantID,
		InvoiceID:   inv.ID,
		Number:      inv.Number,
		Description: inv.Description,
		AmountCents: inv.BalanceCents(),
		SuccessURL:  h.baseURL + "/invoices/" + inv.ID.String() + "?paid=1",
		CancelURL:   h.baseURL + "/invoices/" + inv.ID.String(),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("checkout session creation failed")
		return handler.ErrorResponse(c, domain.Internal(err, "api.checkout", "Failed to create checkout session."))
	}

	return c.JSON(http.StatusCreated, map[string]string{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// GenerateForTerm handles POST /terms/:termID/invoices. With a family_id in
// the body it generates one invoice; without, it runs the bulk generation.
func (h *InvoiceHandler) GenerateForTerm(c echo.Context) error {
	termID, err := uuid.Parse(c.Param("termID"))
	if err != nil {
		return handler.ErrorResponse(c, domain.Invalid("api.term_generate", "Invalid term id."))
	}

	var req generateTermRequest
	if err := c.Bind(&req); err != nil {
		return handler.ErrorResponse(c, domain.Invalid("api.term_generate", "Invalid request body."))
	}

	var dueDate time.Time
	if req.DueDate != nil {
		dueDate = *req.DueDate
	}
	ctx := c.Request().Context()

	if req.FamilyID != nil {
		detail, err := h.generator.GenerateTermInvoice(ctx, *req.FamilyID, termID, dueDate)
		if err != nil {
			return handler.ErrorResponse(c, err)
		}
		h.countInvoiceCreated(c, detail, "term")
		return c.JSON(http.StatusCreated, toDetailResponse(detail))
	}

	result, err := h.generator.GenerateTermInvoices(ctx, termID, dueDate)
	if err != nil {
		return handler.ErrorResponse(c, err)
	}

	if h.metrics != nil {
		if t := tenant.FromContext(ctx); t != nil {
			h.metrics.TermInvoicesGenerated.WithLabelValues(t.ID.String()).Add(float64(result.Generated))
			h.metrics.TermInvoicesSkipped.WithLabelValues(t.ID.String(), "exists").Add(float64(result.Skipped))
			h.metrics.TermInvoicesSkipped.WithLabelValues(t.ID.String(), "error").Add(float64(result.Failed))
		}
	}

	failures := make(map[string]string, len(result.Errors))
	for familyID, ferr := range result.Errors {
		failures[familyID.String()] = domain.ErrorMessage(ferr)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"generated": result.Generated,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
		"failures":  failures,
	})
}

func (h *InvoiceHandler) countInvoiceCreated(c echo.Context, detail *domain.InvoiceDetail, source string) {
	if h.metrics == nil {
		return
	}
	t := tenant.FromContext(c.Request().Context())
	if t == nil {
		return
	}
	h.metrics.InvoicesCreated.WithLabelValues(t.ID.String(), source).Inc()
	h.metrics.InvoiceValue.WithLabelValues(t.ID.String()).Observe(float64(detail.Invoice.TotalCents))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, service.ErrOverpayment):
		return "overpayment"
	case errors.Is(err, service.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, service.ErrInvalidAmount):
		return "invalid_amount"
	}
	return ""
}

func pagination(c echo.Context) (int32, int32) {
	limit := int32(50)
	offset := int32(0)
	if v := c.QueryParam("limit"); v != "" {
		if n, err := parseInt32(v); err == nil {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := parseInt32(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

func parseInt32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	return int32(n), err
}

func toInvoiceList(invoices []domain.Invoice) []invoiceResponse {
	out := make([]invoiceResponse, len(invoices))
	for i, inv := range invoices {
		out[i] = toInvoiceResponse(inv)
	}
	return out
}
