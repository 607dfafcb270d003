package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for billing observability.
// All metrics include tenant_id label for multi-tenant dashboard segmentation.
type BusinessMetrics struct {
	// Invoices
	InvoicesCreated *prometheus.CounterVec
	InvoicesSent    *prometheus.CounterVec
	InvoiceValue    *prometheus.HistogramVec
	OverdueMarked   *prometheus.CounterVec

	// Payments
	PaymentsRecorded *prometheus.CounterVec
	PaymentsRejected *prometheus.CounterVec
	RevenueCollected *prometheus.CounterVec

	// Gateway webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Term generation
	TermInvoicesGenerated *prometheus.CounterVec
	TermInvoicesSkipped   *prometheus.CounterVec

	// Background sweeps
	SweepRuns     *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "arpeggio"
	}

	subsystem := "billing"

	m := &BusinessMetrics{
		InvoicesCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_created_total",
				Help:      "Total invoices created",
			},
			[]string{"tenant_id", "source"}, // source: manual, term
		),
		InvoicesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_sent_total",
				Help:      "Total invoices issued to families",
			},
			[]string{"tenant_id"},
		),
		InvoiceValue: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoice_value_cents",
				Help:      "Distribution of invoice totals in cents",
				Buckets:   prometheus.ExponentialBuckets(1000, 2.5, 10),
			},
			[]string{"tenant_id"},
		),
		OverdueMarked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_overdue_total",
				Help:      "Total invoices transitioned to overdue by the sweep",
			},
			[]string{"tenant_id"},
		),

		PaymentsRecorded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_recorded_total",
				Help:      "Total payments applied to invoices",
			},
			[]string{"tenant_id", "method"}, // method: cash, bank_transfer, gateway, other
		),
		PaymentsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_rejected_total",
				Help:      "Total payments rejected before any mutation",
			},
			[]string{"tenant_id", "reason"}, // reason: overpayment, invalid_state, invalid_amount
		),
		RevenueCollected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "revenue_collected_cents_total",
				Help:      "Total cents collected across all payments",
			},
			[]string{"tenant_id", "method"},
		),

		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total gateway webhook events received",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total gateway webhook events processed successfully",
			},
			[]string{"event_type"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total gateway webhook events that failed processing",
			},
			[]string{"event_type", "reason"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_latency_seconds",
				Help:      "Gateway webhook processing latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),

		TermInvoicesGenerated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "term_invoices_generated_total",
				Help:      "Total invoices created by term bulk generation",
			},
			[]string{"tenant_id"},
		),
		TermInvoicesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "term_invoices_skipped_total",
				Help:      "Total families skipped during term generation",
			},
			[]string{"tenant_id", "reason"}, // reason: exists, no_enrollments, error
		),

		SweepRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "overdue_sweep_runs_total",
				Help:      "Total overdue sweep executions",
			},
			[]string{"status"}, // status: ok, error
		),
		SweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "overdue_sweep_duration_seconds",
				Help:      "Duration of the full-fleet overdue sweep",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{},
		),
	}

	return m
}
