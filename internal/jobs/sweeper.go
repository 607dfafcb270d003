// Package jobs runs the scheduled background work: the nightly sweep that
// marks past-due invoices overdue across all active schools.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/service"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/telemetry"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// DefaultSweepSchedule runs the overdue sweep nightly at 02:15 server time,
// after the daily payment settlement window.
const DefaultSweepSchedule = "15 2 * * *"

// Sweeper schedules and runs the overdue sweep.
type Sweeper struct {
	store   store.Store
	marker  *service.OverdueMarker
	metrics *telemetry.BusinessMetrics
	logger  zerolog.Logger
	cron    *cron.Cron
}

// NewSweeper creates the sweep scheduler. metrics may be nil.
func NewSweeper(st store.Store, marker *service.OverdueMarker, metrics *telemetry.BusinessMetrics, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:   st,
		marker:  marker,
		metrics: metrics,
		logger:  logger.With().Str("component", "overdue_sweeper").Logger(),
		cron:    cron.New(),
	}
}

// Start registers the sweep on the given cron schedule and starts the
// scheduler in the background.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("overdue sweep run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule overdue sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Msg("overdue sweeper started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce sweeps every active tenant. Each tenant is processed in its own
// tenant-scoped context and failures are isolated: one school's bad data
// never blocks the rest of the fleet.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	tenants, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		s.observeRun(start, "error")
		return fmt.Errorf("list active tenants: %w", err)
	}

	var total, failures int
	for i := range tenants {
		t := tenants[i]
		tenantCtx := tenant.NewContext(ctx, &t)

		count, err := s.marker.MarkInvoicesOverdue(tenantCtx)
		if err != nil {
			failures++
			s.logger.Error().Err(err).
				Str("tenant_id", t.ID.String()).
				Str("tenant_slug", t.Slug).
				Msg("overdue sweep failed for tenant")
			continue
		}
		total += count
		if s.metrics != nil && count > 0 {
			s.metrics.OverdueMarked.WithLabelValues(t.ID.String()).Add(float64(count))
		}
	}

	status := "ok"
	if failures > 0 {
		status = "error"
	}
	s.observeRun(start, status)

	s.logger.Info().
		Int("tenants", len(tenants)).
		Int("marked", total).
		Int("failed_tenants", failures).
		Dur("elapsed", time.Since(start)).
		Msg("overdue sweep finished")
	return nil
}

func (s *Sweeper) observeRun(start time.Time, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SweepRuns.WithLabelValues(status).Inc()
	s.metrics.SweepDuration.WithLabelValues().Observe(time.Since(start).Seconds())
}
