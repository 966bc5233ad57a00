/*
reconcile.go - Batch completion of finished, paid tours

PURPOSE:
  Moves every ACCEPTED + PAID booking whose tour has ended into COMPLETED.
  Nothing else ever produces COMPLETED.

CUTOFF:
  The cutoff is 23:59:59.999 of the current day in the evaluation
  location (UTC unless configured). A booking qualifies when its
  effective end (EndDate, or StartDate for single-instant bookings) is
  strictly before the cutoff, so a tour ending any time today completes
  on today's runs.

RE-ENTRANCY:
  Selection and update run in one transaction and the update is
  conditional on the booking still being ACCEPTED + PAID, so a second run
  finds nothing to do. Two overlapping runs may select the same rows;
  each reports only the rows its own update changed.

SEE ALSO:
  - api/scheduler.go: Runs Reconciler.Run on a ticker
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type Reconciler struct {
	Store    Store
	Clock    Clock
	Location *time.Location
	Events   Publisher
	Log      logrus.FieldLogger
}

// RunResult summarises one reconciliation pass.
type RunResult struct {
	RunID      string      `json:"run_id"`
	Cutoff     time.Time   `json:"cutoff"`
	Completed  int         `json:"completed"`
	BookingIDs []BookingID `json:"booking_ids"`
}

func (r *Reconciler) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

// Run completes every eligible booking and records the run.
func (r *Reconciler) Run(ctx context.Context) (_ *RunResult, err error) {
	ctx, span := tracer.Start(ctx, "reconcile.Run")
	defer func() { endSpan(span, err) }()

	clock := r.Clock
	if clock == nil {
		clock = SystemClock
	}
	now := clock()
	cutoff := EndOfDay(now, r.Location)

	run := ReconciliationRun{
		ID:        uuid.NewString(),
		Cutoff:    cutoff,
		Status:    RunRunning,
		StartedAt: now,
	}

	var completed []Booking
	err = r.Store.WithTx(ctx, func(tx Tx) error {
		candidates, err := tx.ListCompletable(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("selecting completable bookings: %w", err)
		}

		selected := make(map[BookingID]Booking, len(candidates))
		ids := make([]BookingID, 0, len(candidates))
		for _, b := range candidates {
			if b.CompletableBy(cutoff) {
				ids = append(ids, b.ID)
				selected[b.ID] = b
			}
		}
		if len(ids) == 0 {
			return nil
		}

		// An overlapping run may have completed some of the selection
		// already; only the rows changed here are reported.
		done, err := tx.CompleteBookings(ctx, ids, now)
		if err != nil {
			return fmt.Errorf("completing bookings: %w", err)
		}
		changed := make(map[BookingID]bool, len(done))
		for _, id := range done {
			changed[id] = true
		}
		for _, id := range ids {
			if changed[id] {
				completed = append(completed, selected[id])
			}
		}
		return nil
	})

	finished := clock()
	run.CompletedAt = &finished
	if err != nil {
		completed = nil
		run.Status = RunFailed
		run.Error = err.Error()
	} else {
		run.Status = RunCompleted
		run.Completed = len(completed)
		for _, b := range completed {
			run.BookingIDs = append(run.BookingIDs, b.ID)
		}
	}
	if saveErr := r.Store.SaveReconciliationRun(ctx, run); saveErr != nil {
		r.logger().WithError(saveErr).WithField("run_id", run.ID).Warn("failed to record reconciliation run")
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("reconcile.completed", run.Completed))
	if run.Completed > 0 {
		r.logger().WithFields(logrus.Fields{
			"run_id":    run.ID,
			"cutoff":    cutoff,
			"completed": run.Completed,
		}).Info("bookings completed")
	}
	for _, b := range completed {
		b.Status = StatusCompleted
		emit(ctx, r.Events, r.logger(), newLifecycleEvent(EventBookingCompleted, b, now))
	}

	return &RunResult{
		RunID:      run.ID,
		Cutoff:     cutoff,
		Completed:  run.Completed,
		BookingIDs: run.BookingIDs,
	}, nil
}
