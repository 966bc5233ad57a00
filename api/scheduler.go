/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically runs the booking completion batch so accepted, paid
  bookings whose tour has ended move to COMPLETED without an operator.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Passes never overlap: the ticker goroutine runs them one at a time
  - Errors are logged and the next tick tries again; the batch records
    every run (completed or failed) itself
  - A panicking pass is recovered and logged; the ticker keeps going

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(reconciler, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReconciliation endpoint (manual run)
  - booking/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/tour-booking/booking"
)

const DefaultCheckInterval = time.Minute

// ReconciliationScheduler drives the completion batch on a ticker.
type ReconciliationScheduler struct {
	Runner        Runner
	CheckInterval time.Duration
	Enabled       bool
	Log           logrus.FieldLogger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	checkMu   sync.Mutex
	lastCheck time.Time
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(runner Runner, log logrus.FieldLogger) *ReconciliationScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReconciliationScheduler{
		Runner:        runner,
		CheckInterval: DefaultCheckInterval,
		Enabled:       true,
		Log:           log,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info("[Scheduler] Disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}
	if rs.CheckInterval <= 0 {
		rs.CheckInterval = DefaultCheckInterval
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Log.Infof("[Scheduler] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.setLastCheck(time.Time{})
		rs.Log.Info("[Scheduler] Stopped")
	}
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-ticker.C:
			rs.checkAndProcess()
		case <-stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) checkAndProcess() {
	rs.setLastCheck(time.Now())
	defer func() {
		if r := recover(); r != nil {
			rs.Log.WithField("panic", r).Error("[Scheduler] Reconciliation panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), rs.CheckInterval)
	defer cancel()

	if _, err := rs.RunNow(ctx); err != nil {
		rs.Log.WithError(err).Error("[Scheduler] Reconciliation failed")
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (*booking.RunResult, error) {
	res, err := rs.Runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	if res.Completed > 0 {
		rs.Log.WithFields(logrus.Fields{
			"run_id": res.RunID,
			"cutoff": res.Cutoff,
		}).Infof("[Scheduler] Completed %d bookings", res.Completed)
	}
	return res, nil
}

// GetNextRunTime returns when the next scheduled check will occur, or the
// zero time if the scheduler is not running.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	rs.checkMu.Lock()
	defer rs.checkMu.Unlock()
	if rs.lastCheck.IsZero() {
		return time.Time{}
	}
	return rs.lastCheck.Add(rs.CheckInterval)
}

func (rs *ReconciliationScheduler) setLastCheck(t time.Time) {
	rs.checkMu.Lock()
	rs.lastCheck = t
	rs.checkMu.Unlock()
}
