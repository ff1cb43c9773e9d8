/*
scheduler.go - Automated payroll run scheduler

PURPOSE:
  Periodically checks open periods and makes sure each one past its pay
  day has a computed regular run waiting for approval. Approval and
  payment stay manual: money only moves when an officer signs off.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Picks up open periods whose pay day has arrived
  - Skips periods that already have a live (non-cancelled) run
  - Failures are logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRunScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: The manual compute endpoint this automates
  - payroll/service.go: CreateRun / ComputeRun
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

// SchedulerActor is the actor ID stamped on runs the scheduler creates.
const SchedulerActor = "system:scheduler"

// RunScheduler creates and computes the regular run for each open period
// once its pay day arrives.
type RunScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRunScheduler creates a new scheduler.
func NewRunScheduler(handler *Handler) *RunScheduler {
	return &RunScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *RunScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Scheduler] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *RunScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *RunScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RunScheduler) checkAndProcess() {
	ctx := context.Background()
	now := time.Now()

	periods, err := rs.Handler.Store.ListPeriods(ctx, 0)
	if err != nil {
		log.Printf("[Scheduler] Error listing periods: %v", err)
		return
	}

	processedCount := 0
	skippedCount := 0

	for i := range periods {
		p := &periods[i]
		if p.Status != payroll.PeriodOpen {
			continue
		}
		if now.Before(p.PayDay) {
			continue
		}

		live, err := rs.hasLiveRun(ctx, p.ID)
		if err != nil {
			log.Printf("[Scheduler] Error checking runs for %s: %v", p.ID, err)
			continue
		}
		if live {
			skippedCount++
			continue
		}

		if err := rs.processPeriod(ctx, p.ID); err != nil {
			log.Printf("[Scheduler] Error processing %s: %v", p.ID, err)
			continue
		}
		processedCount++
	}

	if processedCount > 0 || skippedCount > 0 {
		log.Printf("[Scheduler] Completed: %d computed, %d skipped (run already exists)", processedCount, skippedCount)
	}
}

// hasLiveRun reports whether the period already has a non-cancelled run.
// Cancelled runs don't count: a cancelled run's period needs a fresh one.
func (rs *RunScheduler) hasLiveRun(ctx context.Context, periodID payroll.PeriodID) (bool, error) {
	runs, err := rs.Handler.Store.RunsForPeriod(ctx, periodID)
	if err != nil {
		return false, err
	}
	for i := range runs {
		if runs[i].Status != payroll.RunCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (rs *RunScheduler) processPeriod(ctx context.Context, periodID payroll.PeriodID) error {
	started := time.Now()

	run, err := rs.Handler.Payroll.CreateRun(ctx, periodID, payroll.RunRegular, SchedulerActor, "scheduled run")
	if err != nil {
		return err
	}

	computed, err := rs.Handler.Payroll.ComputeRun(ctx, run.ID)
	if err != nil {
		runFailures.Inc()
		return err
	}

	computeSeconds.Observe(time.Since(started).Seconds())
	runsComputed.Inc()
	itemsComputed.Add(float64(computed.ComputedCount))

	log.Printf("[Scheduler] Computed %s for %s: %d employees, net %s",
		computed.ID, periodID, computed.ComputedCount, computed.Totals.Net)
	return nil
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *RunScheduler) RunNow() {
	rs.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *RunScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
