/*
scheduler.go - Automated payment reminder scheduler

PURPOSE:
  Periodically sweeps for invoices that have been outstanding too long
  and sends each buyer one payment reminder.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start, then on every tick
  - Each sweep is bounded by Batch and by Timeout
  - Double sends are prevented in the store (reminded_at is set once)

CONFIGURATION:
  - CheckInterval: How often to check (REMINDER_INTERVAL, 0 disables)
  - After:         How old an invoice must be (REMINDER_AFTER)
  - Batch:         Invoices per sweep (REMINDER_BATCH)

USAGE:
  scheduler := NewReminderScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - billing/remind.go: SendPaymentReminders
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/leadsbox/billing-engine/billing"
	"github.com/rs/zerolog"
)

// ReminderScheduler sends payment reminders on a timer.
type ReminderScheduler struct {
	Engine        *billing.Engine
	CheckInterval time.Duration
	After         time.Duration
	Batch         int
	Timeout       time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastRun *billing.ReminderRun
	lastAt  time.Time
}

// NewReminderScheduler creates a scheduler with an hourly check and a
// 48h threshold.
func NewReminderScheduler(engine *billing.Engine, log zerolog.Logger) *ReminderScheduler {
	return &ReminderScheduler{
		Engine:        engine,
		CheckInterval: time.Hour,
		After:         48 * time.Hour,
		Batch:         billing.DefaultReminderBatch,
		Timeout:       time.Minute,
		Enabled:       true,
		log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins the scheduler.
func (rs *ReminderScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.log.Info().Msg("reminder scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.log.Info().
		Dur("interval", rs.CheckInterval).
		Dur("after", rs.After).
		Msg("reminder scheduler started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (rs *ReminderScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.ticker, rs.stop = nil, nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.log.Info().Msg("reminder scheduler stopped")
}

func (rs *ReminderScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.RunNow()

	for {
		select {
		case <-ticker.C:
			rs.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep synchronously (for testing/admin).
func (rs *ReminderScheduler) RunNow() *billing.ReminderRun {
	ctx, cancel := context.WithTimeout(context.Background(), rs.Timeout)
	defer cancel()

	run, err := rs.Engine.SendPaymentReminders(ctx, rs.After, rs.Batch)
	if err != nil {
		rs.log.Error().Err(err).Msg("reminder sweep failed")
	}

	rs.mu.Lock()
	rs.lastRun, rs.lastAt = run, time.Now()
	rs.mu.Unlock()
	return run
}

// LastRun returns the outcome of the most recent sweep, nil before the
// first one.
func (rs *ReminderScheduler) LastRun() (*billing.ReminderRun, time.Time) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun, rs.lastAt
}
