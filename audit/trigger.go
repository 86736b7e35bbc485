/*
trigger.go - Automated night audit scheduler

PURPOSE:
  Periodically checks whether the night audit is due and runs it, so the
  business date rolls over without an operator.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The audit is due once the local clock has passed AuditHour and the
    business date is before today; the night of today has not happened yet
  - Catches up one day per check after downtime; each run advances one day
  - A run already in progress elsewhere is not an error here

CONFIGURATION:
  - CheckInterval: How often to check (default: 15 minutes)
  - AuditHour: Local hour after which the audit may run (default: 2)
  - Enabled: Whether the trigger is active (default: true)

USAGE:
  trigger := NewNightlyTrigger(engine, logger)
  trigger.Start()
  // ... later
  trigger.Stop()

SEE ALSO:
  - engine.go: Run
  - api/handlers.go: RunAudit, the manual run endpoint
*/
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/darwishdev/abc-hotels/hotel"
)

// NightlyTrigger runs the night audit when it is due.
type NightlyTrigger struct {
	Engine        *Engine
	CheckInterval time.Duration
	AuditHour     int
	Enabled       bool

	log    logrus.FieldLogger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewNightlyTrigger(engine *Engine, logger logrus.FieldLogger) *NightlyTrigger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NightlyTrigger{
		Engine:        engine,
		CheckInterval: 15 * time.Minute,
		AuditHour:     2,
		Enabled:       true,
		log:           logger.WithField("component", "audit_trigger"),
		now:           time.Now,
	}
}

// Start begins the trigger.
func (t *NightlyTrigger) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.Enabled {
		t.log.Info("nightly audit trigger disabled, not starting")
		return
	}
	if t.ticker != nil {
		return
	}

	t.ticker = time.NewTicker(t.CheckInterval)
	t.stop = make(chan struct{})
	t.wg.Add(1)
	go t.run()

	t.log.WithFields(logrus.Fields{
		"check_interval": t.CheckInterval.String(),
		"audit_hour":     t.AuditHour,
	}).Info("nightly audit trigger started")
}

// Stop stops the trigger and waits for a running check to finish.
func (t *NightlyTrigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ticker != nil {
		t.ticker.Stop()
		close(t.stop)
		t.wg.Wait()
		t.ticker = nil
		t.log.Info("nightly audit trigger stopped")
	}
}

func (t *NightlyTrigger) run() {
	defer t.wg.Done()

	t.CheckAndRun(context.Background())

	for {
		select {
		case <-t.ticker.C:
			t.CheckAndRun(context.Background())
		case <-t.stop:
			return
		}
	}
}

// Due reports whether an audit should run for bd at now.
func (t *NightlyTrigger) Due(bd BusinessDate, now time.Time) bool {
	if !bd.IsSet() {
		return false
	}
	if now.Hour() < t.AuditHour {
		return false
	}
	return bd.Date.Before(hotel.DateOf(now))
}

// CheckAndRun runs the audit once if it is due. Returns whether a run happened.
func (t *NightlyTrigger) CheckAndRun(ctx context.Context) bool {
	bd, err := t.Engine.BusinessDate(ctx)
	if err != nil {
		t.log.WithError(err).Error("reading business date failed")
		return false
	}
	if !bd.IsSet() {
		t.log.Warn("business date is not configured, skipping night audit")
		return false
	}
	now := t.now()
	if !t.Due(bd, now) {
		t.log.WithField("business_date", bd.Date.String()).Debug("night audit not due")
		return false
	}

	report, err := t.Engine.Run(ctx, "nightly")
	switch {
	case errors.Is(err, hotel.ErrConcurrencyConflict):
		t.log.Info("night audit already running, skipping this check")
		return false
	case errors.Is(err, hotel.ErrChargePosting):
		t.log.WithField("failed", len(report.Failures)).Warn("night audit finished with failed charges")
		return true
	case err != nil:
		t.log.WithError(err).Error("night audit failed")
		return false
	}
	return true
}

// RunNow triggers an audit immediately, regardless of the hour.
func (t *NightlyTrigger) RunNow(ctx context.Context) (Report, error) {
	return t.Engine.Run(ctx, "manual")
}
