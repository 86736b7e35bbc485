/*
engine.go - Night audit rollover

PURPOSE:
  Closes the property's business day: posts one nightly accommodation charge
  per checked-in folio window, then moves the business date forward one day.

STATE MACHINE (per run):
  Idle -> SelectingCandidates -> PostingCharges -> AdvancingDate -> Idle

RUN:
  1. Take the property audit lock; a second concurrent run fails immediately
     with ConcurrencyConflictError
  2. Read the business date; unset is a ConfigError and nothing is touched
  3. List candidates for that date
  4. For each candidate, inside its invoice transaction: skip if the nightly
     line for (folio window, date) exists, else append it and recompute totals.
     A failure is recorded as ChargePostingError and the next candidate runs
  5. Advance the business date by exactly one day with a version check,
     unless a candidate failed and AdvanceOnPartialFailure is off

IDEMPOTENCE:
  Re-running for a date whose charges were already posted posts nothing. Only
  step 5 changes state on such a run, and it moves from the date read in step
  2, never from "today".

SEE ALSO:
  - invoice.go: Nightly line uniqueness
  - trigger.go: Nightly scheduling
  - store/sqlite/audit.go: Candidates, invoices, versioned settings
*/
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/lock"
)

// State of the engine.
type State string

const (
	StateIdle                State = "idle"
	StateSelectingCandidates State = "selecting_candidates"
	StatePostingCharges      State = "posting_charges"
	StateAdvancingDate       State = "advancing_date"
)

// Options configure an Engine.
type Options struct {
	PropertyID string
	// AdvanceOnPartialFailure moves the business date even when some
	// candidates could not be charged.
	AdvanceOnPartialFailure bool
}

// Report summarizes one run.
type Report struct {
	RunID            string     `json:"run_id"`
	BusinessDate     hotel.Date `json:"business_date"`
	NextBusinessDate hotel.Date `json:"next_business_date"`
	Advanced         bool       `json:"advanced"`
	Candidates       int        `json:"candidates"`
	Posted           []string   `json:"posted"`
	Skipped          []string   `json:"skipped"`
	Failures         []error    `json:"-"`
	FailedInvoices   []string   `json:"failed"`
	Status           RunStatus  `json:"status"`
}

// Err joins every candidate failure, or returns nil.
func (r Report) Err() error { return errors.Join(r.Failures...) }

// Engine runs night audits for one property.
type Engine struct {
	store  Store
	locker lock.Locker
	opts   Options
	log    logrus.FieldLogger
	now    func() time.Time

	mu    sync.RWMutex
	state State
}

func NewEngine(store Store, locker lock.Locker, opts Options, logger logrus.FieldLogger) *Engine {
	if opts.PropertyID == "" {
		opts.PropertyID = hotel.DefaultPropertyID
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		store:  store,
		locker: locker,
		opts:   opts,
		log:    logger.WithFields(logrus.Fields{"component": "night_audit", "property_id": opts.PropertyID}),
		now:    time.Now,
		state:  StateIdle,
	}
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// BusinessDate returns the current business date.
func (e *Engine) BusinessDate(ctx context.Context) (BusinessDate, error) {
	return e.store.GetBusinessDate(ctx, e.opts.PropertyID)
}

// SetBusinessDate overwrites the business date with a version check. Used to
// configure a property and by operators correcting a date.
func (e *Engine) SetBusinessDate(ctx context.Context, expectedVersion int64, d hotel.Date) (BusinessDate, error) {
	if d.IsZero() {
		return BusinessDate{}, &hotel.ValidationError{Field: "business_date", Reason: "is required"}
	}
	unlock, err := e.locker.TryLock(ctx, lock.AuditKey(e.opts.PropertyID))
	if err != nil {
		return BusinessDate{}, err
	}
	defer unlock()
	return e.store.SetBusinessDate(ctx, e.opts.PropertyID, expectedVersion, d)
}

// Preview lists the candidates for date without changing anything. A zero
// date previews the current business date.
func (e *Engine) Preview(ctx context.Context, date hotel.Date) ([]Candidate, error) {
	if date.IsZero() {
		bd, err := e.store.GetBusinessDate(ctx, e.opts.PropertyID)
		if err != nil {
			return nil, err
		}
		if !bd.IsSet() {
			return nil, &hotel.ConfigError{Setting: "business_date", Reason: "is not set"}
		}
		date = bd.Date
	}
	return e.store.GetAuditCandidates(ctx, date)
}

// Runs lists recent audit runs, newest first.
func (e *Engine) Runs(ctx context.Context, limit int) ([]Run, error) {
	return e.store.ListRuns(ctx, e.opts.PropertyID, limit)
}

// Run executes one night audit. The returned error is non-nil when the run
// aborted (lock held, no business date, store failure) or when any candidate
// failed; the Report is filled in as far as the run got.
func (e *Engine) Run(ctx context.Context, trigger string) (Report, error) {
	unlock, err := e.locker.TryLock(ctx, lock.AuditKey(e.opts.PropertyID))
	if err != nil {
		return Report{}, err
	}
	defer unlock()
	defer e.setState(StateIdle)

	bd, err := e.store.GetBusinessDate(ctx, e.opts.PropertyID)
	if err != nil {
		return Report{}, fmt.Errorf("read business date: %w", err)
	}
	if !bd.IsSet() {
		return Report{}, &hotel.ConfigError{Setting: "business_date", Reason: "is not set"}
	}

	report := Report{
		RunID:        uuid.NewString(),
		BusinessDate: bd.Date,
		Posted:       []string{},
		Skipped:      []string{},
	}
	run := Run{
		ID:           report.RunID,
		PropertyID:   e.opts.PropertyID,
		BusinessDate: bd.Date,
		Status:       RunRunning,
		Trigger:      trigger,
		StartedAt:    e.now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return Report{}, fmt.Errorf("record audit run: %w", err)
	}
	log := e.log.WithFields(logrus.Fields{"run_id": run.ID, "business_date": bd.Date.String()})
	log.Info("night audit started")

	runErr := e.execute(ctx, bd, &report, log)

	finished := e.now().UTC()
	run.FinishedAt = &finished
	run.Candidates = report.Candidates
	run.Posted = len(report.Posted)
	run.Skipped = len(report.Skipped)
	run.Failed = len(report.Failures)
	run.NextBusinessDate = report.NextBusinessDate
	switch {
	case runErr != nil:
		run.Status = RunFailed
		run.Error = runErr.Error()
	case len(report.Failures) > 0:
		run.Status = RunPartial
		run.Error = report.Err().Error()
	default:
		run.Status = RunCompleted
	}
	report.Status = run.Status
	if err := e.store.FinishRun(ctx, run); err != nil {
		log.WithError(err).Error("failed to record audit run result")
	}

	log.WithFields(logrus.Fields{
		"status":   run.Status,
		"posted":   run.Posted,
		"skipped":  run.Skipped,
		"failed":   run.Failed,
		"advanced": report.Advanced,
	}).Info("night audit finished")

	if runErr != nil {
		return report, runErr
	}
	return report, report.Err()
}

func (e *Engine) execute(ctx context.Context, bd BusinessDate, report *Report, log logrus.FieldLogger) error {
	e.setState(StateSelectingCandidates)
	candidates, err := e.store.GetAuditCandidates(ctx, bd.Date)
	if err != nil {
		return fmt.Errorf("select audit candidates: %w", err)
	}
	report.Candidates = len(candidates)

	e.setState(StatePostingCharges)
	for _, c := range candidates {
		appended, err := e.post(ctx, c)
		if err != nil {
			report.Failures = append(report.Failures, err)
			report.FailedInvoices = append(report.FailedInvoices, string(c.InvoiceID))
			log.WithError(err).WithFields(logrus.Fields{
				"invoice_id":   c.InvoiceID,
				"folio_window": c.FolioWindowID,
			}).Error("nightly charge failed")
			continue
		}
		if appended {
			report.Posted = append(report.Posted, string(c.InvoiceID))
		} else {
			report.Skipped = append(report.Skipped, string(c.InvoiceID))
		}
	}

	if len(report.Failures) > 0 && !e.opts.AdvanceOnPartialFailure {
		log.WithField("failed", len(report.Failures)).Warn("business date not advanced: some charges failed")
		return nil
	}

	e.setState(StateAdvancingDate)
	next := bd.Date.AddDays(1)
	if _, err := e.store.SetBusinessDate(ctx, e.opts.PropertyID, bd.Version, next); err != nil {
		return fmt.Errorf("advance business date to %s: %w", next, err)
	}
	report.NextBusinessDate = next
	report.Advanced = true
	return nil
}

func (e *Engine) post(ctx context.Context, c Candidate) (appended bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &hotel.ChargePostingError{
				InvoiceID:     string(c.InvoiceID),
				FolioWindowID: string(c.FolioWindowID),
				ForDate:       c.ForDate,
				Err:           err,
			}
		}
	}()
	err = e.store.WithInvoice(ctx, c.InvoiceID, func(inv *Invoice) error {
		appended = inv.AppendNightlyLine(c.FolioWindowID, c.ForDate, c.NightlyRate)
		return nil
	})
	return appended, err
}
