/*
orchestrator.go - Windowed inventory backfill

PURPOSE:
  Seeds inventory buckets over a large date range, one window at a time, and
  reports how many buckets were actually created.

ALGORITHM:
  1. Split [start, end] into windows of DaysPerWindow days (last may be shorter)
  2. Per window, in order:
       before  = count(buckets in window)
       seed(window)             -- inserts missing buckets only
       after   = count(buckets in window)
       created += max(0, after - before)
  3. A window whose seeding or counting fails is logged and skipped; its rows
     are not counted and the next window still runs
  4. Progress before each window: min(95, (i-1)/n*100)
     Progress after each window:  min(99, i/n*100)
     The caller sends the final 100% and the job done event

WHY COUNT:
  Seeding is an idempotent bulk insert that reports nothing back. Counting
  before and after measures its effect; it is accurate as long as no other
  writer seeds the same window concurrently, which the population lock
  guarantees.

SEE ALSO:
  - service.go: Sync and async entry points, final event, locking
  - store/sqlite/inventory.go: SeedInventoryWindow, CountInventoryRows
*/
package population

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/progress"
)

// Title is the progress title of population jobs.
const Title = "Inventory Population"

// Store is the seeding side of the inventory store.
type Store interface {
	// SeedInventoryWindow inserts a bucket per room type per date in window
	// and leaves existing buckets untouched.
	SeedInventoryWindow(ctx context.Context, window hotel.DateRange, windowSizeDays int, namePrefix string) error
	// CountInventoryRows counts buckets of all room types dated within window.
	CountInventoryRows(ctx context.Context, window hotel.DateRange) (int, error)
}

// Job is one orchestration call.
type Job struct {
	Range         hotel.DateRange
	DaysPerWindow int
	NamePrefix    string
	Subscriber    hotel.Subscriber
}

// Summary is what a job achieved. Failures holds one *hotel.WindowFailure per
// skipped window.
type Summary struct {
	Windows  int     `json:"windows"`
	Created  int     `json:"created"`
	Failed   int     `json:"failed"`
	Failures []error `json:"-"`
}

// Orchestrator runs population jobs window by window.
type Orchestrator struct {
	store    Store
	reporter progress.Reporter
	log      logrus.FieldLogger
}

func NewOrchestrator(store Store, reporter progress.Reporter, logger logrus.FieldLogger) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		store:    store,
		reporter: reporter,
		log:      logger.WithField("component", "population"),
	}
}

// Run executes the job. The returned error is non-nil only for invalid input,
// which is rejected before any window runs; window failures are in Summary.
func (o *Orchestrator) Run(ctx context.Context, job Job) (Summary, error) {
	if err := job.Range.Validate(); err != nil {
		return Summary{}, err
	}
	if job.DaysPerWindow < 1 {
		return Summary{}, &hotel.ValidationError{Field: "days_per_window", Value: fmt.Sprint(job.DaysPerWindow), Reason: "must be at least 1"}
	}

	windows := job.Range.Windows(job.DaysPerWindow)
	n := len(windows)
	sum := Summary{Windows: n}

	o.tick(job, 0, fmt.Sprintf("Starting %s → %s", job.Range.Start, job.Range.End), sum)

	for i, w := range windows {
		idx := i + 1
		o.tick(job, percent(idx-1, n, 95), fmt.Sprintf("Starting window %d/%d: %s → %s", idx, n, w.Start, w.End), sum)

		created, err := o.runWindow(ctx, job, w)
		if err != nil {
			failure := &hotel.WindowFailure{Index: idx, Window: w, Err: err}
			sum.Failed++
			sum.Failures = append(sum.Failures, failure)
			o.log.WithError(err).WithFields(logrus.Fields{
				"window":     w.String(),
				"index":      idx,
				"subscriber": job.Subscriber,
			}).Error("inventory window failed")
		} else {
			sum.Created += created
		}

		o.tick(job, percent(idx, n, 99), fmt.Sprintf("Finished window %d/%d: %s → %s", idx, n, w.Start, w.End), sum)
	}

	o.log.WithFields(logrus.Fields{
		"range":   job.Range.String(),
		"windows": n,
		"created": sum.Created,
		"failed":  sum.Failed,
	}).Info("inventory population finished")
	return sum, nil
}

func (o *Orchestrator) runWindow(ctx context.Context, job Job, w hotel.DateRange) (int, error) {
	before, err := o.store.CountInventoryRows(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("count before: %w", err)
	}
	if err := o.store.SeedInventoryWindow(ctx, w, job.DaysPerWindow, job.NamePrefix); err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	after, err := o.store.CountInventoryRows(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("count after: %w", err)
	}
	return max(0, after-before), nil
}

func (o *Orchestrator) tick(job Job, pct float64, desc string, sum Summary) {
	if o.reporter == nil {
		return
	}
	created, failed := sum.Created, sum.Failed
	o.reporter.Publish(progress.EventProgress, progress.Progress{
		Percent:      pct,
		Title:        Title,
		Description:  desc,
		CreatedSoFar: &created,
		FailedSoFar:  &failed,
	}, job.Subscriber)
}

// percent returns min(ceiling, done/total*100) rounded to two decimals.
func percent(done, total int, ceiling float64) float64 {
	if total == 0 {
		return 0
	}
	p := math.Min(ceiling, float64(done)/float64(total)*100)
	return math.Round(p*100) / 100
}
