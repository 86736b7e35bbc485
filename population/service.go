package population

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/lock"
	"github.com/darwishdev/abc-hotels/progress"
)

// TaskName is the job scheduler task that runs a population in the background.
const TaskName = "populate-inventory"

// Default window sizes: inline runs favour throughput, background runs favour
// frequent progress ticks.
const (
	DefaultSyncWindowDays  = 30
	DefaultAsyncWindowDays = 7
)

// Enqueuer hands work to the job scheduler.
type Enqueuer interface {
	Enqueue(ctx context.Context, task string, args any, caller string) (string, error)
}

// Request is a population request as received from an operator.
type Request struct {
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	RunNow        bool   `json:"run_now"`
	NotifyUser    string `json:"notify_user,omitempty"`
	DaysPerWindow int    `json:"days_per_window,omitempty"`
}

// Response reports what happened. Created is nil for an enqueued job.
type Response struct {
	OK       bool   `json:"ok"`
	RanNow   bool   `json:"ran_now"`
	Enqueued bool   `json:"enqueued,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Windows  int    `json:"windows,omitempty"`
	Created  *int   `json:"created"`
	Existing *int   `json:"existing"`
	Failed   int    `json:"failed"`
}

// Options configure a Service.
type Options struct {
	PropertyID      string
	NamePrefix      string
	SyncWindowDays  int
	AsyncWindowDays int
}

// Service is the entry point for population requests.
type Service struct {
	orch     *Orchestrator
	reporter progress.Reporter
	locker   lock.Locker
	enqueuer Enqueuer
	opts     Options
	log      logrus.FieldLogger
}

func NewService(orch *Orchestrator, reporter progress.Reporter, locker lock.Locker, enqueuer Enqueuer, opts Options, logger logrus.FieldLogger) *Service {
	if opts.PropertyID == "" {
		opts.PropertyID = hotel.DefaultPropertyID
	}
	if opts.SyncWindowDays < 1 {
		opts.SyncWindowDays = DefaultSyncWindowDays
	}
	if opts.AsyncWindowDays < 1 {
		opts.AsyncWindowDays = DefaultAsyncWindowDays
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		orch:     orch,
		reporter: reporter,
		locker:   locker,
		enqueuer: enqueuer,
		opts:     opts,
		log:      logger.WithField("component", "population"),
	}
}

// Populate validates the request, then runs it inline or enqueues it.
// Progress goes to NotifyUser, or to caller when NotifyUser is empty.
func (s *Service) Populate(ctx context.Context, req Request, caller string) (Response, error) {
	r, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return Response{}, err
	}
	if req.DaysPerWindow < 0 {
		return Response{}, &hotel.ValidationError{Field: "days_per_window", Value: fmt.Sprint(req.DaysPerWindow), Reason: "must not be negative"}
	}

	initiator := strings.TrimSpace(req.NotifyUser)
	if initiator == "" {
		initiator = caller
	}

	if req.RunNow {
		days := req.DaysPerWindow
		if days == 0 {
			days = s.opts.SyncWindowDays
		}
		sum, err := s.Execute(ctx, Job{Range: r, DaysPerWindow: days, Subscriber: hotel.Subscriber(initiator)})
		if err != nil {
			return Response{}, err
		}
		return Response{OK: true, RanNow: true, Windows: sum.Windows, Created: &sum.Created, Failed: sum.Failed}, nil
	}

	if s.enqueuer == nil {
		return Response{}, &hotel.ConfigError{Setting: "jobs", Reason: "no background scheduler configured"}
	}
	// The background job always runs with the small window size so the UI
	// gets frequent ticks.
	args := Request{
		StartDate:     r.Start.String(),
		EndDate:       r.End.String(),
		RunNow:        true,
		NotifyUser:    initiator,
		DaysPerWindow: s.opts.AsyncWindowDays,
	}
	id, err := s.enqueuer.Enqueue(ctx, TaskName, args, initiator)
	if err != nil {
		return Response{}, fmt.Errorf("enqueue population: %w", err)
	}
	return Response{OK: true, Enqueued: true, JobID: id}, nil
}

// Execute runs one job under the property population lock and publishes the
// final events. A concurrent population fails with ConcurrencyConflictError.
func (s *Service) Execute(ctx context.Context, job Job) (Summary, error) {
	if job.NamePrefix == "" {
		job.NamePrefix = s.opts.NamePrefix
	}
	if s.locker != nil {
		unlock, err := s.locker.TryLock(ctx, lock.PopulationKey(s.opts.PropertyID))
		if err != nil {
			s.abort(job, err)
			return Summary{}, err
		}
		defer unlock()
	}

	sum, err := s.orch.Run(ctx, job)
	if err != nil {
		s.abort(job, err)
		return Summary{}, err
	}

	if s.reporter != nil {
		created, failed := sum.Created, sum.Failed
		s.reporter.PublishFinal(progress.Progress{
			Percent:      100,
			Title:        Title,
			Description:  fmt.Sprintf("Done %s → %s", job.Range.Start, job.Range.End),
			CreatedSoFar: &created,
			FailedSoFar:  &failed,
		}, progress.JobDone{Created: sum.Created, Failed: sum.Failed}, job.Subscriber)
	}
	return sum, nil
}

// abort closes the subscriber's progress for a job that could not run.
func (s *Service) abort(job Job, err error) {
	if s.reporter == nil {
		return
	}
	zero := 0
	s.reporter.PublishFinal(progress.Progress{
		Percent:      100,
		Title:        Title,
		Description:  fmt.Sprintf("Not started %s → %s: %v", job.Range.Start, job.Range.End, err),
		CreatedSoFar: &zero,
		FailedSoFar:  &zero,
	}, progress.JobDone{Error: err.Error()}, job.Subscriber)
}

// Handler adapts Populate to the job scheduler. The worker always runs inline.
func (s *Service) Handler() func(ctx context.Context, args any, caller string) (any, error) {
	return func(ctx context.Context, args any, caller string) (any, error) {
		req, ok := args.(Request)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected args %T", TaskName, args)
		}
		req.RunNow = true
		return s.Populate(ctx, req, caller)
	}
}

func parseRange(start, end string) (hotel.DateRange, error) {
	if strings.TrimSpace(start) == "" {
		return hotel.DateRange{}, &hotel.ValidationError{Field: "start_date", Reason: "is required"}
	}
	if strings.TrimSpace(end) == "" {
		return hotel.DateRange{}, &hotel.ValidationError{Field: "end_date", Reason: "is required"}
	}
	s, err := hotel.ParseDate(start)
	if err != nil {
		return hotel.DateRange{}, &hotel.ValidationError{Field: "start_date", Value: start, Reason: "is not a date"}
	}
	e, err := hotel.ParseDate(end)
	if err != nil {
		return hotel.DateRange{}, &hotel.ValidationError{Field: "end_date", Value: end, Reason: "is not a date"}
	}
	r := hotel.NewDateRange(s, e)
	return r, r.Validate()
}
