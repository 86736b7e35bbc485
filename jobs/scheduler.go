/*
scheduler.go - Background task runner

PURPOSE:
  Runs named tasks either inline or on a small worker pool, and keeps the
  status of every enqueued job so callers can poll it.

DESIGN:
  - Handlers are registered by task name before Start
  - Enqueue returns a job ID immediately; a full queue is an error, not a wait
  - The caller identity travels with the job, so a handler reports progress
    to whoever asked for the work, not to the worker
  - Stop drains queued jobs before returning

USAGE:
  s := jobs.NewScheduler(2, 64, logger)
  s.Register("populate-inventory", handler)
  s.Start()
  id, _ := s.Enqueue(ctx, "populate-inventory", args, "alice")
  // ... later
  s.Stop()

SEE ALSO:
  - population/service.go: Enqueues the async population task
*/
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrQueueFull   = errors.New("job queue is full")
	ErrNotRunning  = errors.New("scheduler is not running")
)

// Status of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is the tracked state of one enqueued task.
type Job struct {
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	Caller     string     `json:"caller,omitempty"`
	Status     Status     `json:"status"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Handler runs a task. caller is the identity that enqueued it.
type Handler func(ctx context.Context, args any, caller string) (any, error)

type request struct {
	id     string
	task   string
	args   any
	caller string
}

// Scheduler is a fixed-size worker pool.
type Scheduler struct {
	workers int
	log     logrus.FieldLogger

	mu       sync.RWMutex
	handlers map[string]Handler
	jobs     map[string]*Job
	running  bool

	queue chan request
	wg    sync.WaitGroup
}

func NewScheduler(workers, queueSize int, logger logrus.FieldLogger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		workers:  workers,
		log:      logger.WithField("component", "jobs"),
		handlers: make(map[string]Handler),
		jobs:     make(map[string]*Job),
		queue:    make(chan request, queueSize),
	}
}

func (s *Scheduler) Register(task string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[task] = h
}

// Start launches the workers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	s.log.WithField("workers", s.workers).Info("job scheduler started")
}

// Stop rejects new jobs and waits for queued and running ones to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("job scheduler stopped")
}

// Enqueue queues a task and returns its job ID without waiting for it to run.
func (s *Scheduler) Enqueue(_ context.Context, task string, args any, caller string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[task]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	if !s.running {
		return "", ErrNotRunning
	}

	req := request{id: uuid.NewString(), task: task, args: args, caller: caller}
	select {
	case s.queue <- req:
	default:
		return "", ErrQueueFull
	}
	s.jobs[req.id] = &Job{
		ID:         req.id,
		Task:       task,
		Caller:     caller,
		Status:     StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	s.log.WithFields(logrus.Fields{"job_id": req.id, "task": task, "caller": caller}).Info("job enqueued")
	return req.id, nil
}

// Run executes a task inline on the caller's goroutine. It is not tracked.
func (s *Scheduler) Run(ctx context.Context, task string, args any, caller string) (any, error) {
	s.mu.RLock()
	h, ok := s.handlers[task]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	return h(ctx, args, caller)
}

// Get returns a copy of a job's state.
func (s *Scheduler) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (s *Scheduler) work() {
	defer s.wg.Done()
	for req := range s.queue {
		s.execute(req)
	}
}

func (s *Scheduler) execute(req request) {
	s.mu.Lock()
	h := s.handlers[req.task]
	job := s.jobs[req.id]
	started := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	s.mu.Unlock()

	entry := s.log.WithFields(logrus.Fields{"job_id": req.id, "task": req.task})
	result, err := s.safeCall(h, req)

	s.mu.Lock()
	finished := time.Now().UTC()
	job.FinishedAt = &finished
	job.Result = result
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusSucceeded
	}
	s.mu.Unlock()

	if err != nil {
		entry.WithError(err).Error("job failed")
		return
	}
	entry.WithField("duration", finished.Sub(started)).Info("job finished")
}

func (s *Scheduler) safeCall(h Handler, req request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", req.task, r)
		}
	}()
	return h(context.Background(), req.args, req.caller)
}
