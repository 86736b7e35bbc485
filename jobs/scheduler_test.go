package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, workers, queue int) *Scheduler {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	s := NewScheduler(workers, queue, log)
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, s *Scheduler, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		j, ok := s.Get(id)
		job = j
		return ok && (j.Status == StatusSucceeded || j.Status == StatusFailed)
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestScheduler_Enqueue_PreservesCaller(t *testing.T) {
	// GIVEN: A task that echoes its caller
	// WHEN: alice enqueues it
	// THEN: The worker sees alice, not an empty or system identity

	s := newTestScheduler(t, 2, 4)
	s.Register("echo", func(_ context.Context, args any, caller string) (any, error) {
		return caller + ":" + args.(string), nil
	})
	s.Start()

	id, err := s.Enqueue(context.Background(), "echo", "hi", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	job := waitFor(t, s, id)
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, "alice:hi", job.Result)
	assert.Equal(t, "alice", job.Caller)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
}

func TestScheduler_FailedAndPanickingJobs(t *testing.T) {
	s := newTestScheduler(t, 1, 4)
	s.Register("fail", func(context.Context, any, string) (any, error) {
		return nil, errors.New("window store unavailable")
	})
	s.Register("panic", func(context.Context, any, string) (any, error) {
		panic("nil map")
	})
	s.Start()

	failID, err := s.Enqueue(context.Background(), "fail", nil, "")
	require.NoError(t, err)
	panicID, err := s.Enqueue(context.Background(), "panic", nil, "")
	require.NoError(t, err)

	failed := waitFor(t, s, failID)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "window store unavailable")

	panicked := waitFor(t, s, panicID)
	assert.Equal(t, StatusFailed, panicked.Status)
	assert.Contains(t, panicked.Error, "panicked")
}

func TestScheduler_Errors(t *testing.T) {
	s := newTestScheduler(t, 1, 1)
	block := make(chan struct{})
	s.Register("block", func(context.Context, any, string) (any, error) {
		<-block
		return nil, nil
	})

	_, err := s.Enqueue(context.Background(), "missing", nil, "")
	assert.ErrorIs(t, err, ErrUnknownTask)

	_, err = s.Enqueue(context.Background(), "block", nil, "")
	assert.ErrorIs(t, err, ErrNotRunning)

	s.Start()
	defer close(block)

	first, err := s.Enqueue(context.Background(), "block", nil, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, _ := s.Get(first)
		return j.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	_, err = s.Enqueue(context.Background(), "block", nil, "")
	require.NoError(t, err, "fills the queue")
	_, err = s.Enqueue(context.Background(), "block", nil, "")
	assert.ErrorIs(t, err, ErrQueueFull)

	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestScheduler_Run_Inline(t *testing.T) {
	s := newTestScheduler(t, 1, 1)
	s.Register("sum", func(_ context.Context, args any, _ string) (any, error) {
		n := 0
		for _, v := range args.([]int) {
			n += v
		}
		return n, nil
	})

	got, err := s.Run(context.Background(), "sum", []int{1, 2, 3}, "bob")
	require.NoError(t, err)
	assert.Equal(t, 6, got)
}
