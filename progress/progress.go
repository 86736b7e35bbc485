/*
Package progress delivers best-effort job progress to UI sessions.

PURPOSE:
  Long-running jobs (inventory population) report progress ticks and a final
  "job done" event to the user who started them, or to everyone when no user
  is known.

DELIVERY:
  Publish never blocks the caller. Events go into a bounded buffer drained by
  one goroutine that hands them to the Sink. A full buffer drops the event; a
  failing Sink is logged. Neither ever reaches the job.

ORDERING:
  One Publisher delivers events in the order they were published.

SINKS:
  - Hub:       in-process fan-out, feeds the SSE endpoint
  - RedisSink: Redis Pub/Sub, one channel per subscriber
  - LogSink:   structured log lines
  - Multi:     several sinks at once
  - Recorder:  keeps events in memory for tests
*/
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/darwishdev/abc-hotels/hotel"
)

// Event names.
const (
	EventProgress = "progress"
	EventJobDone  = "jobDone"
)

// Event is one message to a subscriber. An empty Subscriber means broadcast.
type Event struct {
	Name       string           `json:"event"`
	Subscriber hotel.Subscriber `json:"subscriber,omitempty"`
	Payload    any              `json:"payload"`
	At         time.Time        `json:"at"`
}

// Progress is the payload of a progress event.
type Progress struct {
	Percent      float64 `json:"percent"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	CreatedSoFar *int    `json:"created_so_far,omitempty"`
	FailedSoFar  *int    `json:"failed_so_far,omitempty"`
	Pairs        *int    `json:"pairs,omitempty"`
}

// JobDone is the payload of the terminal event.
// Error is set when the job did not run at all.
type JobDone struct {
	Created  int    `json:"created"`
	Existing *int   `json:"existing"`
	Failed   int    `json:"failed"`
	Pairs    *int   `json:"pairs"`
	Error    string `json:"error,omitempty"`
}

// Sink delivers events somewhere. Errors are logged by the Publisher.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Send(ctx context.Context, e Event) error { return f(ctx, e) }

// Reporter is what jobs publish through.
type Reporter interface {
	Publish(name string, payload any, to hotel.Subscriber)
	PublishFinal(p Progress, done JobDone, to hotel.Subscriber)
}

// =============================================================================
// PUBLISHER
// =============================================================================

// Publisher is a non-blocking Reporter in front of a Sink.
type Publisher struct {
	sink    Sink
	log     logrus.FieldLogger
	timeout time.Duration

	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewPublisher starts the delivery goroutine. buffer < 1 uses 256.
func NewPublisher(sink Sink, buffer int, logger logrus.FieldLogger) *Publisher {
	if buffer < 1 {
		buffer = 256
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &Publisher{
		sink:    sink,
		log:     logger.WithField("component", "progress"),
		timeout: 5 * time.Second,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p
}

// Publish queues an event. It never blocks and never fails.
func (p *Publisher) Publish(name string, payload any, to hotel.Subscriber) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	e := Event{Name: name, Subscriber: to, Payload: payload, At: time.Now().UTC()}
	select {
	case p.events <- e:
	default:
		p.log.WithFields(logrus.Fields{"event": name, "subscriber": to}).Warn("progress buffer full, event dropped")
	}
}

// PublishFinal emits the last progress tick followed by the job done event,
// both to the same subscriber.
func (p *Publisher) PublishFinal(last Progress, done JobDone, to hotel.Subscriber) {
	p.Publish(EventProgress, last, to)
	p.Publish(EventJobDone, done, to)
}

// Close stops accepting events and waits until queued ones are delivered.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) loop() {
	defer close(p.done)
	for e := range p.events {
		p.deliver(e)
	}
}

func (p *Publisher) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("progress sink panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.sink.Send(ctx, e); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"event":      e.Name,
			"subscriber": e.Subscriber,
		}).Warn("progress delivery failed")
	}
}

// =============================================================================
// SIMPLE SINKS
// =============================================================================

// Multi sends to every sink and returns the first error after trying all.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes each event as a log entry at debug level.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Send(_ context.Context, e Event) error {
	s.Log.WithFields(logrus.Fields{
		"event":      e.Name,
		"subscriber": e.Subscriber,
		"payload":    e.Payload,
	}).Debug("progress event")
	return nil
}

// Recorder keeps every event. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Percents returns the percent of every progress event, in order.
func (r *Recorder) Percents() []float64 {
	var out []float64
	for _, e := range r.Events() {
		if p, ok := e.Payload.(Progress); ok {
			out = append(out, p.Percent)
		}
	}
	return out
}

var (
	_ Reporter = (*Publisher)(nil)
	_ Sink     = Multi(nil)
	_ Sink     = LogSink{}
	_ Sink     = (*Recorder)(nil)
)
