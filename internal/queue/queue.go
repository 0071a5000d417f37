// Package queue serialises weather fetches: one worker executes queued requests
// strictly one at a time in FIFO order, pausing a fixed delay after each completion
// to stay inside the upstream request quota.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// DefaultDelay is the pause after each completed fetch.
const DefaultDelay = 100 * time.Millisecond

// ErrStopped is returned for requests submitted to, or still pending in, a stopped queue.
var ErrStopped = errors.New("request queue stopped")

// Request is a queued fetch for one coordinate.
type Request struct {
	Lat float64
	Lng float64
}

// Handler performs one fetch. It runs on the worker goroutine with the submitter's context.
type Handler func(ctx context.Context, req Request) (models.WeatherData, error)

// Options configures a Queue. Zero values take defaults.
type Options struct {
	Delay  time.Duration
	Logger *zap.Logger
}

type result struct {
	data models.WeatherData
	err  error
}

type item struct {
	ctx        context.Context
	req        Request
	reply      chan result
	enqueuedAt time.Time
}

// Queue is an unbounded FIFO drained by a single worker. Safe for concurrent use.
type Queue struct {
	handler Handler
	delay   time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	items   []*item
	started bool
	stopped bool

	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
}

// New creates a queue. Call Start before expecting results.
func New(handler Handler, opts Options) *Queue {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Queue{
		handler: handler,
		delay:   opts.Delay,
		logger:  opts.Logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// Start launches the worker. Cancelling ctx stops the queue like Stop. Calling Start
// more than once, or after Stop, has no effect.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.run(ctx)
}

// Stop rejects new submissions, lets an in-flight fetch finish, fails everything
// still pending with ErrStopped and waits for the worker to exit.
func (q *Queue) Stop() {
	started := q.markStopped()
	if started {
		<-q.exited
		return
	}
	q.failPending()
}

func (q *Queue) markStopped() (started bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped {
		q.stopped = true
		close(q.done)
	}
	return q.started
}

// Submit enqueues req and blocks until its own result is ready or ctx ends. A request
// whose ctx has ended by the time it reaches the head of the queue is skipped.
func (q *Queue) Submit(ctx context.Context, req Request) (models.WeatherData, error) {
	it := &item{
		ctx:        ctx,
		req:        req,
		reply:      make(chan result, 1),
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return models.WeatherData{}, ErrStopped
	}
	q.items = append(q.items, it)
	observability.QueueDepth.Set(float64(len(q.items)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-it.reply:
		return res.data, res.err
	case <-ctx.Done():
		return models.WeatherData{}, ctx.Err()
	}
}

// Len returns the number of requests waiting for the worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.exited)
	defer q.failPending()

	for {
		it, ok := q.next(ctx)
		if !ok {
			return
		}
		observability.QueueWaitSeconds.Observe(time.Since(it.enqueuedAt).Seconds())

		if it.ctx.Err() != nil {
			observability.QueueOperationsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		it.reply <- q.execute(it)

		timer := time.NewTimer(q.delay)
		select {
		case <-timer.C:
		case <-q.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			q.markStopped()
			return
		}
	}
}

// next blocks until an item is available or the queue stops.
func (q *Queue) next(ctx context.Context) (*item, bool) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			observability.QueueDepth.Set(float64(len(q.items)))
			q.mu.Unlock()
			return it, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
		case <-ctx.Done():
			q.markStopped()
		}
	}
}

// execute runs the handler for one item. Errors and panics are reported to the
// submitter only; the worker loop carries on.
func (q *Queue) execute(it *item) (res result) {
	logger := observability.LoggerFromContext(it.ctx, q.logger)
	defer func() {
		if r := recover(); r != nil {
			observability.QueueOperationsTotal.WithLabelValues("panic").Inc()
			logger.Error("queued fetch panicked",
				zap.Float64("lat", it.req.Lat),
				zap.Float64("lng", it.req.Lng),
				zap.Any("panic", r),
			)
			res = result{err: fmt.Errorf("queued fetch panicked: %v", r)}
		}
	}()

	data, err := q.handler(it.ctx, it.req)
	if err != nil {
		observability.QueueOperationsTotal.WithLabelValues("error").Inc()
		logger.Warn("queued fetch failed",
			zap.Float64("lat", it.req.Lat),
			zap.Float64("lng", it.req.Lng),
			zap.Error(err),
		)
		return result{err: err}
	}
	observability.QueueOperationsTotal.WithLabelValues("success").Inc()
	return result{data: data}
}

func (q *Queue) failPending() {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	observability.QueueDepth.Set(0)
	q.mu.Unlock()

	for _, it := range pending {
		observability.QueueOperationsTotal.WithLabelValues("stopped").Inc()
		it.reply <- result{err: ErrStopped}
	}
}
