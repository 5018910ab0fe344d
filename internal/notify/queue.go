package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Queue is a bounded FIFO of notification tasks with a single consumer
// goroutine. Producers (detection loop, manual test triggers) never
// block: when the queue is full the task is dropped and logged, since
// the dispatcher's synchronous path has already attempted delivery.
type Queue struct {
	tasks   chan Task
	handler func(Task)
	logger  *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewQueue builds a queue delivering to handler. The handler is called
// from the consumer goroutine only.
func NewQueue(size int, handler func(Task), logger *zap.Logger) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{
		tasks:   make(chan Task, size),
		handler: handler,
		logger:  logger.Named("notify-queue"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the consumer. Safe to call more than once.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		go q.consume()
		q.logger.Info("notification queue consumer started", zap.Int("capacity", cap(q.tasks)))
	})
}

// Enqueue adds a task without blocking; it reports whether the task was
// accepted.
func (q *Queue) Enqueue(t Task) bool {
	select {
	case q.tasks <- t:
		return true
	default:
		q.logger.Warn("notification queue full, dropping task",
			zap.String("channel", string(t.Channel)), zap.String("event_id", t.Event.ID))
		return false
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int { return len(q.tasks) }

// Stop halts the consumer after the task in flight, waiting up to a
// bounded timeout for it to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	select {
	case <-q.done:
	case <-time.After(5 * time.Second):
		q.logger.Warn("notification queue consumer did not stop in time, detaching")
	}
}

func (q *Queue) consume() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		case t := <-q.tasks:
			q.process(t)
		}
	}
}

// process runs one task; a failing or panicking handler must never kill
// the consumer.
func (q *Queue) process(t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("notification task panicked",
				zap.String("channel", string(t.Channel)),
				zap.String("event_id", t.Event.ID),
				zap.Any("panic", r))
		}
	}()
	q.handler(t)
}
