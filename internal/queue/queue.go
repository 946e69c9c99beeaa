package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue is an in-process pub/sub queue with bounded retry. The
// webhook pipeline uses it to ack callbacks fast and process them off the
// request goroutine; the retry loop doubles as the grace period for
// callbacks that race send creation.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error

	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger

	jobs sync.WaitGroup
}

func NewInMemoryQueue(maxRetries int, backoff time.Duration, log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		maxRetries: maxRetries,
		backoff:    backoff,
		log:        log.With().Str("component", "queue").Logger(),
	}
}

// Publish hands the payload to every subscriber asynchronously.
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.jobs.Add(1)
		go func(h func(payload any) error) {
			defer q.jobs.Done()
			q.processJob(topic, h, payload)
		}(handler)
	}
	return nil
}

// processJob retries a failing handler with linear backoff, then drops the
// job with a warning.
func (q *InMemoryQueue) processJob(topic string, handler func(payload any) error, payload any) {
	for attempt := 0; ; attempt++ {
		err := handler(payload)
		if err == nil {
			return
		}
		if attempt >= q.maxRetries {
			q.log.Warn().Err(err).Str("topic", topic).Int("attempts", attempt+1).
				Msg("job permanently failed, dropping")
			return
		}
		time.Sleep(q.backoff * time.Duration(attempt+1))
	}
}

// Subscribe adds a handler for a topic.
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Drain blocks until all in-flight jobs (including retries) finish.
func (q *InMemoryQueue) Drain() {
	q.jobs.Wait()
}
