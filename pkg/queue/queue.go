// Package queue is the async task sink for the billing core. Tasks are
// submitted by name with a record id only, never a live object; handlers
// re-fetch fresh state when they run. Delivery is at-least-once with bounded
// retries, so handlers should tolerate repeats.
package queue

import (
	"log"
	"sync"
	"time"
)

// Handler processes one task invocation. A non-nil error triggers a retry
// until the policy is exhausted.
type Handler func(recordID string) error

type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second}

type TaskQueue struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	policy   RetryPolicy
	wg       sync.WaitGroup
}

func New(policy RetryPolicy) *TaskQueue {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &TaskQueue{
		handlers: make(map[string]Handler),
		policy:   policy,
	}
}

// Register binds a handler to a task name. Registration happens at startup.
func (q *TaskQueue) Register(task string, handler Handler) {
	q.mu.Lock()
	q.handlers[task] = handler
	q.mu.Unlock()
}

// Enqueue submits a task for background execution and returns immediately.
// Unknown task names are logged and dropped. After the retry budget is spent
// the failure is logged; it is never silently discarded.
func (q *TaskQueue) Enqueue(task, recordID string) {
	q.mu.RLock()
	handler, ok := q.handlers[task]
	q.mu.RUnlock()

	if !ok {
		log.Printf("No handler registered for task %s (record %s)", task, recordID)
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		var err error
		for attempt := 1; attempt <= q.policy.MaxAttempts; attempt++ {
			if err = handler(recordID); err == nil {
				return
			}
			log.Printf("Task %s failed for record %s (attempt %d/%d): %v",
				task, recordID, attempt, q.policy.MaxAttempts, err)
			if attempt < q.policy.MaxAttempts {
				time.Sleep(q.policy.Delay * time.Duration(attempt))
			}
		}
		log.Printf("Task %s exhausted retries for record %s: %v", task, recordID, err)
	}()
}

// Wait blocks until all in-flight tasks finish. Used on shutdown and in tests.
func (q *TaskQueue) Wait() {
	q.wg.Wait()
}

var Default = New(DefaultRetryPolicy)

func Register(task string, handler Handler) { Default.Register(task, handler) }
func Enqueue(task, recordID string)         { Default.Enqueue(task, recordID) }
