// Package delivery orchestrates webhook delivery: the async task state
// machine executed on queue workers, the synchronous variant that
// returns a parsed response, and the triggering service that fans an
// event out to its subscribers.
package delivery

import (
	"time"
)

// Task is one scheduled async delivery attempt, serialized onto the
// task queue. RetryCount is 0 on the first attempt and incremented on
// every requeue.
type Task struct {
	DeliveryID string `json:"delivery_id"`
	TaskID     string `json:"task_id"`
	RetryCount int    `json:"retry_count"`
}

// ResultKind classifies the outcome of executing one Task.
type ResultKind int

const (
	// KindSuccess: the delivery succeeded; the task is finished.
	KindSuccess ResultKind = iota
	// KindRetryScheduled: the attempt failed and the task must be
	// re-enqueued after Result.RetryAfter.
	KindRetryScheduled
	// KindExhausted: the delivery failed terminally, either because the
	// retry ceiling was reached or because of a configuration defect.
	KindExhausted
	// KindDropped: the delivery record is gone; nothing to retry.
	KindDropped
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryScheduled:
		return "retry_scheduled"
	case KindExhausted:
		return "exhausted"
	case KindDropped:
		return "dropped"
	}
	return "unknown"
}

// Result is the explicit outcome of one attempt; the worker loop
// interprets it and performs the re-enqueueing, keeping retry policy
// testable without a task queue.
type Result struct {
	Kind       ResultKind
	RetryAfter time.Duration
}
