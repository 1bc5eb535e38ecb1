package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/cartloom/hookrelay/internal/observability"
)

// NSQScheduler enqueues delivery tasks and observability batch tasks on
// NSQ topics. A backoff retry is a fresh deferred task rather than a
// sleeping worker.
type NSQScheduler struct {
	producer        *nsq.Producer
	deliveriesTopic string
	drainTopic      string
}

func NewNSQScheduler(producer *nsq.Producer, deliveriesTopic, drainTopic string) *NSQScheduler {
	return &NSQScheduler{
		producer:        producer,
		deliveriesTopic: deliveriesTopic,
		drainTopic:      drainTopic,
	}
}

// ScheduleDelivery enqueues one async delivery task.
func (s *NSQScheduler) ScheduleDelivery(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.producer.Publish(s.deliveriesTopic, body)
}

// ScheduleDeliveryAfter enqueues one async delivery task after a delay.
// The task body travels with the publish, so the retry count in it
// survives the round trip through nsqd. A requeue would not: nsqd
// redelivers its stored copy of the original message.
func (s *NSQScheduler) ScheduleDeliveryAfter(ctx context.Context, task Task, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if delay <= 0 {
		return s.producer.Publish(s.deliveriesTopic, body)
	}
	return s.producer.DeferredPublish(s.deliveriesTopic, delay, body)
}

// ScheduleBatch enqueues one observability drain batch.
func (s *NSQScheduler) ScheduleBatch(ctx context.Context, task observability.BatchTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.producer.Publish(s.drainTopic, body)
}
