package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nsqio/go-nsq"

	"github.com/cartloom/hookrelay/internal/webhook"
)

// fifoSuffix on the topic path requests ordered consumption; such topics
// get an ordering group id derived from the originating domain.
const fifoSuffix = ".fifo"

// QueueEnvelope is the JSON document published to the subscriber's queue
// topic. NSQ messages carry no headers, so delivery attributes travel
// inside the envelope alongside the payload.
type QueueEnvelope struct {
	Attributes map[string]string `json:"attributes"`
	GroupID    string            `json:"group_id,omitempty"`
	Body       string            `json:"body"`
}

// nsqPublisher is the subset of *nsq.Producer the sender needs; swapped
// for a fake in tests.
type nsqPublisher interface {
	Publish(topic string, body []byte) error
}

// NSQSender publishes payloads to nsq://host:port/topic targets. One
// producer is kept per nsqd address.
type NSQSender struct {
	mu        sync.Mutex
	producers map[string]nsqPublisher
	newProd   func(addr string) (nsqPublisher, error)
}

func NewNSQSender() *NSQSender {
	return &NSQSender{
		producers: make(map[string]nsqPublisher),
		newProd: func(addr string) (nsqPublisher, error) {
			return nsq.NewProducer(addr, nsq.NewConfig())
		},
	}
}

func (s *NSQSender) producer(addr string) (nsqPublisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.producers[addr]; ok {
		return p, nil
	}
	p, err := s.newProd(addr)
	if err != nil {
		return nil, err
	}
	s.producers[addr] = p
	return p, nil
}

// Send wraps the payload in a QueueEnvelope and publishes it to the
// topic named by the target path. Provider client errors become a FAILED
// response.
func (s *NSQSender) Send(ctx context.Context, target *Target, msg Message) (*Response, error) {
	topic := strings.TrimPrefix(target.URL.Path, "/")
	if topic == "" {
		return nil, fmt.Errorf("nsq target %q has no topic", target.Raw)
	}

	attrs := map[string]string{
		"domain":     msg.Domain,
		"event_type": msg.EventType,
	}
	if msg.Signature != "" {
		attrs["signature"] = msg.Signature
	}
	env := QueueEnvelope{
		Attributes: attrs,
		Body:       string(msg.Body),
	}
	if strings.HasSuffix(topic, fifoSuffix) {
		env.GroupID = msg.Domain
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	stop := startTimer()
	prod, err := s.producer(target.URL.Host)
	if err != nil {
		return Failed(err.Error(), stop()), nil
	}
	if err := prod.Publish(topic, body); err != nil {
		return Failed(err.Error(), stop()), nil
	}
	return &Response{
		Content:  fmt.Sprintf("published to %s", topic),
		Status:   webhook.StatusSuccess,
		Duration: stop(),
	}, nil
}
