package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/cartloom/hookrelay/internal/webhook"
)

// natsPublisher is the subset of *nats.Conn the sender needs.
type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
	Flush() error
}

// NATSSender publishes payloads to nats://host:port/subject targets.
// Delivery attributes travel as message headers. Connections are kept
// per server URL.
type NATSSender struct {
	mu      sync.Mutex
	conns   map[string]natsPublisher
	connect func(serverURL string) (natsPublisher, error)
}

func NewNATSSender() *NATSSender {
	return &NATSSender{
		conns: make(map[string]natsPublisher),
		connect: func(serverURL string) (natsPublisher, error) {
			return nats.Connect(serverURL)
		},
	}
}

func (s *NATSSender) conn(serverURL string) (natsPublisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[serverURL]; ok {
		return c, nil
	}
	c, err := s.connect(serverURL)
	if err != nil {
		return nil, err
	}
	s.conns[serverURL] = c
	return c, nil
}

// Send publishes the payload on the subject named by the target path.
// Oversized messages (nats.ErrMaxPayload) and other publish failures
// become a FAILED response.
func (s *NATSSender) Send(ctx context.Context, target *Target, msg Message) (*Response, error) {
	subject := strings.Trim(target.URL.Path, "/")
	if subject == "" {
		return nil, fmt.Errorf("nats target %q has no subject", target.Raw)
	}
	subject = strings.ReplaceAll(subject, "/", ".")

	header := nats.Header{}
	header.Set("Domain", msg.Domain)
	header.Set("Event-Type", msg.EventType)
	if msg.Signature != "" {
		header.Set("Signature", msg.Signature)
	}

	stop := startTimer()
	conn, err := s.conn("nats://" + target.URL.Host)
	if err != nil {
		return Failed(err.Error(), stop()), nil
	}
	out := &nats.Msg{Subject: subject, Header: header, Data: msg.Body}
	if err := conn.PublishMsg(out); err != nil {
		return Failed(err.Error(), stop()), nil
	}
	if err := conn.Flush(); err != nil {
		return Failed(err.Error(), stop()), nil
	}
	return &Response{
		Content:  fmt.Sprintf("published to %s", subject),
		Status:   webhook.StatusSuccess,
		Duration: stop(),
	}, nil
}
