package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/signature"
	"github.com/cartloom/hookrelay/internal/store"
	"github.com/cartloom/hookrelay/internal/tracker"
	"github.com/cartloom/hookrelay/internal/transport"
	"github.com/cartloom/hookrelay/internal/webhook"
)

type fakeStore struct {
	payloads    map[string]*webhook.EventPayload
	deliveries  map[string]*webhook.EventDelivery
	attempts    map[string]*webhook.EventDeliveryAttempt
	webhooks    []*webhook.Webhook
	payloadRefs map[string]int
	nextID      int

	attemptErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payloads:    make(map[string]*webhook.EventPayload),
		deliveries:  make(map[string]*webhook.EventDelivery),
		attempts:    make(map[string]*webhook.EventDeliveryAttempt),
		payloadRefs: make(map[string]int),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) CreatePayload(ctx context.Context, data []byte) (*webhook.EventPayload, error) {
	p := &webhook.EventPayload{ID: f.id("p"), Payload: data, CreatedAt: time.Now()}
	f.payloads[p.ID] = p
	return p, nil
}

func (f *fakeStore) DeletePayloadIfOrphaned(ctx context.Context, payloadID string) error {
	if f.payloadRefs[payloadID] == 0 {
		delete(f.payloads, payloadID)
	}
	return nil
}

func (f *fakeStore) CreateDelivery(ctx context.Context, w *webhook.Webhook, payloadID, eventType string) (*webhook.EventDelivery, error) {
	d := &webhook.EventDelivery{
		ID:        f.id("d"),
		Status:    webhook.StatusPending,
		EventType: eventType,
		PayloadID: payloadID,
		WebhookID: w.ID,
		Webhook:   w,
		CreatedAt: time.Now(),
	}
	f.deliveries[d.ID] = d
	f.payloadRefs[payloadID]++
	return d, nil
}

func (f *fakeStore) GetDelivery(ctx context.Context, id string) (*webhook.EventDelivery, error) {
	d, ok := f.deliveries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	d.Payload = f.payloads[d.PayloadID]
	return d, nil
}

func (f *fakeStore) UpdateDeliveryStatus(ctx context.Context, id string, status webhook.DeliveryStatus) error {
	d, ok := f.deliveries[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = status
	return nil
}

func (f *fakeStore) DeleteDelivery(ctx context.Context, id string) error {
	if d, ok := f.deliveries[id]; ok {
		f.payloadRefs[d.PayloadID]--
		delete(f.deliveries, id)
	}
	return nil
}

func (f *fakeStore) CreateAttempt(ctx context.Context, deliveryID, taskID string) (*webhook.EventDeliveryAttempt, error) {
	if f.attemptErr != nil {
		return nil, f.attemptErr
	}
	a := &webhook.EventDeliveryAttempt{
		ID:         f.id("a"),
		DeliveryID: deliveryID,
		TaskID:     taskID,
		Status:     webhook.StatusPending,
		CreatedAt:  time.Now(),
	}
	f.attempts[a.ID] = a
	return a, nil
}

func (f *fakeStore) UpdateAttempt(ctx context.Context, attempt *webhook.EventDeliveryAttempt) error {
	f.attempts[attempt.ID] = attempt
	return nil
}

func (f *fakeStore) ActiveWebhooks(ctx context.Context, appID string) ([]*webhook.Webhook, error) {
	if appID == "" {
		return f.webhooks, nil
	}
	var out []*webhook.Webhook
	for _, w := range f.webhooks {
		if w.App != nil && w.App.ID == appID {
			out = append(out, w)
		}
	}
	return out, nil
}

// scriptedSender returns the queued responses in order, repeating the
// last one once the script runs out.
type scriptedSender struct {
	responses []*transport.Response
	calls     int
	lastMsg   transport.Message
}

func (s *scriptedSender) Send(ctx context.Context, target *transport.Target, msg transport.Message) (*transport.Response, error) {
	s.calls++
	s.lastMsg = msg
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func successResponse() *transport.Response {
	return &transport.Response{Content: "ok", Status: webhook.StatusSuccess, Duration: 5 * time.Millisecond}
}

func failedResponse(content string) *transport.Response {
	return &transport.Response{Content: content, Status: webhook.StatusFailed, Duration: 5 * time.Millisecond}
}

func jsonResponse(content string) *transport.Response {
	return &transport.Response{Content: content, Status: webhook.StatusSuccess, Duration: 5 * time.Millisecond}
}

type fakeScheduler struct {
	tasks []Task
	err   error
}

func (f *fakeScheduler) ScheduleDelivery(ctx context.Context, task Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func testRouter(t *testing.T, sender transport.Sender) *transport.Router {
	t.Helper()
	signer, err := signature.NewSigner("")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return transport.NewRouter(signer, sender, sender, sender)
}

func testTracker(st store.Store) *tracker.Tracker {
	return tracker.New(st, nil, logging.New("test"))
}

func testWebhook(targetURL string) *webhook.Webhook {
	return &webhook.Webhook{
		ID:        "w-1",
		Name:      "orders hook",
		IsActive:  true,
		TargetURL: targetURL,
		SecretKey: "secret",
		App:       &webhook.App{ID: "app-1", Name: "orders-app", IsActive: true, Permissions: []string{"manage_orders", "manage_payments"}},
		Events:    []string{webhook.EventAny},
	}
}
