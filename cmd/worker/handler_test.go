package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/cartloom/hookrelay/internal/delivery"
	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/observability"
	"github.com/cartloom/hookrelay/internal/retry"
	"github.com/cartloom/hookrelay/internal/signature"
	"github.com/cartloom/hookrelay/internal/store"
	"github.com/cartloom/hookrelay/internal/tracker"
	"github.com/cartloom/hookrelay/internal/transport"
	"github.com/cartloom/hookrelay/internal/webhook"
)

// recordingDelegate captures the queue verbs the handler issues on a
// message instead of sending them to nsqd.
type recordingDelegate struct {
	finished int
	requeued []time.Duration
}

func (d *recordingDelegate) OnFinish(*nsq.Message) { d.finished++ }
func (d *recordingDelegate) OnRequeue(_ *nsq.Message, delay time.Duration, _ bool) {
	d.requeued = append(d.requeued, delay)
}
func (d *recordingDelegate) OnTouch(*nsq.Message) {}

func newTaskMessage(t *testing.T, body []byte) (*nsq.Message, *recordingDelegate) {
	t.Helper()
	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")
	m := nsq.NewMessage(id, body)
	d := &recordingDelegate{}
	m.Delegate = d
	return m, d
}

func marshalTask(t *testing.T, task delivery.Task) []byte {
	t.Helper()
	body, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return body
}

type fakeExecutor struct {
	result delivery.Result
	calls  []delivery.Task
}

func (f *fakeExecutor) Execute(_ context.Context, task delivery.Task) delivery.Result {
	f.calls = append(f.calls, task)
	return f.result
}

type scheduledRetry struct {
	task  delivery.Task
	delay time.Duration
}

type fakeRetryScheduler struct {
	scheduled []scheduledRetry
	err       error
}

func (f *fakeRetryScheduler) ScheduleDeliveryAfter(_ context.Context, task delivery.Task, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, scheduledRetry{task: task, delay: delay})
	return nil
}

func TestDeliveryHandlerSchedulesFreshTaskOnRetry(t *testing.T) {
	exec := &fakeExecutor{result: delivery.Result{Kind: delivery.KindRetryScheduled, RetryAfter: 20 * time.Second}}
	sched := &fakeRetryScheduler{}
	h := &deliveryHandler{executor: exec, scheduler: sched, logger: logging.New("test")}

	m, del := newTaskMessage(t, marshalTask(t, delivery.Task{DeliveryID: "d-1", TaskID: "t-1", RetryCount: 3}))
	if err := h.HandleMessage(m); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(sched.scheduled) != 1 {
		t.Fatalf("scheduled %d tasks, want 1", len(sched.scheduled))
	}
	got := sched.scheduled[0]
	if got.task.RetryCount != 4 {
		t.Errorf("scheduled retry count = %d, want 4", got.task.RetryCount)
	}
	if got.delay != 20*time.Second {
		t.Errorf("scheduled delay = %v, want 20s", got.delay)
	}
	// The consumed message is done; the retry travels as a new publish.
	if del.finished != 1 || len(del.requeued) != 0 {
		t.Errorf("finished = %d, requeued = %v, want finish without requeue", del.finished, del.requeued)
	}
}

func TestDeliveryHandlerRequeuesWhenScheduleFails(t *testing.T) {
	exec := &fakeExecutor{result: delivery.Result{Kind: delivery.KindRetryScheduled, RetryAfter: 10 * time.Second}}
	sched := &fakeRetryScheduler{err: errors.New("nsqd unreachable")}
	h := &deliveryHandler{executor: exec, scheduler: sched, logger: logging.New("test")}

	m, del := newTaskMessage(t, marshalTask(t, delivery.Task{DeliveryID: "d-1"}))
	if err := h.HandleMessage(m); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if del.finished != 0 {
		t.Errorf("finished = %d, want 0 when the deferred publish fails", del.finished)
	}
	if len(del.requeued) != 1 || del.requeued[0] != 10*time.Second {
		t.Errorf("requeued = %v, want one requeue with the backoff delay", del.requeued)
	}
}

func TestDeliveryHandlerFinishesBadPayload(t *testing.T) {
	exec := &fakeExecutor{result: delivery.Result{Kind: delivery.KindSuccess}}
	h := &deliveryHandler{executor: exec, scheduler: &fakeRetryScheduler{}, logger: logging.New("test")}

	m, del := newTaskMessage(t, []byte(`{not json`))
	if err := h.HandleMessage(m); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(exec.calls) != 0 {
		t.Errorf("executor ran %d times, want 0 for an undecodable task", len(exec.calls))
	}
	if del.finished != 1 || len(del.requeued) != 0 {
		t.Errorf("finished = %d, requeued = %v, want finish only", del.finished, del.requeued)
	}
}

// TestDeliveryHandlerRetryChain replays the full async retry loop the
// way it runs in production: each round consumes the task the previous
// round scheduled, against an endpoint that always returns 500. The
// count must survive each hop, the delays must double, and the delivery
// must end FAILED at the ceiling.
func TestDeliveryHandlerRetryChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	st := newWorkerFakeStore()
	trk := tracker.New(st, nil, logging.New("test"))
	signer, err := signature.NewSigner("")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	httpSender := transport.NewHTTPSender(time.Second)
	router := transport.NewRouter(signer, httpSender, httpSender, httpSender)
	policy := retry.Policy{BaseBackoff: 10 * time.Second, MaxRetries: 5}
	executor := delivery.NewExecutor(trk, router, policy, "shop.example.com", logging.New("test"))

	w := &webhook.Webhook{
		ID:        "w-1",
		Name:      "orders hook",
		IsActive:  true,
		TargetURL: server.URL,
		SecretKey: "secret",
		App:       &webhook.App{ID: "app-1", Name: "orders-app", IsActive: true},
		Events:    []string{webhook.EventAny},
	}
	payload, err := st.CreatePayload(context.Background(), []byte(`{"order":"o-1"}`))
	if err != nil {
		t.Fatalf("CreatePayload() error = %v", err)
	}
	d, err := st.CreateDelivery(context.Background(), w, payload.ID, webhook.EventOrderCreated)
	if err != nil {
		t.Fatalf("CreateDelivery() error = %v", err)
	}

	sched := &fakeRetryScheduler{}
	h := &deliveryHandler{executor: executor, scheduler: sched, logger: logging.New("test")}

	task := delivery.Task{DeliveryID: d.ID}
	var delays []time.Duration
	for round := 0; ; round++ {
		if round > policy.MaxRetries {
			t.Fatalf("retry chain did not terminate after %d rounds", round)
		}
		before := len(sched.scheduled)
		m, del := newTaskMessage(t, marshalTask(t, task))
		if err := h.HandleMessage(m); err != nil {
			t.Fatalf("round %d: HandleMessage() error = %v", round, err)
		}
		if del.finished != 1 || len(del.requeued) != 0 {
			t.Fatalf("round %d: finished = %d, requeued = %v, want finish only", round, del.finished, del.requeued)
		}
		if len(sched.scheduled) == before {
			break // exhausted
		}
		next := sched.scheduled[len(sched.scheduled)-1]
		if next.task.RetryCount != round+1 {
			t.Fatalf("round %d: scheduled retry count = %d, want %d", round, next.task.RetryCount, round+1)
		}
		delays = append(delays, next.delay)
		task = next.task
	}

	wantDelays := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 160 * time.Second}
	if len(delays) != len(wantDelays) {
		t.Fatalf("scheduled %d retries, want %d", len(delays), len(wantDelays))
	}
	for i, want := range wantDelays {
		if delays[i] != want {
			t.Errorf("retry %d delay = %v, want %v", i, delays[i], want)
		}
	}

	if st.deliveries[d.ID].Status != webhook.StatusFailed {
		t.Errorf("delivery status = %s, want failed at the retry ceiling", st.deliveries[d.ID].Status)
	}
	if len(st.attempts) != policy.MaxRetries+1 {
		t.Errorf("recorded %d attempts, want %d", len(st.attempts), policy.MaxRetries+1)
	}
}

type fakeBatchReporter struct {
	calls int
	err   error
}

func (f *fakeBatchReporter) ReportEvents(_ context.Context, eventType string, batchSize int) (int, error) {
	f.calls++
	return 0, f.err
}

func TestDrainHandlerDropsExpiredTask(t *testing.T) {
	rep := &fakeBatchReporter{}
	now := time.Now()
	h := &drainHandler{reporter: rep, logger: logging.New("test"), now: func() time.Time { return now }}

	task := observability.BatchTask{EventType: webhook.EventObservability, BatchSize: 10, ExpiresAt: now.Add(-time.Second)}
	body, _ := json.Marshal(task)
	m, del := newTaskMessage(t, body)
	if err := h.HandleMessage(m); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if rep.calls != 0 {
		t.Errorf("reporter ran %d times, want 0 for an expired task", rep.calls)
	}
	if del.finished != 1 || len(del.requeued) != 0 {
		t.Errorf("finished = %d, requeued = %v, want finish only", del.finished, del.requeued)
	}
}

func TestDrainHandlerOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantFinish  int
		wantRequeue int
	}{
		{"drained", nil, 1, 0},
		{"buffer locked elsewhere", observability.ErrBufferLocked, 1, 0},
		{"redis down", errors.New("connection refused"), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &fakeBatchReporter{err: tt.err}
			h := &drainHandler{reporter: rep, logger: logging.New("test"), now: time.Now}

			task := observability.BatchTask{EventType: webhook.EventObservability, BatchSize: 10, ExpiresAt: time.Now().Add(time.Minute)}
			body, _ := json.Marshal(task)
			m, del := newTaskMessage(t, body)
			if err := h.HandleMessage(m); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}

			if del.finished != tt.wantFinish || len(del.requeued) != tt.wantRequeue {
				t.Errorf("finished = %d, requeued = %v, want %d finishes and %d requeues",
					del.finished, del.requeued, tt.wantFinish, tt.wantRequeue)
			}
		})
	}
}

// workerFakeStore is an in-memory store.Store for handler tests.
type workerFakeStore struct {
	payloads   map[string]*webhook.EventPayload
	deliveries map[string]*webhook.EventDelivery
	attempts   map[string]*webhook.EventDeliveryAttempt
	nextID     int
}

func newWorkerFakeStore() *workerFakeStore {
	return &workerFakeStore{
		payloads:   make(map[string]*webhook.EventPayload),
		deliveries: make(map[string]*webhook.EventDelivery),
		attempts:   make(map[string]*webhook.EventDeliveryAttempt),
	}
}

func (f *workerFakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *workerFakeStore) CreatePayload(ctx context.Context, data []byte) (*webhook.EventPayload, error) {
	p := &webhook.EventPayload{ID: f.id("p"), Payload: data, CreatedAt: time.Now()}
	f.payloads[p.ID] = p
	return p, nil
}

func (f *workerFakeStore) DeletePayloadIfOrphaned(ctx context.Context, payloadID string) error {
	delete(f.payloads, payloadID)
	return nil
}

func (f *workerFakeStore) CreateDelivery(ctx context.Context, w *webhook.Webhook, payloadID, eventType string) (*webhook.EventDelivery, error) {
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
	return d, nil
}

func (f *workerFakeStore) GetDelivery(ctx context.Context, id string) (*webhook.EventDelivery, error) {
	d, ok := f.deliveries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	d.Payload = f.payloads[d.PayloadID]
	return d, nil
}

func (f *workerFakeStore) UpdateDeliveryStatus(ctx context.Context, id string, status webhook.DeliveryStatus) error {
	d, ok := f.deliveries[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = status
	return nil
}

func (f *workerFakeStore) DeleteDelivery(ctx context.Context, id string) error {
	delete(f.deliveries, id)
	return nil
}

func (f *workerFakeStore) CreateAttempt(ctx context.Context, deliveryID, taskID string) (*webhook.EventDeliveryAttempt, error) {
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

func (f *workerFakeStore) UpdateAttempt(ctx context.Context, attempt *webhook.EventDeliveryAttempt) error {
	f.attempts[attempt.ID] = attempt
	return nil
}

func (f *workerFakeStore) ActiveWebhooks(ctx context.Context, appID string) ([]*webhook.Webhook, error) {
	return nil, nil
}
