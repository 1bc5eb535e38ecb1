package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/retry"
	"github.com/cartloom/hookrelay/internal/transport"
	"github.com/cartloom/hookrelay/internal/webhook"
)

func newTestExecutor(t *testing.T, st *fakeStore, sender transport.Sender) *Executor {
	t.Helper()
	policy := retry.Policy{BaseBackoff: 10 * time.Second, MaxRetries: 5}
	return NewExecutor(testTracker(st), testRouter(t, sender), policy, "shop.example.com", logging.New("test"))
}

func seedDelivery(t *testing.T, st *fakeStore, targetURL string) *webhook.EventDelivery {
	t.Helper()
	ctx := context.Background()
	payload, err := st.CreatePayload(ctx, []byte(`{"order":"o-1"}`))
	if err != nil {
		t.Fatalf("CreatePayload() error = %v", err)
	}
	d, err := st.CreateDelivery(ctx, testWebhook(targetURL), payload.ID, webhook.EventOrderCreated)
	if err != nil {
		t.Fatalf("CreateDelivery() error = %v", err)
	}
	return d
}

func TestExecutorSuccess(t *testing.T) {
	st := newFakeStore()
	d := seedDelivery(t, st, "https://example.com/hook")
	sender := &scriptedSender{responses: []*transport.Response{successResponse()}}
	exec := newTestExecutor(t, st, sender)

	res := exec.Execute(context.Background(), Task{DeliveryID: d.ID, TaskID: "task-1"})

	if res.Kind != KindSuccess {
		t.Fatalf("Execute() kind = %v, want success", res.Kind)
	}
	if sender.calls != 1 {
		t.Errorf("sender called %d times, want 1", sender.calls)
	}
	if len(st.attempts) != 1 {
		t.Fatalf("attempts recorded = %d, want 1", len(st.attempts))
	}
	for _, a := range st.attempts {
		if a.Status != webhook.StatusSuccess {
			t.Errorf("attempt status = %q, want success", a.Status)
		}
		if a.TaskID != "task-1" {
			t.Errorf("attempt task id = %q, want task-1", a.TaskID)
		}
	}
	// Successful deliveries are reaped along with their payload.
	if _, ok := st.deliveries[d.ID]; ok {
		t.Error("successful delivery not reaped")
	}
	if len(st.payloads) != 0 {
		t.Error("orphaned payload not reaped")
	}
}

func TestExecutorRetrySchedule(t *testing.T) {
	st := newFakeStore()
	d := seedDelivery(t, st, "https://example.com/hook")
	sender := &scriptedSender{responses: []*transport.Response{failedResponse("boom")}}
	exec := newTestExecutor(t, st, sender)

	// Backoff doubles with the task's retry count.
	tests := []struct {
		retryCount int
		wantDelay  time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{4, 160 * time.Second},
	}

	for _, tt := range tests {
		res := exec.Execute(context.Background(), Task{DeliveryID: d.ID, RetryCount: tt.retryCount})
		if res.Kind != KindRetryScheduled {
			t.Fatalf("Execute(retry=%d) kind = %v, want retry scheduled", tt.retryCount, res.Kind)
		}
		if res.RetryAfter != tt.wantDelay {
			t.Errorf("Execute(retry=%d) delay = %v, want %v", tt.retryCount, res.RetryAfter, tt.wantDelay)
		}
	}

	// Delivery stays pending while retries remain.
	if st.deliveries[d.ID].Status != webhook.StatusPending {
		t.Errorf("delivery status = %q, want pending", st.deliveries[d.ID].Status)
	}
	if len(st.attempts) != len(tests) {
		t.Errorf("attempts recorded = %d, want %d", len(st.attempts), len(tests))
	}
}

func TestExecutorExhausted(t *testing.T) {
	st := newFakeStore()
	d := seedDelivery(t, st, "https://example.com/hook")
	sender := &scriptedSender{responses: []*transport.Response{failedResponse("still down")}}
	exec := newTestExecutor(t, st, sender)

	res := exec.Execute(context.Background(), Task{DeliveryID: d.ID, RetryCount: 5})

	if res.Kind != KindExhausted {
		t.Fatalf("Execute() kind = %v, want exhausted", res.Kind)
	}
	if st.deliveries[d.ID].Status != webhook.StatusFailed {
		t.Errorf("delivery status = %q, want failed", st.deliveries[d.ID].Status)
	}
	// Failed deliveries are kept for inspection.
	if _, ok := st.deliveries[d.ID]; !ok {
		t.Error("failed delivery reaped")
	}
}

func TestExecutorMissingDelivery(t *testing.T) {
	st := newFakeStore()
	sender := &scriptedSender{responses: []*transport.Response{successResponse()}}
	exec := newTestExecutor(t, st, sender)

	res := exec.Execute(context.Background(), Task{DeliveryID: "d-gone"})

	if res.Kind != KindDropped {
		t.Fatalf("Execute() kind = %v, want dropped", res.Kind)
	}
	if sender.calls != 0 {
		t.Error("sender called for a missing delivery")
	}
	if len(st.attempts) != 0 {
		t.Error("attempt recorded for a missing delivery")
	}
}

func TestExecutorUnknownScheme(t *testing.T) {
	st := newFakeStore()
	d := seedDelivery(t, st, "ftp://example.com/hook")
	sender := &scriptedSender{responses: []*transport.Response{successResponse()}}
	exec := newTestExecutor(t, st, sender)

	res := exec.Execute(context.Background(), Task{DeliveryID: d.ID})

	// Configuration defects fail immediately without retries, but the
	// attempt is still recorded.
	if res.Kind != KindExhausted {
		t.Fatalf("Execute() kind = %v, want exhausted", res.Kind)
	}
	if sender.calls != 0 {
		t.Error("sender called for unroutable target")
	}
	if len(st.attempts) != 1 {
		t.Fatalf("attempts recorded = %d, want 1", len(st.attempts))
	}
	for _, a := range st.attempts {
		if a.Status != webhook.StatusFailed {
			t.Errorf("attempt status = %q, want failed", a.Status)
		}
	}
	if st.deliveries[d.ID].Status != webhook.StatusFailed {
		t.Errorf("delivery status = %q, want failed", st.deliveries[d.ID].Status)
	}
}

func TestExecutorRecoversAfterRetry(t *testing.T) {
	st := newFakeStore()
	d := seedDelivery(t, st, "https://example.com/hook")
	sender := &scriptedSender{responses: []*transport.Response{failedResponse("flaky"), successResponse()}}
	exec := newTestExecutor(t, st, sender)

	first := exec.Execute(context.Background(), Task{DeliveryID: d.ID, RetryCount: 0})
	if first.Kind != KindRetryScheduled {
		t.Fatalf("first Execute() kind = %v, want retry scheduled", first.Kind)
	}

	second := exec.Execute(context.Background(), Task{DeliveryID: d.ID, RetryCount: 1})
	if second.Kind != KindSuccess {
		t.Fatalf("second Execute() kind = %v, want success", second.Kind)
	}
	if len(st.attempts) != 2 {
		t.Errorf("attempts recorded = %d, want 2", len(st.attempts))
	}
}

func TestResultKindString(t *testing.T) {
	tests := []struct {
		kind ResultKind
		want string
	}{
		{KindSuccess, "success"},
		{KindRetryScheduled, "retry_scheduled"},
		{KindExhausted, "exhausted"},
		{KindDropped, "dropped"},
		{ResultKind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ResultKind.String() = %q, want %q", got, tt.want)
		}
	}
}
