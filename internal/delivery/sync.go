package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cartloom/hookrelay/internal/tracing"
	"github.com/cartloom/hookrelay/internal/transport"
	"github.com/cartloom/hookrelay/internal/webhook"
)

// SyncError is returned to sync-path callers when the integration could
// not be reached. It is distinct from a response-parse failure, which
// yields no data and no error: the integration was reached but returned
// garbage.
type SyncError struct {
	TargetURL string
	Response  *transport.Response
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync webhook request to %s failed: %s", e.TargetURL, e.Response.Content)
}

// SendSync delivers a single delivery synchronously and returns the
// parsed JSON response. Only HTTP(S) targets are supported; any other
// scheme marks the delivery FAILED and returns the configuration error
// without recording an attempt.
func (s *Service) SendSync(ctx context.Context, appName string, d *webhook.EventDelivery) (map[string]any, error) {
	target, err := transport.ParseTarget(d.Webhook.TargetURL)
	if err == nil && !target.Scheme.IsHTTP() {
		err = fmt.Errorf("%w: %q not supported for sync deliveries", transport.ErrUnknownScheme, target.Scheme)
	}
	if err != nil {
		if uerr := s.tracker.UpdateDelivery(ctx, d, webhook.StatusFailed); uerr != nil {
			s.logger.WithContext(ctx).WithDelivery(d.ID).WithError(uerr).Error("delivery update failed")
		}
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "delivery.sync",
		attribute.String("delivery_id", d.ID),
		attribute.String("event_type", d.EventType),
		attribute.String("app", appName),
	)
	defer span.End()

	s.logger.WithContext(ctx).WithDelivery(d.ID).WithEventType(d.EventType).WithApp(appName).
		Debugf("sending sync payload to %s", d.Webhook.TargetURL)

	attempt, err := s.tracker.CreateAttempt(ctx, d, "")
	if err != nil {
		return nil, err
	}

	resp, err := s.syncRouter.Deliver(ctx, d.Webhook.TargetURL, s.domain, d.Webhook.SecretKey, d.EventType, d.Payload.Payload)
	if err != nil {
		// Scheme already validated above; treat as transport failure.
		resp = transport.Failed(err.Error(), 0)
	}

	var parsed map[string]any
	var parseFailed bool
	var syncErr error
	switch {
	case resp.Status == webhook.StatusFailed:
		s.logger.WithContext(ctx).WithDelivery(d.ID).WithAttempt(attempt.ID).
			Warnf("sync request to %s failed: %s", d.Webhook.TargetURL, resp.Content)
		syncErr = &SyncError{TargetURL: d.Webhook.TargetURL, Response: resp}
	default:
		if jsonErr := json.Unmarshal([]byte(resp.Content), &parsed); jsonErr != nil {
			s.logger.WithContext(ctx).WithDelivery(d.ID).WithAttempt(attempt.ID).WithError(jsonErr).
				Warnf("unparseable response from %s", d.Webhook.TargetURL)
			resp.Status = webhook.StatusFailed
			parseFailed = true
			parsed = nil
		}
	}

	if err := s.tracker.UpdateAttempt(ctx, attempt, resp); err != nil {
		s.logger.WithContext(ctx).WithAttempt(attempt.ID).WithError(err).Error("attempt update failed")
	}
	if err := s.tracker.UpdateDelivery(ctx, d, resp.Status); err != nil {
		s.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("delivery update failed")
	}
	s.tracker.Report(ctx, d.EventType, attempt, nil)
	if err := s.tracker.Reap(ctx, d); err != nil {
		s.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("delivery reap failed")
	}

	if syncErr != nil {
		return nil, syncErr
	}
	if parseFailed {
		return nil, nil
	}
	return parsed, nil
}
