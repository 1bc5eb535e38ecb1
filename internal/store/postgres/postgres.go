// Package postgres implements store.Store on pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartloom/hookrelay/internal/store"
	"github.com/cartloom/hookrelay/internal/webhook"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the hookrelay tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (s *Store) CreatePayload(ctx context.Context, data []byte) (*webhook.EventPayload, error) {
	p := &webhook.EventPayload{Payload: data}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO hookrelay.event_payloads(payload)
		VALUES ($1)
		RETURNING id, created_at`, data,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting payload: %w", err)
	}
	return p, nil
}

func (s *Store) DeletePayloadIfOrphaned(ctx context.Context, payloadID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM hookrelay.event_payloads p
		WHERE p.id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM hookrelay.event_deliveries d WHERE d.payload_id = p.id
		  )`, payloadID)
	if err != nil {
		return fmt.Errorf("reaping payload: %w", err)
	}
	return nil
}

func (s *Store) CreateDelivery(ctx context.Context, w *webhook.Webhook, payloadID, eventType string) (*webhook.EventDelivery, error) {
	d := &webhook.EventDelivery{
		Status:    webhook.StatusPending,
		EventType: eventType,
		PayloadID: payloadID,
		WebhookID: w.ID,
		Webhook:   w,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO hookrelay.event_deliveries(status, event_type, payload_id, webhook_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		d.Status, eventType, payloadID, w.ID,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting delivery: %w", err)
	}
	return d, nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*webhook.EventDelivery, error) {
	d := &webhook.EventDelivery{
		Payload: &webhook.EventPayload{},
		Webhook: &webhook.Webhook{App: &webhook.App{}},
	}
	err := s.pool.QueryRow(ctx, `
		SELECT d.id, d.status, d.event_type, d.created_at,
		       p.id, p.payload, p.created_at,
		       w.id, w.name, w.target_url, w.secret_key, w.is_active,
		       a.id, a.name, a.is_active, a.permissions
		FROM hookrelay.event_deliveries d
		JOIN hookrelay.event_payloads p ON p.id = d.payload_id
		JOIN hookrelay.webhooks w ON w.id = d.webhook_id
		JOIN hookrelay.apps a ON a.id = w.app_id
		WHERE d.id = $1`, id,
	).Scan(
		&d.ID, &d.Status, &d.EventType, &d.CreatedAt,
		&d.Payload.ID, &d.Payload.Payload, &d.Payload.CreatedAt,
		&d.Webhook.ID, &d.Webhook.Name, &d.Webhook.TargetURL, &d.Webhook.SecretKey, &d.Webhook.IsActive,
		&d.Webhook.App.ID, &d.Webhook.App.Name, &d.Webhook.App.IsActive, &d.Webhook.App.Permissions,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	d.PayloadID = d.Payload.ID
	d.WebhookID = d.Webhook.ID
	return d, nil
}

func (s *Store) UpdateDeliveryStatus(ctx context.Context, id string, status webhook.DeliveryStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.event_deliveries SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating delivery status: %w", err)
	}
	return nil
}

func (s *Store) DeleteDelivery(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM hookrelay.event_deliveries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting delivery: %w", err)
	}
	return nil
}

func (s *Store) CreateAttempt(ctx context.Context, deliveryID, taskID string) (*webhook.EventDeliveryAttempt, error) {
	a := &webhook.EventDeliveryAttempt{
		DeliveryID: deliveryID,
		TaskID:     taskID,
		Status:     webhook.StatusPending,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO hookrelay.event_delivery_attempts(delivery_id, task_id, status)
		VALUES ($1, NULLIF($2, ''), $3)
		RETURNING id, created_at`,
		deliveryID, taskID, a.Status,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting attempt: %w", err)
	}
	return a, nil
}

func (s *Store) UpdateAttempt(ctx context.Context, attempt *webhook.EventDeliveryAttempt) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.event_delivery_attempts
		SET status = $2, response = $3, request_headers = $4,
		    response_headers = $5, duration_ms = $6
		WHERE id = $1`,
		attempt.ID, attempt.Status, attempt.Response,
		attempt.RequestHeaders, attempt.ResponseHeaders,
		attempt.Duration/time.Millisecond,
	)
	if err != nil {
		return fmt.Errorf("updating attempt: %w", err)
	}
	return nil
}

func (s *Store) ActiveWebhooks(ctx context.Context, appID string) ([]*webhook.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.name, w.target_url, w.secret_key, w.is_active,
		       a.id, a.name, a.is_active, a.permissions,
		       COALESCE(array_agg(e.event_type) FILTER (WHERE e.event_type IS NOT NULL), '{}')
		FROM hookrelay.webhooks w
		JOIN hookrelay.apps a ON a.id = w.app_id
		LEFT JOIN hookrelay.webhook_events e ON e.webhook_id = w.id
		WHERE w.is_active AND a.is_active
		  AND ($1 = '' OR a.id::text = $1)
		GROUP BY w.id, a.id
		ORDER BY w.created_at`, appID)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*webhook.Webhook
	for rows.Next() {
		w := &webhook.Webhook{App: &webhook.App{}}
		if err := rows.Scan(
			&w.ID, &w.Name, &w.TargetURL, &w.SecretKey, &w.IsActive,
			&w.App.ID, &w.App.Name, &w.App.IsActive, &w.App.Permissions,
			&w.Events,
		); err != nil {
			return nil, fmt.Errorf("scanning webhook: %w", err)
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}
