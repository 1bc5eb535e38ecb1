// Package observability buffers sampled event payloads in redis and
// periodically drains them to subscribed webhooks through the regular
// transport layer.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBufferLocked is returned when another drain currently holds the
// buffer for the same event type. The caller skips this cycle; the held
// batch will be picked up by the next one.
var ErrBufferLocked = errors.New("observability: buffer locked")

// releaseScript deletes the lock only while the token still matches.
// The compare and the delete must be one atomic step: an expired lock
// may have been re-taken by a successor drain between the two.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Buffer stores samples in one redis list per event type. Draining goes
// through a scoped Session: acquire lock, peek a batch, ack only after
// delivery has been dispatched, release. The lock TTL bounds how long a
// crashed drain can wedge the buffer.
type Buffer struct {
	client  *redis.Client
	prefix  string
	lockTTL time.Duration
}

func NewBuffer(client *redis.Client, prefix string, lockTTL time.Duration) *Buffer {
	return &Buffer{client: client, prefix: prefix, lockTTL: lockTTL}
}

func (b *Buffer) key(eventType string) string {
	return fmt.Sprintf("%s:%s", b.prefix, eventType)
}

func (b *Buffer) lockKey(eventType string) string {
	return b.key(eventType) + ":lock"
}

// Put appends one sample to the event type's buffer.
func (b *Buffer) Put(ctx context.Context, eventType string, sample []byte) error {
	return b.client.RPush(ctx, b.key(eventType), sample).Err()
}

// Len returns the number of buffered samples for an event type.
func (b *Buffer) Len(ctx context.Context, eventType string) (int64, error) {
	return b.client.LLen(ctx, b.key(eventType)).Result()
}

// BatchesCount returns how many drain batches of batchSize are pending.
func (b *Buffer) BatchesCount(ctx context.Context, eventType string, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("invalid batch size %d", batchSize)
	}
	n, err := b.Len(ctx, eventType)
	if err != nil {
		return 0, err
	}
	return int((n + int64(batchSize) - 1) / int64(batchSize)), nil
}

// Acquire takes the drain lock for an event type and returns a scoped
// session. Callers must Release the session on every exit path.
func (b *Buffer) Acquire(ctx context.Context, eventType string) (*Session, error) {
	token := uuid.NewString()
	ok, err := b.client.SetNX(ctx, b.lockKey(eventType), token, b.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring buffer lock: %w", err)
	}
	if !ok {
		return nil, ErrBufferLocked
	}
	return &Session{buffer: b, eventType: eventType, token: token}, nil
}

// Session is a scoped hold on one event type's buffer.
type Session struct {
	buffer    *Buffer
	eventType string
	token     string
	released  bool
}

// Peek reads up to n samples from the head of the buffer without
// removing them.
func (s *Session) Peek(ctx context.Context, n int) ([][]byte, error) {
	vals, err := s.buffer.client.LRange(ctx, s.buffer.key(s.eventType), 0, int64(n)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Ack removes the first n samples. Called only after delivery attempts
// for the batch have been dispatched, so a drain that dies mid-batch
// leaves the samples in place for the next cycle.
func (s *Session) Ack(ctx context.Context, n int) error {
	return s.buffer.client.LTrim(ctx, s.buffer.key(s.eventType), int64(n), -1).Err()
}

// Release drops the drain lock if this session still holds it.
func (s *Session) Release(ctx context.Context) {
	if s.released {
		return
	}
	s.released = true
	_ = releaseScript.Run(ctx, s.buffer.client, []string{s.buffer.lockKey(s.eventType)}, s.token).Err()
}
