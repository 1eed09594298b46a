package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/jsoncodec"
)

const scanBatch = 256

// RedisTable shares routes between agent replicas. Each route is a JSON value
// under "<prefix>:<correlationId>" whose expiry is the route TTL.
type RedisTable struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient opens a client for the route table.
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("routing: redis address is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

// NewRedisTable wraps client. ttl <= 0 keeps routes until taken or swept.
func NewRedisTable(client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisTable, error) {
	if client == nil {
		return nil, errors.New("routing: redis client is required")
	}
	return &RedisTable{client: client, prefix: prefix, ttl: ttl}, nil
}

func (t *RedisTable) key(correlationID string) string {
	return t.prefix + ":" + correlationID
}

func (t *RedisTable) Record(ctx context.Context, r Route) error {
	if r.CorrelationID == "" {
		return errspkg.ErrCorrelationIDRequired
	}
	return t.set(ctx, r, t.ttl)
}

func (t *RedisTable) set(ctx context.Context, r Route, ttl time.Duration) error {
	raw, err := jsoncodec.Marshal(r)
	if err != nil {
		return fmt.Errorf("routing: encode route %s: %w", r.CorrelationID, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := t.client.Set(ctx, t.key(r.CorrelationID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("routing: store route %s: %w", r.CorrelationID, err)
	}
	return nil
}

func (t *RedisTable) Take(ctx context.Context, correlationID string) (Route, error) {
	raw, err := t.client.GetDel(ctx, t.key(correlationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Route{}, fmt.Errorf("%w: %s", errspkg.ErrNoRouteForCorrelation, correlationID)
		}
		return Route{}, fmt.Errorf("routing: take route %s: %w", correlationID, err)
	}
	var r Route
	if err := jsoncodec.Unmarshal(raw, &r); err != nil {
		return Route{}, fmt.Errorf("routing: decode route %s: %w", correlationID, err)
	}
	return r, nil
}

// Restore writes r back with whatever is left of its TTL. A route that
// outlived its TTL while taken gets one more second so the retry can land.
func (t *RedisTable) Restore(ctx context.Context, r Route) error {
	if r.CorrelationID == "" {
		return errspkg.ErrCorrelationIDRequired
	}
	ttl := t.ttl
	if ttl > 0 {
		ttl -= time.Since(r.ReceivedAt)
		if ttl < time.Second {
			ttl = time.Second
		}
	}
	raw, err := jsoncodec.Marshal(r)
	if err != nil {
		return fmt.Errorf("routing: encode route %s: %w", r.CorrelationID, err)
	}
	// SETNX: a route recorded again in the meantime wins
	if err := t.client.SetNX(ctx, t.key(r.CorrelationID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("routing: restore route %s: %w", r.CorrelationID, err)
	}
	return nil
}

// Sweep removes routes older than olderThan that the key TTL has not yet
// evicted, for tables configured without a TTL or with a longer one.
func (t *RedisTable) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	removed := 0
	err := t.scan(ctx, func(keys []string) error {
		values, err := t.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		var stale []string
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			var r Route
			if err := jsoncodec.Unmarshal([]byte(s), &r); err != nil || r.ReceivedAt.Before(olderThan) {
				stale = append(stale, keys[i])
			}
		}
		if len(stale) == 0 {
			return nil
		}
		n, err := t.client.Del(ctx, stale...).Result()
		removed += int(n)
		return err
	})
	if err != nil {
		return removed, fmt.Errorf("routing: sweep: %w", err)
	}
	return removed, nil
}

func (t *RedisTable) Len(ctx context.Context) (int, error) {
	total := 0
	err := t.scan(ctx, func(keys []string) error {
		total += len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("routing: count routes: %w", err)
	}
	return total, nil
}

func (t *RedisTable) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := t.client.Scan(ctx, cursor, t.prefix+":*", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
