package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisMaxAttempts = 5

// Redis stores each key as a sorted set scored by Unix milliseconds, so
// several API replicas share one view of the windows.
type Redis struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedis(rdb *redis.Client, retention time.Duration) *Redis {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Redis{rdb: rdb, retention: retention}
}

func (r *Redis) key(k string) string { return "sg:ledger:" + strings.TrimSpace(k) }

func (r *Redis) CheckAndRecord(ctx context.Context, key string, windows []Window, now time.Time) (Decision, error) {
	return r.CheckAndRecordAll(ctx, []string{key}, windows, now)
}

// CheckAndRecordAll watches every key, so a concurrent write to any of them
// aborts the transaction and the whole check is retried.
func (r *Redis) CheckAndRecordAll(ctx context.Context, keys []string, windows []Window, now time.Time) (Decision, error) {
	keys = distinct(keys)
	if len(keys) == 0 {
		return Decision{Allowed: true}, nil
	}
	rks := make([]string, len(keys))
	for i, k := range keys {
		rks[i] = r.key(k)
	}
	nowMs := now.UnixMilli()
	var dec Decision

	txf := func(tx *redis.Tx) error {
		for i, rk := range rks {
			d, err := r.evaluate(ctx, tx, rk, windows, nowMs)
			if err != nil {
				return err
			}
			if !d.Allowed {
				d.Key = keys[i]
				dec = d
				return nil
			}
		}

		// watched keys untouched until EXEC
		pipe := tx.TxPipeline()
		for _, rk := range rks {
			r.appendOps(ctx, pipe, rk, nowMs)
		}
		card := pipe.ZCard(ctx, rks[0])
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		dec = Decision{Allowed: true, Count: int(card.Val())}
		return nil
	}

	for attempt := 0; attempt < redisMaxAttempts; attempt++ {
		err := r.rdb.Watch(ctx, txf, rks...)
		if err == nil {
			return dec, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Decision{}, fmt.Errorf("ledger check %s: %w", strings.Join(keys, ","), err)
	}
	return Decision{}, ErrContended
}

// evaluate counts rk against each window in order and returns the first denial.
func (r *Redis) evaluate(ctx context.Context, tx *redis.Tx, rk string, windows []Window, nowMs int64) (Decision, error) {
	for _, w := range windows {
		lo := exclusive(nowMs - w.Span.Milliseconds())
		cnt, err := tx.ZCount(ctx, rk, lo, "+inf").Result()
		if err != nil && err != redis.Nil {
			return Decision{}, err
		}
		if int(cnt) < w.Limit {
			continue
		}
		dec := Decision{Allowed: false, Window: w.Name, Count: int(cnt)}
		oldest, err := tx.ZRangeByScoreWithScores(ctx, rk, &redis.ZRangeBy{Min: lo, Max: "+inf", Count: 1}).Result()
		if err != nil && err != redis.Nil {
			return Decision{}, err
		}
		if len(oldest) > 0 {
			retry := time.Duration(int64(oldest[0].Score)+w.Span.Milliseconds()-nowMs) * time.Millisecond
			if retry > 0 {
				dec.RetryAfter = retry
			}
		}
		return dec, nil
	}
	return Decision{Allowed: true}, nil
}

func (r *Redis) Count(ctx context.Context, key string, span time.Duration, now time.Time) (int, error) {
	lo := exclusive(now.UnixMilli() - span.Milliseconds())
	n, err := r.rdb.ZCount(ctx, r.key(key), lo, "+inf").Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("ledger count %s: %w", key, err)
	}
	return int(n), nil
}

func (r *Redis) Record(ctx context.Context, key string, now time.Time) error {
	pipe := r.rdb.TxPipeline()
	r.appendOps(ctx, pipe, r.key(key), now.UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ledger record %s: %w", key, err)
	}
	return nil
}

// Sweep is a no-op: every write refreshes the key TTL to the retention, so
// idle keys expire inside redis.
func (r *Redis) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (r *Redis) appendOps(ctx context.Context, pipe redis.Pipeliner, rk string, nowMs int64) {
	cutoff := strconv.FormatInt(nowMs-r.retention.Milliseconds(), 10)
	pipe.ZRemRangeByScore(ctx, rk, "-inf", cutoff)
	pipe.ZAdd(ctx, rk, redis.Z{Score: float64(nowMs), Member: fmt.Sprintf("%d-%s", nowMs, uuid.NewString())})
	pipe.PExpire(ctx, rk, r.retention)
}

func exclusive(ms int64) string { return "(" + strconv.FormatInt(ms, 10) }
