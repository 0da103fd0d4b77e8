package validator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BanList tracks temporarily banned IPs. Expired entries are cleared when consulted.
type BanList interface {
	Ban(ctx context.Context, ip string, now, until time.Time) error
	Check(ctx context.Context, ip string, now time.Time) (until time.Time, banned bool, err error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type MemoryBanList struct {
	mu   sync.Mutex
	bans map[string]time.Time
}

func NewMemoryBanList() *MemoryBanList {
	return &MemoryBanList{bans: make(map[string]time.Time)}
}

func (b *MemoryBanList) Ban(_ context.Context, ip string, now, until time.Time) error {
	ip = normalizeIP(ip)
	if ip == "" {
		return fmt.Errorf("empty ip")
	}
	if !until.After(now) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// never shorten an existing ban
	if cur, ok := b.bans[ip]; ok && cur.After(until) {
		return nil
	}
	b.bans[ip] = until
	return nil
}

func (b *MemoryBanList) Check(_ context.Context, ip string, now time.Time) (time.Time, bool, error) {
	ip = normalizeIP(ip)
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.bans[ip]
	if !ok {
		return time.Time{}, false, nil
	}
	if !until.After(now) {
		delete(b.bans, ip)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (b *MemoryBanList) Sweep(_ context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for ip, until := range b.bans {
		if !until.After(now) {
			delete(b.bans, ip)
			n++
		}
	}
	return n, nil
}

// RedisBanList stores "sg:ipban:<ip>" with a PX expiry matching the ban.
type RedisBanList struct{ rdb *redis.Client }

func NewRedisBanList(rdb *redis.Client) *RedisBanList { return &RedisBanList{rdb: rdb} }

func (b *RedisBanList) key(ip string) string { return "sg:ipban:" + normalizeIP(ip) }

func (b *RedisBanList) Ban(ctx context.Context, ip string, now, until time.Time) error {
	if normalizeIP(ip) == "" {
		return fmt.Errorf("empty ip")
	}
	ttl := until.Sub(now)
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, b.key(ip), strconv.FormatInt(until.UnixMilli(), 10), ttl).Err()
}

func (b *RedisBanList) Check(ctx context.Context, ip string, now time.Time) (time.Time, bool, error) {
	raw, err := b.rdb.Get(ctx, b.key(ip)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("ban check: %w", err)
	}
	ms, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		_ = b.deleteIf(ctx, b.key(ip), raw)
		return time.Time{}, false, nil
	}
	until := time.UnixMilli(ms)
	if !until.After(now) {
		_ = b.deleteIf(ctx, b.key(ip), raw)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// deleteIf removes key only while it still holds expected, so a Ban landing
// between the read and the delete survives.
func (b *RedisBanList) deleteIf(ctx context.Context, key, expected string) error {
	err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if err == redis.Nil || (err == nil && cur != expected) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// key changed underneath us; leave it
		return nil
	}
	return err
}

func (b *RedisBanList) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func normalizeIP(ip string) string { return strings.ToLower(strings.TrimSpace(ip)) }
