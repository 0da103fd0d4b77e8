// Package ledger keeps per-key, time-pruned event logs for sliding-window counting.
//
// A key is opaque to the ledger (callers namespace it, e.g. "match_create:alice").
// Every backend makes CheckAndRecord atomic per key: the window counts and the
// append happen as one step, so concurrent callers cannot both pass a check
// that only one of them should pass.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"
)

// DefaultRetention covers the longest built-in window (24h).
const DefaultRetention = 24 * time.Hour

var ErrContended = errors.New("ledger: key too contended, giving up")

// Window is one sliding-window limit evaluated against a key.
type Window struct {
	Name  string
	Span  time.Duration
	Limit int
}

// Decision is the outcome of CheckAndRecord. Window, Key and RetryAfter are set on denial.
type Decision struct {
	Allowed    bool
	Window     string
	Key        string
	Count      int
	RetryAfter time.Duration
}

type Ledger interface {
	// CheckAndRecord counts entries strictly newer than now-span for each window
	// in order; the first window with count >= limit denies and nothing is
	// recorded. Otherwise now is appended.
	CheckAndRecord(ctx context.Context, key string, windows []Window, now time.Time) (Decision, error)
	// CheckAndRecordAll is CheckAndRecord over several keys as one step: every
	// key is checked first and now is appended to all of them only if none
	// denies. The denial names the first key (in the given order) that tripped.
	CheckAndRecordAll(ctx context.Context, keys []string, windows []Window, now time.Time) (Decision, error)
	Count(ctx context.Context, key string, span time.Duration, now time.Time) (int, error)
	Record(ctx context.Context, key string, now time.Time) error
	// Sweep drops entries older than the retention and returns how many keys were emptied.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// evaluate runs windows over ascending stamps.
func evaluate(stamps []time.Time, windows []Window, now time.Time) Decision {
	for _, w := range windows {
		cut := now.Add(-w.Span)
		i := firstAfter(stamps, cut)
		count := len(stamps) - i
		if count >= w.Limit {
			var retry time.Duration
			if i < len(stamps) {
				retry = stamps[i].Add(w.Span).Sub(now)
			}
			if retry < 0 {
				retry = 0
			}
			return Decision{Allowed: false, Window: w.Name, Count: count, RetryAfter: retry}
		}
	}
	return Decision{Allowed: true}
}

// distinct drops repeated keys, keeping first-seen order.
func distinct(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// firstAfter returns the index of the first stamp strictly after cut.
func firstAfter(stamps []time.Time, cut time.Time) int {
	return sort.Search(len(stamps), func(i int) bool { return stamps[i].After(cut) })
}
