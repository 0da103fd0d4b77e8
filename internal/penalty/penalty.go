// Package penalty records sanctions against players and answers whether a
// ban or rating freeze is currently in force. Penalties are never edited;
// "active" is derived from the clock.
package penalty

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	Warning      Type = "warning"
	TempBan      Type = "temp_ban"
	RatingFreeze Type = "rating_freeze"
)

// ParseType accepts the wire names case-insensitively.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case Warning, TempBan, RatingFreeze:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

type Penalty struct {
	ID        uuid.UUID     `json:"id"`
	Player    string        `json:"player"`
	Type      Type          `json:"type"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration"`
	ExpiresAt time.Time     `json:"expires_at,omitempty"` // zero for warnings
}

// Active reports whether the penalty still applies at now. Warnings never do.
func (p *Penalty) Active(now time.Time) bool {
	if p == nil || p.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(p.ExpiresAt)
}

func playerKey(player string) string { return strings.ToLower(strings.TrimSpace(player)) }
