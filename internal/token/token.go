// Package token issues and verifies short-lived match tokens that prove a
// completion report came from a match this service created.
//
// Format: "{unix}:{salt}:{digest}" where digest is the first 16 hex chars of
// HMAC-SHA256 over "{matchID}:{p1}:{p2}:{unix}:{salt}" with a server-held key.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	saltBytes   = 8
	digestChars = 16
	hkdfInfo    = "match-token"

	DefaultTTL     = time.Hour
	DefaultMaxSkew = time.Minute
)

var (
	ErrMalformed = errors.New("malformed token")
	ErrExpired   = errors.New("token expired")
	ErrMismatch  = errors.New("token does not match")
)

type Service struct {
	key     []byte
	ttl     time.Duration
	maxSkew time.Duration
	rand    io.Reader
}

// NewService derives the MAC key from secret with HKDF-SHA256.
func NewService(secret string, ttl, maxSkew time.Duration) (*Service, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSkew < 0 {
		maxSkew = DefaultMaxSkew
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return &Service{key: key, ttl: ttl, maxSkew: maxSkew, rand: rand.Reader}, nil
}

func (s *Service) TTL() time.Duration { return s.ttl }

func (s *Service) digest(matchID int64, p1, p2 string, ts int64, salt string) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%d:%s:%s:%d:%s", matchID, p1, p2, ts, salt)
	return hex.EncodeToString(mac.Sum(nil))[:digestChars]
}

// Issue returns a token bound to the match and both players.
func (s *Service) Issue(matchID int64, p1, p2 string, now time.Time) (string, error) {
	raw := make([]byte, saltBytes)
	if _, err := io.ReadFull(s.rand, raw); err != nil {
		return "", fmt.Errorf("token salt: %w", err)
	}
	salt := hex.EncodeToString(raw)
	ts := now.Unix()
	return fmt.Sprintf("%d:%s:%s", ts, salt, s.digest(matchID, p1, p2, ts, salt)), nil
}

// Verify checks structure, age and MAC. Any failure is terminal.
func (s *Service) Verify(tok string, matchID int64, p1, p2 string, now time.Time) error {
	parts := strings.Split(tok, ":")
	if len(parts) != 3 {
		return ErrMalformed
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	salt, digest := parts[1], parts[2]
	if len(salt) != 2*saltBytes || len(digest) != digestChars {
		return ErrMalformed
	}
	if _, err := hex.DecodeString(salt); err != nil {
		return fmt.Errorf("%w: salt: %v", ErrMalformed, err)
	}

	age := now.Unix() - ts
	if age > int64(s.ttl/time.Second) {
		return ErrExpired
	}
	if -age > int64(s.maxSkew/time.Second) {
		return fmt.Errorf("%w: issued in the future", ErrMalformed)
	}

	want := s.digest(matchID, p1, p2, ts, salt)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(digest))) {
		return ErrMismatch
	}
	return nil
}

func (s *Service) Valid(tok string, matchID int64, p1, p2 string, now time.Time) bool {
	return s.Verify(tok, matchID, p1, p2, now) == nil
}
