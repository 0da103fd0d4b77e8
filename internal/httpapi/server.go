// Package httpapi exposes the Guard over JSON/HTTP with fasthttp.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/elo-safeguard/internal/adminauth"
	"github.com/park285/elo-safeguard/internal/penalty"
	"github.com/park285/elo-safeguard/internal/safeguard"
	"github.com/park285/elo-safeguard/pkg/guarddto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// PlayerHeader, when sent, meters the request against that player's API quota.
const PlayerHeader = "X-Player-ID"

const requestTimeout = 5 * time.Second

type Server struct {
	guard   *safeguard.Guard
	admin   *adminauth.Authenticator
	origins map[string]struct{}
	logger  *zap.Logger
}

func New(guard *safeguard.Guard, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	return &Server{guard: guard, origins: origins, logger: logger}
}

// RequireAdmin puts the operator routes (IP bans, manual penalties) behind
// admin bearer tokens. Without it those routes are open.
func (s *Server) RequireAdmin(a *adminauth.Authenticator) { s.admin = a }

// NewHTTPServer wraps Handler with the timeouts used in production.
func (s *Server) NewHTTPServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler:            s.Handler,
		Name:               "elo-safeguard",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxRequestBodySize: 64 << 10,
	}
}

func (s *Server) Handler(rc *fasthttp.RequestCtx) {
	start := time.Now()
	s.cors(rc)
	if rc.IsOptions() {
		rc.SetStatusCode(fasthttp.StatusNoContent)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	path := string(rc.Path())
	if player := strings.TrimSpace(string(rc.Request.Header.Peek(PlayerHeader))); player != "" && path != "/healthz" {
		if err := s.guard.RecordAPICall(ctx, player); err != nil {
			s.writeError(rc, err)
			s.logAccess(rc, path, start)
			return
		}
	}

	s.route(ctx, rc, path)
	s.logAccess(rc, path, start)
}

func (s *Server) route(ctx context.Context, rc *fasthttp.RequestCtx, path string) {
	switch {
	case path == "/healthz":
		if !rc.IsGet() {
			methodNotAllowed(rc)
			return
		}
		writeJSON(rc, fasthttp.StatusOK, guarddto.OKResponse{OK: true})
	case path == "/v1/matches/validate":
		s.post(rc, func() { s.validateMatch(ctx, rc) })
	case path == "/v1/matches/complete":
		s.post(rc, func() { s.completeMatch(ctx, rc) })
	case path == "/v1/tokens":
		s.post(rc, s.adminOnly(rc, func() { s.issueToken(rc) }))
	case path == "/v1/tokens/verify":
		s.post(rc, func() { s.verifyToken(rc) })
	case path == "/v1/registrations":
		s.post(rc, func() { s.register(ctx, rc) })
	case path == "/v1/ip-bans":
		s.post(rc, s.adminOnly(rc, func() { s.banIP(ctx, rc) }))
	case path == "/v1/penalties":
		s.post(rc, s.adminOnly(rc, func() { s.applyPenalty(ctx, rc) }))
	case path == "/v1/ratings/validate":
		s.post(rc, func() { s.validateRating(ctx, rc) })
	case strings.HasPrefix(path, "/v1/players/"):
		s.player(ctx, rc, strings.TrimPrefix(path, "/v1/players/"))
	default:
		writeJSON(rc, fasthttp.StatusNotFound, guarddto.ErrorResponse{Message: "not found"})
	}
}

func (s *Server) post(rc *fasthttp.RequestCtx, fn func()) {
	if !rc.IsPost() {
		methodNotAllowed(rc)
		return
	}
	fn()
}

func (s *Server) adminOnly(rc *fasthttp.RequestCtx, fn func()) func() {
	if s.admin == nil {
		return fn
	}
	return func() {
		claims, err := s.admin.Verify(string(rc.Request.Header.Peek("Authorization")))
		if err != nil {
			status, code := fasthttp.StatusUnauthorized, "unauthorized"
			if errors.Is(err, adminauth.ErrForbidden) {
				status, code = fasthttp.StatusForbidden, "forbidden"
			}
			writeJSON(rc, status, guarddto.ErrorResponse{Code: code, Message: err.Error()})
			return
		}
		s.logger.Info("admin_request", zap.String("subject", claims.Subject), zap.ByteString("path", rc.Path()))
		fn()
	}
}

// player serves /v1/players/{name}/eligibility and /v1/players/{name}/penalties.
func (s *Server) player(ctx context.Context, rc *fasthttp.RequestCtx, rest string) {
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 {
		writeJSON(rc, fasthttp.StatusNotFound, guarddto.ErrorResponse{Message: "not found"})
		return
	}
	name, err := url.PathUnescape(rest[:i])
	if err != nil || strings.TrimSpace(name) == "" {
		writeJSON(rc, fasthttp.StatusBadRequest, guarddto.ErrorResponse{Kind: guarddto.KindPolicyViolation, Code: guarddto.CodeInvalidArgs, Message: "bad player name"})
		return
	}
	if !rc.IsGet() {
		methodNotAllowed(rc)
		return
	}
	switch rest[i+1:] {
	case "eligibility":
		ok, reason, err := s.guard.CheckEligibility(ctx, name)
		if err != nil {
			s.writeError(rc, err)
			return
		}
		writeJSON(rc, fasthttp.StatusOK, guarddto.EligibilityResponse{Player: name, Eligible: ok, Reason: reason})
	case "penalties":
		history, err := s.guard.PenaltyHistory(ctx, name)
		if err != nil {
			s.writeError(rc, err)
			return
		}
		out := guarddto.PenaltyHistoryResponse{Player: name, Penalties: make([]guarddto.PenaltyView, 0, len(history))}
		for _, p := range history {
			out.Penalties = append(out.Penalties, PenaltyView(p))
		}
		writeJSON(rc, fasthttp.StatusOK, out)
	default:
		writeJSON(rc, fasthttp.StatusNotFound, guarddto.ErrorResponse{Message: "not found"})
	}
}

func (s *Server) validateMatch(ctx context.Context, rc *fasthttp.RequestCtx) {
	var req guarddto.CreateRequest
	if !decode(rc, &req) {
		return
	}
	if req.IP == "" {
		req.IP = rc.RemoteIP().String()
	}
	if err := s.guard.ValidateMatchCreation(ctx, req); err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, guarddto.OKResponse{OK: true})
}

func (s *Server) completeMatch(ctx context.Context, rc *fasthttp.RequestCtx) {
	var req guarddto.CompletionRequest
	if !decode(rc, &req) {
		return
	}
	if err := s.guard.ValidateMatchCompletion(ctx, req); err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, guarddto.OKResponse{OK: true})
}

func (s *Server) issueToken(rc *fasthttp.RequestCtx) {
	var req guarddto.IssueTokenRequest
	if !decode(rc, &req) {
		return
	}
	tok, exp, err := s.guard.IssueMatchToken(req.MatchID, req.Player1, req.Player2)
	if err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusCreated, guarddto.IssueTokenResponse{Token: tok, ExpiresAt: exp})
}

func (s *Server) verifyToken(rc *fasthttp.RequestCtx) {
	var req guarddto.VerifyTokenRequest
	if !decode(rc, &req) {
		return
	}
	valid := s.guard.VerifyMatchToken(req.Token, req.MatchID, req.Player1, req.Player2)
	writeJSON(rc, fasthttp.StatusOK, guarddto.VerifyTokenResponse{Valid: valid})
}

func (s *Server) register(ctx context.Context, rc *fasthttp.RequestCtx) {
	var req guarddto.RegistrationRequest
	if !decode(rc, &req) {
		return
	}
	if req.IP == "" {
		req.IP = rc.RemoteIP().String()
	}
	if err := s.guard.ValidateRegistration(ctx, req.IP); err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, guarddto.OKResponse{OK: true})
}

func (s *Server) banIP(ctx context.Context, rc *fasthttp.RequestCtx) {
	var req guarddto.IPBanRequest
	if !decode(rc, &req) {
		return
	}
	until, err := s.guard.BanIP(ctx, req.IP, time.Duration(req.Seconds)*time.Second)
	if err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusCreated, guarddto.IPBanResponse{IP: req.IP, Until: until})
}

func (s *Server) applyPenalty(ctx context.Context, rc *fasthttp.RequestCtx) {
	var req guarddto.PenaltyRequest
	if !decode(rc, &req) {
		return
	}
	p, err := s.guard.ApplyPenalty(ctx, req.Player, req.Type, req.Reason)
	if err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusCreated, PenaltyView(p))
}

func (s *Server) validateRating(ctx context.Context, rc *fasthttp.RequestCtx) {
	var req guarddto.RatingChangeRequest
	if !decode(rc, &req) {
		return
	}
	if err := s.guard.ValidateRatingChange(ctx, req.Player, req.Delta); err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, guarddto.OKResponse{OK: true})
}

// PenaltyView flattens a penalty for the wire.
func PenaltyView(p *penalty.Penalty) guarddto.PenaltyView {
	v := guarddto.PenaltyView{
		ID:              p.ID.String(),
		Player:          p.Player,
		Type:            string(p.Type),
		Reason:          p.Reason,
		CreatedAt:       p.CreatedAt,
		DurationSeconds: int64(p.Duration / time.Second),
	}
	if !p.ExpiresAt.IsZero() {
		exp := p.ExpiresAt
		v.ExpiresAt = &exp
	}
	return v
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind guarddto.Kind) int {
	switch kind {
	case guarddto.KindPolicyViolation:
		return fasthttp.StatusUnprocessableEntity
	case guarddto.KindRateLimitExceeded:
		return fasthttp.StatusTooManyRequests
	case guarddto.KindTokenInvalid:
		return fasthttp.StatusUnauthorized
	case guarddto.KindUnavailable:
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

func (s *Server) writeError(rc *fasthttp.RequestCtx, err error) {
	var de *guarddto.DomainError
	if !errors.As(err, &de) {
		s.logger.Error("unexpected_error", zap.Error(err))
		writeJSON(rc, fasthttp.StatusInternalServerError, guarddto.ErrorResponse{Message: "internal error"})
		return
	}
	body := guarddto.ErrorResponse{Kind: de.Kind, Code: de.Code, Message: de.Error(), Limit: de.Limit}
	if de.Kind == guarddto.KindRateLimitExceeded {
		secs := int((de.RetryAfter + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		body.RetryAfter = secs
		rc.Response.Header.Set("Retry-After", strconv.Itoa(secs))
	}
	if de.Kind == guarddto.KindUnavailable {
		s.logger.Error("backend_unavailable", zap.String("code", de.Code), zap.Error(de.Err))
	}
	writeJSON(rc, statusFor(de.Kind), body)
}

func decode(rc *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(rc.PostBody(), v); err != nil {
		writeJSON(rc, fasthttp.StatusBadRequest, guarddto.ErrorResponse{Code: guarddto.CodeInvalidArgs, Message: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		rc.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(payload)
}

func methodNotAllowed(rc *fasthttp.RequestCtx) {
	writeJSON(rc, fasthttp.StatusMethodNotAllowed, guarddto.ErrorResponse{Message: "method not allowed"})
}

func (s *Server) cors(rc *fasthttp.RequestCtx) {
	origin := string(rc.Request.Header.Peek("Origin"))
	if origin == "" {
		return
	}
	if _, ok := s.origins[origin]; !ok {
		if _, wildcard := s.origins["*"]; !wildcard {
			return
		}
	}
	h := &rc.Response.Header
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+PlayerHeader)
	h.Set("Vary", "Origin")
}

func (s *Server) logAccess(rc *fasthttp.RequestCtx, path string, start time.Time) {
	s.logger.Debug("http_request",
		zap.ByteString("method", rc.Method()),
		zap.String("path", path),
		zap.Int("status", rc.Response.StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)
}
