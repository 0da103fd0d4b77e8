package guarddto

import "time"

// Match results accepted on completion.
const (
	ResultPlayer1Wins = "player1_wins"
	ResultPlayer2Wins = "player2_wins"
	ResultDraw        = "draw"
)

type CreateRequest struct {
	Player1   string `json:"player1"`
	Player2   string `json:"player2"`
	SessionID string `json:"session_id"`
	IP        string `json:"ip,omitempty"`
}

type CompletionRequest struct {
	MatchID          int64  `json:"match_id"`
	DurationSeconds  int    `json:"duration_seconds"`
	RoundsPlayed     int    `json:"rounds_played"`
	Result           string `json:"result"`
	Player1          string `json:"player1"`
	Player2          string `json:"player2"`
	Player1EloChange int    `json:"player1_elo_change,omitempty"`
	Player2EloChange int    `json:"player2_elo_change,omitempty"`
	Token            string `json:"token,omitempty"`
}

type EligibilityResponse struct {
	Player   string `json:"player"`
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type IssueTokenRequest struct {
	MatchID int64  `json:"match_id"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
}

type IssueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type VerifyTokenRequest struct {
	Token   string `json:"token"`
	MatchID int64  `json:"match_id"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
}

type VerifyTokenResponse struct {
	Valid bool `json:"valid"`
}

type ErrorResponse struct {
	Kind       Kind   `json:"kind"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Limit      string `json:"limit,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

type RegistrationRequest struct {
	IP string `json:"ip"`
}

type IPBanRequest struct {
	IP      string `json:"ip"`
	Seconds int    `json:"seconds,omitempty"`
}

type IPBanResponse struct {
	IP    string    `json:"ip"`
	Until time.Time `json:"until"`
}

type PenaltyRequest struct {
	Player string `json:"player"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type PenaltyView struct {
	ID              string     `json:"id"`
	Player          string     `json:"player"`
	Type            string     `json:"type"`
	Reason          string     `json:"reason"`
	CreatedAt       time.Time  `json:"created_at"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

type PenaltyHistoryResponse struct {
	Player    string        `json:"player"`
	Penalties []PenaltyView `json:"penalties"`
}

type RatingChangeRequest struct {
	Player string `json:"player"`
	Delta  int    `json:"delta"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}
