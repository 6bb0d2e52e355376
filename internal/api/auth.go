package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nerrad567/blinky-core/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for a successful login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// ticketResponse is the response body for POST /auth/ws-ticket.
type ticketResponse struct {
	Ticket string `json:"ticket"`
}

// handleLogin authenticates the operator account and issues a JWT access
// token. The gateway has a single operator defined in configuration; there
// is no user database.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}
	if !auth.IsValidUsername(req.Username) {
		writeBadRequest(w, "invalid username format")
		return
	}

	op := s.secCfg.Operator
	if op.Username == "" || op.PasswordHash == "" {
		s.logger.Warn("login attempted but no operator account is configured")
		writeUnauthorized(w, "invalid credentials")
		return
	}

	// Verify the password even on a username mismatch so both failure
	// paths cost the same amount of time.
	hash := op.PasswordHash
	usernameOK := req.Username == op.Username
	passwordOK, err := auth.VerifyPassword(req.Password, hash)
	if err != nil {
		s.logger.Error("password verification failed", "error", err)
		writeInternalError(w, "authentication unavailable")
		return
	}
	if !usernameOK || !passwordOK {
		s.logger.Warn("failed login attempt",
			"username", req.Username,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ttl := s.secCfg.JWT.AccessTokenTTL
	token, err := auth.GenerateAccessToken(op.Username, auth.RoleOperator, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("failed to generate access token", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	if ttl <= 0 {
		ttl = 60
	}
	s.logger.Info("operator logged in", "username", op.Username)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60,
	})
}

// handleWSTicket issues a short-lived single-purpose token for opening a
// WebSocket connection. Browsers cannot set an Authorization header on the
// upgrade request, so the ticket travels in a query parameter instead; the
// short expiry limits the exposure of a leaked URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	ticket, err := auth.GenerateTicket(claims.Subject, claims.Role, s.secCfg.JWT.Secret)
	if err != nil {
		s.logger.Error("failed to generate WebSocket ticket", "error", err)
		writeInternalError(w, "failed to generate ticket")
		return
	}

	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket})
}
