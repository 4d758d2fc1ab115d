package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/ariston-bridge/internal/auth"
)

// issueTokenRequest is the body of POST /tokens.
type issueTokenRequest struct {
	Subject string    `json:"subject"`
	Role    auth.Role `json:"role"`
}

// issueTokenResponse is the response body of POST /tokens.
type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleIssueToken mints an access token for another client. Only admins
// reach it, and only when a JWT secret is configured.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if s.secCfg.JWT.Secret == "" {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "token issuing requires security.jwt.secret")
		return
	}

	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Subject == "" {
		writeBadRequest(w, "subject is required")
		return
	}

	ttl := time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
	token, err := auth.GenerateToken(req.Subject, req.Role, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	issuer := ""
	if c := claimsFrom(r.Context()); c != nil {
		issuer = c.Subject
	}
	s.logger.Info("access token issued", "subject", req.Subject, "role", req.Role, "issued_by", issuer)

	expires := ttl
	if expires <= 0 {
		expires = time.Hour
	}
	writeJSON(w, http.StatusCreated, issueTokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(expires.Seconds()),
	})
}
