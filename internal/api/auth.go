package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"chatgenius/internal/types"
)

const (
	defaultJwtExpiration = time.Hour * 24
	tokenCookieKey       = "token"
	userIdClaim          = "user-id"
	expClaim             = "exp"
)

type MagicLinkRequest struct {
	Email string `json:"email"`
}

// requestMagicLink creates the user on first sight of the email, stores a
// single-use token and mails the verification link. The token itself is
// never stored, only its hash.
func (s *App) requestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		errResp := NewBadRequestError("invalid email address")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetOrCreateUserByEmail(req.Email)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token := uuid.NewString()
	expiresAt := time.Now().UTC().Add(s.cfg.MagicLinkTTL)
	if _, err := s.db.CreateMagicLink(user.Id, hashToken(token), expiresAt); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	verifyURL := fmt.Sprintf("%s/api/auth/verify?token=%s", s.cfg.BaseURL, url.QueryEscape(token))

	if s.cfg.DevMode {
		s.writeJson(w, http.StatusOK, map[string]string{
			"message":          "magic link created",
			"debug_verify_url": verifyURL,
		})
		return
	}

	if err := s.mailer.SendMagicLink(r.Context(), user.Email, verifyURL); err != nil {
		s.log.Println("send magic link:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"message": "magic link sent"})
}

// verifyMagicLink consumes the single-use token and establishes the cookie
// session. A reused or expired token is rejected.
func (s *App) verifyMagicLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		errResp := NewBadRequestError("token is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.ConsumeMagicLink(hashToken(token))
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	jwtToken, err := s.createJwtForSession(user.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(jwtToken, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, types.User{
		Id:        user.Id,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	})
}

func (s *App) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetUserById(userId)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	u := types.User{
		Id:        user.Id,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}
	if user.LastLoginAt.Valid {
		u.LastLoginAt = &user.LastLoginAt.Time
	}

	s.writeJson(w, http.StatusOK, u)
}

// logout clears the cookie and broadcasts logout to the user's live
// connections, which are then closed.
func (s *App) logout(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.LogoutUser(userId)

	// instruct browser to delete the session cookie
	cookie := createJwtCookie("", 0)
	cookie.Expires = time.Unix(0, 0)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *App) createJwtForSession(userId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *App) extractUserIdFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid user id claim")
	}

	return int(userId), nil
}
