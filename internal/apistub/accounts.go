package apistub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/smartstudy-sync/apimodel"
	"github.com/jrsteele09/smartstudy-sync/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

var (
	errEmailTaken    = errors.New("email already registered")
	errMissingFields = errors.New("name, email and password are required")
)

type account struct {
	user         apimodel.User
	passwordHash string
	joined       time.Time
}

type refreshToken struct {
	userID apimodel.UserID
	iat    time.Time
}

type userContextKey struct{}

// hmacSigner signs and verifies HS256 access tokens.
type hmacSigner struct {
	secret []byte
}

func newHMACSigner(secret string) *hmacSigner {
	return &hmacSigner{secret: []byte(secret)}
}

func (h *hmacSigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with HMAC: %w", err)
	}
	return signed, nil
}

func (h *hmacSigner) verificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateAccount registers a user directly, bypassing HTTP.
func (s *Server) CreateAccount(name, email, password string) (apimodel.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return apimodel.User{}, errMissingFields
	}
	hash, err := HashPassword(password)
	if err != nil {
		return apimodel.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if _, exists := s.accounts[email]; exists {
		return apimodel.User{}, errEmailTaken
	}
	acc := &account{
		user:         apimodel.User{ID: apimodel.UserID(uuid.New().String()), Name: name, Email: email},
		passwordHash: hash,
		joined:       s.nowFunc(),
	}
	s.accounts[email] = acc
	s.accountsByID[acc.user.ID] = acc
	return acc.user, nil
}

// IssueTokens creates an access token and a new refresh token for userID.
// Any previous refresh token of the user is revoked.
func (s *Server) IssueTokens(userID apimodel.UserID) (access string, refresh string, err error) {
	now := s.nowFunc()
	access, err = s.signer.Sign(jwt.MapClaims{
		"sub": userID.String(),
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"jti": uuid.New().String(),
	})
	if err != nil {
		return "", "", err
	}

	refresh = randomHex(32)
	s.lock.Lock()
	defer s.lock.Unlock()
	for token, rt := range s.refreshTokens {
		if rt.userID == userID {
			delete(s.refreshTokens, token)
		}
	}
	s.refreshTokens[refresh] = &refreshToken{userID: userID, iat: now}
	return access, refresh, nil
}

// RevokeRefreshTokens forgets every refresh token, as a server side logout.
func (s *Server) RevokeRefreshTokens() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.refreshTokens = make(map[string]*refreshToken)
}

func (s *Server) authResponse(user apimodel.User) (*apimodel.AuthResponse, error) {
	access, refresh, err := s.IssueTokens(user.ID)
	if err != nil {
		return nil, err
	}
	return &apimodel.AuthResponse{
		AccessToken:  access,
		RefreshToken: utils.Ptr(refresh),
		ExpiresIn:    int(s.accessTTL / time.Second),
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
	}, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req apimodel.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	user, err := s.CreateAccount(req.Name, req.Email, req.Password)
	switch {
	case errors.Is(err, errEmailTaken):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, errMissingFields):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "Registration failed", http.StatusInternalServerError)
		return
	}
	resp, err := s.authResponse(user)
	if err != nil {
		http.Error(w, "Failed to issue tokens", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req apimodel.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	s.lock.RLock()
	acc, ok := s.accounts[strings.ToLower(strings.TrimSpace(req.Email))]
	s.lock.RUnlock()
	if !ok || !CheckPasswordHash(req.Password, acc.passwordHash) {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	resp, err := s.authResponse(acc.user)
	if err != nil {
		http.Error(w, "Failed to issue tokens", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req apimodel.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	s.lock.Lock()
	rt, ok := s.refreshTokens[req.RefreshToken]
	if ok && s.nowFunc().Sub(rt.iat) > s.refreshTTL {
		delete(s.refreshTokens, req.RefreshToken)
		ok = false
	}
	s.lock.Unlock()
	if !ok {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	access, refresh, err := s.IssueTokens(rt.userID)
	if err != nil {
		http.Error(w, "Failed to issue tokens", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, apimodel.RefreshResponse{
		AccessToken:  access,
		RefreshToken: utils.Ptr(refresh),
		ExpiresIn:    int(s.accessTTL / time.Second),
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	acc := r.Context().Value(userContextKey{}).(*account)
	writeJSON(w, http.StatusOK, acc.user)
}

// authenticated rejects requests without a valid, unexpired bearer token.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		token, err := jwt.Parse(raw, s.signer.verificationKey,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(s.nowFunc),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		sub, err := token.Claims.GetSubject()
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		s.lock.RLock()
		acc, ok := s.accountsByID[apimodel.UserID(sub)]
		s.lock.RUnlock()
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey{}, acc)))
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
