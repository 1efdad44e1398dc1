// Package authmock is an in-memory stand-in for the hosted auth service. It
// speaks the subset of the GoTrue API used by authclient and signs access
// tokens with a shared HS256 secret.
package authmock

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

type account struct {
	user         domain.User
	passwordHash []byte
}

// Server implements http.Handler.
type Server struct {
	secret   []byte
	apiKey   string
	tokenTTL time.Duration
	logger   *zap.Logger

	mu            sync.Mutex
	accounts      map[string]*account // by email
	refreshTokens map[string]string   // token -> user id
	recoveries    []string

	// Now is overridable in tests.
	Now func() time.Time
	mux *http.ServeMux
}

// New builds a mock auth server. An empty apiKey disables the apikey check.
func New(secret, apiKey string, tokenTTL time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		secret:        []byte(secret),
		apiKey:        apiKey,
		tokenTTL:      tokenTTL,
		logger:        logger,
		accounts:      make(map[string]*account),
		refreshTokens: make(map[string]string),
		Now:           time.Now,
		mux:           http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /token", s.handleToken)
	s.mux.HandleFunc("POST /signup", s.handleSignUp)
	s.mux.HandleFunc("GET /user", s.handleUser)
	s.mux.HandleFunc("POST /logout", s.handleLogout)
	s.mux.HandleFunc("POST /recover", s.handleRecover)
	return s
}

// ServeHTTP checks the api key and dispatches to the endpoint handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && r.Header.Get("apikey") != s.apiKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid api key"})
		return
	}
	s.mux.ServeHTTP(w, r)
}

// AddUser registers an account and returns its identity.
func (s *Server) AddUser(email, password string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, err := s.addUserLocked(email, password)
	if err != nil {
		return domain.User{}, err
	}
	return acct.user, nil
}

// IssueTokens creates a session for an existing user, bypassing the password.
func (s *Server) IssueTokens(email string) (access, refresh string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, found := s.accounts[strings.ToLower(email)]
	if !found {
		return "", "", false
	}
	resp := s.issueLocked(acct.user)
	return resp.AccessToken, resp.RefreshToken, true
}

// SignAccessToken signs an access token for user expiring at exp.
func (s *Server) SignAccessToken(user domain.User, exp time.Time) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  "authenticated",
		"aud":   "authenticated",
		"iat":   s.Now().Unix(),
		"exp":   exp.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		// HMAC signing only fails on an invalid key type.
		panic(err)
	}
	return signed
}

// Recoveries lists the emails that requested a password reset.
func (s *Server) Recoveries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recoveries...)
}

func (s *Server) addUserLocked(email, password string) (*account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	acct := &account{
		user:         domain.User{ID: uuid.NewString(), Email: strings.ToLower(email)},
		passwordHash: hash,
	}
	s.accounts[acct.user.Email] = acct
	return acct, nil
}

type credentials struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		acct, ok := s.accounts[strings.ToLower(req.Email)]
		if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.Password)) != nil {
			writeError(w, http.StatusBadRequest, "invalid_grant", "Invalid login credentials")
			return
		}
		writeJSON(w, http.StatusOK, s.issueLocked(acct.user))
	case "refresh_token":
		userID, ok := s.refreshTokens[req.RefreshToken]
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_grant", "Invalid Refresh Token")
			return
		}
		// Refresh tokens rotate on use.
		delete(s.refreshTokens, req.RefreshToken)
		user, found := s.userByIDLocked(userID)
		if !found {
			writeError(w, http.StatusBadRequest, "invalid_grant", "User not found")
			return
		}
		writeJSON(w, http.StatusOK, s.issueLocked(user))
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if !strings.Contains(req.Email, "@") || len(req.Password) < 6 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"msg": "Password should be at least 6 characters"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[strings.ToLower(req.Email)]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"msg": "User already registered"})
		return
	}
	acct, err := s.addUserLocked(req.Email, req.Password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"msg":        "Password cannot be longer than 72 characters",
			"error_code": "weak_password",
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.issueLocked(acct.user))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid JWT")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Email: user.Email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid JWT")
		return
	}
	s.mu.Lock()
	for token, userID := range s.refreshTokens {
		if userID == user.ID {
			delete(s.refreshTokens, token)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	s.mu.Lock()
	s.recoveries = append(s.recoveries, strings.ToLower(req.Email))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) authenticate(r *http.Request) (domain.User, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return domain.User{}, false
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.Now))
	if err != nil {
		return domain.User{}, false
	}
	sub, _ := claims.GetSubject()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userByIDLocked(sub)
}

func (s *Server) userByIDLocked(id string) (domain.User, bool) {
	for _, acct := range s.accounts {
		if acct.user.ID == id {
			return acct.user, true
		}
	}
	return domain.User{}, false
}

func (s *Server) issueLocked(user domain.User) tokenResponse {
	exp := s.Now().Add(s.tokenTTL)
	refresh := randomToken()
	s.refreshTokens[refresh] = user.ID
	s.logger.Debug("issued session", zap.String("user_id", user.ID))
	return tokenResponse{
		AccessToken:  s.SignAccessToken(user, exp),
		TokenType:    "bearer",
		ExpiresIn:    int64(s.tokenTTL.Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         userResponse{ID: user.ID, Email: user.Email},
	}
}

func randomToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
