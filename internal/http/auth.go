package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/authclient"
	"github.com/Clark-Hu/bitebox/internal/domain"
	"github.com/Clark-Hu/bitebox/internal/events"
	"github.com/Clark-Hu/bitebox/internal/session"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type authResponse struct {
	User                 userResponse `json:"user"`
	ConfirmationRequired bool         `json:"confirmationRequired,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email and password are required")
		return
	}

	tokens, err := s.auth.SignInWithPassword(r.Context(), email, req.Password)
	if err != nil {
		if errors.Is(err, authclient.ErrInvalidCredentials) {
			s.respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
			return
		}
		s.respondAuthUnavailable(w, "sign in failed", err)
		return
	}

	s.startSession(w, tokens)
	s.respondJSON(w, http.StatusOK, authResponse{User: toUserResponse(tokens.User)})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if !strings.Contains(email, "@") || req.Password == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid email and a password are required")
		return
	}

	tokens, err := s.auth.SignUp(r.Context(), email, req.Password)
	if err != nil {
		if errors.Is(err, authclient.ErrSignUpRejected) {
			s.respondError(w, http.StatusUnprocessableEntity, "SIGNUP_REJECTED", strings.TrimPrefix(err.Error(), authclient.ErrSignUpRejected.Error()+": "))
			return
		}
		s.respondAuthUnavailable(w, "sign up failed", err)
		return
	}

	if tokens.AccessToken == "" {
		s.respondJSON(w, http.StatusAccepted, authResponse{User: toUserResponse(tokens.User), ConfirmationRequired: true})
		return
	}
	s.startSession(w, tokens)
	s.respondJSON(w, http.StatusCreated, authResponse{User: toUserResponse(tokens.User)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := session.AccessTokenFromContext(r.Context()); token != "" {
		if err := s.auth.SignOut(r.Context(), token); err != nil {
			s.logger.Warn("remote sign out failed", zap.Error(err))
		}
	}
	if user := session.UserFromContext(r.Context()); user != nil {
		s.publish(events.UserSignedOut, user.ID)
	}
	for _, c := range s.sessions.ClearCookies() {
		http.SetCookie(w, c)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if !strings.Contains(email, "@") {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid email is required")
		return
	}
	if err := s.auth.RecoverPassword(r.Context(), email); err != nil {
		s.respondAuthUnavailable(w, "password recovery failed", err)
		return
	}
	// Same answer whether or not the account exists.
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := session.UserFromContext(r.Context())
	if user == nil {
		s.respondUnauthenticated(w)
		return
	}

	// Confirm the session with the auth service, it may have been revoked.
	verified, err := s.auth.GetUser(r.Context(), session.AccessTokenFromContext(r.Context()))
	switch {
	case errors.Is(err, authclient.ErrUnauthorized):
		for _, c := range s.sessions.ClearCookies() {
			http.SetCookie(w, c)
		}
		s.respondUnauthenticated(w)
		return
	case err != nil:
		s.respondAuthUnavailable(w, "user lookup failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toUserResponse(*verified))
}

// requireUser rejects requests the gate did not attach a user to.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session.UserFromContext(r.Context()) == nil {
			s.respondUnauthenticated(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) startSession(w http.ResponseWriter, tokens *authclient.Tokens) {
	for _, c := range s.sessions.SessionCookies(tokens) {
		http.SetCookie(w, c)
	}
	s.publish(events.UserSignedIn, tokens.User.ID)
}

func (s *Server) publish(kind events.Kind, userID string) {
	if s.events != nil {
		s.events.Publish(events.Event{Kind: kind, UserID: userID})
	}
}

func (s *Server) respondUnauthenticated(w http.ResponseWriter) {
	s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
}

func (s *Server) respondAuthUnavailable(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	s.respondError(w, http.StatusBadGateway, "AUTH_UNAVAILABLE", "Authentication service unavailable")
}

func toUserResponse(user domain.User) userResponse {
	return userResponse{ID: user.ID, Email: user.Email}
}
