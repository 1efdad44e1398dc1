package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/domain"
	"github.com/Clark-Hu/bitebox/internal/repository"
	"github.com/Clark-Hu/bitebox/internal/session"
)

const maxDisplayName = 80

type profileRequest struct {
	DisplayName string  `json:"displayName"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatarUrl"`
}

type profileResponse struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Bio         *string   `json:"bio,omitempty"`
	AvatarURL   *string   `json:"avatarUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	if s.profiles != nil {
		cached, ok, err := s.profiles.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			s.respondJSON(w, http.StatusOK, toProfileResponse(cached))
			return
		}
	}

	profile, err := s.repo.Profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to fetch profile", err)
		return
	}
	s.cacheProfile(r, profile)
	s.respondJSON(w, http.StatusOK, toProfileResponse(profile))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := session.UserFromContext(r.Context())

	var req profileRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayName {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "displayName must be 1-80 characters")
		return
	}

	profile, err := s.repo.Profiles.Upsert(r.Context(), repository.ProfileUpsertParams{
		UserID:      user.ID,
		DisplayName: name,
		Bio:         normalizeStringPtr(req.Bio),
		AvatarURL:   normalizeStringPtr(req.AvatarURL),
	})
	if err != nil {
		s.respondInternal(w, "Failed to update profile", err)
		return
	}
	s.cacheProfile(r, profile)
	s.respondJSON(w, http.StatusOK, toProfileResponse(profile))
}

func (s *Server) cacheProfile(r *http.Request, profile domain.Profile) {
	if s.profiles == nil {
		return
	}
	if err := s.profiles.Set(r.Context(), profile); err != nil {
		s.logger.Warn("profile cache write failed", zap.String("user_id", profile.UserID), zap.Error(err))
	}
}

func toProfileResponse(profile domain.Profile) profileResponse {
	return profileResponse{
		UserID:      profile.UserID,
		DisplayName: profile.DisplayName,
		Bio:         profile.Bio,
		AvatarURL:   profile.AvatarURL,
		UpdatedAt:   profile.UpdatedAt,
	}
}
