package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/middleware"
	"github.com/lifesite/internal/repository"
)

// usernameRe — 2–32 символа: буквы, цифры, точка, дефис, подчёркивание, пробел.
var usernameRe = regexp.MustCompile(`^[\p{L}\p{N} ._-]{2,32}$`)

type UserHandler struct {
	users      *repository.UserRepository
	adminEmail string
}

func NewUserHandler(users *repository.UserRepository, adminEmail string) *UserHandler {
	return &UserHandler{users: users, adminEmail: adminEmail}
}

// GetMe возвращает профиль текущего пользователя вместе с его разрешённой
// личностью (имя для ленты и признак владельца сайта).
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"identity": user.Resolve(h.adminEmail),
	})
}

// UpdateUsername меняет отображаемое имя. Имя попадает в sender_name
// будущих сообщений; уже отправленные не переписываются.
func (h *UserHandler) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Username)
	if !usernameRe.MatchString(name) {
		writeError(w, http.StatusBadRequest, "Display name must be 2-32 characters")
		return
	}
	if err := h.users.UpdateUsername(r.Context(), userID, name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("update username user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to update the name")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "username": name})
}
