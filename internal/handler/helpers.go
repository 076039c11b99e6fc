package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/middleware"
	"github.com/lifesite/internal/model"
	"github.com/lifesite/internal/repository"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// resolveIdentity достаёт user_id из контекста (ставит auth-middleware)
// и резолвит полную идентичность: email, имя, привилегированность.
func resolveIdentity(ctx context.Context, users *repository.UserRepository, adminEmail string) (model.Identity, bool) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return model.Identity{}, false
	}
	u, err := users.GetByID(ctx, userID)
	if err != nil {
		logger.Errorf("resolveIdentity user=%s: %v", userID, err)
		return model.Identity{}, false
	}
	return u.Resolve(adminEmail), true
}
