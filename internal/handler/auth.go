package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/middleware"
	"github.com/lifesite/internal/service"
)

type AuthHandler struct {
	signInSvc *service.SignInService
}

func NewAuthHandler(signInSvc *service.SignInService) *AuthHandler {
	return &AuthHandler{signInSvc: signInSvc}
}

func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	if h.signInSvc == nil {
		writeError(w, http.StatusNotImplemented, "auth service unavailable")
		return
	}
	var req service.RequestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	err := h.signInSvc.RequestCode(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrRateLimitExceeded) {
			writeError(w, http.StatusTooManyRequests, "Too many requests. Try again later.")
			return
		}
		if errors.Is(err, service.ErrInvalidEmail) {
			writeError(w, http.StatusBadRequest, "Invalid email address")
			return
		}
		logger.Errorf("request-code send failed for %s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "Failed to send the code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	if h.signInSvc == nil {
		writeError(w, http.StatusNotImplemented, "auth service unavailable")
		return
	}
	var req service.VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := h.signInSvc.VerifyCode(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidOTP) {
			writeError(w, http.StatusUnauthorized, "Invalid or expired code")
			return
		}
		if errors.Is(err, service.ErrUserDisabled) {
			writeError(w, http.StatusForbidden, "This account is disabled")
			return
		}
		logger.Errorf("verify-code error email=%s device_id=%s: %v", req.Email, req.DeviceID, err)
		msg := "Verification failed"
		if os.Getenv("APP_ENV") != "production" && os.Getenv("DEBUG") != "" {
			msg = msg + ": " + strings.ReplaceAll(err.Error(), "\n", " ")
		}
		writeError(w, http.StatusInternalServerError, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	if h.signInSvc == nil {
		writeError(w, http.StatusNotImplemented, "auth service unavailable")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.signInSvc.ListSessions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *AuthHandler) LogoutSession(w http.ResponseWriter, r *http.Request) {
	if h.signInSvc == nil {
		writeError(w, http.StatusNotImplemented, "auth service unavailable")
		return
	}
	userID := middleware.GetUserID(r.Context())
	sessionID := middleware.GetSessionID(r.Context())
	if userID == "" || sessionID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ok, err := h.signInSvc.LogoutSession(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sign-out failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) LogoutAllSessions(w http.ResponseWriter, r *http.Request) {
	if h.signInSvc == nil {
		writeError(w, http.StatusNotImplemented, "auth service unavailable")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	_, err := h.signInSvc.LogoutAllSessions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sign-out failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ValidateRequest struct {
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Body      string `json:"body"`
}

type ValidateResponse struct {
	UserID string `json:"user_id"`
}

func ValidateSession(signInSvc *service.SignInService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ValidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		userID, err := signInSvc.ValidateRequest(r.Context(), req.SessionID, req.Timestamp, req.Signature, req.Method, req.Path, req.Body)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeJSON(w, http.StatusOK, ValidateResponse{UserID: userID})
	}
}
