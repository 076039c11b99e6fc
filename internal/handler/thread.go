package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/repository"
	"github.com/lifesite/internal/service"
)

// ThreadHandler — REST-поверхность двусторонних тредов.
type ThreadHandler struct {
	threads    *service.ThreadService
	chatSvc    *service.ChatService
	users      *repository.UserRepository
	adminEmail string
	maxUpload  int64
}

func NewThreadHandler(
	threads *service.ThreadService,
	chatSvc *service.ChatService,
	users *repository.UserRepository,
	adminEmail string,
	maxUpload int64,
) *ThreadHandler {
	return &ThreadHandler{threads: threads, chatSvc: chatSvc, users: users, adminEmail: adminEmail, maxUpload: maxUpload}
}

// List возвращает видимые пользователю треды: обычному — его собственный,
// привилегированному — по одному на каждого собеседника.
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := resolveIdentity(r.Context(), h.users, h.adminEmail)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	summaries, err := h.threads.Visible(r.Context(), ident)
	if err != nil {
		logger.Errorf("threads list user=%s: %v", ident.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to load threads")
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// Resolve находит или создаёт тред с собеседником. Для обычного пользователя
// поле counterpart игнорируется — его тред всегда ведёт к владельцу сайта.
func (h *ThreadHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ident, ok := resolveIdentity(r.Context(), h.users, h.adminEmail)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Counterpart string `json:"counterpart"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := h.threads.Resolve(r.Context(), ident, req.Counterpart)
	if err != nil {
		if errors.Is(err, service.ErrNoCounterpart) {
			writeError(w, http.StatusBadRequest, "counterpart required")
			return
		}
		logger.Errorf("thread resolve user=%s: %v", ident.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to open thread")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetMessages возвращает полный упорядоченный список сообщений треда.
func (h *ThreadHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	ident, ok := resolveIdentity(r.Context(), h.users, h.adminEmail)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	threadID := chi.URLParam(r, "threadID")
	messages, err := h.threads.Messages(r.Context(), threadID, ident)
	if err != nil {
		if errors.Is(err, service.ErrNotParticipant) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		logger.Errorf("thread messages user=%s thread=%s: %v", ident.ID, threadID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// Send публикует сообщение в тред. Форма та же, что и в ленте.
func (h *ThreadHandler) Send(w http.ResponseWriter, r *http.Request) {
	ident, ok := resolveIdentity(r.Context(), h.users, h.adminEmail)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	threadID := chi.URLParam(r, "threadID")
	text, att, err := parseSendForm(w, r, h.maxUpload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	m, err := h.chatSvc.SendToThread(r.Context(), ident, threadID, text, att)
	if err != nil {
		writeSendError(w, err, ident.ID)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
