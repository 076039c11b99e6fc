package handler

import (
	"errors"
	"net/http"

	"github.com/lifesite/internal/fileserver"
	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/model"
	"github.com/lifesite/internal/repository"
	"github.com/lifesite/internal/service"
)

// FeedHandler — REST-поверхность общей ленты. Список отдаётся целиком и
// упорядоченно, как и снапшоты по WebSocket; live-обновления — через подписку.
type FeedHandler struct {
	feed       *repository.MessageRepository
	chatSvc    *service.ChatService
	users      *repository.UserRepository
	adminEmail string
	maxUpload  int64
}

func NewFeedHandler(
	feed *repository.MessageRepository,
	chatSvc *service.ChatService,
	users *repository.UserRepository,
	adminEmail string,
	maxUpload int64,
) *FeedHandler {
	return &FeedHandler{feed: feed, chatSvc: chatSvc, users: users, adminEmail: adminEmail, maxUpload: maxUpload}
}

// GetMessages возвращает полный упорядоченный список сообщений ленты.
func (h *FeedHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.feed.ListOrdered(r.Context())
	if err != nil {
		logger.Errorf("feed list: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// Send принимает multipart-форму: text (опционально) и file (опционально);
// хотя бы одно должно быть непустым.
func (h *FeedHandler) Send(w http.ResponseWriter, r *http.Request) {
	ident, ok := resolveIdentity(r.Context(), h.users, h.adminEmail)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	text, att, err := parseSendForm(w, r, h.maxUpload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	m, err := h.chatSvc.SendToFeed(r.Context(), ident, text, att)
	if err != nil {
		writeSendError(w, err, ident.ID)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// parseSendForm разбирает multipart-форму отправки сообщения.
// Вложение возвращается как поток — файл не буферизуется в памяти целиком.
func parseSendForm(w http.ResponseWriter, r *http.Request, maxUpload int64) (string, *service.AttachmentUpload, error) {
	// Запас поверх лимита вложения: поле text и multipart-обвязка.
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+64*1024)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return "", nil, err
	}
	text := r.FormValue("text")
	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return text, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return text, &service.AttachmentUpload{Reader: file, FileName: header.Filename, Size: header.Size}, nil
}

// writeSendError переводит ошибки пайплайна отправки в HTTP-ответы.
// Непредвиденные ошибки сворачиваются в единое уведомление о неудачной
// отправке — оно одинаково для ленты и тредов.
func writeSendError(w http.ResponseWriter, err error, userID string) {
	switch {
	case errors.Is(err, model.ErrEmptyBody):
		writeError(w, http.StatusBadRequest, "message must have text or an attachment")
	case errors.Is(err, fileserver.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "attachment exceeds the 5 MB limit")
	case errors.Is(err, fileserver.ErrBlockedType):
		writeError(w, http.StatusBadRequest, "file type not allowed")
	case errors.Is(err, service.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		logger.Errorf("send message user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to send message")
	}
}
