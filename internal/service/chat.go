package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lifesite/internal/fileserver"
	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/model"
	"github.com/lifesite/internal/repository"
	"github.com/lifesite/internal/ws"
)

// FeedStore — persistence общей ленты (repository.MessageRepository).
type FeedStore interface {
	Create(ctx context.Context, m *model.Message) error
	ListOrdered(ctx context.Context) ([]model.Message, error)
}

// UserStore — поиск пользователей для пушей и имён отправителей.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// AttachmentStore — хранилище вложений (fileserver.Service).
type AttachmentStore interface {
	Save(ctx context.Context, src io.Reader, origName string, size int64) (*fileserver.UploadResponse, error)
	Delete(fileURL string)
}

// Notifier — хаб подписок; после каждой успешной записи область получает
// свежий полный снапшот.
type Notifier interface {
	NotifyScope(ctx context.Context, scope ws.Scope)
}

// PushNotifier отправляет пуш-уведомления. Если nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// AttachmentUpload — входящее вложение из multipart-формы.
type AttachmentUpload struct {
	Reader   io.Reader
	FileName string
	Size     int64
}

// ChatService — пайплайн отправки сообщений для обеих поверхностей чата.
// Порядок строгий: валидация, затем вложение, затем запись; сообщение со
// ссылкой на незагруженный файл невозможно. Отправитель не получает
// локального отображения своего сообщения — следующий снапшот области
// и есть канонический результат.
type ChatService struct {
	feed    FeedStore
	threads *ThreadService
	users   UserStore
	files   AttachmentStore
	hub     Notifier
	push    PushNotifier
}

func NewChatService(
	feed FeedStore,
	threads *ThreadService,
	users UserStore,
	files AttachmentStore,
	hub Notifier,
	push PushNotifier,
) *ChatService {
	return &ChatService{feed: feed, threads: threads, users: users, files: files, hub: hub, push: push}
}

// SendToFeed добавляет сообщение в общую ленту.
func (s *ChatService) SendToFeed(ctx context.Context, sender model.Identity, text string, att *AttachmentUpload) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.SendToFeed", time.Now())()
	body, uploadedURL, err := s.buildBody(ctx, text, att)
	if err != nil {
		return nil, err
	}

	m := &model.Message{
		ID:         uuid.New().String(),
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Body:       body,
	}
	if err := s.feed.Create(ctx, m); err != nil {
		if uploadedURL != "" {
			s.files.Delete(uploadedURL)
		}
		return nil, fmt.Errorf("chat.SendToFeed: %w", err)
	}

	s.hub.NotifyScope(ctx, ws.ScopeFeed)
	return m, nil
}

// SendToThread добавляет сообщение в парный тред. Отправитель должен быть
// стороной треда (или владельцем сайта); получатель — вторая сторона.
func (s *ChatService) SendToThread(ctx context.Context, sender model.Identity, threadID string, text string, att *AttachmentUpload) (*model.ThreadMessage, error) {
	defer logger.DeferLogDuration("chat.SendToThread", time.Now())()
	if err := s.threads.Authorize(threadID, sender); err != nil {
		return nil, err
	}
	t, err := s.threads.store.GetByID(ctx, threadID)
	if errors.Is(err, repository.ErrNotFound) {
		// Тред ещё не материализован (ленивое создание): ключ детерминирован,
		// восстанавливаем пару из него.
		a, b, ok := model.ParseThreadID(threadID)
		if !ok {
			return nil, ErrNotParticipant
		}
		t = &model.Thread{ID: threadID, ParticipantA: a, ParticipantB: b}
		if err := s.threads.store.CreateIfAbsent(ctx, t); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	receiver := t.Counterpart(sender.Email)
	if receiver == "" {
		return nil, ErrNotParticipant
	}

	body, uploadedURL, err := s.buildBody(ctx, text, att)
	if err != nil {
		return nil, err
	}

	m := &model.ThreadMessage{
		ID:            uuid.New().String(),
		ThreadID:      threadID,
		SenderEmail:   sender.Email,
		ReceiverEmail: receiver,
		Body:          body,
	}
	if err := s.threads.store.CreateMessage(ctx, m); err != nil {
		if uploadedURL != "" {
			s.files.Delete(uploadedURL)
		}
		return nil, fmt.Errorf("chat.SendToThread: %w", err)
	}

	s.hub.NotifyScope(ctx, ws.ThreadScope(threadID))
	s.hub.NotifyScope(ctx, ws.ScopeThreads)
	s.notifyCounterpart(sender, receiver, m)
	return m, nil
}

// buildBody валидирует текст и (при наличии) сохраняет вложение.
// Возвращает URL сохранённого файла для отката при неудачной записи сообщения.
func (s *ChatService) buildBody(ctx context.Context, text string, att *AttachmentUpload) (model.MessageBody, string, error) {
	text = strings.TrimSpace(text)
	if att == nil {
		body, err := model.DecodeBody(text, "", "", "")
		return body, "", err
	}
	up, err := s.files.Save(ctx, att.Reader, att.FileName, att.Size)
	if err != nil {
		return model.MessageBody{}, "", err
	}
	body, err := model.DecodeBody(text, up.URL, up.ContentType, up.FileName)
	if err != nil {
		s.files.Delete(up.URL)
		return model.MessageBody{}, "", err
	}
	return body, up.URL, nil
}

func (s *ChatService) notifyCounterpart(sender model.Identity, receiver string, m *model.ThreadMessage) {
	if s.push == nil {
		return
	}
	user, err := s.users.GetByEmail(context.Background(), receiver)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("chat push: lookup %s: %v", receiver, err)
		}
		return
	}
	title := sender.Name
	if title == "" {
		title = sender.Email
	}
	body := m.Body.Text
	if body == "" {
		body = "Attachment"
	}
	// Обрезаем по рунам: срез байтов порвал бы кириллицу и emoji посередине.
	if runes := []rune(body); len(runes) > 120 {
		body = string(runes[:117]) + "..."
	}
	data := map[string]string{"thread_id": m.ThreadID, "message_id": m.ID}
	go s.push.Notify(context.Background(), user.ID, title, body, data)
}

// --- ws.SnapshotProvider ---

// Authorize решает, видна ли область подписчику: лента и список тредов
// доступны всем аутентифицированным, тред — только его сторонам и владельцу.
func (s *ChatService) Authorize(ctx context.Context, scope ws.Scope, viewer model.Identity) error {
	switch scope {
	case ws.ScopeFeed, ws.ScopeThreads:
		return nil
	}
	threadID, ok := scope.ThreadID()
	if !ok {
		return fmt.Errorf("chat.Authorize: unknown scope %q", scope)
	}
	if err := s.threads.Authorize(threadID, viewer); err != nil {
		return ws.ErrForbidden
	}
	return nil
}

// Snapshot отдаёт полный упорядоченный срез области. Для ScopeThreads срез
// персонализирован по viewer; остальные области одинаковы для всех.
func (s *ChatService) Snapshot(ctx context.Context, scope ws.Scope, viewer model.Identity) (any, error) {
	switch scope {
	case ws.ScopeFeed:
		return s.feed.ListOrdered(ctx)
	case ws.ScopeThreads:
		return s.threads.Visible(ctx, viewer)
	}
	threadID, ok := scope.ThreadID()
	if !ok {
		return nil, fmt.Errorf("chat.Snapshot: unknown scope %q", scope)
	}
	return s.threads.store.ListMessagesOrdered(ctx, threadID)
}
