package service

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/lifesite/internal/fileserver"
	"github.com/lifesite/internal/model"
	"github.com/lifesite/internal/repository"
	"github.com/lifesite/internal/ws"
)

// memThreadStore — ThreadStore в памяти для тестов сервисного слоя.
type memThreadStore struct {
	mu        sync.Mutex
	threads   map[string]*model.Thread
	order     []string // порядок вставки, ListAll отдаёт новые первыми
	msgs      map[string][]model.ThreadMessage
	createErr error
	msgErr    error
}

func newMemThreadStore() *memThreadStore {
	return &memThreadStore{
		threads: make(map[string]*model.Thread),
		msgs:    make(map[string][]model.ThreadMessage),
	}
}

func (s *memThreadStore) CreateIfAbsent(_ context.Context, t *model.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.threads[t.ID]; ok {
		return nil
	}
	cp := *t
	s.threads[t.ID] = &cp
	s.order = append(s.order, t.ID)
	return nil
}

func (s *memThreadStore) GetByID(_ context.Context, id string) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("threadRepo.GetByID: %w", repository.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *memThreadStore) ListAll(_ context.Context) ([]model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Thread, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.threads[s.order[i]])
	}
	return out, nil
}

func (s *memThreadStore) ListByParticipant(_ context.Context, email string) ([]model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Thread
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.threads[s.order[i]]
		if t.Contains(email) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memThreadStore) CreateMessage(_ context.Context, m *model.ThreadMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgErr != nil {
		return s.msgErr
	}
	s.msgs[m.ThreadID] = append(s.msgs[m.ThreadID], *m)
	return nil
}

func (s *memThreadStore) ListMessagesOrdered(_ context.Context, threadID string) ([]model.ThreadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ThreadMessage(nil), s.msgs[threadID]...), nil
}

// memFeedStore — FeedStore в памяти.
type memFeedStore struct {
	mu        sync.Mutex
	msgs      []model.Message
	createErr error
}

func (s *memFeedStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.msgs = append(s.msgs, *m)
	return nil
}

func (s *memFeedStore) ListOrdered(_ context.Context) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.msgs...), nil
}

// memUserStore — UserStore в памяти (поиск по email для пушей).
type memUserStore struct {
	byEmail map[string]*model.User
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", repository.ErrNotFound)
	}
	return u, nil
}

// memFiles — AttachmentStore в памяти: учитывает лимит и фиксирует откаты.
type memFiles struct {
	mu      sync.Mutex
	limit   int64
	saved   []string
	deleted []string
	saveErr error
}

func (s *memFiles) Save(_ context.Context, src io.Reader, origName string, size int64) (*fileserver.UploadResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	if s.limit > 0 && size > s.limit {
		return nil, fileserver.ErrTooLarge
	}
	n, err := io.Copy(io.Discard, src)
	if err != nil {
		return nil, err
	}
	if s.limit > 0 && n > s.limit {
		return nil, fileserver.ErrTooLarge
	}
	url := "/api/files/" + origName
	s.saved = append(s.saved, url)
	return &fileserver.UploadResponse{URL: url, FileName: origName, FileSize: n, ContentType: "application/octet-stream"}, nil
}

func (s *memFiles) Delete(fileURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, fileURL)
}

// recordNotifier фиксирует области, в которые сервис разослал снапшоты.
type recordNotifier struct {
	mu     sync.Mutex
	scopes []ws.Scope
}

func (n *recordNotifier) NotifyScope(_ context.Context, scope ws.Scope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scopes = append(n.scopes, scope)
}

func (n *recordNotifier) notified(scope ws.Scope) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// recordPush перехватывает пуш-уведомления (Notify вызывается из горутины).
type recordPush struct {
	ch chan pushCall
}

type pushCall struct {
	userID string
	title  string
	body   string
	data   map[string]string
}

func newRecordPush() *recordPush {
	return &recordPush{ch: make(chan pushCall, 8)}
}

func (p *recordPush) Notify(_ context.Context, userID, title, body string, data map[string]string) {
	p.ch <- pushCall{userID: userID, title: title, body: body, data: data}
}
