package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/model"
)

// ErrNoCounterpart — тред невозможно адресовать (не задан собеседник).
var ErrNoCounterpart = errors.New("counterpart required")

// ErrNotParticipant — пользователь не сторона треда.
var ErrNotParticipant = errors.New("not a thread participant")

// ThreadStore — persistence-операции тредов (repository.ThreadRepository).
type ThreadStore interface {
	CreateIfAbsent(ctx context.Context, t *model.Thread) error
	GetByID(ctx context.Context, id string) (*model.Thread, error)
	ListAll(ctx context.Context) ([]model.Thread, error)
	ListByParticipant(ctx context.Context, email string) ([]model.Thread, error)
	CreateMessage(ctx context.Context, m *model.ThreadMessage) error
	ListMessagesOrdered(ctx context.Context, threadID string) ([]model.ThreadMessage, error)
}

// ThreadSummary — элемент списка тредов, видимого подписчику.
type ThreadSummary struct {
	ID          string    `json:"id"`
	Counterpart string    `json:"counterpart"`
	CreatedAt   time.Time `json:"created_at"`
}

// ThreadService отвечает за адресацию парных тредов.
// Обычный пользователь всегда разговаривает с владельцем сайта; владелец
// выбирает собеседника явно. Тред создаётся лениво при первом обращении.
type ThreadService struct {
	store      ThreadStore
	adminEmail string
}

func NewThreadService(store ThreadStore, adminEmail string) *ThreadService {
	return &ThreadService{store: store, adminEmail: strings.ToLower(adminEmail)}
}

// AdminEmail возвращает email владельца сайта.
func (s *ThreadService) AdminEmail() string { return s.adminEmail }

// Resolve возвращает тред для self и counterpart, создавая его при отсутствии.
// Для непривилегированного self counterpart игнорируется: его собеседник —
// всегда владелец сайта. Создание идемпотентно (INSERT ... ON CONFLICT DO
// NOTHING), одновременный первый вход с двух устройств даёт один тред.
func (s *ThreadService) Resolve(ctx context.Context, self model.Identity, counterpart string) (*model.Thread, error) {
	defer logger.DeferLogDuration("threads.Resolve", time.Now())()
	counterpart = strings.ToLower(strings.TrimSpace(counterpart))
	if !self.Privileged {
		counterpart = s.adminEmail
	}
	if counterpart == "" {
		return nil, ErrNoCounterpart
	}
	if counterpart == self.Email {
		return nil, fmt.Errorf("threads.Resolve: self-thread not allowed")
	}
	id := model.ThreadID(self.Email, counterpart)
	a, b, _ := model.ParseThreadID(id)
	t := &model.Thread{ID: id, ParticipantA: a, ParticipantB: b}
	if err := s.store.CreateIfAbsent(ctx, t); err != nil {
		return nil, err
	}
	// Перечитываем: при гонке created_at назначила выигравшая вставка.
	stored, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Authorize проверяет, что viewer — сторона треда или владелец сайта.
// Проверка работает по самому id (детерминированный ключ пары), тред
// может ещё не существовать в БД. Непривилегированному viewer доступен
// ровно один тред: пара (он, владелец сайта). Произвольная пара с чужим
// email не адресуется, иначе любой гость мог бы лениво создать тред
// от имени другого пользователя.
func (s *ThreadService) Authorize(threadID string, viewer model.Identity) error {
	if viewer.Privileged {
		return nil
	}
	a, b, ok := model.ParseThreadID(threadID)
	if !ok {
		return ErrNotParticipant
	}
	other := ""
	switch viewer.Email {
	case a:
		other = b
	case b:
		other = a
	default:
		return ErrNotParticipant
	}
	if other != s.adminEmail {
		return ErrNotParticipant
	}
	return nil
}

// Visible возвращает список тредов для viewer, новые первыми.
// Для владельца: все треды с дедупликацией по собеседнику — PK в БД
// исключает новые дубли, но строки, созданные до него, могли остаться;
// из дублей остаётся самый свежий. Для пользователя: только его треды.
func (s *ThreadService) Visible(ctx context.Context, viewer model.Identity) ([]ThreadSummary, error) {
	defer logger.DeferLogDuration("threads.Visible", time.Now())()
	var (
		threads []model.Thread
		err     error
	)
	if viewer.Privileged {
		threads, err = s.store.ListAll(ctx)
	} else {
		threads, err = s.store.ListByParticipant(ctx, viewer.Email)
	}
	if err != nil {
		return nil, err
	}

	out := make([]ThreadSummary, 0, len(threads))
	seen := make(map[string]struct{}, len(threads))
	for _, t := range threads {
		cp := t.Counterpart(viewer.Email)
		if cp == "" {
			// Владелец может не быть стороной чужой пары; показываем обе стороны.
			cp = t.ParticipantA + " / " + t.ParticipantB
		}
		if _, dup := seen[cp]; dup {
			continue
		}
		seen[cp] = struct{}{}
		out = append(out, ThreadSummary{ID: t.ID, Counterpart: cp, CreatedAt: t.CreatedAt})
	}
	return out, nil
}

// Messages возвращает полный упорядоченный список сообщений треда.
func (s *ThreadService) Messages(ctx context.Context, threadID string, viewer model.Identity) ([]model.ThreadMessage, error) {
	if err := s.Authorize(threadID, viewer); err != nil {
		return nil, err
	}
	return s.store.ListMessagesOrdered(ctx, threadID)
}
