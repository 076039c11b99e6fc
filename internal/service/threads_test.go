package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lifesite/internal/model"
)

const ownerEmail = "mohit@mohitpatel.life"

var (
	owner = model.Identity{ID: "u-owner", Email: ownerEmail, Name: "Mohit", Privileged: true}
	guest = model.Identity{ID: "u-guest", Email: "guest@example.com", Name: "Guest"}
)

func TestResolveGuestAlwaysReachesOwner(t *testing.T) {
	store := newMemThreadStore()
	svc := NewThreadService(store, ownerEmail)

	// Непривилегированный собеседника не выбирает, даже если прислал чужой email.
	th, err := svc.Resolve(context.Background(), guest, "other@example.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := model.ThreadID(guest.Email, ownerEmail)
	if th.ID != want {
		t.Errorf("id = %q, ожидалось %q", th.ID, want)
	}
	if !th.Contains(ownerEmail) {
		t.Error("владелец не сторона треда")
	}
}

func TestResolveIdempotent(t *testing.T) {
	store := newMemThreadStore()
	svc := NewThreadService(store, ownerEmail)

	first, err := svc.Resolve(context.Background(), guest, "")
	if err != nil {
		t.Fatal(err)
	}
	// Владелец открывает тот же диалог со своей стороны — тред тот же.
	second, err := svc.Resolve(context.Background(), owner, guest.Email)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("одна пара дала два треда: %q и %q", first.ID, second.ID)
	}
	if len(store.threads) != 1 {
		t.Errorf("в хранилище %d тредов, ожидался 1", len(store.threads))
	}
}

func TestResolveOwnerNeedsCounterpart(t *testing.T) {
	svc := NewThreadService(newMemThreadStore(), ownerEmail)
	if _, err := svc.Resolve(context.Background(), owner, ""); !errors.Is(err, ErrNoCounterpart) {
		t.Fatalf("ожидался ErrNoCounterpart, получено %v", err)
	}
	if _, err := svc.Resolve(context.Background(), owner, ownerEmail); err == nil {
		t.Fatal("тред с самим собой не отклонён")
	}
}

func TestAuthorize(t *testing.T) {
	svc := NewThreadService(newMemThreadStore(), ownerEmail)
	id := model.ThreadID(guest.Email, ownerEmail)

	if err := svc.Authorize(id, guest); err != nil {
		t.Errorf("участник отклонён: %v", err)
	}
	if err := svc.Authorize(id, owner); err != nil {
		t.Errorf("владелец отклонён: %v", err)
	}
	stranger := model.Identity{ID: "u3", Email: "stranger@z.com"}
	if err := svc.Authorize(id, stranger); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("посторонний допущен: %v", err)
	}
	// Тред может ещё не существовать — проверка идёт по ключу.
	other := model.Identity{ID: "u4", Email: "other@example.com"}
	if err := svc.Authorize(model.ThreadID(other.Email, ownerEmail), other); err != nil {
		t.Errorf("несуществующий тред участника отклонён: %v", err)
	}
	if err := svc.Authorize("garbage", guest); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("мусорный ключ допущен: %v", err)
	}
}

func TestAuthorizeGuestOnlyOwnerPair(t *testing.T) {
	svc := NewThreadService(newMemThreadStore(), ownerEmail)

	// Непривилегированному доступна ровно пара (он, владелец). Ключ с чужим
	// email не авторизуется, даже если гость — одна из его сторон.
	foreign := model.ThreadID(guest.Email, "victim@example.com")
	if err := svc.Authorize(foreign, guest); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("гостю доступна чужая пара: %v", err)
	}
	// Владельцу та же пара доступна.
	if err := svc.Authorize(foreign, owner); err != nil {
		t.Errorf("владелец отклонён: %v", err)
	}
}

func TestVisibleForGuest(t *testing.T) {
	store := newMemThreadStore()
	svc := NewThreadService(store, ownerEmail)
	if _, err := svc.Resolve(context.Background(), guest, ""); err != nil {
		t.Fatal(err)
	}
	other := model.Identity{ID: "u3", Email: "other@example.com"}
	if _, err := svc.Resolve(context.Background(), other, ""); err != nil {
		t.Fatal(err)
	}

	list, err := svc.Visible(context.Background(), guest)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("гость видит %d тредов, ожидался 1", len(list))
	}
	if list[0].Counterpart != ownerEmail {
		t.Errorf("counterpart = %q", list[0].Counterpart)
	}
}

func TestVisibleForOwnerDedupsByCounterpart(t *testing.T) {
	store := newMemThreadStore()
	svc := NewThreadService(store, ownerEmail)

	// Легаси-строки с дублирующейся парой (до детерминированного ключа).
	stale := &model.Thread{ID: "legacy-1", ParticipantA: guest.Email, ParticipantB: ownerEmail}
	if err := store.CreateIfAbsent(context.Background(), stale); err != nil {
		t.Fatal(err)
	}
	fresh, err := svc.Resolve(context.Background(), guest, "")
	if err != nil {
		t.Fatal(err)
	}
	other := model.Identity{ID: "u3", Email: "other@example.com"}
	if _, err := svc.Resolve(context.Background(), other, ""); err != nil {
		t.Fatal(err)
	}

	list, err := svc.Visible(context.Background(), owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("владелец видит %d тредов, ожидалось 2 (дубль пары схлопнут): %+v", len(list), list)
	}
	// Новые первыми, из дублей остаётся самый свежий.
	if list[1].ID != fresh.ID {
		t.Errorf("из дублей выжил %q, ожидался свежий %q", list[1].ID, fresh.ID)
	}
}

func TestMessagesRequiresMembership(t *testing.T) {
	store := newMemThreadStore()
	svc := NewThreadService(store, ownerEmail)
	id := model.ThreadID(guest.Email, ownerEmail)
	store.msgs[id] = []model.ThreadMessage{{ID: "m1", ThreadID: id}}

	stranger := model.Identity{ID: "u3", Email: "stranger@z.com"}
	if _, err := svc.Messages(context.Background(), id, stranger); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("посторонний прочитал тред: %v", err)
	}
	msgs, err := svc.Messages(context.Background(), id, guest)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("участник получил %d сообщений", len(msgs))
	}
}
