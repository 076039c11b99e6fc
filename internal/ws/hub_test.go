package ws

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lifesite/internal/model"
)

// fakeProvider отдаёт заранее заданные срезы по областям и считает обращения.
type fakeProvider struct {
	items     map[Scope][]string
	forbidden map[Scope]bool
	snapErr   map[Scope]error
	calls     map[Scope]int
	// perViewer включает персонализацию: к срезу добавляется email зрителя.
	perViewer bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		items:     make(map[Scope][]string),
		forbidden: make(map[Scope]bool),
		snapErr:   make(map[Scope]error),
		calls:     make(map[Scope]int),
	}
}

func (p *fakeProvider) Authorize(_ context.Context, scope Scope, _ model.Identity) error {
	if p.forbidden[scope] {
		return ErrForbidden
	}
	return nil
}

func (p *fakeProvider) Snapshot(_ context.Context, scope Scope, viewer model.Identity) (any, error) {
	p.calls[scope]++
	if err := p.snapErr[scope]; err != nil {
		return nil, err
	}
	items := append([]string(nil), p.items[scope]...)
	if p.perViewer && scope == ScopeThreads {
		items = append(items, "viewer:"+viewer.Email)
	}
	return items, nil
}

func newTestClient(hub *Hub, id, email string) *Client {
	return NewClient(hub, nil, model.Identity{ID: id, Email: email, Name: email})
}

func recvSnapshot(t *testing.T, c *Client) SnapshotPayload {
	t.Helper()
	select {
	case msg := <-c.send:
		if msg.Type != EventSnapshot {
			t.Fatalf("тип события = %q, ожидался %q", msg.Type, EventSnapshot)
		}
		p, ok := msg.Payload.(SnapshotPayload)
		if !ok {
			t.Fatalf("payload %T, ожидался SnapshotPayload", msg.Payload)
		}
		return p
	default:
		t.Fatal("снапшот не получен")
	}
	return SnapshotPayload{}
}

func TestSubscribeSendsFullSnapshot(t *testing.T) {
	provider := newFakeProvider()
	provider.items[ScopeFeed] = []string{"m1", "m2", "m3"}
	hub := NewHub(nil, 10)
	hub.SetProvider(provider)

	c := newTestClient(hub, "u1", "u1@example.com")
	if err := hub.Subscribe(context.Background(), c, ScopeFeed); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	p := recvSnapshot(t, c)
	if p.Scope != ScopeFeed {
		t.Errorf("scope = %q", p.Scope)
	}
	got := p.Items.([]string)
	if len(got) != 3 || got[0] != "m1" || got[2] != "m3" {
		t.Errorf("в снапшоте ожидался полный срез, получено %v", got)
	}
}

func TestNotifyScopeResendsFullSet(t *testing.T) {
	provider := newFakeProvider()
	provider.items[ScopeFeed] = []string{"m1"}
	hub := NewHub(nil, 10)
	hub.SetProvider(provider)

	c := newTestClient(hub, "u1", "u1@example.com")
	if err := hub.Subscribe(context.Background(), c, ScopeFeed); err != nil {
		t.Fatal(err)
	}
	recvSnapshot(t, c)

	// Запись в область: подписчик получает не дельту, а срез целиком.
	provider.items[ScopeFeed] = []string{"m1", "m2"}
	hub.NotifyScope(context.Background(), ScopeFeed)

	p := recvSnapshot(t, c)
	got := p.Items.([]string)
	if len(got) != 2 {
		t.Fatalf("после записи ожидался полный срез из 2 элементов, получено %v", got)
	}
}

func TestNotifyScopeSkipsNonSubscribers(t *testing.T) {
	provider := newFakeProvider()
	hub := NewHub(nil, 10)
	hub.SetProvider(provider)

	c := newTestClient(hub, "u1", "u1@example.com")
	hub.NotifyScope(context.Background(), ScopeFeed)
	if provider.calls[ScopeFeed] != 0 {
		t.Error("снапшот посчитан без единого подписчика")
	}
	select {
	case <-c.send:
		t.Error("неподписанный клиент получил событие")
	default:
	}
}

func TestThreadSubscriptionClosesPrevious(t *testing.T) {
	provider := newFakeProvider()
	hub := NewHub(nil, 10)
	hub.SetProvider(provider)

	c := newTestClient(hub, "u1", "u1@example.com")
	first := ThreadScope("a@x.com__u1@example.com")
	second := ThreadScope("b@y.com__u1@example.com")

	if err := hub.Subscribe(context.Background(), c, first); err != nil {
		t.Fatal(err)
	}
	recvSnapshot(t, c)
	if err := hub.Subscribe(context.Background(), c, second); err != nil {
		t.Fatal(err)
	}
	recvSnapshot(t, c)

	if n := hub.Subscribers(first); n != 0 {
		t.Errorf("старая thread-подписка не снята: %d подписчиков", n)
	}
	if n := hub.Subscribers(second); n != 1 {
		t.Errorf("новая thread-подписка не оформлена: %d подписчиков", n)
	}

	// Запись в старый тред не должна доходить до клиента.
	hub.NotifyScope(context.Background(), first)
	select {
	case msg := <-c.send:
		t.Errorf("получено событие старого треда: %+v", msg)
	default:
	}
}

func TestFeedSubscriptionSurvivesThreadSwitch(t *testing.T) {
	provider := newFakeProvider()
	hub := NewHub(nil, 10)
	hub.SetProvider(provider)

	c := newTestClient(hub, "u1", "u1@example.com")
	for _, scope := range []Scope{ScopeFeed, ScopeThreads, ThreadScope("a@x.com__u1@example.com")} {
		if err := hub.Subscribe(context.Background(), c, scope); err != nil {
			t.Fatal(err)
		}
		recvSnapshot(t, c)
	}
	if err := hub.Subscribe(context.Background(), c, ThreadScope("b@y.com__u1@example.com")); err != nil {
		t.Fatal(err)
	}
	recvSnapshot(t, c)

	if hub.Subscribers(ScopeFeed) != 1 || hub.Subscribers(ScopeThreads) != 1 {
		t.Error("переключение треда сняло подписки на ленту/список тредов")
	}
}

func TestSubscribeForbidden(t *testing.T) {
	provider := newFakeProvider()
	scope := ThreadScope("a@x.com__b@y.com")
	provider.forbidden[scope] = true
	hub := NewHub(nil, 10)
	hub.SetProvider(provider)

	c := newTestClient(hub, "u1", "stranger@z.com")
	if err := hub.Subscribe(context.Background(), c, scope); err != ErrForbidden {
		t.Fatalf("ожидался ErrForbidden, получено %v", err)
	}
	if hub.Subscribers(scope) != 0 {
		t.Error("запрещённая подписка оформлена")
	}
}

func TestSubscribeDroppedOnSnapshotError(t *testing.T) {
	provider := newFakeProvider()
	provider.snapErr[ScopeFeed] = errors.New("db down")
	hub := NewHub(nil, 10)
	hub.SetProvider(provider)

	c := newTestClient(hub, "u1", "u1@example.com")
	if err := hub.Subscribe(context.Background(), c, ScopeFeed); err == nil {
		t.Fatal("ошибка первого снапшота проглочена")
	}
	// Подписка снимается целиком: после ошибки область для клиента закрыта.
	if n := hub.Subscribers(ScopeFeed); n != 0 {
		t.Fatalf("после ошибки снапшота осталось %d подписчиков", n)
	}

	delete(provider.snapErr, ScopeFeed)
	provider.items[ScopeFeed] = []string{"m1"}
	hub.NotifyScope(context.Background(), ScopeFeed)
	select {
	case msg := <-c.send:
		t.Errorf("клиент без подписки получил событие: %+v", msg)
	default:
	}
}

func TestSubscribeUnknownScope(t *testing.T) {
	hub := NewHub(nil, 10)
	hub.SetProvider(newFakeProvider())
	c := newTestClient(hub, "u1", "u1@example.com")
	if err := hub.Subscribe(context.Background(), c, Scope("nonsense")); err == nil {
		t.Fatal("подписка на неизвестную область прошла")
	}
}

func TestThreadsSnapshotPersonalized(t *testing.T) {
	provider := newFakeProvider()
	provider.perViewer = true
	hub := NewHub(nil, 10)
	hub.SetProvider(provider)

	owner := newTestClient(hub, "u1", "owner@site.com")
	guest := newTestClient(hub, "u2", "guest@example.com")
	for _, c := range []*Client{owner, guest} {
		if err := hub.Subscribe(context.Background(), c, ScopeThreads); err != nil {
			t.Fatal(err)
		}
		recvSnapshot(t, c)
	}

	hub.NotifyScope(context.Background(), ScopeThreads)
	for _, tc := range []struct {
		c    *Client
		want string
	}{
		{owner, "viewer:owner@site.com"},
		{guest, "viewer:guest@example.com"},
	} {
		p := recvSnapshot(t, tc.c)
		items := p.Items.([]string)
		if len(items) != 1 || items[0] != tc.want {
			t.Errorf("срез не персонализирован: %v, ожидалось [%s]", items, tc.want)
		}
	}
}

func TestUnsubscribeStopsSnapshots(t *testing.T) {
	provider := newFakeProvider()
	hub := NewHub(nil, 10)
	hub.SetProvider(provider)

	c := newTestClient(hub, "u1", "u1@example.com")
	if err := hub.Subscribe(context.Background(), c, ScopeFeed); err != nil {
		t.Fatal(err)
	}
	recvSnapshot(t, c)
	hub.Unsubscribe(c, ScopeFeed)
	hub.NotifyScope(context.Background(), ScopeFeed)
	select {
	case <-c.send:
		t.Error("событие пришло после отписки")
	default:
	}
}

func TestScopeParsing(t *testing.T) {
	tests := []struct {
		scope  Scope
		valid  bool
		thread string
	}{
		{ScopeFeed, true, ""},
		{ScopeThreads, true, ""},
		{ThreadScope("a__b"), true, "a__b"},
		{Scope("thread:"), false, ""},
		{Scope("random"), false, ""},
		{Scope(""), false, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.scope), func(t *testing.T) {
			if got := tt.scope.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v", got)
			}
			id, ok := tt.scope.ThreadID()
			if (tt.thread != "") != ok || id != tt.thread {
				t.Errorf("ThreadID() = (%q, %v)", id, ok)
			}
		})
	}
}
