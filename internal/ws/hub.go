package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/model"
)

// ErrForbidden возвращается провайдером, когда подписчику не положена область.
var ErrForbidden = errors.New("forbidden")

// SnapshotProvider отдаёт хабу полные срезы областей и решает, кому какая
// область видна. Реализуется сервисным слоем; хаб о домене ничего не знает.
type SnapshotProvider interface {
	Authorize(ctx context.Context, scope Scope, viewer model.Identity) error
	Snapshot(ctx context.Context, scope Scope, viewer model.Identity) (any, error)
}

// PresenceStore фиксирует онлайн-статус в БД (user.SetOnline).
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// Hub владеет всеми WebSocket-подключениями и подписками на области.
// Подписка — не поток дельт: при открытии и после каждой записи в область
// подписчик получает полный упорядоченный срез (EventSnapshot).
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	subs     map[Scope]map[*Client]struct{}
	bySub    map[*Client]map[Scope]struct{}
	total    int
	maxConns int

	provider SnapshotProvider
	presence PresenceStore

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(presence PresenceStore, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		subs:       make(map[Scope]map[*Client]struct{}),
		bySub:      make(map[*Client]map[Scope]struct{}),
		maxConns:   maxConns,
		presence:   presence,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// SetProvider задаёт источник снапшотов. Вызывается один раз при старте,
// до первого подключения (сервисы создаются после хаба — им нужен он сам).
func (h *Hub) SetProvider(p SnapshotProvider) { h.provider = p }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.subs = make(map[Scope]map[*Client]struct{})
	h.bySub = make(map[*Client]map[Scope]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	userID := c.identity.ID
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, userID)
		c.Close()
		return
	}
	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if h.presence != nil {
		if err := h.presence.SetOnline(ctx, userID, true); err != nil {
			logger.Errorf("ws set online user=%s: %v", userID, err)
		}
	}
	h.broadcastUserStatus(userID, true)
}

func (h *Hub) removeClient(c *Client) {
	userID := c.identity.ID
	h.mu.Lock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, userID)
	}
	h.dropAllSubsLocked(c)
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if h.presence != nil {
			if err := h.presence.SetOnline(ctx, userID, false); err != nil {
				logger.Errorf("ws set offline user=%s: %v", userID, err)
			}
		}
		h.broadcastUserStatus(userID, false)
	}
}

func (h *Hub) dropAllSubsLocked(c *Client) {
	for scope := range h.bySub[c] {
		delete(h.subs[scope], c)
		if len(h.subs[scope]) == 0 {
			delete(h.subs, scope)
		}
	}
	delete(h.bySub, c)
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSubscribe:
		h.handleSubscribe(ctx, c, msg.Scope)
	case EventUnsubscribe:
		h.Unsubscribe(c, msg.Scope)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, scope Scope) {
	if err := h.Subscribe(ctx, c, scope); err != nil {
		switch {
		case errors.Is(err, ErrForbidden):
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "forbidden"})
		case !scope.Valid():
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown scope"})
		default:
			logger.Errorf("ws subscribe scope=%s user=%s: %v", scope, c.identity.ID, err)
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to load messages"})
		}
	}
}

// Subscribe оформляет подписку и сразу отправляет полный снапшот области.
// Подписка на thread:<X> сперва снимает любую прежнюю thread:*-подписку
// клиента: старый слушатель закрывается до открытия нового, устаревшие
// снапшоты чужого треда не приходят. Повторная подписка на ту же область
// идемпотентна — клиент просто получает свежий снапшот ещё раз.
func (h *Hub) Subscribe(ctx context.Context, c *Client, scope Scope) error {
	defer logger.DeferLogDuration("ws.Subscribe", time.Now())()
	if !scope.Valid() {
		return errors.New("unknown scope")
	}
	if err := h.provider.Authorize(ctx, scope, c.identity); err != nil {
		return err
	}

	h.mu.Lock()
	if _, isThread := scope.ThreadID(); isThread {
		for old := range h.bySub[c] {
			if _, ok := old.ThreadID(); ok && old != scope {
				delete(h.subs[old], c)
				if len(h.subs[old]) == 0 {
					delete(h.subs, old)
				}
				delete(h.bySub[c], old)
			}
		}
	}
	if _, ok := h.subs[scope]; !ok {
		h.subs[scope] = make(map[*Client]struct{})
	}
	h.subs[scope][c] = struct{}{}
	if _, ok := h.bySub[c]; !ok {
		h.bySub[c] = make(map[Scope]struct{})
	}
	h.bySub[c][scope] = struct{}{}
	h.mu.Unlock()

	items, err := h.provider.Snapshot(ctx, scope, c.identity)
	if err != nil {
		// Первый срез не загрузился: подписка снимается целиком, иначе
		// клиент после ошибки продолжал бы получать снапшоты области.
		// Переподписка — дело клиента.
		h.Unsubscribe(c, scope)
		return err
	}
	h.sendToClient(c, OutgoingMessage{Type: EventSnapshot, Payload: SnapshotPayload{Scope: scope, Items: items}})
	return nil
}

// Unsubscribe снимает подписку клиента на область.
func (h *Hub) Unsubscribe(c *Client, scope Scope) {
	h.mu.Lock()
	if set, ok := h.subs[scope]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, scope)
		}
	}
	if set, ok := h.bySub[c]; ok {
		delete(set, scope)
	}
	h.mu.Unlock()
}

// NotifyScope вызывается сервисами после успешной записи в область:
// каждому подписчику заново отдаётся полный срез. Снапшот считается
// per-подписчик — область threads персонализирована по viewer.
func (h *Hub) NotifyScope(ctx context.Context, scope Scope) {
	defer logger.DeferLogDuration("ws.NotifyScope "+string(scope), time.Now())()

	h.mu.RLock()
	set, ok := h.subs[scope]
	if !ok || len(set) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	// Области feed и thread:<id> одинаковы для всех подписчиков — один запрос.
	if scope != ScopeThreads {
		items, err := h.provider.Snapshot(ctx, scope, model.Identity{})
		if err != nil {
			logger.Errorf("ws notify scope=%s: %v", scope, err)
			return
		}
		out := OutgoingMessage{Type: EventSnapshot, Payload: SnapshotPayload{Scope: scope, Items: items}}
		for _, c := range targets {
			h.sendToClient(c, out)
		}
		return
	}

	for _, c := range targets {
		items, err := h.provider.Snapshot(ctx, scope, c.identity)
		if err != nil {
			logger.Errorf("ws notify scope=%s user=%s: %v", scope, c.identity.ID, err)
			continue
		}
		h.sendToClient(c, OutgoingMessage{Type: EventSnapshot, Payload: SnapshotPayload{Scope: scope, Items: items}})
	}
}

// Subscribers возвращает число подписчиков области (для логов и тестов).
func (h *Hub) Subscribers(scope Scope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scope])
}

func (h *Hub) broadcastUserStatus(userID string, online bool) {
	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}
	out := OutgoingMessage{
		Type:    evType,
		Payload: UserStatusPayload{UserID: userID, Online: online},
	}

	// Статусы видны в общей ленте — рассылаем её подписчикам.
	h.mu.RLock()
	set := h.subs[ScopeFeed]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.identity.ID == userID {
			continue
		}
		h.sendToClient(c, out)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.identity.ID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
