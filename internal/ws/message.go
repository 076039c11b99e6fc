package ws

import "strings"

type EventType string

const (
	// Входящие от клиента
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"

	// Исходящие к клиенту
	EventSnapshot    EventType = "snapshot"
	EventUserOnline  EventType = "user_online"
	EventUserOffline EventType = "user_offline"
	EventError       EventType = "error"
)

// Scope — область подписки. Подписка отдаёт полный упорядоченный срез данных
// области при открытии и после каждой записи в неё; дельты не отправляются.
type Scope string

const (
	// ScopeFeed — общая лента сообщений сайта.
	ScopeFeed Scope = "feed"
	// ScopeThreads — список личных тредов, видимых подписчику.
	ScopeThreads Scope = "threads"
	// threadScopePrefix + threadID — сообщения одного личного треда.
	threadScopePrefix = "thread:"
)

// ThreadScope возвращает scope сообщений конкретного треда.
func ThreadScope(threadID string) Scope {
	return Scope(threadScopePrefix + threadID)
}

// ThreadID возвращает id треда для scope вида thread:<id> и ok=false для остальных.
func (s Scope) ThreadID() (string, bool) {
	raw := string(s)
	if !strings.HasPrefix(raw, threadScopePrefix) {
		return "", false
	}
	id := raw[len(threadScopePrefix):]
	if id == "" {
		return "", false
	}
	return id, true
}

// Valid сообщает, имеет ли scope одну из известных форм.
func (s Scope) Valid() bool {
	if s == ScopeFeed || s == ScopeThreads {
		return true
	}
	_, ok := s.ThreadID()
	return ok
}

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type  EventType `json:"type"`
	Scope Scope     `json:"scope,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// SnapshotPayload carries the full ordered result set of a scope.
// Items — весь набор данных области, не дельта: клиент заменяет своё
// состояние целиком, поэтому гонки доставки не оставляют дыр.
type SnapshotPayload struct {
	Scope Scope `json:"scope"`
	Items any   `json:"items"`
}

// UserStatusPayload is broadcast to feed subscribers for online/offline status.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
