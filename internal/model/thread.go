package model

import (
	"strings"
	"time"
)

// ThreadIDSeparator соединяет отсортированную пару участников в ключ треда.
const ThreadIDSeparator = "__"

// ThreadID — детерминированный ключ пары участников: email-ы сортируются
// лексикографически и соединяются через "__", поэтому ThreadID(a,b) == ThreadID(b,a)
// и на неупорядоченную пару существует не более одного треда (PK в БД).
func ThreadID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ThreadIDSeparator + b
}

// Thread — парный диалог. Участники хранятся как email-ы (ключ идентичности
// внешнего провайдера в исходной системе).
type Thread struct {
	ID           string    `json:"id"`
	ParticipantA string    `json:"participant_a"`
	ParticipantB string    `json:"participant_b"`
	CreatedAt    time.Time `json:"created_at"`
}

// Counterpart возвращает собеседника self в этом треде.
// Если self не участник, возвращается пустая строка.
func (t *Thread) Counterpart(self string) string {
	switch self {
	case t.ParticipantA:
		return t.ParticipantB
	case t.ParticipantB:
		return t.ParticipantA
	}
	return ""
}

// Contains сообщает, является ли email участником треда.
func (t *Thread) Contains(email string) bool {
	return email == t.ParticipantA || email == t.ParticipantB
}

// ParseThreadID разбирает ключ треда на пару участников (в отсортированном порядке).
func ParseThreadID(id string) (a, b string, ok bool) {
	idx := strings.Index(id, ThreadIDSeparator)
	if idx <= 0 || idx+len(ThreadIDSeparator) >= len(id) {
		return "", "", false
	}
	return id[:idx], id[idx+len(ThreadIDSeparator):], true
}

// ThreadMessage — сообщение внутри треда. Неизменяемо после создания.
// Стороны адресуются email-ами, как и сам тред.
type ThreadMessage struct {
	ID            string      `json:"id"`
	ThreadID      string      `json:"thread_id"`
	SenderEmail   string      `json:"sender_email"`
	ReceiverEmail string      `json:"receiver_email"`
	Body          MessageBody `json:"body"`
	SentAt        time.Time   `json:"sent_at"`
}
