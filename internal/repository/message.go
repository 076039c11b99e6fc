package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create записывает сообщение ленты. created_at назначает БД (now()) —
// это и есть "серверная" метка времени отправки; она возвращается в m.SentAt.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	text, url, mime, name := m.Body.Columns()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (id, sender_id, sender_name, body, attachment_url, attachment_type, attachment_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		m.ID, m.SenderID, m.SenderName, text, url, mime, name,
	).Scan(&m.SentAt)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

// ListOrdered возвращает полную ленту по возрастанию created_at — это снапшот,
// который хаб рассылает подписчикам scope "feed". Записи с пустым телом
// (ни текста, ни вложения) отбрасываются при декодировании.
func (r *MessageRepository) ListOrdered(ctx context.Context) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListOrdered", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, sender_id, sender_name, body, attachment_url, attachment_type, attachment_name, created_at
		 FROM messages
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListOrdered query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var (
			m                     model.Message
			text, url, mime, name string
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &text, &url, &mime, &name, &m.SentAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListOrdered scan: %w", err)
		}
		body, err := model.DecodeBody(text, url, mime, name)
		if err != nil {
			logger.Errorf("msgRepo.ListOrdered: skip malformed message id=%s: %v", m.ID, err)
			continue
		}
		m.Body = body
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListOrdered rows: %w", err)
	}
	return messages, nil
}
