package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/model"
)

type ThreadRepository struct {
	pool *pgxpool.Pool
}

func NewThreadRepository(pool *pgxpool.Pool) *ThreadRepository {
	return &ThreadRepository{pool: pool}
}

// CreateIfAbsent создаёт тред с детерминированным id. PRIMARY KEY + ON CONFLICT
// DO NOTHING закрывают гонку одновременного первого входа с двух устройств:
// вторая вставка тихо проигрывает, дубликат невозможен.
func (r *ThreadRepository) CreateIfAbsent(ctx context.Context, t *model.Thread) error {
	defer logger.DeferLogDuration("thread.CreateIfAbsent", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO threads (id, participant_a, participant_b)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.ParticipantA, t.ParticipantB,
	)
	if err != nil {
		return fmt.Errorf("threadRepo.CreateIfAbsent: %w", err)
	}
	return nil
}

func (r *ThreadRepository) GetByID(ctx context.Context, id string) (*model.Thread, error) {
	defer logger.DeferLogDuration("thread.GetByID", time.Now())()
	t := &model.Thread{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, participant_a, participant_b, created_at FROM threads WHERE id = $1`, id,
	).Scan(&t.ID, &t.ParticipantA, &t.ParticipantB, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("threadRepo.GetByID: %w", err)
	}
	return t, nil
}

// ListAll возвращает все треды, новые первыми (для привилегированного списка).
func (r *ThreadRepository) ListAll(ctx context.Context) ([]model.Thread, error) {
	defer logger.DeferLogDuration("thread.ListAll", time.Now())()
	return r.list(ctx,
		`SELECT id, participant_a, participant_b, created_at FROM threads ORDER BY created_at DESC`)
}

// ListByParticipant возвращает треды, где email — один из участников.
func (r *ThreadRepository) ListByParticipant(ctx context.Context, email string) ([]model.Thread, error) {
	defer logger.DeferLogDuration("thread.ListByParticipant", time.Now())()
	return r.list(ctx,
		`SELECT id, participant_a, participant_b, created_at FROM threads
		 WHERE participant_a = $1 OR participant_b = $1
		 ORDER BY created_at DESC`, email)
}

func (r *ThreadRepository) list(ctx context.Context, sql string, args ...any) ([]model.Thread, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.list query: %w", err)
	}
	defer rows.Close()

	threads := make([]model.Thread, 0, 16)
	for rows.Next() {
		var t model.Thread
		if err := rows.Scan(&t.ID, &t.ParticipantA, &t.ParticipantB, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("threadRepo.list scan: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("threadRepo.list rows: %w", err)
	}
	return threads, nil
}

// CreateMessage записывает сообщение треда; created_at назначает БД и возвращает в m.SentAt.
func (r *ThreadRepository) CreateMessage(ctx context.Context, m *model.ThreadMessage) error {
	defer logger.DeferLogDuration("thread.CreateMessage", time.Now())()
	text, url, mime, name := m.Body.Columns()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO thread_messages (id, thread_id, sender_email, receiver_email, body, attachment_url, attachment_type, attachment_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		m.ID, m.ThreadID, m.SenderEmail, m.ReceiverEmail, text, url, mime, name,
	).Scan(&m.SentAt)
	if err != nil {
		return fmt.Errorf("threadRepo.CreateMessage: %w", err)
	}
	return nil
}

// ListMessagesOrdered — полный упорядоченный набор сообщений треда (снапшот для scope "thread:<id>").
func (r *ThreadRepository) ListMessagesOrdered(ctx context.Context, threadID string) ([]model.ThreadMessage, error) {
	defer logger.DeferLogDuration("thread.ListMessagesOrdered", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, thread_id, sender_email, receiver_email, body, attachment_url, attachment_type, attachment_name, created_at
		 FROM thread_messages
		 WHERE thread_id = $1
		 ORDER BY created_at ASC`, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.ListMessagesOrdered query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.ThreadMessage, 0, 64)
	for rows.Next() {
		var (
			m                     model.ThreadMessage
			text, url, mime, name string
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderEmail, &m.ReceiverEmail, &text, &url, &mime, &name, &m.SentAt); err != nil {
			return nil, fmt.Errorf("threadRepo.ListMessagesOrdered scan: %w", err)
		}
		body, err := model.DecodeBody(text, url, mime, name)
		if err != nil {
			logger.Errorf("threadRepo.ListMessagesOrdered: skip malformed message id=%s: %v", m.ID, err)
			continue
		}
		m.Body = body
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("threadRepo.ListMessagesOrdered rows: %w", err)
	}
	return messages, nil
}
