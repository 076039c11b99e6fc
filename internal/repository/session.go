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

// SessionRepository — сессии устройств. Одна строка на (user_id, device_id);
// выход помечает сессию revoked_at, строка остаётся для истории.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Save вставляет сессию, а при повторном входе с того же устройства
// перезаписывает существующую строку (UNIQUE(user_id, device_id)) —
// прежняя сессия устройства при этом перестаёт действовать.
func (r *SessionRepository) Save(ctx context.Context, s *model.Session) error {
	defer logger.DeferLogDuration("session.Save", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, device_id, device_name, secret_hash, last_seen_at, created_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
		 ON CONFLICT (user_id, device_id) DO UPDATE SET
		   id = EXCLUDED.id,
		   device_name = EXCLUDED.device_name,
		   secret_hash = EXCLUDED.secret_hash,
		   last_seen_at = EXCLUDED.last_seen_at,
		   created_at = EXCLUDED.created_at,
		   revoked_at = NULL`,
		s.ID, s.UserID, s.DeviceID, s.DeviceName, s.SecretHash, s.LastSeenAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Save: %w", err)
	}
	return nil
}

// GetByID возвращает сессию только если она не отозвана.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	defer logger.DeferLogDuration("session.GetByID", time.Now())()
	s := &model.Session{}
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, device_id, device_name, secret_hash, last_seen_at, created_at, revoked_at
		 FROM sessions WHERE id = $1 AND revoked_at IS NULL`, id)
	err := row.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.DeviceName, &s.SecretHash, &s.LastSeenAt, &s.CreatedAt, &s.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", err)
	}
	return s, nil
}

// ListByUserID — активные сессии пользователя, свежие первыми.
func (r *SessionRepository) ListByUserID(ctx context.Context, userID string) ([]model.Session, error) {
	defer logger.DeferLogDuration("session.ListByUserID", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, device_id, device_name, last_seen_at, created_at, revoked_at
		 FROM sessions WHERE user_id = $1 AND revoked_at IS NULL ORDER BY last_seen_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListByUserID: %w", err)
	}
	defer rows.Close()
	var list []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.DeviceName, &s.LastSeenAt, &s.CreatedAt, &s.RevokedAt); err != nil {
			return nil, fmt.Errorf("sessionRepo.ListByUserID scan: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *SessionRepository) UpdateLastSeen(ctx context.Context, sessionID string, t time.Time) error {
	defer logger.DeferLogDuration("session.UpdateLastSeen", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_seen_at = $1 WHERE id = $2 AND revoked_at IS NULL`, t, sessionID)
	return err
}

// RevokeOne отзывает одну сессию пользователя. false — сессия не его или уже отозвана.
func (r *SessionRepository) RevokeOne(ctx context.Context, userID, sessionID string) (bool, error) {
	defer logger.DeferLogDuration("session.RevokeOne", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND id = $2 AND revoked_at IS NULL`,
		userID, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAll отзывает все сессии пользователя и возвращает их id —
// вызывающий код чистит по ним секреты в store.
func (r *SessionRepository) RevokeAll(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("session.RevokeAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE sessions SET revoked_at = NOW()
		 WHERE user_id = $1 AND revoked_at IS NULL
		 RETURNING id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.RevokeAll: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sessionRepo.RevokeAll scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete стирает строку сессии. Используется как откат, когда секрет
// не удалось сохранить в store.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	defer logger.DeferLogDuration("session.Delete", time.Now())()
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	return err
}

// SetSessionSecret сохраняет session_secret в БД (режим -dev вместо Redis).
func (r *SessionRepository) SetSessionSecret(ctx context.Context, sessionID, secret string) error {
	defer logger.DeferLogDuration("session.SetSessionSecret", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET session_secret = $1 WHERE id = $2 AND revoked_at IS NULL`, secret, sessionID)
	return err
}

// GetSessionSecret возвращает session_secret (пусто если NULL или сессии нет).
func (r *SessionRepository) GetSessionSecret(ctx context.Context, sessionID string) (string, error) {
	defer logger.DeferLogDuration("session.GetSessionSecret", time.Now())()
	var secret *string
	err := r.pool.QueryRow(ctx, `SELECT session_secret FROM sessions WHERE id = $1 AND revoked_at IS NULL`, sessionID).Scan(&secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	if secret == nil {
		return "", nil
	}
	return *secret, nil
}

// ClearSessionSecret обнуляет session_secret при выходе (режим -dev).
func (r *SessionRepository) ClearSessionSecret(ctx context.Context, sessionID string) error {
	defer logger.DeferLogDuration("session.ClearSessionSecret", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET session_secret = NULL WHERE id = $1`, sessionID)
	return err
}
