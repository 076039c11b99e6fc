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

var ErrNotFound = errors.New("not found")

// userCols — список колонок для SELECT (порядок соответствует scanUser).
const userCols = `id, username, email, last_seen_at, is_online, created_at, disabled_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.Email, &u.LastSeenAt, &u.IsOnline, &u.CreatedAt, &u.DisabledAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, last_seen_at, is_online, created_at, disabled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.LastSeenAt, u.IsOnline, u.CreatedAt, u.DisabledAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id), u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByEmail", time.Now())()
	u := &model.User{}
	err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email), u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByUsername", time.Now())()
	u := &model.User{}
	err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE username = $1`, username), u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByUsername: %w", err)
	}
	return u, nil
}

// UpdateUsername меняет отображаемое имя — единственное редактируемое поле профиля;
// остальное принадлежит провайдеру идентичности.
func (r *UserRepository) UpdateUsername(ctx context.Context, id, username string) error {
	defer logger.DeferLogDuration("user.UpdateUsername", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET username = $1 WHERE id = $2`, username, id)
	if err != nil {
		return fmt.Errorf("userRepo.UpdateUsername: %w", err)
	}
	return nil
}

// SetOnline обновляет флаг присутствия и last_seen_at.
func (r *UserRepository) SetOnline(ctx context.Context, id string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1, last_seen_at = now() WHERE id = $2`, online, id)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// ResetOnline сбрасывает присутствие всем (вызывается при старте api после рестарта).
func (r *UserRepository) ResetOnline(ctx context.Context) error {
	defer logger.DeferLogDuration("user.ResetOnline", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false`)
	if err != nil {
		return fmt.Errorf("userRepo.ResetOnline: %w", err)
	}
	return nil
}
