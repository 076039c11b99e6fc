package storage

import (
	"context"
	"time"
)

// Policy — временные окна входа по коду. Значения задаёт конфиг приложения
// (config.Load), реализации хранилища применяют их к TTL своих ключей.
type Policy struct {
	CodeTTL       time.Duration // жизнь кода из письма
	ResendWithin  time.Duration // остаток TTL, при котором переотправляется прежний код
	RequestsMax   int           // запросов кода на email за окно
	RequestWindow time.Duration
	SecretTTL     time.Duration // жизнь session_secret
}

// DefaultPolicy — значения для личного сайта: код живёт 5 минут,
// не больше 10 запросов кода за 10 минут, секрет сессии — 30 дней.
func DefaultPolicy() Policy {
	return Policy{
		CodeTTL:       5 * time.Minute,
		ResendWithin:  4 * time.Minute,
		RequestsMax:   10,
		RequestWindow: 10 * time.Minute,
		SecretTTL:     30 * 24 * time.Hour,
	}
}

// SessionOTPStore — хранилище кодов входа, rate limit и session_secret.
// Реализации: redis.Client, memory.Client и devstore.Client (для -dev без Redis).
type SessionOTPStore interface {
	SetOTP(ctx context.Context, email, code string) error
	GetOTP(ctx context.Context, email string) (string, error)
	GetOTPTTL(ctx context.Context, email string) (time.Duration, error)
	DeleteOTP(ctx context.Context, email string) error
	CheckRateLimit(ctx context.Context, email string) (allowed bool, err error)
	SetSessionSecret(ctx context.Context, sessionID, secret string) error
	GetSessionSecret(ctx context.Context, sessionID string) (string, error)
	DeleteSessionSecret(ctx context.Context, sessionID string) error
	Close() error
}
