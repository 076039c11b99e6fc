// Package redis — SessionOTPStore поверх Redis. Ключи: otp:{email},
// otp_limit:{email}, session_secret:{session_id}; TTL задаёт storage.Policy.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/lifesite/internal/storage"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	cli    *redis.Client
	policy storage.Policy
}

func New(ctx context.Context, url string, p storage.Policy) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, policy: p}, nil
}

func (c *Client) Close() error { return c.cli.Close() }

// SetOTP сохраняет код как есть: верификация сравнивает строку посимвольно,
// хеширование шестизначного кода от перебора не спасает, спасает rate limit.
func (c *Client) SetOTP(ctx context.Context, email, code string) error {
	return c.cli.Set(ctx, "otp:"+email, code, c.policy.CodeTTL).Err()
}

// GetOTP возвращает код; ключ не удаляется — удаление только после успешной верификации.
func (c *Client) GetOTP(ctx context.Context, email string) (string, error) {
	val, err := c.cli.Get(ctx, "otp:"+email).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) GetOTPTTL(ctx context.Context, email string) (time.Duration, error) {
	d, err := c.cli.TTL(ctx, "otp:"+email).Result()
	if err != nil || d < 0 {
		return 0, err
	}
	return d, nil
}

// DeleteOTP — одноразовое использование кода.
func (c *Client) DeleteOTP(ctx context.Context, email string) error {
	return c.cli.Del(ctx, "otp:"+email).Err()
}

// CheckRateLimit — INCR с TTL окна на первом запросе; лимит из Policy.
func (c *Client) CheckRateLimit(ctx context.Context, email string) (allowed bool, err error) {
	key := "otp_limit:" + email
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, c.policy.RequestWindow)
	}
	return n <= int64(c.policy.RequestsMax), nil
}

func (c *Client) SetSessionSecret(ctx context.Context, sessionID, secret string) error {
	return c.cli.Set(ctx, "session_secret:"+sessionID, secret, c.policy.SecretTTL).Err()
}

func (c *Client) GetSessionSecret(ctx context.Context, sessionID string) (string, error) {
	val, err := c.cli.Get(ctx, "session_secret:"+sessionID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteSessionSecret(ctx context.Context, sessionID string) error {
	return c.cli.Del(ctx, "session_secret:"+sessionID).Err()
}
