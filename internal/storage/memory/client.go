// Package memory — SessionOTPStore в памяти процесса. Используется в -dev
// и в тестах; все окна берутся из storage.Policy, не из своих констант.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lifesite/internal/storage"
)

type entry struct {
	val       string
	expiresAt time.Time
}

func (e entry) live(now time.Time) bool { return now.Before(e.expiresAt) }

type Client struct {
	policy storage.Policy

	mu       sync.Mutex
	codes    map[string]entry       // email -> код входа
	requests map[string][]time.Time // email -> моменты запросов кода
	secrets  map[string]entry       // session_id -> секрет
}

func New(p storage.Policy) *Client {
	return &Client{
		policy:   p,
		codes:    make(map[string]entry),
		requests: make(map[string][]time.Time),
		secrets:  make(map[string]entry),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetOTP(_ context.Context, email, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[email] = entry{val: code, expiresAt: time.Now().Add(c.policy.CodeTTL)}
	return nil
}

func (c *Client) GetOTP(_ context.Context, email string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.codes[email]
	if !ok || !e.live(time.Now()) {
		delete(c.codes, email)
		return "", nil
	}
	return e.val, nil
}

func (c *Client) GetOTPTTL(_ context.Context, email string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.codes[email]
	now := time.Now()
	if !ok || !e.live(now) {
		return 0, nil
	}
	return e.expiresAt.Sub(now), nil
}

func (c *Client) DeleteOTP(_ context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.codes, email)
	return nil
}

// CheckRateLimit пропускает не больше RequestsMax запросов кода на email
// за RequestWindow. Старые отметки вычищаются при каждой проверке.
func (c *Client) CheckRateLimit(_ context.Context, email string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-c.policy.RequestWindow)
	recent := c.requests[email][:0]
	for _, t := range c.requests[email] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= c.policy.RequestsMax {
		c.requests[email] = recent
		return false, nil
	}
	c.requests[email] = append(recent, now)
	return true, nil
}

func (c *Client) SetSessionSecret(_ context.Context, sessionID, secret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secrets[sessionID] = entry{val: secret, expiresAt: time.Now().Add(c.policy.SecretTTL)}
	return nil
}

func (c *Client) GetSessionSecret(_ context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.secrets[sessionID]
	if !ok || !e.live(time.Now()) {
		delete(c.secrets, sessionID)
		return "", nil
	}
	return e.val, nil
}

func (c *Client) DeleteSessionSecret(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.secrets, sessionID)
	return nil
}
