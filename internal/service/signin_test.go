package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lifesite/internal/model"
	"github.com/lifesite/internal/repository"
	"github.com/lifesite/internal/storage"
	"github.com/lifesite/internal/storage/memory"
)

type fakeAccounts struct {
	mu    sync.Mutex
	users map[string]*model.User // по id
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{users: make(map[string]*model.User)}
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccounts) GetByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeAccounts) GetByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccounts) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

type fakeSessions struct {
	mu   sync.Mutex
	byID map[string]*model.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: make(map[string]*model.Session)}
}

func (f *fakeSessions) Save(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, old := range f.byID {
		if old.UserID == s.UserID && old.DeviceID == s.DeviceID {
			delete(f.byID, id)
		}
	}
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) ListByUserID(_ context.Context, userID string) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []model.Session
	for _, s := range f.byID {
		if s.UserID == userID {
			list = append(list, *s)
		}
	}
	return list, nil
}

func (f *fakeSessions) UpdateLastSeen(_ context.Context, sessionID string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byID[sessionID]; ok {
		s.LastSeenAt = t
	}
	return nil
}

func (f *fakeSessions) RevokeOne(_ context.Context, userID, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[sessionID]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(f.byID, sessionID)
	return true, nil
}

func (f *fakeSessions) RevokeAll(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, s := range f.byID {
		if s.UserID == userID {
			ids = append(ids, id)
			delete(f.byID, id)
		}
	}
	return ids, nil
}

func (f *fakeSessions) Delete(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, sessionID)
	return nil
}

type fakeMailer struct {
	mu    sync.Mutex
	codes []string
}

func (f *fakeMailer) SendOTP(_ context.Context, _, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeMailer) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.codes) == 0 {
		return ""
	}
	return f.codes[len(f.codes)-1]
}

// brokenSecretStore роняет сохранение session_secret поверх обычного хранилища.
type brokenSecretStore struct {
	storage.SessionOTPStore
}

func (b *brokenSecretStore) SetSessionSecret(context.Context, string, string) error {
	return errors.New("store down")
}

func newSignInFixture() (*SignInService, *fakeAccounts, *fakeSessions, storage.SessionOTPStore, *fakeMailer) {
	accounts := newFakeAccounts()
	sessions := newFakeSessions()
	store := memory.New(storage.DefaultPolicy())
	mailer := &fakeMailer{}
	svc := NewSignInService(accounts, sessions, store, mailer, storage.DefaultPolicy())
	return svc, accounts, sessions, store, mailer
}

func TestRequestCodeResendsFreshCode(t *testing.T) {
	svc, _, _, _, mailer := newSignInFixture()
	ctx := context.Background()

	req := RequestCodeRequest{Email: "Guest@Example.com", DeviceID: "d1"}
	if err := svc.RequestCode(ctx, req); err != nil {
		t.Fatalf("первый запрос кода: %v", err)
	}
	if err := svc.RequestCode(ctx, req); err != nil {
		t.Fatalf("повторный запрос кода: %v", err)
	}
	if len(mailer.codes) != 2 {
		t.Fatalf("ожидалось 2 письма, отправлено %d", len(mailer.codes))
	}
	if mailer.codes[0] != mailer.codes[1] {
		t.Errorf("свежий код должен переотправляться как есть: %q != %q", mailer.codes[0], mailer.codes[1])
	}
}

func TestRequestCodeRejectsBadEmail(t *testing.T) {
	svc, _, _, _, _ := newSignInFixture()
	if err := svc.RequestCode(context.Background(), RequestCodeRequest{Email: "not-an-email"}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("ожидался ErrInvalidEmail, получено %v", err)
	}
}

func TestVerifyCodeMintsSessionAndBurnsCode(t *testing.T) {
	svc, accounts, sessions, store, mailer := newSignInFixture()
	ctx := context.Background()

	if err := svc.RequestCode(ctx, RequestCodeRequest{Email: "guest@example.com", DeviceID: "d1"}); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	code := mailer.last()
	resp, err := svc.VerifyCode(ctx, VerifyCodeRequest{Email: "guest@example.com", Code: " " + code + " ", DeviceID: "d1", DeviceName: "phone"})
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !resp.IsNewUser {
		t.Error("первый вход должен создавать пользователя")
	}
	if u, err := accounts.GetByEmail(ctx, "guest@example.com"); err != nil || u.Username != "guest" {
		t.Errorf("пользователь не создан или username неверный: %+v, %v", u, err)
	}
	sess, err := sessions.GetByID(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("сессия не сохранена: %v", err)
	}
	secret, err := base64.StdEncoding.DecodeString(resp.SessionSecret)
	if err != nil || len(secret) != 32 {
		t.Fatalf("секрет не base64 из 32 байт: %v", err)
	}
	h := sha256.Sum256(secret)
	if sess.SecretHash != hex.EncodeToString(h[:]) {
		t.Error("в сессии должен лежать SHA-256 секрета")
	}
	if got, _ := store.GetSessionSecret(ctx, resp.SessionID); got != resp.SessionSecret {
		t.Error("секрет не попал в store")
	}

	// Код одноразовый.
	if _, err := svc.VerifyCode(ctx, VerifyCodeRequest{Email: "guest@example.com", Code: code, DeviceID: "d2"}); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("повторное использование кода: ожидался ErrInvalidOTP, получено %v", err)
	}
}

func TestVerifyCodeRollsBackSessionOnSecretFailure(t *testing.T) {
	accounts := newFakeAccounts()
	sessions := newFakeSessions()
	mem := memory.New(storage.DefaultPolicy())
	mailer := &fakeMailer{}
	svc := NewSignInService(accounts, sessions, &brokenSecretStore{SessionOTPStore: mem}, mailer, storage.DefaultPolicy())
	ctx := context.Background()

	if err := svc.RequestCode(ctx, RequestCodeRequest{Email: "guest@example.com", DeviceID: "d1"}); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if _, err := svc.VerifyCode(ctx, VerifyCodeRequest{Email: "guest@example.com", Code: mailer.last(), DeviceID: "d1"}); err == nil {
		t.Fatal("ожидалась ошибка сохранения секрета")
	}
	if len(sessions.byID) != 0 {
		t.Fatalf("сессия должна быть удалена при откате, осталось %d", len(sessions.byID))
	}
}

func TestValidateRequestSignature(t *testing.T) {
	svc, _, _, _, mailer := newSignInFixture()
	ctx := context.Background()

	if err := svc.RequestCode(ctx, RequestCodeRequest{Email: "guest@example.com", DeviceID: "d1"}); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	resp, err := svc.VerifyCode(ctx, VerifyCodeRequest{Email: "guest@example.com", Code: mailer.last(), DeviceID: "d1"})
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	secret, _ := base64.StdEncoding.DecodeString(resp.SessionSecret)

	sign := func(method, path, body, ts string) string {
		mac := hmac.New(sha256.New, secret)
		mac.Write([]byte(method + path + body + ts))
		return hex.EncodeToString(mac.Sum(nil))
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	userID, err := svc.ValidateRequest(ctx, resp.SessionID, ts, sign("POST", "/api/chat/messages", `{"text":"hi"}`, ts), "POST", "/api/chat/messages", `{"text":"hi"}`)
	if err != nil {
		t.Fatalf("валидная подпись отклонена: %v", err)
	}
	if userID == "" {
		t.Fatal("ValidateRequest должен возвращать user_id")
	}

	if _, err := svc.ValidateRequest(ctx, resp.SessionID, ts, sign("POST", "/chat/messages", "", ts), "POST", "/api/chat/messages", ""); err == nil {
		t.Error("подпись по чужому path должна отклоняться")
	}
	stale := strconv.FormatInt(time.Now().Add(-2*time.Minute).Unix(), 10)
	if _, err := svc.ValidateRequest(ctx, resp.SessionID, stale, sign("GET", "/api/chat/messages", "", stale), "GET", "/api/chat/messages", ""); err == nil {
		t.Error("устаревший timestamp должен отклоняться")
	}
}

func TestLogoutAllSessionsClearsSecrets(t *testing.T) {
	svc, _, sessions, store, mailer := newSignInFixture()
	ctx := context.Background()

	var ids []string
	for _, dev := range []string{"d1", "d2"} {
		if err := svc.RequestCode(ctx, RequestCodeRequest{Email: "guest@example.com", DeviceID: dev}); err != nil {
			t.Fatalf("RequestCode %s: %v", dev, err)
		}
		resp, err := svc.VerifyCode(ctx, VerifyCodeRequest{Email: "guest@example.com", Code: mailer.last(), DeviceID: dev})
		if err != nil {
			t.Fatalf("VerifyCode %s: %v", dev, err)
		}
		ids = append(ids, resp.SessionID)
	}
	sess, err := sessions.GetByID(ctx, ids[0])
	if err != nil {
		t.Fatalf("сессия %s: %v", ids[0], err)
	}
	n, err := svc.LogoutAllSessions(ctx, sess.UserID)
	if err != nil {
		t.Fatalf("LogoutAllSessions: %v", err)
	}
	if n != 2 {
		t.Fatalf("ожидалось 2 отозванных сессии, получено %d", n)
	}
	for _, id := range ids {
		if secret, _ := store.GetSessionSecret(ctx, id); secret != "" {
			t.Errorf("секрет сессии %s не удалён из store", id)
		}
	}
}
