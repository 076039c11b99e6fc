package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/model"
	"github.com/lifesite/internal/repository"
	"github.com/lifesite/internal/storage"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidOTP        = errors.New("invalid or expired code")
	ErrInvalidEmail      = errors.New("invalid email format")
	ErrUserDisabled      = errors.New("user disabled")
)

// Подпись действительна в окне ±30 сек от часов сервера.
const signatureSkew = 30 * time.Second

const otpLength = 6

// AccountStore — пользователи (repository.UserRepository).
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
}

// SessionStore — сессии устройств (repository.SessionRepository).
type SessionStore interface {
	Save(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	ListByUserID(ctx context.Context, userID string) ([]model.Session, error)
	UpdateLastSeen(ctx context.Context, sessionID string, t time.Time) error
	RevokeOne(ctx context.Context, userID, sessionID string) (bool, error)
	RevokeAll(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
}

// OTPMailer отправляет код входа на почту (email.Sender).
type OTPMailer interface {
	SendOTP(ctx context.Context, to, code string) error
}

// SignInService — вход по одноразовому коду на email и HMAC-сессии.
type SignInService struct {
	users    AccountStore
	sessions SessionStore
	store    storage.SessionOTPStore
	mailer   OTPMailer
	policy   storage.Policy
}

func NewSignInService(users AccountStore, sessions SessionStore, store storage.SessionOTPStore, mailer OTPMailer, p storage.Policy) *SignInService {
	return &SignInService{users: users, sessions: sessions, store: store, mailer: mailer, policy: p}
}

type RequestCodeRequest struct {
	Email      string `json:"email"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// Валидация email: допустимый формат (упрощённый, без полного RFC).
var emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func normalizeEmail(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// onlyDigits оставляет в строке только цифры — вставка кода из письма
// приносит пробелы и невидимые символы.
func onlyDigits(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b = append(b, s[i])
		}
	}
	return string(b)
}

func maskSessionID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}

func (s *SignInService) RequestCode(ctx context.Context, req RequestCodeRequest) error {
	addr := normalizeEmail(req.Email)
	if addr == "" {
		return fmt.Errorf("email обязателен")
	}
	if !emailRegexp.MatchString(addr) {
		return ErrInvalidEmail
	}
	allowed, err := s.store.CheckRateLimit(ctx, addr)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrRateLimitExceeded
	}
	// Свежий код переотправляем как есть — повторный запрос в первую минуту
	// не должен обесценивать код из уже пришедшего письма.
	if existing, _ := s.store.GetOTP(ctx, addr); len(existing) == otpLength {
		if ttl, _ := s.store.GetOTPTTL(ctx, addr); ttl >= s.policy.ResendWithin {
			logger.Infof("request-code: переотправка действующего кода для %s (TTL %.0fs)", addr, ttl.Seconds())
			return s.mailer.SendOTP(ctx, addr, existing)
		}
	}
	code := generateOTP(otpLength)
	if err := s.store.SetOTP(ctx, addr, code); err != nil {
		return err
	}
	return s.mailer.SendOTP(ctx, addr, code)
}

type VerifyCodeRequest struct {
	Email      string `json:"email"`
	Code       string `json:"code"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"` // опционально
}

type VerifyCodeResponse struct {
	SessionID     string `json:"session_id"`
	SessionSecret string `json:"session_secret"`
	IsNewUser     bool   `json:"is_new_user"`
}

func (s *SignInService) VerifyCode(ctx context.Context, req VerifyCodeRequest) (*VerifyCodeResponse, error) {
	addr := normalizeEmail(req.Email)
	code := onlyDigits(strings.TrimSpace(req.Code))
	if addr == "" || code == "" || req.DeviceID == "" {
		return nil, fmt.Errorf("email, code и device_id обязательны")
	}
	if err := s.consumeCode(ctx, addr, code); err != nil {
		return nil, err
	}
	user, isNew, err := s.findOrCreateUser(ctx, addr)
	if err != nil {
		return nil, err
	}
	if user.DisabledAt != nil {
		return nil, ErrUserDisabled
	}
	sessionID, secretB64, err := s.mintSession(ctx, user.ID, req.DeviceID, strings.TrimSpace(req.DeviceName))
	if err != nil {
		return nil, err
	}
	return &VerifyCodeResponse{SessionID: sessionID, SessionSecret: secretB64, IsNewUser: isNew}, nil
}

// consumeCode сверяет код constant-time и сжигает его (одноразовое использование).
func (s *SignInService) consumeCode(ctx context.Context, addr, code string) error {
	if len(code) != otpLength {
		return ErrInvalidOTP
	}
	stored, err := s.store.GetOTP(ctx, addr)
	if err != nil {
		logger.Errorf("verify-code: GetOTP %s: %v", addr, err)
		return ErrInvalidOTP
	}
	if len(stored) != otpLength || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrInvalidOTP
	}
	if err := s.store.DeleteOTP(ctx, addr); err != nil {
		logger.Errorf("verify-code: DeleteOTP %s: %v", addr, err)
	}
	return nil
}

func (s *SignInService) findOrCreateUser(ctx context.Context, addr string) (*model.User, bool, error) {
	user, err := s.users.GetByEmail(ctx, addr)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}
	username := deriveUsername(addr)
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		username = username + "_" + uuid.New().String()[:8]
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}
	now := time.Now().UTC()
	user = &model.User{
		ID: uuid.New().String(), Username: username, Email: addr,
		LastSeenAt: now, IsOnline: false, CreatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// mintSession создаёт сессию с 32-байтным секретом. В БД хранится только
// SHA-256 секрета; сам секрет уходит в store с TTL и один раз — клиенту.
func (s *SignInService) mintSession(ctx context.Context, userID, deviceID, deviceName string) (sessionID, secretB64 string, err error) {
	sessionID = uuid.New().String()
	secret := make([]byte, 32)
	if _, err = rand.Read(secret); err != nil {
		return "", "", err
	}
	secretB64 = base64.StdEncoding.EncodeToString(secret)
	h := sha256.Sum256(secret)
	now := time.Now().UTC()
	sess := &model.Session{
		ID: sessionID, UserID: userID, DeviceID: deviceID, DeviceName: deviceName,
		SecretHash: hex.EncodeToString(h[:]), LastSeenAt: now, CreatedAt: now,
	}
	if err = s.sessions.Save(ctx, sess); err != nil {
		return "", "", fmt.Errorf("create session: %w", err)
	}
	if err = s.store.SetSessionSecret(ctx, sessionID, secretB64); err != nil {
		if delErr := s.sessions.Delete(ctx, sessionID); delErr != nil {
			logger.Errorf("verify-code: rollback Delete session: %v", delErr)
		}
		return "", "", fmt.Errorf("save session secret: %w", err)
	}
	return sessionID, secretB64, nil
}

func deriveUsername(addr string) string {
	at := strings.Index(addr, "@")
	if at <= 0 {
		return "user_" + uuid.New().String()[:8]
	}
	local := strings.ReplaceAll(addr[:at], ".", "_")
	if len(local) > 50 {
		local = local[:50]
	}
	if local == "" {
		return "user_" + uuid.New().String()[:8]
	}
	return local
}

func generateOTP(length int) string {
	const digits = "0123456789"
	b := make([]byte, length)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		b[i] = digits[n.Int64()]
	}
	return string(b)
}

func (s *SignInService) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	return s.sessions.ListByUserID(ctx, userID)
}

func (s *SignInService) LogoutSession(ctx context.Context, userID, sessionID string) (bool, error) {
	ok, err := s.sessions.RevokeOne(ctx, userID, sessionID)
	if err != nil {
		return false, err
	}
	if ok {
		if err := s.store.DeleteSessionSecret(ctx, sessionID); err != nil {
			logger.Errorf("LogoutSession: DeleteSessionSecret session_id=%s: %v", maskSessionID(sessionID), err)
		}
	}
	return ok, nil
}

func (s *SignInService) LogoutAllSessions(ctx context.Context, userID string) (int64, error) {
	ids, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.store.DeleteSessionSecret(ctx, id); err != nil {
			logger.Errorf("LogoutAllSessions: DeleteSessionSecret session_id=%s: %v", maskSessionID(id), err)
		}
	}
	return int64(len(ids)), nil
}

// ValidateRequest проверяет подпись запроса и возвращает user_id.
// API дёргает его через POST /internal/validate; timestamp — Unix секунды.
func (s *SignInService) ValidateRequest(ctx context.Context, sessionID, timestamp, signature, method, path, body string) (string, error) {
	if sessionID == "" || timestamp == "" || signature == "" {
		return "", ErrInvalidOTP
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", ErrInvalidOTP
	}
	t := time.Unix(ts, 0)
	if time.Since(t) > signatureSkew || time.Until(t) > signatureSkew {
		logger.Errorf("validate: timestamp out of window session_id=%s", maskSessionID(sessionID))
		return "", ErrInvalidOTP
	}
	secretB64, err := s.store.GetSessionSecret(ctx, sessionID)
	if err != nil || secretB64 == "" {
		logger.Errorf("validate: no session_secret in store session_id=%s", maskSessionID(sessionID))
		return "", ErrInvalidOTP
	}
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil || len(secret) != 32 {
		return "", ErrInvalidOTP
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(method + path + body + timestamp))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		logger.Errorf("validate: signature mismatch path=%q session_id=%s", path, maskSessionID(sessionID))
		return "", ErrInvalidOTP
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		logger.Errorf("validate: session not found session_id=%s err=%v", maskSessionID(sessionID), err)
		return "", ErrInvalidOTP
	}
	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return "", ErrInvalidOTP
	}
	if user.DisabledAt != nil {
		logger.Infof("validate: user %s disabled", sess.UserID)
		return "", ErrInvalidOTP
	}
	if err := s.sessions.UpdateLastSeen(ctx, sessionID, time.Now().UTC()); err != nil {
		logger.Errorf("validate: UpdateLastSeen session_id=%s: %v", maskSessionID(sessionID), err)
	}
	return sess.UserID, nil
}
