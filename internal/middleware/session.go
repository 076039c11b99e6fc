package middleware

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/repository"
	"github.com/lifesite/internal/storage"
)

// SessionAuth проверяет HMAC-подпись запроса по секрету сессии и кладёт
// user_id/session_id в контекст. Секрет живёт в store (Redis или БД в -dev),
// сама сессия — в Postgres; отозванная сессия не проходит даже с верной подписью.
func SessionAuth(sessionRepo *repository.SessionRepository, store storage.SessionOTPStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := requestCredentials(r)
			if !ok || !creds.fresh() {
				unauthorizedJSON(w)
				return
			}
			body, err := bufferBody(r)
			if err != nil {
				http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
				return
			}
			secretB64, err := store.GetSessionSecret(r.Context(), creds.SessionID)
			if err != nil || secretB64 == "" {
				unauthorizedJSON(w)
				return
			}
			secret, err := base64.StdEncoding.DecodeString(secretB64)
			if err != nil || len(secret) != 32 {
				unauthorizedJSON(w)
				return
			}
			if !creds.verify(secret, r.Method, r.URL.Path, string(body)) {
				unauthorizedJSON(w)
				return
			}
			session, err := sessionRepo.GetByID(r.Context(), creds.SessionID)
			if err != nil {
				unauthorizedJSON(w)
				return
			}
			if err := sessionRepo.UpdateLastSeen(r.Context(), creds.SessionID, time.Now().UTC()); err != nil {
				logger.Errorf("session middleware UpdateLastSeen session_id=%s: %v", MaskSessionID(creds.SessionID), err)
			}
			ctx := context.WithValue(r.Context(), UserIDKey, session.UserID)
			ctx = context.WithValue(ctx, SessionIDKey, creds.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bufferBody вычитывает тело и возвращает его, оставляя r.Body читаемым
// для следующего хендлера.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func unauthorizedJSON(w http.ResponseWriter) {
	http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
}
