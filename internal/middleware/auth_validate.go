package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// AuthServiceValidate — проверка сессии на стороне API: креды и подпись
// пересылаются auth-сервису (POST /internal/validate), ответ с user_id
// кладётся в контекст. API секретов сессий не знает и сам подпись не считает.
func AuthServiceValidate(authServiceURL string, client *http.Client) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	validateURL := strings.TrimSuffix(authServiceURL, "/") + "/internal/validate"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := requestCredentials(r)
			if !ok {
				unauthorizedJSON(w)
				return
			}
			body, err := bufferBody(r)
			if err != nil {
				http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
				return
			}
			// Фронт подписывает multipart-запросы с пустым телом (FormData
			// не сериализуется детерминированно), подпись проверяем так же.
			signedBody := string(body)
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				signedBody = ""
			}
			userID, ok := validateRemotely(r.Context(), client, validateURL, creds, r.Method, r.URL.Path, signedBody)
			if !ok {
				unauthorizedJSON(w)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateRemotely(ctx context.Context, client *http.Client, url string, creds sessionCredentials, method, path, body string) (string, bool) {
	payload, _ := json.Marshal(map[string]string{
		"session_id": creds.SessionID,
		"timestamp":  creds.Timestamp,
		"signature":  creds.Signature,
		"method":     method,
		"path":       path,
		"body":       body,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	var result struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.UserID == "" {
		return "", false
	}
	return result.UserID, true
}
