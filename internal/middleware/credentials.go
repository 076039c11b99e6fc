package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Подпись запроса: hex(HMAC-SHA256(method + path + body + timestamp, secret)).
// timestamp — Unix-секунды, допустимое отклонение от часов сервера ±TimestampSkew.
const TimestampSkew = 30 * time.Second

// sessionCredentials — тройка X-Session-Id / X-Timestamp / X-Signature.
// Браузерный WebSocket заголовки выставить не может, поэтому креды
// принимаются и из query-параметров.
type sessionCredentials struct {
	SessionID string
	Timestamp string
	Signature string
}

func requestCredentials(r *http.Request) (sessionCredentials, bool) {
	c := sessionCredentials{
		SessionID: headerOrQuery(r, "X-Session-Id", "session_id"),
		Timestamp: headerOrQuery(r, "X-Timestamp", "timestamp"),
		Signature: headerOrQuery(r, "X-Signature", "signature"),
	}
	return c, c.SessionID != "" && c.Timestamp != "" && c.Signature != ""
}

func (c sessionCredentials) fresh() bool {
	ts, err := strconv.ParseInt(c.Timestamp, 10, 64)
	if err != nil {
		return false
	}
	t := time.Unix(ts, 0)
	return time.Since(t) <= TimestampSkew && time.Until(t) <= TimestampSkew
}

func (c sessionCredentials) verify(secret []byte, method, path, body string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(method + path + body + c.Timestamp))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(c.Signature), []byte(expected))
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}
