package middleware

import (
	"net"
	"net/http"
	"os"
	"strings"
)

// InternalOnly закрывает служебные ручки (/internal/validate, DELETE файлов)
// от внешнего мира: пропускаются вызовы с приватных адресов либо с заголовком
// X-Internal-Secret, равным INTERNAL_VALIDATE_SECRET.
func InternalOnly(next http.Handler) http.Handler {
	secret := strings.TrimSpace(os.Getenv("INTERNAL_VALIDATE_SECRET"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && r.Header.Get("X-Internal-Secret") == secret {
			next.ServeHTTP(w, r)
			return
		}
		if ip := net.ParseIP(clientIP(r)); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	})
}

// clientIP — адрес вызывающего. За прокси берётся X-Real-Ip либо первый
// элемент X-Forwarded-For, без прокси — host-часть RemoteAddr.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
