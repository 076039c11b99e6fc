package middleware

import "net/http"

// SecureHeaders устанавливает базовые защитные заголовки на каждый ответ.
// CSP здесь не задаём: страницы рендерит фронт, API отдаёт только JSON и файлы.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
