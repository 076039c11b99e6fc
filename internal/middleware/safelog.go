package middleware

import "strings"

// MaskSessionID маскирует session_id в логах (в prod не светить полный id).
func MaskSessionID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}

// MaskEmail маскирует email в логах: первая буква локальной части + домен.
func MaskEmail(s string) string {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, "@")
	if idx <= 0 {
		return "****"
	}
	return s[:1] + "***" + s[idx:]
}
