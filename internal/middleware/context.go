package middleware

import "context"

// Ключи контекста запроса. user_id кладёт SessionAuth (auth-сервис) либо
// AuthServiceValidate (API), session_id — только SessionAuth.
type ctxKey int

const (
	UserIDKey ctxKey = iota
	SessionIDKey
)

func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}
