package model

import "time"

type User struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	IsOnline   bool       `json:"is_online"`
	CreatedAt  time.Time  `json:"created_at"`
	DisabledAt *time.Time `json:"-"` // не null = пользователь отключён, не может войти
}

// Identity — разрешённая личность текущего запроса/соединения.
// Privileged вычисляется один раз при резолве (email == admin email из конфига),
// дальше код чатов её только читает.
type Identity struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Privileged bool   `json:"privileged"`
}

// Resolve строит Identity пользователя относительно привилегированного email.
func (u *User) Resolve(adminEmail string) Identity {
	name := u.Username
	if name == "" {
		name = u.Email
	}
	return Identity{
		ID:         u.ID,
		Email:      u.Email,
		Name:       name,
		Privileged: adminEmail != "" && u.Email == adminEmail,
	}
}
