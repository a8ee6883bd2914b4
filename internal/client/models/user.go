package models

import "time"

// RoleAdmin is the only role allowed to delete entries.
const RoleAdmin = "admin"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"rol"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Comment belongs to an entry; comments are only reachable online.
type Comment struct {
	ID        string    `json:"id"`
	EntryID   string    `json:"bitacora_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"comentario"`
	CreatedAt time.Time `json:"created_at"`
}
