package model

import (
	"database/sql"
	"time"
)

// Profile mirrors a session-provider user the gateway has seen.
type Profile struct {
	ID        string         `db:"id"`
	Email     sql.NullString `db:"email"`
	FullName  sql.NullString `db:"full_name"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}
