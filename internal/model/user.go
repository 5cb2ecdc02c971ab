package model

import "time"

// User is a row of the users table.  The hub never sees it; only the
// decimal ID travels inside access tokens.
type User struct {
    ID           uint64    // users.id
    Email        string    // users.email, stored lower-cased
    PasswordHash string    // bcrypt
    Name         string    // users.name
    CreatedAt    time.Time // users.created_at
}
