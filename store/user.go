package store

import "time"

// User is an end user of the bot. ChatID is the platform-agnostic stable
// handle; it is the primary identity key, not the Telegram user id.
type User struct {
	ID        int64
	ChatID    string
	FirstName string
	LastName  string
	Username  string
	Phone     string
	Email     string
	Language  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type FindUser struct {
	ID     *int64
	ChatID *string
}

type UpdateUser struct {
	ID        int64
	FirstName *string
	LastName  *string
	Phone     *string
	Email     *string
	Language  *string
}
