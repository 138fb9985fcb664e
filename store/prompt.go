package store

import "time"

// Prompt is a versioned named prompt template. Per name, exactly one
// version is active; versions are immutable once superseded.
type Prompt struct {
	ID        int64
	Name      string
	Content   string
	Version   int
	Role      string // "system" or "user"
	Active    bool
	CreatedAt time.Time
}

type FindPrompt struct {
	Name   *string
	Active *bool
}
