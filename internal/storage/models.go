package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Change is one recorded settings update.
type Change struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	OldValue  *string   `json:"old_value"` // nil when the key was first set
	NewValue  string    `json:"new_value"`
	ChangedAt time.Time `json:"changed_at"`
}
