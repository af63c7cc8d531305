package models

import "time"

// Photo is the durable record of one successful submission: the stored image
// plus the generated commentary. Records are insert-only; nothing in the
// service updates or deletes them.
//
// The JSON field names are the storage contract shared with existing data and
// the web client, so they stay camelCase.
type Photo struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	ImageURL  string    `json:"imageUrl"`
	AIComment string    `json:"aiComment"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
}
