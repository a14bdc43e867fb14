package store

import "time"

type Actor struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Project is addressed by a mutable, globally unique slug. The id is
// the only stable handle.
type Project struct {
	ID        string
	Slug      string
	Name      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Board is addressed by a mutable name, unique within its project
// while active.
type Board struct {
	ID        string
	ProjectID string
	Name      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SlugHistoryRecord struct {
	ID         int64
	ProjectID  string
	OldSlug    string
	NewSlug    string
	RecordedAt time.Time
}

type NameHistoryRecord struct {
	ID         int64
	BoardID    string
	ProjectID  string
	OldName    string
	NewName    string
	RecordedAt time.Time
}
