package models

import (
	"time"

	"github.com/google/uuid"
)

// Repo identifies a GitHub repository.
// Maps to: repos table
type Repo struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Owner     string    `db:"owner" json:"owner"`
	Name      string    `db:"name" json:"name"`
	HTMLURL   string    `db:"html_url" json:"html_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
