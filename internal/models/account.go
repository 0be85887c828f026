// Package models provides the persisted records of the dispatch orchestrator.
package models

import "time"

// Account is the directory entry of a messaging account. Live health is kept
// in memory by the account registry.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// DisplayName returns Name, or the id when no name was set
func (a *Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
