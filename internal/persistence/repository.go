package persistence

import "binary-options-bot-go/internal/models"

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the persisted bot state.
	SaveState(state *models.PersistedBotState) error

	// LoadState loads the bot state from storage.
	// If no state is found, it should return (nil, nil).
	LoadState() (*models.PersistedBotState, error)

	// ClearState removes the stored state. Clearing an empty store is not an error.
	ClearState() error

	// Close gracefully closes the connection to the database.
	Close() error
}
