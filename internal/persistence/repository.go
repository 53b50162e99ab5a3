package persistence

import "grid-strategy-go/internal/models"

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the entire strategy state.
	SaveState(state *models.StrategyState) error

	// LoadState loads the strategy state from storage.
	// If no state is found, it should return (nil, nil).
	LoadState() (*models.StrategyState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
