package persistence

import (
	"binary-options-bot-go/internal/models"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// StateKey is the single key holding the persisted ladder state.
const StateKey = "bot_state"

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db       *badger.DB
	stateKey []byte
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	return open(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository returns a BadgerDB repository that never touches disk.
func NewInMemoryRepository() (StateRepository, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (StateRepository, error) {
	// Badger's own logging is disabled to keep the app's logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Dir, err)
	}
	return &badgerRepository{
		db:       db,
		stateKey: []byte(StateKey),
	}, nil
}

// SaveState marshals the state into JSON and saves it under a predefined key.
func (r *badgerRepository) SaveState(state *models.PersistedBotState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.stateKey, data)
	})
}

// LoadState loads the bot state from storage.
// If the state key is not found, it returns (nil, nil).
func (r *badgerRepository) LoadState() (*models.PersistedBotState, error) {
	var state models.PersistedBotState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.stateKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return &state, nil
}

// ClearState deletes the state key. Clearing a missing key is not an error.
func (r *badgerRepository) ClearState() error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(r.stateKey)
	})
	if err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
