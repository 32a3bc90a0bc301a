package persistence

import (
	"binary-options-bot-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerRepositoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewBadgerRepository(dir)
	require.NoError(t, err)

	state, err := repo.LoadState()
	require.NoError(t, err)
	assert.Nil(t, state, "empty store returns no state")

	saved := &models.PersistedBotState{
		LastBidStep:         3,
		LastBidInSwitchDemo: true,
		LastSignalTrend:     models.Put,
		LastBidAmount:       800,
		LastUpdateTime:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveState(saved))
	require.NoError(t, repo.Close())

	// reopen to make sure the state reached disk
	repo, err = NewBadgerRepository(dir)
	require.NoError(t, err)
	defer repo.Close()

	state, err = repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 3, state.LastBidStep)
	assert.True(t, state.LastBidInSwitchDemo)
	assert.Equal(t, models.Put, state.LastSignalTrend)
	assert.Equal(t, int64(800), state.LastBidAmount)
	assert.True(t, saved.LastUpdateTime.Equal(state.LastUpdateTime))
}

func TestClearState(t *testing.T) {
	repo, err := NewInMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.ClearState(), "clearing an empty store is fine")
	require.NoError(t, repo.SaveState(&models.PersistedBotState{LastBidStep: 1}))
	require.NoError(t, repo.ClearState())

	state, err := repo.LoadState()
	require.NoError(t, err)
	assert.Nil(t, state)
}
