package statemanager

import (
	"sync"
	"testing"
	"time"

	"grid-strategy-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStateRepository is a mock implementation of the StateRepository interface for testing.
type mockStateRepository struct {
	sync.Mutex
	savedState   *models.StrategyState
	saveCalled   bool
	loadState    *models.StrategyState
	loadError    error
	saveError    error
	saveDoneChan chan bool // Channel to signal when SaveState is done
}

func newMockStateRepository() *mockStateRepository {
	return &mockStateRepository{
		saveDoneChan: make(chan bool, 1),
	}
}

func (m *mockStateRepository) SaveState(state *models.StrategyState) error {
	m.Lock()
	defer m.Unlock()

	// Deep copy the state to simulate real persistence and avoid race conditions in tests
	copiedState := *state
	if state.Ladder != nil {
		copiedState.Ladder = make([]models.GridLevel, len(state.Ladder))
		copy(copiedState.Ladder, state.Ladder)
	}
	if state.OpenBuys != nil {
		copiedState.OpenBuys = make([]models.OpenPosition, len(state.OpenBuys))
		copy(copiedState.OpenBuys, state.OpenBuys)
	}
	if state.SoldPairs != nil {
		copiedState.SoldPairs = make([]models.SoldPair, len(state.SoldPairs))
		copy(copiedState.SoldPairs, state.SoldPairs)
	}

	m.saveCalled = true
	m.savedState = &copiedState

	// Signal that save is complete
	m.saveDoneChan <- true

	return m.saveError
}

func (m *mockStateRepository) LoadState() (*models.StrategyState, error) {
	m.Lock()
	defer m.Unlock()
	return m.loadState, m.loadError
}

func (m *mockStateRepository) Close() error {
	return nil
}

func (m *mockStateRepository) getSavedState() *models.StrategyState {
	m.Lock()
	defer m.Unlock()
	return m.savedState
}

func (m *mockStateRepository) wasSaveCalled() bool {
	m.Lock()
	defer m.Unlock()
	return m.saveCalled
}

// TestNewStateManager verifies that the StateManager is initialized correctly.
func TestNewStateManager(t *testing.T) {
	initialState := &models.StrategyState{Symbol: "BTCUSDT"}
	repo := newMockStateRepository()
	logger := zap.NewNop()

	sm := NewStateManager(initialState, repo, logger)
	require.NotNil(t, sm, "StateManager should not be nil")

	// Check if the initial state is set correctly
	snapshot := sm.GetStateSnapshot()
	require.NotNil(t, snapshot, "Initial state snapshot should not be nil")
	assert.Equal(t, "BTCUSDT", snapshot.Symbol, "Initial symbol should match")

	// Check if channels are created
	assert.NotNil(t, sm.eventChannel, "eventChannel should be created")
	assert.NotNil(t, sm.persistenceChan, "persistenceChan should be created")
	assert.NotNil(t, sm.stopChan, "stopChan should be created")
}

// TestStateResetEvent tests the handling of a StateResetEvent.
func TestStateResetEvent(t *testing.T) {
	initialState := &models.StrategyState{Symbol: "BTCUSDT"}
	repo := newMockStateRepository()
	logger := zap.NewNop()

	sm := NewStateManager(initialState, repo, logger)
	sm.Start()
	defer sm.Stop()

	// Create a new state to reset to
	newState := &models.StrategyState{
		Symbol:   "ETHUSDT",
		Version:  2,
		Position: 1.23,
	}

	// Dispatch the reset event
	sm.DispatchEvent(NormalizedEvent{
		Type:      StateResetEvent,
		Timestamp: time.Now(),
		Data:      newState,
	})

	// Wait for the persistence to complete
	select {
	case <-repo.saveDoneChan:
		// Save completed
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for state to be saved")
	}

	// Verify the state was updated
	snapshot := sm.GetStateSnapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, "ETHUSDT", snapshot.Symbol)
	assert.Equal(t, 2, snapshot.Version)
	assert.Equal(t, 1.23, snapshot.Position)

	// Verify that the state was persisted
	assert.True(t, repo.wasSaveCalled(), "SaveState should have been called after a state reset")
	saved := repo.getSavedState()
	require.NotNil(t, saved)
	assert.Equal(t, "ETHUSDT", saved.Symbol)
}

// TestExecutionUpdateEvent tests the handling of an ExecutionUpdateEvent.
func TestExecutionUpdateEvent(t *testing.T) {
	initialState := &models.StrategyState{Symbol: "BTCUSDT"}
	repo := newMockStateRepository()
	logger := zap.NewNop()

	sm := NewStateManager(initialState, repo, logger)
	sm.Start()
	defer sm.Stop()

	update := ExecutionUpdateData{
		OpenBuys:  []models.OpenPosition{{LevelID: -1, Price: 99500, Quantity: 0.001}},
		SoldPairs: []models.SoldPair{{LevelID: 1, Price: 100500}},
		Position:  0.001,
	}

	sm.DispatchEvent(NormalizedEvent{
		Type:      ExecutionUpdateEvent,
		Timestamp: time.Now(),
		Data:      update,
	})

	// Wait for the persistence to complete
	select {
	case <-repo.saveDoneChan:
		// Save completed
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for state to be saved")
	}

	// Verify the execution bookkeeping was applied
	snapshot := sm.GetStateSnapshot()
	require.NotNil(t, snapshot)
	require.Len(t, snapshot.OpenBuys, 1)
	assert.Equal(t, -1, snapshot.OpenBuys[0].LevelID)
	assert.Equal(t, 0.001, snapshot.Position)

	// Verify that the state was persisted
	assert.True(t, repo.wasSaveCalled(), "SaveState should have been called after an execution update")
	saved := repo.getSavedState()
	require.NotNil(t, saved)
	require.Len(t, saved.SoldPairs, 1)
	assert.Equal(t, models.SoldPair{LevelID: 1, Price: 100500}, saved.SoldPairs[0])
}

// TestLadderReplacedEvent tests that a regeneration clears the pair set and
// carries the legacy list.
func TestLadderReplacedEvent(t *testing.T) {
	initialState := &models.StrategyState{
		Symbol:    "BTCUSDT",
		OpenBuys:  []models.OpenPosition{{LevelID: -2, Price: 99000, Quantity: 0.001}},
		SoldPairs: []models.SoldPair{{LevelID: 1, Price: 100500}},
	}
	repo := newMockStateRepository()
	logger := zap.NewNop()

	sm := NewStateManager(initialState, repo, logger)
	sm.Start()
	defer sm.Stop()

	sm.DispatchEvent(NormalizedEvent{
		Type:      LadderReplacedEvent,
		Timestamp: time.Now(),
		Data: LadderReplacedData{
			CenterPrice: 101000,
			Ladder:      []models.GridLevel{{Index: -1, Side: models.Buy, Price: 100495}},
			Legacy:      []models.OpenPosition{{LevelID: -2, Price: 99000, Quantity: 0.001}},
		},
	})

	select {
	case <-repo.saveDoneChan:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for state to be saved")
	}

	snapshot := sm.GetStateSnapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, 101000.0, snapshot.CenterPrice)
	assert.Empty(t, snapshot.OpenBuys)
	assert.Empty(t, snapshot.SoldPairs)
	require.Len(t, snapshot.Legacy, 1)
	assert.Equal(t, 99000.0, snapshot.Legacy[0].Price)
}

// TestRiskUpdatedEvent tests that risk counters replace atomically.
func TestRiskUpdatedEvent(t *testing.T) {
	initialState := &models.StrategyState{Symbol: "BTCUSDT"}
	repo := newMockStateRepository()
	logger := zap.NewNop()

	sm := NewStateManager(initialState, repo, logger)
	sm.Start()
	defer sm.Stop()

	sm.DispatchEvent(NormalizedEvent{
		Type:      RiskUpdatedEvent,
		Timestamp: time.Now(),
		Data: models.RiskState{
			ConsecutiveLosses: 2,
			CurrentDrawdown:   15,
			EmergencyStop:     true,
		},
	})

	select {
	case <-repo.saveDoneChan:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for state to be saved")
	}

	snapshot := sm.GetStateSnapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, 2, snapshot.Risk.ConsecutiveLosses)
	assert.True(t, snapshot.Risk.EmergencyStop)
}

// TestAsyncPersistence verifies that state persistence happens asynchronously.
func TestAsyncPersistence(t *testing.T) {
	initialState := &models.StrategyState{Symbol: "BTCUSDT"}
	repo := newMockStateRepository()
	logger := zap.NewNop()

	sm := NewStateManager(initialState, repo, logger)
	sm.Start()
	defer sm.Stop()

	// Dispatch an event that will trigger persistence
	sm.DispatchEvent(NormalizedEvent{
		Type:      StateResetEvent,
		Timestamp: time.Now(),
		Data:      &models.StrategyState{Symbol: "ETHUSDT"},
	})

	// --- Verification Point 1: Check that Save is NOT called synchronously ---
	// Immediately after dispatching, the save function should not have been called yet.
	assert.False(t, repo.wasSaveCalled(), "SaveState should not be called synchronously with DispatchEvent")

	// --- Verification Point 2: Wait for the async save to complete ---
	select {
	case <-repo.saveDoneChan:
		// This confirms that SaveState was eventually called by the persistenceLoop.
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async SaveState call")
	}

	// --- Verification Point 3: Check that the correct state was saved ---
	assert.True(t, repo.wasSaveCalled(), "SaveState should have been called asynchronously")
	savedState := repo.getSavedState()
	require.NotNil(t, savedState)
	assert.Equal(t, "ETHUSDT", savedState.Symbol)
}
