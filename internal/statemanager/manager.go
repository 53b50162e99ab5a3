package statemanager

import (
	"time"

	"grid-strategy-go/internal/models"
	"grid-strategy-go/internal/persistence"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	ExecutionUpdateEvent EventType = iota
	LadderReplacedEvent
	RegimeUpdatedEvent
	RiskUpdatedEvent
	StateResetEvent
)

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// ExecutionUpdateData carries the execution bookkeeping after a tick that
// produced at least one fill.
type ExecutionUpdateData struct {
	Ladder    []models.GridLevel
	OpenBuys  []models.OpenPosition
	SoldPairs []models.SoldPair
	Legacy    []models.OpenPosition
	Position  float64
}

// LadderReplacedData carries a freshly generated ladder and its center.
type LadderReplacedData struct {
	CenterPrice float64
	Ladder      []models.GridLevel
	Legacy      []models.OpenPosition
}

// StateManager is responsible for all state mutations and persistence.
// It ensures that all state changes are processed serially.
type StateManager struct {
	state           *models.StrategyState
	repo            persistence.StateRepository
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.StrategyState
	stopChan        chan bool
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager.
func NewStateManager(initialState *models.StrategyState, repo persistence.StateRepository, logger *zap.Logger) *StateManager {
	return &StateManager{
		state:           initialState,
		repo:            repo,
		eventChannel:    make(chan NormalizedEvent, 1024),
		persistenceChan: make(chan *models.StrategyState, 128),
		stopChan:        make(chan bool),
		logger:          logger,
	}
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop gracefully shuts down the StateManager.
func (sm *StateManager) Stop() {
	close(sm.stopChan)
	sm.logger.Sugar().Info("StateManager stopped.")
}

// DispatchEvent sends an event to the StateManager for processing.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	sm.eventChannel <- event
}

// GetStateSnapshot returns a deep copy of the current state for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.StrategyState {
	return sm.deepCopy()
}

// deepCopy creates a deep copy of the StrategyState to prevent data races.
func (sm *StateManager) deepCopy() *models.StrategyState {
	if sm.state == nil {
		return nil
	}

	stateCopy := *sm.state

	if sm.state.Ladder != nil {
		stateCopy.Ladder = make([]models.GridLevel, len(sm.state.Ladder))
		copy(stateCopy.Ladder, sm.state.Ladder)
	}
	if sm.state.OpenBuys != nil {
		stateCopy.OpenBuys = make([]models.OpenPosition, len(sm.state.OpenBuys))
		copy(stateCopy.OpenBuys, sm.state.OpenBuys)
	}
	if sm.state.SoldPairs != nil {
		stateCopy.SoldPairs = make([]models.SoldPair, len(sm.state.SoldPairs))
		copy(stateCopy.SoldPairs, sm.state.SoldPairs)
	}
	if sm.state.Legacy != nil {
		stateCopy.Legacy = make([]models.OpenPosition, len(sm.state.Legacy))
		copy(stateCopy.Legacy, sm.state.Legacy)
	}
	if sm.state.Regime.StrengthHistory != nil {
		stateCopy.Regime.StrengthHistory = make([]float64, len(sm.state.Regime.StrengthHistory))
		copy(stateCopy.Regime.StrengthHistory, sm.state.Regime.StrengthHistory)
	}
	if sm.state.Risk.DailyPnL != nil {
		stateCopy.Risk.DailyPnL = make(map[string]float64, len(sm.state.Risk.DailyPnL))
		for k, v := range sm.state.Risk.DailyPnL {
			stateCopy.Risk.DailyPnL[k] = v
		}
	}

	return &stateCopy
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			return
		}
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (sm *StateManager) persistenceLoop() {
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			if sm.repo != nil {
				if err := sm.repo.SaveState(stateToSave); err != nil {
					sm.logger.Sugar().Errorf("CRITICAL: Failed to save state: %v", err)
				}
			}
		case <-sm.stopChan:
			return
		}
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	switch event.Type {
	case ExecutionUpdateEvent:
		if data, ok := event.Data.(ExecutionUpdateData); ok {
			sm.state.Ladder = data.Ladder
			sm.state.OpenBuys = data.OpenBuys
			sm.state.SoldPairs = data.SoldPairs
			sm.state.Legacy = data.Legacy
			sm.state.Position = data.Position
		} else {
			sm.logger.Sugar().Warnf("Received ExecutionUpdateEvent with unexpected data type: %T", event.Data)
		}
	case LadderReplacedEvent:
		if data, ok := event.Data.(LadderReplacedData); ok {
			sm.state.CenterPrice = data.CenterPrice
			sm.state.Ladder = data.Ladder
			sm.state.OpenBuys = nil
			sm.state.SoldPairs = nil
			sm.state.Legacy = data.Legacy
			sm.logger.Sugar().Infof("Ladder replaced: center %.4f, %d levels.", data.CenterPrice, len(data.Ladder))
		} else {
			sm.logger.Sugar().Warnf("Received LadderReplacedEvent with unexpected data type: %T", event.Data)
		}
	case RegimeUpdatedEvent:
		if data, ok := event.Data.(models.RegimeState); ok {
			sm.state.Regime = data
		} else {
			sm.logger.Sugar().Warnf("Received RegimeUpdatedEvent with unexpected data type: %T", event.Data)
		}
	case RiskUpdatedEvent:
		if data, ok := event.Data.(models.RiskState); ok {
			sm.state.Risk = data
		} else {
			sm.logger.Sugar().Warnf("Received RiskUpdatedEvent with unexpected data type: %T", event.Data)
		}
	case StateResetEvent:
		if newState, ok := event.Data.(*models.StrategyState); ok {
			sm.state = newState
			sm.logger.Sugar().Info("State has been reset.")
		} else {
			sm.logger.Sugar().Warnf("Received StateResetEvent with unexpected data type: %T", event.Data)
		}
	}

	sm.state.LastUpdateTime = time.Now()

	// After processing, send a deep copy of the new state to the persistence channel.
	if stateCopy := sm.deepCopy(); stateCopy != nil {
		sm.persistenceChan <- stateCopy
	}
}
