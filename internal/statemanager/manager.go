package statemanager

import (
	"binary-options-bot-go/internal/models"
	"binary-options-bot-go/internal/persistence"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	// InboundMessageEvent carries a gateway.Inbound frame.
	InboundMessageEvent EventType = iota
	// ChannelReadyEvent carries the gateway.Name whose join sequence completed.
	ChannelReadyEvent
	// ConnectionStatusEvent carries a models.ConnectionEvent.
	ConnectionStatusEvent
	// StrategyTickEvent is a scheduler timer firing.
	StrategyTickEvent
	// CandlesFetchedEvent carries the result of an async candle fetch.
	CandlesFetchedEvent
	// ProfitRefreshedEvent carries the result of an async deal-history fetch.
	ProfitRefreshedEvent
	// BidRequestEvent asks the engine to place a bid.
	BidRequestEvent
	// HaltEvent asks the engine to stop from inside the loop.
	HaltEvent
)

func (t EventType) String() string {
	switch t {
	case InboundMessageEvent:
		return "inbound"
	case ChannelReadyEvent:
		return "channel_ready"
	case ConnectionStatusEvent:
		return "connection_status"
	case StrategyTickEvent:
		return "strategy_tick"
	case CandlesFetchedEvent:
		return "candles_fetched"
	case ProfitRefreshedEvent:
		return "profit_refreshed"
	case BidRequestEvent:
		return "bid_request"
	case HaltEvent:
		return "halt"
	}
	return "unknown"
}

// EventHandler processes events on the state manager's goroutine.
// This is used to break the circular dependency between StateManager and the engine.
type EventHandler interface {
	HandleEvent(event NormalizedEvent)
}

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// StateManager serializes every engine mutation through a single event loop
// and persists state snapshots asynchronously.
type StateManager struct {
	state           *models.PersistedBotState
	repo            persistence.StateRepository
	handler         EventHandler
	eventChannel    chan NormalizedEvent
	persistenceChan chan *models.PersistedBotState
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	done            chan struct{}
	mu              sync.RWMutex
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager. initialState may be nil.
func NewStateManager(initialState *models.PersistedBotState, repo persistence.StateRepository, handler EventHandler, logger *zap.Logger) *StateManager {
	if initialState == nil {
		initialState = &models.PersistedBotState{}
	}
	return &StateManager{
		state:           initialState,
		repo:            repo,
		handler:         handler,
		eventChannel:    make(chan NormalizedEvent, 1024),
		persistenceChan: make(chan *models.PersistedBotState, 128),
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the state manager's event processing and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	go func() {
		sm.wg.Wait()
		close(sm.done)
	}()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop signals both loops to exit. It does not wait and is safe to call
// from inside a handler and more than once.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.logger.Sugar().Info("StateManager stopping.")
	})
}

// Done is closed once both loops exited and pending snapshots were flushed.
func (sm *StateManager) Done() <-chan struct{} {
	return sm.done
}

// Stopped reports whether Stop was called.
func (sm *StateManager) Stopped() bool {
	select {
	case <-sm.stopChan:
		return true
	default:
		return false
	}
}

// DispatchEvent sends an event to the StateManager for processing.
// Events dispatched after Stop are dropped and false is returned.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) bool {
	if sm.Stopped() {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case sm.eventChannel <- event:
		return true
	case <-sm.stopChan:
		return false
	}
}

// GetStateSnapshot returns a copy of the current state for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.PersistedBotState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.copyState()
}

// copyState must be called with mu held. PersistedBotState has no reference
// fields, so a value copy is deep.
func (sm *StateManager) copyState() *models.PersistedBotState {
	if sm.state == nil {
		return nil
	}
	stateCopy := *sm.state
	return &stateCopy
}

// UpdateState mutates the persisted state and queues a snapshot for saving.
// Call it from the event loop.
func (sm *StateManager) UpdateState(mutate func(state *models.PersistedBotState)) {
	sm.mu.Lock()
	mutate(sm.state)
	sm.state.LastUpdateTime = time.Now()
	snapshot := sm.copyState()
	sm.mu.Unlock()

	select {
	case sm.persistenceChan <- snapshot:
	default:
		sm.logger.Sugar().Warn("Persistence queue full, snapshot dropped.")
	}
}

// ResetState replaces the state and clears the store.
func (sm *StateManager) ResetState() error {
	sm.mu.Lock()
	sm.state = &models.PersistedBotState{}
	sm.mu.Unlock()
	if sm.repo == nil {
		return nil
	}
	return sm.repo.ClearState()
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	for {
		select {
		case event := <-sm.eventChannel:
			if sm.Stopped() {
				return
			}
			sm.processEvent(event)
		case <-sm.stopChan:
			return
		}
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			sm.save(stateToSave)
		case <-sm.stopChan:
			// flush what is already queued
			for {
				select {
				case stateToSave := <-sm.persistenceChan:
					sm.save(stateToSave)
				default:
					return
				}
			}
		}
	}
}

func (sm *StateManager) save(state *models.PersistedBotState) {
	if sm.repo == nil {
		return
	}
	if err := sm.repo.SaveState(state); err != nil {
		sm.logger.Sugar().Errorf("CRITICAL: Failed to save state: %v", err)
	}
}

func (sm *StateManager) processEvent(event NormalizedEvent) {
	if sm.handler == nil {
		sm.logger.Sugar().Warnf("No handler for %s event.", event.Type)
		return
	}
	sm.handler.HandleEvent(event)
}
