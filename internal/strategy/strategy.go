package strategy

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"grid-strategy-go/internal/cycle"
	"grid-strategy-go/internal/engine"
	"grid-strategy-go/internal/exchange"
	"grid-strategy-go/internal/grid"
	"grid-strategy-go/internal/models"
	"grid-strategy-go/internal/persistence"
	"grid-strategy-go/internal/regime"
	"grid-strategy-go/internal/risk"
	"grid-strategy-go/internal/statemanager"
	"grid-strategy-go/internal/volatility"

	"go.uber.org/zap"
)

// klineLimit is the trailing bar window each tick evaluates. The slowest
// indicator is the 200-bar moving average.
const klineLimit = 210

// renderEvery is how many ticks pass between grid table log lines.
const renderEvery = 10

// Strategy is the polling controller: every tick it classifies volatility,
// detects the trend regime, regenerates the ladder when the regime policy
// demands it, and drives the execution engine through the risk gate.
type Strategy struct {
	cfg    *models.Config
	venue  exchange.Exchange
	logger *zap.SugaredLogger

	engine     *engine.Engine
	classifier *volatility.Classifier
	policy     *regime.Policy
	gate       *risk.Gate
	tracker    *cycle.Tracker
	sm         *statemanager.StateManager

	regimeState models.RegimeState
	riskState   models.RiskState
	centerPrice float64
	lotStep     float64
	stepLoaded  bool

	mu          sync.Mutex
	isRunning   bool
	stopChannel chan struct{}
	tickCount   int64
}

// New wires a strategy for one symbol. A snapshot previously persisted by
// the repository is restored: the ladder, open buys, matched pairs, regime
// tracking and risk counters all survive a restart. archive may be nil
// (backtests keep history in memory).
func New(cfg *models.Config, venue exchange.Exchange, repo persistence.StateRepository, archive cycle.Archiver, logger *zap.Logger) (*Strategy, error) {
	sugar := logger.Sugar()

	s := &Strategy{
		cfg:         cfg,
		venue:       venue,
		logger:      sugar,
		classifier:  volatility.NewClassifier(cfg.ATRLookback, sugar),
		policy:      regime.NewPolicy(cfg.RegimeChangeThreshold, sugar),
		tracker:     cycle.NewTracker(cfg.Symbol, archive, sugar),
		stopChannel: make(chan struct{}),
	}

	s.engine = engine.NewEngine(venue, cfg.Symbol, engine.Options{
		TakerFeePct:     cfg.TakerFeePct,
		MaxSellsPerTick: cfg.SellsPerTick(),
	}, sugar)

	initial := &models.StrategyState{Symbol: cfg.Symbol, Version: 1}
	if repo != nil {
		snapshot, err := repo.LoadState()
		if err != nil {
			return nil, fmt.Errorf("failed to load persisted state: %w", err)
		}
		if snapshot != nil {
			if snapshot.Symbol != cfg.Symbol {
				return nil, fmt.Errorf("persisted state is for %s, configured symbol is %s", snapshot.Symbol, cfg.Symbol)
			}
			s.engine.RestoreFrom(snapshot)
			s.regimeState = snapshot.Regime
			s.riskState = snapshot.Risk
			s.centerPrice = snapshot.CenterPrice
			initial = snapshot
			sugar.Infow("state restored from snapshot",
				"open_buys", len(snapshot.OpenBuys),
				"legacy", len(snapshot.Legacy),
				"position", snapshot.Position,
				"emergency_stop", snapshot.Risk.EmergencyStop)
		}
	}

	s.gate = risk.NewGate(risk.LimitsFromConfig(cfg), &s.riskState, sugar)
	s.sm = statemanager.NewStateManager(initial, repo, logger)

	return s, nil
}

// Start launches the state manager and the polling loop.
func (s *Strategy) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("strategy is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.sm.Start()
	go s.pollLoop()
	s.logger.Infow("strategy started",
		"symbol", s.cfg.Symbol,
		"poll_interval_sec", s.cfg.PollIntervalSec)
	return nil
}

// StartForBacktest launches the state manager without the polling loop; the
// backtest driver calls ProcessTick once per bar instead.
func (s *Strategy) StartForBacktest() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("strategy is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.sm.Start()
	return nil
}

// Stop shuts the polling loop and the state manager down.
func (s *Strategy) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChannel)
	s.sm.Stop()
	s.logger.Info("strategy stopped")
}

// IsHalted reports whether the sticky emergency stop has tripped.
func (s *Strategy) IsHalted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.EmergencyStopped()
}

// Tracker exposes the cycle tracker for reporting.
func (s *Strategy) Tracker() *cycle.Tracker {
	return s.tracker
}

func (s *Strategy) pollLoop() {
	interval := time.Duration(s.cfg.PollIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First tick immediately instead of waiting a full interval.
	if err := s.ProcessTick(); err != nil {
		s.logger.Errorw("tick failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.ProcessTick(); err != nil {
				s.logger.Errorw("tick failed", "error", err)
			}
		case <-s.stopChannel:
			return
		}
	}
}

// ProcessTick runs one full strategy evaluation. It is exported so the
// backtest driver can step it bar by bar.
func (s *Strategy) ProcessTick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.venue.CurrentTime()

	klines, err := s.venue.GetKlines(s.cfg.Symbol, s.cfg.KlineInterval, klineLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch klines: %w", err)
	}
	if len(klines) == 0 {
		return fmt.Errorf("no kline data available")
	}

	price, err := s.venue.GetPrice(s.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch price: %w", err)
	}

	volAssess := s.classifier.Assess(klines, now)

	// Black-swan circuit breaker: no new fills, the ladder stays in place.
	if pause, reason := s.classifier.ShouldPause(klines); pause {
		s.logger.Warnw("trading paused",
			"reason", reason, "ratio", volAssess.Ratio, "price", price)
		return nil
	}

	trend := regime.Detect(klines)

	if regen, why := s.policy.ShouldRegenerate(&s.regimeState, trend.Regime, trend.Strength); regen {
		if err := s.regenerateLadder(price, volAssess, trend, why); err != nil {
			s.logger.Errorw("ladder regeneration failed", "error", err)
		}
	}

	regime.UpdateTracking(&s.regimeState, trend.Regime, trend.Strength)
	s.sm.DispatchEvent(statemanager.NormalizedEvent{
		Type:      statemanager.RegimeUpdatedEvent,
		Timestamp: now,
		Data:      s.regimeState,
	})

	var executions []engine.Execution
	if allowed, reason := s.gate.CheckTradeAllowed(); allowed {
		buys, sells := s.engine.Evaluate(price)
		executions = append(executions, s.engine.ExecuteBuys(buys, price)...)
		executions = append(executions, s.engine.ExecuteSells(sells, price)...)
	} else {
		s.logger.Warnw("trading blocked by risk gate", "reason", reason)
	}

	for _, exec := range executions {
		s.tracker.RecordOrderFill(exec.OrderID, exec.Side, exec.Price, exec.Quantity, exec.Fee, now)
		if exec.Side == models.Sell {
			s.gate.RecordTradeResult(exec.PnL, exec.OrderID)
		}
	}

	if done, ok := s.tracker.CheckCycleCompletion(now); ok {
		s.logger.Infow("grid cycle completed",
			"cycle_id", done.ID,
			"net_profit", done.NetProfit,
			"profit_pct", done.ProfitPct,
			"fills", done.FillCount)
	}

	if len(executions) > 0 {
		s.dispatchExecutionState(now)
		s.sm.DispatchEvent(statemanager.NormalizedEvent{
			Type:      statemanager.RiskUpdatedEvent,
			Timestamp: now,
			Data:      s.riskState,
		})
	}

	s.tickCount++
	if s.tickCount%renderEvery == 1 {
		s.logger.Info("\n" + grid.RenderTable(
			s.cfg.Symbol, s.engine.Ladder(), price, s.engine.Position(),
			s.engine.BoughtSet(), s.engine.SoldSet()))
	}

	return nil
}

// regenerateLadder rebuilds the grid around the current price with the
// volatility-scaled spacing and quantity and the regime tilt. Open buys are
// carried forward by the engine; nothing is force-closed.
func (s *Strategy) regenerateLadder(price float64, volAssess volatility.Assessment, trend regime.Assessment, reason string) error {
	spacing := s.cfg.GridSpacingPct * volAssess.SpacingMultiplier
	quantity := s.cfg.BaseOrderQuantity * volAssess.PositionMultiplier
	if step := s.lotStepSize(); step > 0 {
		quantity = engine.RoundToStep(quantity, step)
	}
	if quantity <= 0 {
		return fmt.Errorf("level quantity rounds to zero (base %f, multiplier %f)", s.cfg.BaseOrderQuantity, volAssess.PositionMultiplier)
	}

	params := grid.Tilt(price, spacing, s.cfg.GridLevels, trend, quantity)
	ladder, err := grid.Generate(params)
	if err != nil {
		return err
	}

	s.engine.ReplaceLadder(ladder)
	s.centerPrice = params.CenterPrice
	s.regimeState.GridGenerated = true

	s.logger.Infow("ladder regenerated",
		"reason", reason,
		"regime", trend.Regime,
		"strength", trend.Strength,
		"volatility", volAssess.Regime,
		"center", params.CenterPrice,
		"spacing", params.SpacingPct,
		"buy_levels", params.BuyLevels,
		"sell_levels", params.SellLevels,
		"quantity", quantity)

	s.sm.DispatchEvent(statemanager.NormalizedEvent{
		Type:      statemanager.LadderReplacedEvent,
		Timestamp: s.venue.CurrentTime(),
		Data: statemanager.LadderReplacedData{
			CenterPrice: params.CenterPrice,
			Ladder:      append([]models.GridLevel(nil), ladder...),
			Legacy:      append([]models.OpenPosition(nil), s.engine.LegacyPositions()...),
		},
	})
	return nil
}

// lotStepSize fetches the venue's lot step once and caches it. Zero means
// unknown; quantities then pass through unrounded.
func (s *Strategy) lotStepSize() float64 {
	if s.stepLoaded {
		return s.lotStep
	}
	s.stepLoaded = true

	info, err := s.venue.GetSymbolInfo(s.cfg.Symbol)
	if err != nil {
		s.logger.Warnw("failed to fetch symbol info, quantities unrounded", "error", err)
		return 0
	}
	for _, f := range info.Filters {
		if f.FilterType == "LOT_SIZE" && f.StepSize != "" {
			if step, err := strconv.ParseFloat(f.StepSize, 64); err == nil {
				s.lotStep = step
			}
			break
		}
	}
	return s.lotStep
}

func (s *Strategy) dispatchExecutionState(now time.Time) {
	var snapshot models.StrategyState
	s.engine.SnapshotInto(&snapshot)
	s.sm.DispatchEvent(statemanager.NormalizedEvent{
		Type:      statemanager.ExecutionUpdateEvent,
		Timestamp: now,
		Data: statemanager.ExecutionUpdateData{
			Ladder:    snapshot.Ladder,
			OpenBuys:  snapshot.OpenBuys,
			SoldPairs: snapshot.SoldPairs,
			Legacy:    snapshot.Legacy,
			Position:  snapshot.Position,
		},
	})
}

// ForceRegeneration marks the next tick for a ladder rebuild.
func (s *Strategy) ForceRegeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.Force()
}

// RiskStatus reports the gate's counters.
func (s *Strategy) RiskStatus() risk.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.Status()
}
