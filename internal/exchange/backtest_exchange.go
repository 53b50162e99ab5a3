package exchange

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"grid-strategy-go/internal/models"
)

// BacktestExchange implements the Exchange interface against replayed kline
// data. It simulates a spot account: a quote balance, a base balance, market
// fills at the replay cursor's price with slippage and taker fees.
type BacktestExchange struct {
	symbol       string
	quoteBalance float64
	baseBalance  float64

	currentPrice float64
	currentTime  time.Time
	history      []models.Kline

	orders      map[int64]*models.Order
	nextOrderID int64

	takerFeePct float64 // percent of fill value
	makerFeePct float64
	slippagePct float64 // percent, applied against the taker

	totalFees   float64
	equityCurve []float64
	dailyEquity map[string]float64

	mu sync.Mutex
}

// NewBacktestExchange creates a simulated spot venue funded with the
// configured initial quote balance.
func NewBacktestExchange(cfg *models.Config) *BacktestExchange {
	return &BacktestExchange{
		symbol:       cfg.Symbol,
		quoteBalance: cfg.InitialBalance,
		orders:       make(map[int64]*models.Order),
		nextOrderID:  1,
		takerFeePct:  cfg.TakerFeePct,
		makerFeePct:  cfg.MakerFeePct,
		slippagePct:  cfg.SlippagePct,
		equityCurve:  make([]float64, 0, 10000),
		dailyEquity:  make(map[string]float64),
	}
}

// Advance moves the replay cursor to the next bar. The bar joins the kline
// history served by GetKlines, the close becomes the current price, and the
// equity curve gets a new point.
func (e *BacktestExchange) Advance(k models.Kline) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, k)
	e.currentPrice = k.Close
	e.currentTime = time.UnixMilli(k.OpenTime)
	e.updateEquity()
}

// updateEquity records the mark-to-market account value. Caller holds the lock.
func (e *BacktestExchange) updateEquity() {
	equity := e.quoteBalance + e.baseBalance*e.currentPrice
	e.equityCurve = append(e.equityCurve, equity)
	e.dailyEquity[e.currentTime.Format("2006-01-02")] = equity
}

// --- Exchange interface implementation ---

func (e *BacktestExchange) GetPrice(symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentPrice == 0 {
		return 0, fmt.Errorf("no price set, advance the replay first")
	}
	return e.currentPrice, nil
}

// GetKlines serves the trailing window of replayed bars, mirroring what the
// live endpoint would return at this point in time.
func (e *BacktestExchange) GetKlines(symbol, interval string, limit int) ([]models.Kline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := len(e.history) - limit
	if start < 0 {
		start = 0
	}
	out := make([]models.Kline, len(e.history)-start)
	copy(out, e.history[start:])
	return out, nil
}

// PlaceOrder fills market orders immediately at the cursor price, adjusted
// for slippage, and moves the simulated balances. Orders the account cannot
// afford are rejected the way the live venue would reject them.
func (e *BacktestExchange) PlaceOrder(symbol string, side models.Side, orderType string, quantity, price float64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if orderType != "MARKET" {
		return nil, fmt.Errorf("backtest venue only supports MARKET orders, got %s", orderType)
	}
	if e.currentPrice == 0 {
		return nil, fmt.Errorf("no price set, advance the replay first")
	}

	var executionPrice float64
	if side == models.Buy {
		executionPrice = e.currentPrice * (1 + e.slippagePct/100)
	} else {
		executionPrice = e.currentPrice * (1 - e.slippagePct/100)
	}

	value := executionPrice * quantity
	fee := value * e.takerFeePct / 100

	if side == models.Buy {
		if e.quoteBalance < value+fee {
			return nil, &models.Error{Code: -2010, Msg: "Account has insufficient balance for requested action."}
		}
		e.quoteBalance -= value + fee
		e.baseBalance += quantity
	} else {
		if e.baseBalance < quantity-1e-12 {
			return nil, &models.Error{Code: -2010, Msg: "Account has insufficient balance for requested action."}
		}
		e.baseBalance -= quantity
		e.quoteBalance += value - fee
	}
	e.totalFees += fee

	order := &models.Order{
		OrderID:      e.nextOrderID,
		Symbol:       e.symbol,
		Side:         string(side),
		Type:         orderType,
		OrigQty:      strconv.FormatFloat(quantity, 'f', 8, 64),
		ExecutedQty:  strconv.FormatFloat(quantity, 'f', 8, 64),
		Price:        strconv.FormatFloat(executionPrice, 'f', 8, 64),
		Status:       "FILLED",
		TransactTime: e.currentTime.UnixMilli(),
	}
	e.orders[order.OrderID] = order
	e.nextOrderID++

	e.updateEquity()
	return order, nil
}

func (e *BacktestExchange) GetOrderStatus(symbol string, orderID int64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if order, ok := e.orders[orderID]; ok {
		orderCopy := *order
		return &orderCopy, nil
	}
	return nil, fmt.Errorf("order ID %d not found in backtest", orderID)
}

func (e *BacktestExchange) CancelOrder(symbol string, orderID int64) error {
	// Market orders fill instantly; there is nothing to cancel.
	return nil
}

func (e *BacktestExchange) GetAccountInfo() (*models.AccountInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &models.AccountInfo{
		Balances: []models.Balance{
			{Asset: "USDT", Free: strconv.FormatFloat(e.quoteBalance, 'f', 8, 64), Locked: "0"},
			{Asset: "BTC", Free: strconv.FormatFloat(e.baseBalance, 'f', 8, 64), Locked: "0"},
		},
	}, nil
}

// GetSymbolInfo returns simulated trading rules so backtests never touch
// the network.
func (e *BacktestExchange) GetSymbolInfo(symbol string) (*models.SymbolInfo, error) {
	return &models.SymbolInfo{
		Symbol: symbol,
		Filters: []models.Filter{
			{FilterType: "PRICE_FILTER", TickSize: "0.01"},
			{FilterType: "LOT_SIZE", StepSize: "0.00001"},
			{FilterType: "NOTIONAL", MinNotional: "5.00"},
		},
	}, nil
}

func (e *BacktestExchange) GetServerTime() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTime.UnixMilli(), nil
}

// CurrentTime is the replay cursor, not the wall clock.
func (e *BacktestExchange) CurrentTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTime
}

// --- Backtest reporting accessors ---

// QuoteBalance returns the free quote balance.
func (e *BacktestExchange) QuoteBalance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quoteBalance
}

// BaseBalance returns the free base balance.
func (e *BacktestExchange) BaseBalance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseBalance
}

// TotalFees returns the fees paid over the replay.
func (e *BacktestExchange) TotalFees() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFees
}

// EquityCurve returns a copy of the recorded equity points.
func (e *BacktestExchange) EquityCurve() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.equityCurve))
	copy(out, e.equityCurve)
	return out
}

// DailyEquity returns a copy of the end-of-day equity by date.
func (e *BacktestExchange) DailyEquity() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	cpy := make(map[string]float64, len(e.dailyEquity))
	for k, v := range e.dailyEquity {
		cpy[k] = v
	}
	return cpy
}
