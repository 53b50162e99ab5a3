package exchange

import (
	"time"

	"grid-strategy-go/internal/models"
)

// Exchange is the common surface every venue implementation provides, so
// the strategy can run unchanged against the live exchange or the backtest
// replay.
type Exchange interface {
	GetPrice(symbol string) (float64, error)
	GetKlines(symbol, interval string, limit int) ([]models.Kline, error)
	PlaceOrder(symbol string, side models.Side, orderType string, quantity, price float64) (*models.Order, error)
	GetOrderStatus(symbol string, orderID int64) (*models.Order, error)
	CancelOrder(symbol string, orderID int64) error
	GetAccountInfo() (*models.AccountInfo, error)
	GetSymbolInfo(symbol string) (*models.SymbolInfo, error)
	GetServerTime() (int64, error)

	// CurrentTime is the venue's notion of now: wall clock for the live
	// exchange, the replay cursor for backtests.
	CurrentTime() time.Time
}
