package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"grid-strategy-go/internal/config"
	"grid-strategy-go/internal/cycle"
	"grid-strategy-go/internal/downloader"
	"grid-strategy-go/internal/exchange"
	"grid-strategy-go/internal/logger"
	"grid-strategy-go/internal/models"
	"grid-strategy-go/internal/persistence"
	"grid-strategy-go/internal/reporter"
	"grid-strategy-go/internal/storage"
	"grid-strategy-go/internal/strategy"

	"github.com/joho/godotenv"
)

// extractSymbolFromPath derives the trading pair from a data file path,
// e.g. "data/BTCUSDT-2026-01-01-2026-06-01.csv" -> "BTCUSDT".
func extractSymbolFromPath(path string) string {
	name := strings.TrimSuffix(path, ".csv")
	parts := strings.Split(name, "/")
	fileName := parts[len(parts)-1]

	symbolParts := strings.Split(fileName, "-")
	if len(symbolParts) > 0 {
		return symbolParts[0]
	}
	return ""
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or backtest")
	dataPath := flag.String("data", "", "path to historical data file for backtesting")
	symbol := flag.String("symbol", "", "symbol to backtest (e.g., BTCUSDT)")
	startDate := flag.String("start", "", "start date for backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for backtesting (YYYY-MM-DD)")
	flag.Parse()

	// A default logger so config loading problems are visible; the
	// configured logger replaces it right after.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, reading from system environment.")
	} else {
		logger.S().Info("Loaded configuration from .env file.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("Failed to load config file: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "backtest":
		finalDataPath, err := handleBacktestMode(*symbol, *startDate, *endDate, *dataPath)
		if err != nil {
			logger.S().Fatal(err)
		}
		runBacktestMode(cfg, finalDataPath)
	default:
		logger.S().Fatalf("Unknown mode: %s. Choose 'live' or 'backtest'.", *mode)
	}
}

// handleBacktestMode resolves the data source for a backtest, downloading
// klines when a symbol and date range are given instead of a file.
func handleBacktestMode(symbol, startDate, endDate, dataPath string) (string, error) {
	shouldDownload := symbol != "" && startDate != "" && endDate != ""

	if shouldDownload {
		startTime, err1 := time.Parse("2006-01-02", startDate)
		endTime, err2 := time.Parse("2006-01-02", endDate)
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("bad date format, use YYYY-MM-DD. start: %v, end: %v", err1, err2)
		}

		if _, err := os.Stat("data"); os.IsNotExist(err) {
			if err := os.Mkdir("data", 0755); err != nil {
				return "", fmt.Errorf("failed to create data directory: %v", err)
			}
		}

		dl := downloader.NewKlineDownloader()
		fileName := fmt.Sprintf("data/%s-%s-%s.csv", symbol, startDate, endDate)

		if err := dl.DownloadKlines(symbol, fileName, startTime, endTime); err != nil {
			return "", fmt.Errorf("failed to download data: %v", err)
		}
		return fileName, nil
	}

	if dataPath == "" {
		return "", fmt.Errorf("backtest mode needs --data or --symbol/--start/--end")
	}
	return dataPath, nil
}

// runLiveMode trades against the real exchange until interrupted.
func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- Starting live trading mode ---")

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set.")
	}

	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
		logger.S().Info("Using the exchange testnet...")
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
		logger.S().Info("Using the exchange production network...")
	}

	venue, err := exchange.NewLiveExchange(
		apiKey, secretKey, cfg.BaseURL, cfg.WSBaseURL,
		cfg.RequestsPerSecond,
		time.Duration(cfg.WebSocketPingIntervalSec)*time.Second,
		time.Duration(cfg.WebSocketPongTimeoutSec)*time.Second,
		logger.L(),
	)
	if err != nil {
		logger.S().Fatalf("Failed to initialize exchange: %v", err)
	}

	repo, err := persistence.NewBadgerRepository(cfg.StateDBPath)
	if err != nil {
		logger.S().Fatalf("Failed to open state database: %v", err)
	}
	defer repo.Close()

	history, err := storage.Open(cfg.HistoryDBPath)
	if err != nil {
		logger.S().Fatalf("Failed to open history database: %v", err)
	}
	defer history.Close()

	strat, err := strategy.New(cfg, venue, repo, history, logger.L())
	if err != nil {
		logger.S().Fatalf("Failed to initialize strategy: %v", err)
	}

	if err := strat.Start(); err != nil {
		logger.S().Fatalf("Failed to start strategy: %v", err)
	}

	// The polling loop drives the strategy; the trade stream is for
	// low-latency observability of the market between polls.
	err = venue.SubscribeTrades(cfg.Symbol, func(ev models.TradeEvent) {
		logger.S().Debugw("trade", "price", ev.Price, "qty", ev.Quantity, "maker", ev.IsMaker)
	})
	if err != nil {
		logger.S().Warnf("Failed to subscribe to trade stream: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	strat.Stop()
	venue.UnsubscribeTrades()
	logger.S().Info("Strategy stopped cleanly.")
}

// runBacktestMode replays historical klines through the strategy.
func runBacktestMode(cfg *models.Config, dataPath string) {
	logger.S().Info("--- Starting backtest mode ---")

	backtestSymbol := extractSymbolFromPath(dataPath)
	if backtestSymbol == "" {
		logger.S().Fatalf("Cannot extract symbol from data path %s", dataPath)
	}
	cfg.Symbol = backtestSymbol

	if cfg.InitialBalance <= 0 {
		logger.S().Fatal("Backtest mode needs a positive initial_balance in the config.")
	}

	klines, err := downloader.LoadKlinesCSV(dataPath)
	if err != nil {
		logger.S().Fatalf("Failed to load kline data: %v", err)
	}
	if len(klines) == 0 {
		logger.S().Fatal("Kline data file is empty.")
	}

	venue := exchange.NewBacktestExchange(cfg)
	var archive cycle.Archiver // in-memory history only
	strat, err := strategy.New(cfg, venue, nil, archive, logger.L())
	if err != nil {
		logger.S().Fatalf("Failed to initialize strategy: %v", err)
	}
	if err := strat.StartForBacktest(); err != nil {
		logger.S().Fatalf("Failed to start strategy: %v", err)
	}
	defer strat.Stop()

	startTime := time.UnixMilli(klines[0].OpenTime)
	endTime := time.UnixMilli(klines[len(klines)-1].OpenTime)

	logger.S().Infof("Replaying %d bars from %s to %s",
		len(klines), startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))

	for _, k := range klines {
		if strat.IsHalted() {
			logger.S().Warn("Emergency stop tripped, ending replay early.")
			break
		}

		venue.Advance(k)
		if err := strat.ProcessTick(); err != nil {
			logger.S().Warnf("Tick failed at %s: %v", time.UnixMilli(k.OpenTime), err)
		}
	}

	logger.S().Info("Backtest finished.")
	reporter.GenerateReport(venue, strat.Tracker(), cfg.Symbol, dataPath,
		cfg.InitialBalance, startTime, endTime)
}
