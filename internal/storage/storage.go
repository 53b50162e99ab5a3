package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"grid-strategy-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// Store is the sqlite-backed trade history: every fill, every completed
// cycle, and the monotonic cycle counter live here. The badger snapshot can
// be rebuilt from a cold start; this history cannot, so it gets its own
// durable file.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection and creates necessary tables.
func Open(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// Fills table stores every executed order. It is append-only.
	createFillsTableSQL := `
	CREATE TABLE IF NOT EXISTS fills (
		order_id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		fee REAL NOT NULL,
		filled_at INTEGER NOT NULL
	);`

	if _, err := db.Exec(createFillsTableSQL); err != nil {
		return err
	}

	// Cycles table stores completed buy/sell round trips.
	createCyclesTableSQL := `
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		buy_volume REAL NOT NULL,
		sell_volume REAL NOT NULL,
		gross_profit REAL NOT NULL,
		fees REAL NOT NULL,
		net_profit REAL NOT NULL,
		profit_pct REAL NOT NULL,
		fill_count INTEGER NOT NULL
	);`

	if _, err := db.Exec(createCyclesTableSQL); err != nil {
		return err
	}

	// Metadata table stores simple key-value metadata.
	createMetadataTableSQL := `
	CREATE TABLE IF NOT EXISTS strategy_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(createMetadataTableSQL); err != nil {
		return err
	}

	// Initialize the cycle counter if it doesn't exist.
	initCycleCounterSQL := `INSERT OR IGNORE INTO strategy_metadata (key, value) VALUES ('cycle_counter', '0');`
	if _, err := db.Exec(initCycleCounterSQL); err != nil {
		return err
	}

	return nil
}

// SaveFill inserts one executed order into the history.
func (s *Store) SaveFill(fill models.OrderFill) error {
	query := `
	INSERT INTO fills (order_id, cycle_id, symbol, side, price, quantity, fee, filled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		fill.OrderID, fill.CycleID, fill.Symbol, string(fill.Side),
		fill.Price, fill.Quantity, fill.Fee, fill.Time.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fill %s: %w", fill.OrderID, err)
	}
	return nil
}

// SaveCycle inserts one completed cycle into the history.
func (s *Store) SaveCycle(c models.CompletedCycle) error {
	query := `
	INSERT INTO cycles (id, symbol, start_time, end_time, buy_volume, sell_volume, gross_profit, fees, net_profit, profit_pct, fill_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		c.ID, c.Symbol, c.StartTime.UnixMilli(), c.EndTime.UnixMilli(),
		c.BuyVolume, c.SellVolume, c.GrossProfit, c.Fees, c.NetProfit,
		c.ProfitPct, c.FillCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle %s: %w", c.ID, err)
	}
	return nil
}

// FillsForCycle retrieves the fills belonging to one cycle, oldest first.
func (s *Store) FillsForCycle(cycleID string) ([]models.OrderFill, error) {
	query := `
	SELECT order_id, cycle_id, symbol, side, price, quantity, fee, filled_at
	FROM fills
	WHERE cycle_id = ?
	ORDER BY filled_at ASC`

	rows, err := s.db.Query(query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var fills []models.OrderFill
	for rows.Next() {
		var fill models.OrderFill
		var side string
		var filledAt int64
		if err := rows.Scan(
			&fill.OrderID, &fill.CycleID, &fill.Symbol, &side,
			&fill.Price, &fill.Quantity, &fill.Fee, &filledAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fill row: %w", err)
		}
		fill.Side = models.Side(side)
		fill.Time = time.UnixMilli(filledAt)
		fills = append(fills, fill)
	}
	return fills, rows.Err()
}

// RecentCycles retrieves the most recently completed cycles, newest first.
func (s *Store) RecentCycles(limit int) ([]models.CompletedCycle, error) {
	query := `
	SELECT id, symbol, start_time, end_time, buy_volume, sell_volume, gross_profit, fees, net_profit, profit_pct, fill_count
	FROM cycles
	ORDER BY end_time DESC
	LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []models.CompletedCycle
	for rows.Next() {
		var c models.CompletedCycle
		var startMs, endMs int64
		if err := rows.Scan(
			&c.ID, &c.Symbol, &startMs, &endMs, &c.BuyVolume, &c.SellVolume,
			&c.GrossProfit, &c.Fees, &c.NetProfit, &c.ProfitPct, &c.FillCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}
		c.StartTime = time.UnixMilli(startMs)
		c.EndTime = time.UnixMilli(endMs)
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// NextCycleID atomically retrieves and increments the cycle counter.
func (s *Store) NextCycleID() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for cycle ID: %w", err)
	}
	defer tx.Rollback() // Rollback on any error

	var counterStr string
	err = tx.QueryRow("SELECT value FROM strategy_metadata WHERE key = 'cycle_counter'").Scan(&counterStr)
	if err != nil {
		return 0, fmt.Errorf("failed to read cycle_counter: %w", err)
	}

	counter, err := strconv.ParseInt(counterStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse cycle_counter value '%s': %w", counterStr, err)
	}

	nextCounter := counter + 1

	_, err = tx.Exec("UPDATE strategy_metadata SET value = ? WHERE key = 'cycle_counter'", strconv.FormatInt(nextCounter, 10))
	if err != nil {
		return 0, fmt.Errorf("failed to update cycle_counter: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cycle_counter transaction: %w", err)
	}

	return nextCounter, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
