package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"grid-strategy-go/internal/logger"
	"grid-strategy-go/internal/models"

	"github.com/adshao/go-binance/v2"
)

// KlineDownloader fetches historical spot klines for backtesting.
type KlineDownloader struct {
	client *binance.Client
}

// NewKlineDownloader creates a downloader. The kline endpoints are public,
// no API key is needed.
func NewKlineDownloader() *KlineDownloader {
	return &KlineDownloader{
		client: binance.NewClient("", ""),
	}
}

// DownloadKlines downloads 1m klines for the symbol and time range into a
// CSV file. An existing file is treated as a cache and left untouched.
func (d *KlineDownloader) DownloadKlines(symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		logger.S().Infof("Loading cached kline data from %s", filePath)
		return nil
	}

	logger.S().Infof("Downloading %s klines from %s to %s",
		symbol, startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %v", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"open_time", "open", "high", "low", "close", "volume", "close_time"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval("1m").
			StartTime(t.UnixMilli()).
			Limit(1000). // API maximum per request
			Do(context.Background())

		if err != nil {
			return fmt.Errorf("failed to download klines: %v", err)
		}

		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write CSV record: %v", err)
			}
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		logger.S().Infof("Downloaded data up to %s", t.Format("2006-01-02 15:04:05"))
		time.Sleep(200 * time.Millisecond) // stay under the public rate limit
	}

	logger.S().Infof("Kline data saved to %s", filePath)
	return nil
}

// LoadKlinesCSV reads a kline CSV file produced by DownloadKlines.
func LoadKlinesCSV(filePath string) ([]models.Kline, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open kline file %s: %v", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read kline file %s: %v", filePath, err)
	}

	var klines []models.Kline
	for i, rec := range records {
		if i == 0 {
			continue // header
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("malformed kline row %d in %s", i+1, filePath)
		}

		var k models.Kline
		k.OpenTime, err = strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad open_time on row %d: %v", i+1, err)
		}
		fields := []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
		for j, dst := range fields {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("bad kline field on row %d: %v", i+1, err)
			}
			*dst = v
		}
		klines = append(klines, k)
	}
	return klines, nil
}
