package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"grid-strategy-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LiveExchange implements the Exchange interface against the real spot API.
type LiveExchange struct {
	apiKey     string
	secretKey  string
	baseURL    string
	wsBaseURL  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	timeOffset int64

	mu       sync.Mutex
	wsConn   *websocket.Conn
	wsStopCh chan struct{}

	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewLiveExchange creates a LiveExchange and syncs time with the server.
// requestsPerSecond bounds the REST call rate; the exchange bans clients
// that exceed their request weight.
func NewLiveExchange(apiKey, secretKey, baseURL, wsBaseURL string, requestsPerSecond float64, pingInterval, pongTimeout time.Duration, logger *zap.Logger) (*LiveExchange, error) {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	e := &LiveExchange{
		apiKey:       apiKey,
		secretKey:    secretKey,
		baseURL:      baseURL,
		wsBaseURL:    wsBaseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		logger:       logger,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}

	if err := e.syncTime(); err != nil {
		return nil, fmt.Errorf("failed to sync time with exchange server: %v", err)
	}

	return e, nil
}

// syncTime computes the offset between local and server clocks. Signed
// requests are rejected when the timestamp drifts too far.
func (e *LiveExchange) syncTime() error {
	serverTime, err := e.GetServerTime()
	if err != nil {
		return err
	}
	localTime := time.Now().UnixMilli()
	e.timeOffset = serverTime - localTime
	e.logger.Info("Time synced with exchange server", zap.Int64("timeOffset (ms)", e.timeOffset))
	return nil
}

// doRequest sends one REST request, signing it when required.
func (e *LiveExchange) doRequest(method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	if err := e.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}

	fullURL := fmt.Sprintf("%s%s", e.baseURL, endpoint)
	queryParams := url.Values{}
	for k, v := range params {
		queryParams[k] = v
	}

	var encodedParams string
	if signed {
		timestamp := time.Now().UnixMilli() + e.timeOffset
		queryParams.Set("timestamp", fmt.Sprintf("%d", timestamp))

		payloadToSign := queryParams.Encode()
		signature := e.sign(payloadToSign)
		encodedParams = fmt.Sprintf("%s&signature=%s", payloadToSign, signature)
	} else {
		encodedParams = queryParams.Encode()
	}

	var req *http.Request
	var err error

	if method == http.MethodGet {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
		}
		req, err = http.NewRequest(method, finalURL, nil)
	} else { // POST, PUT, DELETE
		req, err = http.NewRequest(method, fullURL, strings.NewReader(encodedParams))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("X-MBX-APIKEY", e.apiKey)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	var apiError models.Error
	if json.Unmarshal(body, &apiError) == nil && apiError.Code != 0 {
		return body, &apiError
	}

	if resp.StatusCode != http.StatusOK {
		// Return the body alongside the error so the caller can log the
		// full response.
		return body, fmt.Errorf("API request failed, status: %d, response: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// sign computes the HMAC-SHA256 signature over the request payload.
func (e *LiveExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// --- Exchange interface implementation ---

// GetPrice returns the last traded price for the symbol.
func (e *LiveExchange) GetPrice(symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		return 0, err
	}

	return strconv.ParseFloat(ticker.Price, 64)
}

// GetKlines returns the most recent bars for the symbol. The spot API
// encodes each bar as a mixed-type JSON array.
func (e *LiveExchange) GetKlines(symbol, interval string, limit int) ([]models.Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	data, err := e.doRequest(http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %v", err)
	}

	klines := make([]models.Kline, 0, len(raw))
	for _, bar := range raw {
		if len(bar) < 6 {
			continue
		}
		k, err := parseKline(bar)
		if err != nil {
			return nil, err
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(bar []interface{}) (models.Kline, error) {
	var k models.Kline

	openTime, ok := bar[0].(float64)
	if !ok {
		return k, fmt.Errorf("unexpected kline open time type: %T", bar[0])
	}
	k.OpenTime = int64(openTime)

	fields := []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
	for i, dst := range fields {
		s, ok := bar[i+1].(string)
		if !ok {
			return k, fmt.Errorf("unexpected kline field type at %d: %T", i+1, bar[i+1])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return k, fmt.Errorf("failed to parse kline field %q: %v", s, err)
		}
		*dst = v
	}
	return k, nil
}

// PlaceOrder submits an order. Market orders request the FULL response so
// the fill prices come back with the order.
func (e *LiveExchange) PlaceOrder(symbol string, side models.Side, orderType string, quantity, price float64) (*models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", orderType)
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))

	if orderType == "LIMIT" {
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	} else {
		params.Set("newOrderRespType", "FULL")
	}

	data, err := e.doRequest(http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		e.logger.Error("Order request rejected by exchange",
			zap.Error(err), zap.String("raw_response", string(data)))
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderStatus queries one order by exchange ID.
func (e *LiveExchange) GetOrderStatus(symbol string, orderID int64) (*models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	data, err := e.doRequest(http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels one open order.
func (e *LiveExchange) CancelOrder(symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	_, err := e.doRequest(http.MethodDelete, "/api/v3/order", params, true)
	return err
}

// GetAccountInfo returns the spot account balances.
func (e *LiveExchange) GetAccountInfo() (*models.AccountInfo, error) {
	data, err := e.doRequest(http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get account info: %v", err)
	}

	var accInfo models.AccountInfo
	if err := json.Unmarshal(data, &accInfo); err != nil {
		return nil, fmt.Errorf("failed to parse account info: %v", err)
	}
	return &accInfo, nil
}

// GetBalance returns the free balance of one asset.
func (e *LiveExchange) GetBalance(asset string) (float64, error) {
	accInfo, err := e.GetAccountInfo()
	if err != nil {
		return 0, err
	}
	for _, b := range accInfo.Balances {
		if b.Asset == asset {
			return strconv.ParseFloat(b.Free, 64)
		}
	}
	return 0, fmt.Errorf("no balance found for asset %s", asset)
}

// GetSymbolInfo returns the trading rules for the symbol.
func (e *LiveExchange) GetSymbolInfo(symbol string) (*models.SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return nil, err
	}

	var exchangeInfo models.ExchangeInfo
	if err := json.Unmarshal(data, &exchangeInfo); err != nil {
		return nil, err
	}

	for _, s := range exchangeInfo.Symbols {
		if s.Symbol == symbol {
			return &s, nil
		}
	}

	return nil, fmt.Errorf("no symbol info found for %s", symbol)
}

// GetServerTime returns the exchange server clock in milliseconds.
func (e *LiveExchange) GetServerTime() (int64, error) {
	data, err := e.doRequest(http.MethodGet, "/api/v3/time", nil, false)
	if err != nil {
		return 0, err
	}
	var serverTime struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &serverTime); err != nil {
		return 0, err
	}
	return serverTime.ServerTime, nil
}

// CurrentTime returns the wall clock.
func (e *LiveExchange) CurrentTime() time.Time {
	return time.Now()
}

// SubscribeTrades opens the public trade stream for the symbol and invokes
// the handler for every trade. It reconnects on read failure until stop is
// called. The connection is kept alive with pings; a missed pong closes it.
func (e *LiveExchange) SubscribeTrades(symbol string, handler func(models.TradeEvent)) error {
	e.mu.Lock()
	if e.wsStopCh != nil {
		e.mu.Unlock()
		return fmt.Errorf("trade stream already running")
	}
	e.wsStopCh = make(chan struct{})
	stopCh := e.wsStopCh
	e.mu.Unlock()

	streamURL := fmt.Sprintf("%s/ws/%s@trade", e.wsBaseURL, strings.ToLower(symbol))

	go func() {
		for {
			select {
			case <-stopCh:
				return
			default:
			}

			if err := e.runTradeStream(streamURL, handler, stopCh); err != nil {
				e.logger.Warn("Trade stream disconnected, reconnecting",
					zap.String("url", streamURL), zap.Error(err))
			}

			select {
			case <-stopCh:
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()

	return nil
}

func (e *LiveExchange) runTradeStream(streamURL string, handler func(models.TradeEvent), stopCh chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %v", err)
	}
	defer conn.Close()

	e.mu.Lock()
	e.wsConn = conn
	e.mu.Unlock()

	pongTimeout := e.pongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 75 * time.Second
	}
	pingInterval := e.pingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-stopCh:
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event models.TradeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			e.logger.Warn("Failed to parse trade event", zap.Error(err))
			continue
		}
		if event.EventType == "trade" {
			handler(event)
		}
	}
}

// UnsubscribeTrades stops the trade stream.
func (e *LiveExchange) UnsubscribeTrades() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wsStopCh != nil {
		close(e.wsStopCh)
		e.wsStopCh = nil
	}
	if e.wsConn != nil {
		e.wsConn.Close()
		e.wsConn = nil
	}
}
