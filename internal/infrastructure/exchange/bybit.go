package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/paper_signal_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	tickerTopic  = "tickers."
	pingInterval = 20 * time.Second
)

type BybitConfig struct {
	APIKey         string
	APISecret      string
	RESTEndpoint   string
	WSEndpoint     string
	Category       string
	BarLimit       int
	QuoteFreshness time.Duration
}

// BybitAdapter serves bars from the kline endpoint and quotes from the
// ticker stream, falling back to REST when the stream has nothing fresh.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	category  string
	barLimit  int
	freshness time.Duration
	client    *http.Client
	logger    *zap.Logger
	timeNow   func() time.Time

	mu        sync.Mutex
	wsConn    *websocket.Conn
	wsDone    chan struct{}
	quotes    map[string]domain.Quote
	callbacks []func(domain.Quote)
}

var _ domain.MarketData = (*BybitAdapter)(nil)

func NewBybitAdapter(cfg BybitConfig, logger *zap.Logger) *BybitAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RESTEndpoint == "" {
		cfg.RESTEndpoint = BybitBaseURL
	}
	if cfg.WSEndpoint == "" {
		cfg.WSEndpoint = BybitWSURL
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	if cfg.BarLimit <= 0 {
		cfg.BarLimit = 200
	}
	if cfg.QuoteFreshness <= 0 {
		cfg.QuoteFreshness = 30 * time.Second
	}
	return &BybitAdapter{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		baseURL:   strings.TrimRight(cfg.RESTEndpoint, "/"),
		wsURL:     cfg.WSEndpoint,
		category:  cfg.Category,
		barLimit:  cfg.BarLimit,
		freshness: cfg.QuoteFreshness,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		timeNow:   time.Now,
		quotes:    make(map[string]domain.Quote),
	}
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

// sendRequest issues a GET. Market endpoints are public; requests are signed
// only when credentials are configured.
func (b *BybitAdapter) sendRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	params := query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+params, nil)
	if err != nil {
		return nil, err
	}
	if b.apiKey != "" {
		timestamp := b.timeNow().UnixMilli()
		recvWindow := 5000
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
		req.Header.Set("X-BAPI-SIGN", b.sign(params, timestamp, recvWindow))
		req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrDataUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: API error %d: %s", domain.ErrDataUnavailable, resp.StatusCode, string(body))
	}
	return body, nil
}

type envelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

func decode[T any](body []byte) (envelope[T], error) {
	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: decode: %v", domain.ErrDataUnavailable, err)
	}
	if env.RetCode != 0 {
		return env, fmt.Errorf("%w: bybit error %d: %s", domain.ErrDataUnavailable, env.RetCode, env.RetMsg)
	}
	return env, nil
}

// GetBars returns up to the configured number of bars, oldest first.
// period is a Bybit kline interval such as "1", "60" or "D".
func (b *BybitAdapter) GetBars(ctx context.Context, symbol, period string) ([]domain.PriceBar, error) {
	q := url.Values{}
	q.Set("category", b.category)
	q.Set("symbol", symbol)
	q.Set("interval", period)
	q.Set("limit", strconv.Itoa(b.barLimit))
	body, err := b.sendRequest(ctx, "/v5/market/kline", q)
	if err != nil {
		return nil, fmt.Errorf("kline %s: %w", symbol, err)
	}
	env, err := decode[struct {
		List [][]string `json:"list"`
	}](body)
	if err != nil {
		return nil, fmt.Errorf("kline %s: %w", symbol, err)
	}

	bars := make([]domain.PriceBar, 0, len(env.Result.List))
	for _, raw := range env.Result.List {
		// [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		bar, err := parseKline(symbol, raw)
		if err != nil {
			return nil, fmt.Errorf("kline %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}

	// Bybit returns newest first.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func parseKline(symbol string, raw []string) (domain.PriceBar, error) {
	ts, err := strconv.ParseInt(raw[0], 10, 64)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("%w: bad start time %q", domain.ErrDataUnavailable, raw[0])
	}
	var v [5]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(raw[i+1], 64); err != nil {
			return domain.PriceBar{}, fmt.Errorf("%w: bad number %q", domain.ErrDataUnavailable, raw[i+1])
		}
	}
	return domain.PriceBar{
		Symbol: symbol,
		Time:   time.UnixMilli(ts).UTC(),
		Open:   v[0],
		High:   v[1],
		Low:    v[2],
		Close:  v[3],
		Volume: v[4],
	}, nil
}

// GetQuote returns the streamed quote when it is fresh, otherwise the REST
// ticker. A quote older than the freshness window is ErrStaleQuote.
func (b *BybitAdapter) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	now := b.timeNow()
	b.mu.Lock()
	q, ok := b.quotes[symbol]
	b.mu.Unlock()
	if ok && q.Age(now) <= b.freshness {
		return q, nil
	}

	q, err := b.fetchTicker(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	b.store(q)
	if q.Age(now) > b.freshness {
		return q, fmt.Errorf("%s quote from %s: %w", symbol, q.Time.Format(time.RFC3339), domain.ErrStaleQuote)
	}
	return q, nil
}

func (b *BybitAdapter) fetchTicker(ctx context.Context, symbol string) (domain.Quote, error) {
	q := url.Values{}
	q.Set("category", b.category)
	q.Set("symbol", symbol)
	body, err := b.sendRequest(ctx, "/v5/market/tickers", q)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	env, err := decode[struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}](body)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	if len(env.Result.List) == 0 {
		return domain.Quote{}, fmt.Errorf("ticker %s: symbol not found: %w", symbol, domain.ErrDataUnavailable)
	}
	price, err := strconv.ParseFloat(env.Result.List[0].LastPrice, 64)
	if err != nil || price <= 0 {
		return domain.Quote{}, fmt.Errorf("ticker %s: bad last price %q: %w", symbol, env.Result.List[0].LastPrice, domain.ErrDataUnavailable)
	}
	at := b.timeNow()
	if env.Time > 0 {
		at = time.UnixMilli(env.Time).UTC()
	}
	return domain.Quote{Symbol: symbol, Price: price, Time: at}, nil
}

func (b *BybitAdapter) store(q domain.Quote) {
	b.mu.Lock()
	if prev, ok := b.quotes[q.Symbol]; ok && prev.Time.After(q.Time) {
		b.mu.Unlock()
		return
	}
	b.quotes[q.Symbol] = q
	callbacks := make([]func(domain.Quote), len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.mu.Unlock()

	for _, cb := range callbacks {
		cb(q)
	}
}

// --- WebSocket ---

// OnQuote registers a callback for every accepted quote update.
func (b *BybitAdapter) OnQuote(callback func(domain.Quote)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// ConnectWS dials the public stream, or reuses the connection, and
// subscribes to tickers for symbols.
func (b *BybitAdapter) ConnectWS(ctx context.Context, symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn != nil {
		return b.subscribe(symbols)
	}

	c, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.wsURL, err)
	}
	b.wsConn = c
	b.wsDone = make(chan struct{})

	go b.readLoop(c, b.wsDone)
	go b.pingLoop(c, b.wsDone)

	return b.subscribe(symbols)
}

func (b *BybitAdapter) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]string, len(symbols))
	for i, s := range symbols {
		args[i] = tickerTopic + s
	}
	return b.wsConn.WriteJSON(map[string]any{"op": "subscribe", "args": args})
}

// Close drops the stream connection.
func (b *BybitAdapter) Close() error {
	b.mu.Lock()
	c := b.wsConn
	b.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (b *BybitAdapter) pingLoop(c *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			b.mu.Lock()
			err := c.WriteJSON(map[string]string{"op": "ping"})
			b.mu.Unlock()
			if err != nil {
				b.logger.Warn("WS ping failed", zap.Error(err))
				return
			}
		}
	}
}

type tickerMessage struct {
	Topic string `json:"topic"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

func (b *BybitAdapter) readLoop(c *websocket.Conn, done chan struct{}) {
	defer func() {
		c.Close()
		close(done)
		b.mu.Lock()
		if b.wsConn == c {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			b.logger.Warn("WS read error", zap.Error(err))
			return
		}
		if q, ok := b.parseTicker(message); ok {
			b.store(q)
		}
	}
}

// parseTicker extracts a quote from a tickers push. Deltas without a last
// price are skipped.
func (b *BybitAdapter) parseTicker(message []byte) (domain.Quote, bool) {
	var msg tickerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		b.logger.Debug("WS unmarshal error", zap.Error(err))
		return domain.Quote{}, false
	}
	if !strings.HasPrefix(msg.Topic, tickerTopic) || msg.Data.LastPrice == "" {
		return domain.Quote{}, false
	}
	price, err := strconv.ParseFloat(msg.Data.LastPrice, 64)
	if err != nil || price <= 0 {
		return domain.Quote{}, false
	}
	symbol := msg.Data.Symbol
	if symbol == "" {
		symbol = strings.TrimPrefix(msg.Topic, tickerTopic)
	}
	at := b.timeNow()
	if msg.TS > 0 {
		at = time.UnixMilli(msg.TS).UTC()
	}
	return domain.Quote{Symbol: symbol, Price: price, Time: at}, true
}
