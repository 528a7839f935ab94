package broker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// APIError is a structured error response from the Kite REST API.
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kite api error (%d %s): %s", e.StatusCode, e.ErrorType, e.Message)
}

// KiteConfig holds connection settings for the Kite REST API.
type KiteConfig struct {
	BaseURL            string
	APIKey             string
	AccessToken        string
	TimeoutSeconds     int
	RateLimitPerSecond float64
	Exchange           string
}

// KiteClient implements Broker against the Zerodha Kite Connect v3 REST
// API. All calls are rate limited; Kite enforces roughly 3 req/s per app.
type KiteClient struct {
	baseURL     string
	apiKey      string
	accessToken string
	exchange    string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewKiteClient creates a Kite client, applying defaults for anything unset.
func NewKiteClient(cfg KiteConfig) (*KiteClient, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("kite: api key and access token are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kite.trade"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 3
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE"
	}
	return &KiteClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		exchange:    cfg.Exchange,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), 1),
	}, nil
}

// LTP fetches the last traded price via GET /quote/ltp.
func (k *KiteClient) LTP(ctx context.Context, symbol string) (decimal.Decimal, error) {
	instrument := k.exchange + ":" + strings.ToUpper(strings.TrimSpace(symbol))

	var resp struct {
		Data map[string]struct {
			LastPrice json.Number `json:"last_price"`
		} `json:"data"`
	}
	q := url.Values{"i": {instrument}}
	if err := k.doJSON(ctx, http.MethodGet, "/quote/ltp?"+q.Encode(), nil, &resp); err != nil {
		return decimal.Zero, err
	}
	entry, ok := resp.Data[instrument]
	if !ok {
		return decimal.Zero, fmt.Errorf("kite: no ltp for %s", instrument)
	}
	price, err := decimal.NewFromString(entry.LastPrice.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("kite: bad ltp %q for %s: %w", entry.LastPrice, instrument, err)
	}
	return price, nil
}

// PlaceOrder submits a regular-variety day order via POST /orders/regular.
func (k *KiteClient) PlaceOrder(ctx context.Context, intent OrderIntent) (string, error) {
	if intent.Quantity < 1 {
		return "", fmt.Errorf("kite: quantity must be >= 1, got %d", intent.Quantity)
	}
	form := url.Values{
		"exchange":         {k.exchange},
		"tradingsymbol":    {strings.ToUpper(intent.Symbol)},
		"transaction_type": {"BUY"},
		"quantity":         {strconv.Itoa(intent.Quantity)},
		"product":          {string(intent.Product)},
		"validity":         {"DAY"},
		"tag":              {"kitepilot"},
	}
	if intent.Market() {
		form.Set("order_type", "MARKET")
	} else {
		form.Set("order_type", "LIMIT")
		form.Set("price", intent.LimitPrice.String())
	}

	var resp struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := k.doJSON(ctx, http.MethodPost, "/orders/regular", form, &resp); err != nil {
		return "", err
	}
	if resp.Data.OrderID == "" {
		return "", fmt.Errorf("kite: order accepted without an order id")
	}
	return resp.Data.OrderID, nil
}

// Orders lists open and recent orders via GET /orders.
func (k *KiteClient) Orders(ctx context.Context) ([]OrderStatus, error) {
	var resp struct {
		Data []struct {
			OrderID string `json:"order_id"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	if err := k.doJSON(ctx, http.MethodGet, "/orders", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]OrderStatus, 0, len(resp.Data))
	for _, o := range resp.Data {
		out = append(out, OrderStatus{OrderID: o.OrderID, Status: o.Status})
	}
	return out, nil
}

// ConvertPosition converts a day position between products via
// PUT /portfolio/positions.
func (k *KiteClient) ConvertPosition(ctx context.Context, symbol string, quantity int, from, to Product) error {
	form := url.Values{
		"exchange":         {k.exchange},
		"tradingsymbol":    {strings.ToUpper(symbol)},
		"transaction_type": {"BUY"},
		"position_type":    {"day"},
		"quantity":         {strconv.Itoa(quantity)},
		"old_product":      {string(from)},
		"new_product":      {string(to)},
	}
	return k.doJSON(ctx, http.MethodPut, "/portfolio/positions", form, nil)
}

// Instruments downloads the exchange instrument dump (CSV) and returns the
// trading symbols.
func (k *KiteClient) Instruments(ctx context.Context, exchange string) ([]string, error) {
	if err := k.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/instruments/"+url.PathEscape(exchange), nil)
	if err != nil {
		return nil, err
	}
	k.setHeaders(req)

	httpResp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kite: instruments request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, readAPIError(httpResp)
	}

	r := csv.NewReader(httpResp.Body)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("kite: instruments header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "tradingsymbol") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("kite: instruments dump has no tradingsymbol column")
	}

	var symbols []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("kite: instruments row: %w", err)
		}
		if col < len(rec) && rec[col] != "" {
			symbols = append(symbols, rec[col])
		}
	}
	return symbols, nil
}

func (k *KiteClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "token "+k.apiKey+":"+k.accessToken)
	req.Header.Set("X-Kite-Version", "3")
}

// doJSON performs a rate-limited API call, decoding the JSON envelope into
// out (which may be nil when only success matters).
func (k *KiteClient) doJSON(ctx context.Context, method, path string, form url.Values, out any) error {
	if err := k.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, k.baseURL+path, body)
	if err != nil {
		return err
	}
	k.setHeaders(req)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kite: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("kite: decode %s %s: %w", method, path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	var envelope struct {
		Message   string `json:"message"`
		ErrorType string `json:"error_type"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(b, &envelope); err != nil || envelope.Message == "" {
		envelope.Message = strings.TrimSpace(string(b))
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorType:  envelope.ErrorType,
		Message:    envelope.Message,
	}
}
