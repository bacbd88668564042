package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradex-core/pkg/exchanges/common"
)

// ErrMissingCredentials is returned for signed calls without an API key pair.
var ErrMissingCredentials = errors.New("binance: API key/secret required")

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms
	BaseURL    string // overrides the production/testnet host
}

// Client is a Binance spot trading client.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	log         zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	client := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
	client.timeSync = common.NewTimeSync(client.GetServerTime, log)
	// 1200 weight/min for spot
	client.rateLimiter = common.NewRateLimiter(1200, time.Minute, log)
	return client
}

// PlaceMarketOrder submits a MARKET order and asks for the FULL response so
// that per-fill prices and commissions are returned.
// BUY orders may be sized by quote notional, SELL orders by base quantity.
func (c *Client) PlaceMarketOrder(ctx context.Context, req common.MarketOrder) (common.OrderAck, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderAck{}, ErrMissingCredentials
	}
	if req.Symbol == "" {
		return common.OrderAck{}, errors.New("binance: symbol required")
	}
	if req.Quantity <= 0 && req.QuoteQuantity <= 0 {
		return common.OrderAck{}, errors.New("binance: quantity or quote quantity required")
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", "MARKET")
	if req.QuoteQuantity > 0 {
		params.Set("quoteOrderQty", formatFloat(req.QuoteQuantity))
	} else {
		params.Set("quantity", formatFloat(req.Quantity))
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = "tx-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}
	params.Set("newClientOrderId", clientID)
	params.Set("newOrderRespType", "FULL")
	c.stamp(params)

	body, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/api/v3/order", params)
	if err != nil {
		return common.OrderAck{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderAck{}, fmt.Errorf("decode order response: %w", err)
	}
	return resp.toAck(), nil
}

func (c *Client) stamp(params url.Values) {
	timestamp := time.Now().UnixMilli()
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		timestamp = c.timeSync.Now()
	}
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
}

// doSigned signs the query and performs the HTTP request.
func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx, 1); err != nil {
		return nil, err
	}
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance %s %s status %d: %s", method, endpoint, res.StatusCode, string(body))
	}
	return body, nil
}

// Balances returns the account's non-zero spot balances.
func (c *Client) Balances(ctx context.Context) ([]common.Balance, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	params := url.Values{}
	params.Set("omitZeroBalances", "true")
	c.stamp(params)

	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/api/v3/account", params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account response: %w", err)
	}
	out := make([]common.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		bal := common.Balance{Asset: b.Asset, Free: parseFloat(b.Free), Locked: parseFloat(b.Locked)}
		if bal.Total() <= 0 {
			continue
		}
		out = append(out, bal)
	}
	return out, nil
}

// GetServerTime fetches server time (ms).
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server time status %d: %s", resp.StatusCode, string(b))
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

type orderResponse struct {
	Symbol              string      `json:"symbol"`
	OrderID             int64       `json:"orderId"`
	ClientOrderID       string      `json:"clientOrderId"`
	TransactTime        int64       `json:"transactTime"`
	Status              string      `json:"status"`
	Side                string      `json:"side"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	Fills               []fillEntry `json:"fills"`
}

type fillEntry struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

func (r orderResponse) toAck() common.OrderAck {
	ack := common.OrderAck{
		ExchangeOrderID:     strconv.FormatInt(r.OrderID, 10),
		ClientID:            r.ClientOrderID,
		Symbol:              r.Symbol,
		Side:                common.Side(strings.ToUpper(r.Side)),
		Status:              mapStatus(r.Status),
		ExecutedQty:         parseFloat(r.ExecutedQty),
		CummulativeQuoteQty: parseFloat(r.CummulativeQuoteQty),
	}
	if r.TransactTime > 0 {
		ack.TransactTime = time.UnixMilli(r.TransactTime)
	}
	for _, f := range r.Fills {
		ack.Fills = append(ack.Fills, common.Fill{
			Price:           parseFloat(f.Price),
			Qty:             parseFloat(f.Qty),
			Commission:      parseFloat(f.Commission),
			CommissionAsset: f.CommissionAsset,
			TradeID:         f.TradeID,
		})
	}
	return ack
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// Ping checks that the REST endpoint answers and realigns the request
// timestamp with the server clock.
func (c *Client) Ping(ctx context.Context) error {
	return c.timeSync.Sync(ctx)
}
