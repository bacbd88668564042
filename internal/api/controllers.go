package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tradex-core/internal/engine"
	"tradex-core/internal/gateway"
	"tradex-core/internal/manual"
	"tradex-core/pkg/db"
	exchange "tradex-core/pkg/exchanges/common"
)

const valuationAsset = "USDT"

type startStrategyRequest struct {
	Amount *float64 `json:"amount"`
}

type pageQuery struct {
	Offset int `form:"offset"`
	Limit  int `form:"limit"`
}

func (q *pageQuery) normalize(def, maxLimit int) {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

type klinesQuery struct {
	Pair     string `form:"pair"`
	Interval string `form:"interval"`
	Limit    int    `form:"limit"`
}

type credentialsBody struct {
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
	Testnet   bool   `json:"testnet"`
}

type tradeResponse struct {
	ID             int64     `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price"`
	Commission     float64   `json:"commission"`
	StrategyID     string    `json:"strategy_id"`
	Status         string    `json:"status"`
	RelatedTradeID *int64    `json:"related_trade_id"`
	Profit         float64   `json:"profit"`
	TakeProfit     float64   `json:"take_profit,omitempty"`
	StopLoss       float64   `json:"stop_loss,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toTradeResponse(t db.Trade) tradeResponse {
	r := tradeResponse{
		ID: t.ID, Symbol: t.Symbol, Side: t.Side, Quantity: t.Quantity, Price: t.Price,
		Commission: t.Commission, StrategyID: t.StrategyID, Status: t.Status, Profit: t.Profit,
		TakeProfit: t.TakeProfit, StopLoss: t.StopLoss, CreatedAt: t.CreatedAt,
	}
	if t.RelatedTradeID != 0 {
		id := t.RelatedTradeID
		r.RelatedTradeID = &id
	}
	return r
}

type klineResponse struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Str("path", c.Request.URL.Path).Msg("request failed")
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

// engineError maps scheduler error classes onto HTTP responses.
func (s *Server) engineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownStrategy):
		respondError(c, http.StatusNotFound, "UNKNOWN_STRATEGY", err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning):
		respondError(c, http.StatusConflict, "ALREADY_RUNNING", err.Error())
	case errors.Is(err, engine.ErrNotRunning):
		respondError(c, http.StatusConflict, "NOT_RUNNING", err.Error())
	case errors.Is(err, engine.ErrStateConflict):
		respondError(c, http.StatusConflict, "STATE_CONFLICT", err.Error())
	case errors.Is(err, engine.ErrConfiguration):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		s.internalError(c, err)
	}
}

func unavailable(c *gin.Context, what string) {
	respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", what+" is not configured")
}

// getStrategies lists every strategy with its run state for the account.
func (s *Server) getStrategies(c *gin.Context) {
	list, err := s.deps.Engine.Status(c.Request.Context(), CurrentAccountID(c))
	if err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) startStrategy(c *gin.Context) {
	var req startStrategyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
			return
		}
	}
	info, err := s.deps.Engine.Start(c.Request.Context(), CurrentAccountID(c), c.Param("id"), req.Amount)
	if err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "run": info})
}

func (s *Server) stopStrategy(c *gin.Context) {
	if err := s.deps.Engine.Stop(c.Request.Context(), CurrentAccountID(c), c.Param("id")); err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "strategy_id": c.Param("id")})
}

func (s *Server) getStrategyLogs(c *gin.Context) {
	kind := engine.LogType(strings.ToLower(c.DefaultQuery("log_type", string(engine.LogDetail))))
	if kind != engine.LogDetail && kind != engine.LogTrade {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "log_type must be detail or trade")
		return
	}
	logs, err := s.deps.Engine.Logs(CurrentAccountID(c), c.Param("id"), kind)
	if err != nil {
		s.engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": c.Param("id"), "log_type": kind, "logs": logs})
}

func (s *Server) getDashboard(c *gin.Context) {
	sum, err := s.deps.Ledger.Summarize(c.Request.Context(), CurrentAccountID(c))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) getTrades(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "offset and limit must be integers")
		return
	}
	q.normalize(100, 500)

	trades, err := s.deps.Store.GetTrades(c.Request.Context(), CurrentAccountID(c), q.Offset, q.Limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getTrade(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "trade id must be an integer")
		return
	}
	t, err := s.deps.Store.GetTrade(c.Request.Context(), CurrentAccountID(c), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "TRADE_NOT_FOUND", "trade not found")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTradeResponse(*t))
}

// getKlines serves chart candles for a pair such as BTC/USDT or BTCUSDT.
func (s *Server) getKlines(c *gin.Context) {
	if s.deps.Klines == nil {
		unavailable(c, "market data")
		return
	}
	var q klinesQuery
	if err := c.ShouldBindQuery(&q); err != nil || strings.TrimSpace(q.Pair) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "pair is required")
		return
	}
	if q.Interval == "" {
		q.Interval = "1h"
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	symbol := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(q.Pair), "/", ""))

	klines, err := s.deps.Klines.Klines(c.Request.Context(), symbol, q.Interval, q.Limit)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("klines fetch failed")
		respondError(c, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
		return
	}
	out := make([]klineResponse, 0, len(klines))
	for _, k := range klines {
		out = append(out, klineResponse{Time: k.OpenTime, Open: k.Open, High: k.High, Low: k.Low, Close: k.Close, Volume: k.Volume})
	}
	resp := gin.H{"symbol": symbol, "interval": q.Interval, "klines": out}
	var price float64
	if len(out) > 0 {
		price = out[len(out)-1].Close
	}
	// 24h stats are best effort; the chart is still useful without them.
	if st, err := s.deps.Klines.Stats24h(c.Request.Context(), symbol); err != nil {
		s.log.Debug().Err(err).Str("symbol", symbol).Msg("24h ticker fetch failed")
	} else {
		if st.LastPrice > 0 {
			price = st.LastPrice
		}
		resp["change"] = st.PriceChangePercent
		resp["high"] = st.High
		resp["low"] = st.Low
		resp["volume"] = st.Volume
	}
	resp["price"] = price
	c.JSON(http.StatusOK, resp)
}

type assetsResponse struct {
	Balances []exchange.Balance `json:"balances"`
}

type portfolioValueResponse struct {
	TotalUSDT float64 `json:"total_usdt"`
	// Unpriced lists assets without a USDT market; they are left out of the total.
	Unpriced []string `json:"unpriced,omitempty"`
}

// balances loads the caller's exchange balances, answering the error itself.
func (s *Server) balances(c *gin.Context) ([]exchange.Balance, bool) {
	if s.deps.Balances == nil {
		unavailable(c, "account balances")
		return nil, false
	}
	bals, err := s.deps.Balances.Balances(c.Request.Context(), CurrentAccountID(c))
	switch {
	case err == nil:
		return bals, true
	case errors.Is(err, gateway.ErrNoCredentials):
		respondError(c, http.StatusBadRequest, "CREDENTIALS_REQUIRED", "exchange API keys not configured")
	case errors.Is(err, gateway.ErrGatewayUnhealthy), errors.Is(err, gateway.ErrPoolFull):
		respondError(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", err.Error())
	default:
		s.log.Warn().Err(err).Str("account_id", CurrentAccountID(c)).Msg("balances fetch failed")
		respondError(c, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	}
	return nil, false
}

// getAssets lists the account's non-zero exchange balances.
func (s *Server) getAssets(c *gin.Context) {
	bals, ok := s.balances(c)
	if !ok {
		return
	}
	out := make([]exchange.Balance, 0, len(bals))
	for _, b := range bals {
		if b.Total() > 0 {
			out = append(out, b)
		}
	}
	c.JSON(http.StatusOK, assetsResponse{Balances: out})
}

// getPortfolioValue values every balance in USDT at the last traded price.
func (s *Server) getPortfolioValue(c *gin.Context) {
	if s.deps.Klines == nil {
		unavailable(c, "market data")
		return
	}
	bals, ok := s.balances(c)
	if !ok {
		return
	}
	var resp portfolioValueResponse
	for _, b := range bals {
		qty := b.Total()
		if qty <= 0 {
			continue
		}
		if b.Asset == valuationAsset {
			resp.TotalUSDT += qty
			continue
		}
		price, err := s.deps.Klines.LastPrice(c.Request.Context(), b.Asset+valuationAsset)
		if err != nil || price <= 0 {
			resp.Unpriced = append(resp.Unpriced, b.Asset)
			continue
		}
		resp.TotalUSDT += qty * price
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createManualTrade(c *gin.Context) {
	if s.deps.Manual == nil {
		unavailable(c, "manual trading")
		return
	}
	var req manual.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	res, err := s.deps.Manual.Open(c.Request.Context(), CurrentAccountID(c), req)
	switch {
	case errors.Is(err, manual.ErrInvalidRequest):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, gateway.ErrNoCredentials):
		respondError(c, http.StatusBadRequest, "CREDENTIALS_REQUIRED", "exchange API keys not configured")
	case err != nil:
		s.internalError(c, err)
	default:
		c.JSON(http.StatusCreated, res)
	}
}

func (s *Server) cancelManualTrade(c *gin.Context) {
	if s.deps.Manual == nil {
		unavailable(c, "manual trading")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "trade id must be an integer")
		return
	}
	if err := s.deps.Manual.Cancel(CurrentAccountID(c), id); err != nil {
		if errors.Is(err, manual.ErrNotMonitored) {
			respondError(c, http.StatusNotFound, "NOT_MONITORED", err.Error())
			return
		}
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "trade_id": id})
}

// putCredentials stores the account's exchange keys sealed with the current
// master key and drops any cached client built from the old ones.
func (s *Server) putCredentials(c *gin.Context) {
	if s.deps.Keys == nil {
		unavailable(c, "credential encryption")
		return
	}
	var req credentialsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "api_key and api_secret are required")
		return
	}
	key, err := s.deps.Keys.Encrypt(strings.TrimSpace(req.APIKey))
	if err != nil {
		s.internalError(c, err)
		return
	}
	secret, err := s.deps.Keys.Encrypt(strings.TrimSpace(req.APISecret))
	if err != nil {
		s.internalError(c, err)
		return
	}

	acct := CurrentAccountID(c)
	if err := s.deps.Store.UpsertCredential(c.Request.Context(), db.Credential{
		AccountID:          acct,
		APIKeyEncrypted:    key,
		APISecretEncrypted: secret,
		KeyVersion:         s.deps.Keys.CurrentVersion(),
		Testnet:            req.Testnet,
	}); err != nil {
		s.internalError(c, err)
		return
	}
	if s.deps.Gateways != nil {
		s.deps.Gateways.Invalidate(acct)
	}
	s.log.Info().Str("account_id", acct).Bool("testnet", req.Testnet).Msg("exchange credentials updated")
	c.JSON(http.StatusOK, gin.H{"status": "saved", "key_version": s.deps.Keys.CurrentVersion()})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"meta":        s.deps.Meta,
		"server_time": time.Now().UTC(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.deps.Metrics == nil {
		unavailable(c, "metrics")
		return
	}
	var dropped int64
	if s.deps.Bus != nil {
		dropped = s.deps.Bus.Dropped()
	}
	c.JSON(http.StatusOK, gin.H{
		"engine":         s.deps.Metrics.GetSnapshot(),
		"events_dropped": dropped,
	})
}
