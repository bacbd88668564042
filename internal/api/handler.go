package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tradex-core/internal/engine"
	"tradex-core/internal/events"
	"tradex-core/internal/manual"
	"tradex-core/internal/monitor"
	"tradex-core/internal/reconciliation"
	"tradex-core/pkg/db"
	exchange "tradex-core/pkg/exchanges/common"
	binance "tradex-core/pkg/market/binance"
)

// Store is the persistence the handlers use directly.
type Store interface {
	CreateUser(ctx context.Context, u db.User) error
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	UpsertCredential(ctx context.Context, c db.Credential) error
	GetTrades(ctx context.Context, accountID string, offset, limit int) ([]db.Trade, error)
	GetTrade(ctx context.Context, accountID string, id int64) (*db.Trade, error)
}

// KlineSource serves chart data and prices.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
	Stats24h(ctx context.Context, symbol string) (binance.Ticker24h, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// BalanceSource reads an account's exchange balances.
type BalanceSource interface {
	Balances(ctx context.Context, accountID string) ([]exchange.Balance, error)
}

// ManualTrader opens and cancels watched manual trades.
type ManualTrader interface {
	Open(ctx context.Context, accountID string, req manual.Request) (manual.Result, error)
	Cancel(accountID string, tradeID int64) error
}

// Encrypter seals credentials before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
	CurrentVersion() int
}

// GatewayCache drops an account's cached exchange client.
type GatewayCache interface {
	Invalidate(accountID string)
}

// Deps are the collaborators of Server. Bus, Metrics, Manual, Keys, Balances
// and Gateways are optional; the routes needing them answer 503 when unset.
type Deps struct {
	Engine    engine.Service
	Ledger    reconciliation.Reconciler
	Store     Store
	Klines    KlineSource
	Manual    ManualTrader
	Keys      Encrypter
	Gateways  GatewayCache
	Balances  BalanceSource
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	DryRun     bool   `json:"dry_run"`
	Testnet    bool   `json:"testnet"`
	InstanceID string `json:"instance_id"`
	Version    string `json:"version"`
}

// Server wires HTTP endpoints around the scheduler, ledger and event bus.
type Server struct {
	Router *gin.Engine
	deps   Deps
	log    zerolog.Logger
}

func NewServer(deps Deps, log zerolog.Logger) *Server {
	r := gin.New()

	// order matters: recovery first, CORS last before routes
	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(NewIPRateLimiter(20, 50).Middleware(log))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, deps: deps, log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/klines", s.getKlines)

		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.deps.JWTSecret))
		{
			protected.GET("/strategies", s.getStrategies)
			protected.POST("/strategies/:id/start", s.startStrategy)
			protected.POST("/strategies/:id/stop", s.stopStrategy)
			protected.GET("/strategies/:id/logs", s.getStrategyLogs)

			protected.GET("/dashboard", s.getDashboard)
			protected.GET("/trades", s.getTrades)
			protected.GET("/trades/:id", s.getTrade)

			protected.POST("/manual_trade", s.createManualTrade)
			protected.DELETE("/manual_trade/:id", s.cancelManualTrade)

			protected.PUT("/account/credentials", s.putCredentials)

			protected.GET("/assets", s.getAssets)
			protected.GET("/portfolio_value", s.getPortfolioValue)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router for an http.Server.
func (s *Server) Handler() http.Handler { return s.Router }
