package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrAccountIDRequired = errors.New("account_id is required for data isolation")
	ErrNotFound          = errors.New("record not found")
	// ErrRunActive reports an active run already persisted for the same account and strategy.
	ErrRunActive = errors.New("run already active")
)

// ----------------------------------------
// Trades
// ----------------------------------------

const tradeColumns = `id, account_id, symbol, side, quantity, price, commission, strategy_id, status,
	COALESCE(related_trade_id, 0), profit, order_id, take_profit, stop_loss, created_at`

func scanTrade(s interface{ Scan(...any) error }) (Trade, error) {
	var t Trade
	err := s.Scan(&t.ID, &t.AccountID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.Commission,
		&t.StrategyID, &t.Status, &t.RelatedTradeID, &t.Profit, &t.OrderID, &t.TakeProfit, &t.StopLoss, &t.CreatedAt)
	return t, err
}

// CreateTrade inserts a trade and returns its id.
func (d *Database) CreateTrade(ctx context.Context, t Trade) (int64, error) {
	if t.AccountID == "" {
		return 0, ErrAccountIDRequired
	}
	if t.Status == "" {
		t.Status = TradeOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			account_id, symbol, side, quantity, price, commission, strategy_id, status,
			related_trade_id, profit, order_id, take_profit, stop_loss, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, 0), ?, ?, ?, ?, ?)
	`, t.AccountID, strings.ToUpper(t.Symbol), strings.ToUpper(t.Side), t.Quantity, t.Price, t.Commission,
		t.StrategyID, t.Status, t.RelatedTradeID, t.Profit, t.OrderID, t.TakeProfit, t.StopLoss, t.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return res.LastInsertId()
}

// UpdateTrade sets status, related trade and realized profit.
func (d *Database) UpdateTrade(ctx context.Context, id int64, u TradeUpdate) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET status = ?, related_trade_id = NULLIF(?, 0), profit = ?
		WHERE id = ?
	`, u.Status, u.RelatedTradeID, u.Profit, id)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTrades returns an account's trades ordered by id. limit <= 0 returns all.
func (d *Database) GetTrades(ctx context.Context, accountID string, offset, limit int) ([]Trade, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades WHERE account_id = ?
		ORDER BY id ASC LIMIT ? OFFSET ?
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTrade returns one trade of an account.
func (d *Database) GetTrade(ctx context.Context, accountID string, id int64) (*Trade, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE account_id = ? AND id = ?`, accountID, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trade: %w", err)
	}
	return &t, nil
}

// FindOpenTrade returns the most recent open BUY of a strategy for an account.
func (d *Database) FindOpenTrade(ctx context.Context, accountID, strategyID string) (*Trade, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE account_id = ? AND strategy_id = ? AND side = 'BUY' AND status = ?
		ORDER BY id DESC LIMIT 1
	`, accountID, strategyID, TradeOpen)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query open trade: %w", err)
	}
	return &t, nil
}

// ListOpenManualTrades returns manual entries still waiting for an exit.
func (d *Database) ListOpenManualTrades(ctx context.Context) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades WHERE strategy_id = ? AND status = ? AND related_trade_id IS NULL
		ORDER BY id ASC
	`, ManualStrategyID, TradeOpen)
	if err != nil {
		return nil, fmt.Errorf("query manual trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Trade pairs
// ----------------------------------------

// CreateTradePair inserts a closed lot record.
func (d *Database) CreateTradePair(ctx context.Context, p TradePair) (int64, error) {
	if p.AccountID == "" {
		return 0, ErrAccountIDRequired
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_pairs (
			account_id, symbol, strategy_id, entry_trade_id, exit_trade_id,
			profit, profit_percent, entry_time, exit_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.AccountID, strings.ToUpper(p.Symbol), p.StrategyID, p.EntryTradeID, p.ExitTradeID,
		p.Profit, p.ProfitPercent, p.EntryTime, p.ExitTime)
	if err != nil {
		return 0, fmt.Errorf("insert trade pair: %w", err)
	}
	return res.LastInsertId()
}

// GetTradePairs returns an account's pairs ordered by id. limit <= 0 returns all.
func (d *Database) GetTradePairs(ctx context.Context, accountID string, offset, limit int) ([]TradePair, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, symbol, strategy_id, entry_trade_id, exit_trade_id,
			profit, profit_percent, entry_time, exit_time
		FROM trade_pairs WHERE account_id = ?
		ORDER BY id ASC LIMIT ? OFFSET ?
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query trade pairs: %w", err)
	}
	defer rows.Close()

	var out []TradePair
	for rows.Next() {
		var p TradePair
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Symbol, &p.StrategyID, &p.EntryTradeID, &p.ExitTradeID,
			&p.Profit, &p.ProfitPercent, &p.EntryTime, &p.ExitTime); err != nil {
			return nil, fmt.Errorf("scan trade pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountTradePairs returns how many pairs an account has.
func (d *Database) CountTradePairs(ctx context.Context, accountID string) (int, error) {
	if accountID == "" {
		return 0, ErrAccountIDRequired
	}
	var n int
	if err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM trade_pairs WHERE account_id = ?`, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trade pairs: %w", err)
	}
	return n, nil
}

// ----------------------------------------
// Runs
// ----------------------------------------

// CreateRun persists an active run and returns its id.
func (d *Database) CreateRun(ctx context.Context, r Run) (int64, error) {
	if r.AccountID == "" {
		return 0, ErrAccountIDRequired
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO runs (account_id, strategy_id, amount, status, instance_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.AccountID, r.StrategyID, r.Amount, RunActive, r.InstanceID, r.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert run %s/%s: %w", r.AccountID, r.StrategyID, ErrRunActive)
		}
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// StopRun marks a run stopped. Stopping an already stopped run is a no-op.
func (d *Database) StopRun(ctx context.Context, runID int64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE runs SET status = ?, stopped_at = ?
		WHERE id = ? AND status = ?
	`, RunStopped, time.Now().UTC(), runID, RunActive)
	if err != nil {
		return fmt.Errorf("stop run: %w", err)
	}
	return nil
}

// GetActiveRuns returns the active runs of an account.
func (d *Database) GetActiveRuns(ctx context.Context, accountID string) ([]Run, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	return d.queryRuns(ctx, `WHERE status = ? AND account_id = ?`, RunActive, accountID)
}

// ListActiveRuns returns active runs owned by instanceID, or all active runs
// when instanceID is empty.
func (d *Database) ListActiveRuns(ctx context.Context, instanceID string) ([]Run, error) {
	if instanceID == "" {
		return d.queryRuns(ctx, `WHERE status = ?`, RunActive)
	}
	return d.queryRuns(ctx, `WHERE status = ? AND instance_id = ?`, RunActive, instanceID)
}

func (d *Database) queryRuns(ctx context.Context, where string, args ...any) ([]Run, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, strategy_id, amount, status, instance_id, started_at, stopped_at
		FROM runs `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			stopped sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.AccountID, &r.StrategyID, &r.Amount, &r.Status, &r.InstanceID, &r.StartedAt, &stopped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if stopped.Valid {
			t := stopped.Time
			r.StoppedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Users & credentials
// ----------------------------------------

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// UpsertCredential stores or replaces an account's encrypted key pair.
func (d *Database) UpsertCredential(ctx context.Context, c Credential) error {
	if c.AccountID == "" {
		return ErrAccountIDRequired
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO account_credentials (account_id, api_key_encrypted, api_secret_encrypted, key_version, testnet, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			api_key_encrypted = excluded.api_key_encrypted,
			api_secret_encrypted = excluded.api_secret_encrypted,
			key_version = excluded.key_version,
			testnet = excluded.testnet,
			updated_at = excluded.updated_at
	`, c.AccountID, c.APIKeyEncrypted, c.APISecretEncrypted, c.KeyVersion, c.Testnet, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// GetCredential returns the encrypted key pair of an account.
func (d *Database) GetCredential(ctx context.Context, accountID string) (*Credential, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	var c Credential
	err := d.DB.QueryRowContext(ctx, `
		SELECT account_id, api_key_encrypted, api_secret_encrypted, key_version, testnet, updated_at
		FROM account_credentials WHERE account_id = ?
	`, accountID).Scan(&c.AccountID, &c.APIKeyEncrypted, &c.APISecretEncrypted, &c.KeyVersion, &c.Testnet, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	return &c, nil
}
