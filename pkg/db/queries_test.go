package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestQueriesRequireAccountID(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	t.Run("CreateTrade", func(t *testing.T) {
		if _, err := d.CreateTrade(ctx, Trade{Symbol: "BTCUSDT"}); err != ErrAccountIDRequired {
			t.Errorf("expected ErrAccountIDRequired, got %v", err)
		}
	})
	t.Run("GetTrades", func(t *testing.T) {
		if _, err := d.GetTrades(ctx, "", 0, 10); err != ErrAccountIDRequired {
			t.Errorf("expected ErrAccountIDRequired, got %v", err)
		}
	})
	t.Run("GetTradePairs", func(t *testing.T) {
		if _, err := d.GetTradePairs(ctx, "", 0, 10); err != ErrAccountIDRequired {
			t.Errorf("expected ErrAccountIDRequired, got %v", err)
		}
	})
	t.Run("GetActiveRuns", func(t *testing.T) {
		if _, err := d.GetActiveRuns(ctx, ""); err != ErrAccountIDRequired {
			t.Errorf("expected ErrAccountIDRequired, got %v", err)
		}
	})
}

func TestTradesIsolatedAndOrdered(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, acct := range []string{"alice", "bob", "alice", "alice"} {
		if _, err := d.CreateTrade(ctx, Trade{
			AccountID: acct, Symbol: "btcusdt", Side: "buy", Quantity: 1, Price: float64(100 + i),
			StrategyID: "squeeze_btc", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("CreateTrade: %v", err)
		}
	}

	alice, err := d.GetTrades(ctx, "alice", 0, 0)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(alice) != 3 {
		t.Fatalf("alice trades = %d, want 3", len(alice))
	}
	for i := 1; i < len(alice); i++ {
		if alice[i].ID <= alice[i-1].ID {
			t.Fatalf("trades not ordered by id: %d then %d", alice[i-1].ID, alice[i].ID)
		}
	}
	if alice[0].Symbol != "BTCUSDT" || alice[0].Side != "BUY" || alice[0].Status != TradeOpen {
		t.Fatalf("trade not normalized: %+v", alice[0])
	}
	if !alice[1].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("created_at = %v", alice[1].CreatedAt)
	}

	page, err := d.GetTrades(ctx, "alice", 1, 1)
	if err != nil || len(page) != 1 || page[0].ID != alice[1].ID {
		t.Fatalf("paging returned %+v, %v", page, err)
	}
}

func TestUpdateTradeAndFindOpen(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	buyID, err := d.CreateTrade(ctx, Trade{AccountID: "a", Symbol: "ETHUSDT", Side: "BUY", Quantity: 2, Price: 100, StrategyID: "s1"})
	if err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	open, err := d.FindOpenTrade(ctx, "a", "s1")
	if err != nil || open.ID != buyID {
		t.Fatalf("FindOpenTrade = %+v, %v", open, err)
	}
	if _, err := d.FindOpenTrade(ctx, "a", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sellID, err := d.CreateTrade(ctx, Trade{AccountID: "a", Symbol: "ETHUSDT", Side: "SELL", Quantity: 2, Price: 110, StrategyID: "s1", Status: TradeClosed, RelatedTradeID: buyID, Profit: 19.5})
	if err != nil {
		t.Fatalf("CreateTrade sell: %v", err)
	}
	if err := d.UpdateTrade(ctx, buyID, TradeUpdate{Status: TradeClosed, RelatedTradeID: sellID}); err != nil {
		t.Fatalf("UpdateTrade: %v", err)
	}
	if _, err := d.FindOpenTrade(ctx, "a", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("closed trade still open: %v", err)
	}
	if err := d.UpdateTrade(ctx, 9999, TradeUpdate{Status: TradeClosed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing trade, got %v", err)
	}

	buy, err := d.GetTrade(ctx, "a", buyID)
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if buy.RelatedTradeID != sellID || buy.Status != TradeClosed {
		t.Fatalf("buy after update = %+v", buy)
	}
	if _, err := d.GetTrade(ctx, "someone-else", buyID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("trade leaked across accounts: %v", err)
	}
}

func TestRunsLifecycle(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	r1, err := d.CreateRun(ctx, Run{AccountID: "a", StrategyID: "s1", Amount: 10, InstanceID: "node-1"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := d.CreateRun(ctx, Run{AccountID: "b", StrategyID: "s1", Amount: 20, InstanceID: "node-2"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	active, err := d.GetActiveRuns(ctx, "a")
	if err != nil || len(active) != 1 || active[0].StrategyID != "s1" || active[0].Amount != 10 {
		t.Fatalf("GetActiveRuns = %+v, %v", active, err)
	}

	mine, err := d.ListActiveRuns(ctx, "node-1")
	if err != nil || len(mine) != 1 || mine[0].ID != r1 {
		t.Fatalf("ListActiveRuns(node-1) = %+v, %v", mine, err)
	}
	all, _ := d.ListActiveRuns(ctx, "")
	if len(all) != 2 {
		t.Fatalf("ListActiveRuns(all) = %d, want 2", len(all))
	}

	if err := d.StopRun(ctx, r1); err != nil {
		t.Fatalf("StopRun: %v", err)
	}
	if err := d.StopRun(ctx, r1); err != nil {
		t.Fatalf("StopRun twice: %v", err)
	}
	active, _ = d.GetActiveRuns(ctx, "a")
	if len(active) != 0 {
		t.Fatalf("run still active after stop: %+v", active)
	}
}

func TestCreateRunRejectsSecondActiveRun(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	first, err := d.CreateRun(ctx, Run{AccountID: "a", StrategyID: "s1", Amount: 10, InstanceID: "inst-a"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := d.CreateRun(ctx, Run{AccountID: "a", StrategyID: "s1", Amount: 10, InstanceID: "inst-b"}); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second CreateRun from another instance = %v, want ErrRunActive", err)
	}
	// Other strategies and accounts are unaffected.
	if _, err := d.CreateRun(ctx, Run{AccountID: "a", StrategyID: "s2", Amount: 10, InstanceID: "inst-b"}); err != nil {
		t.Fatalf("CreateRun other strategy: %v", err)
	}
	if _, err := d.CreateRun(ctx, Run{AccountID: "b", StrategyID: "s1", Amount: 10, InstanceID: "inst-b"}); err != nil {
		t.Fatalf("CreateRun other account: %v", err)
	}

	if err := d.StopRun(ctx, first); err != nil {
		t.Fatalf("StopRun: %v", err)
	}
	if _, err := d.CreateRun(ctx, Run{AccountID: "a", StrategyID: "s1", Amount: 10, InstanceID: "inst-b"}); err != nil {
		t.Fatalf("CreateRun after stop: %v", err)
	}
	active, _ := d.GetActiveRuns(ctx, "a")
	if len(active) != 2 {
		t.Fatalf("active runs for a = %d, want 2", len(active))
	}
}

func TestMigrationsStopDuplicateActiveRuns(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if _, err := database.DB.Exec(`CREATE TABLE runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		amount REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		started_at DATETIME NOT NULL,
		stopped_at DATETIME
	)`); err != nil {
		t.Fatalf("create legacy runs: %v", err)
	}
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if _, err := database.DB.Exec(`INSERT INTO runs (account_id, strategy_id, amount, status, started_at)
			VALUES ('a', 's1', 10, 'active', ?)`, now); err != nil {
			t.Fatalf("seed run: %v", err)
		}
	}

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	active, err := database.GetActiveRuns(context.Background(), "a")
	if err != nil || len(active) != 1 || active[0].ID != 3 {
		t.Fatalf("active after migration = %+v, %v; want only run 3", active, err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("", DefaultOptions()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenFileDatabaseUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "core.db")
	database, err := Open(path, Options{BusyTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	var mode string
	if err := database.DB.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var busy int
	if err := database.DB.QueryRow(`PRAGMA busy_timeout`).Scan(&busy); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if busy != 2000 {
		t.Errorf("busy_timeout = %d, want 2000", busy)
	}
	var fk int
	if err := database.DB.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestTradePairsAndCount(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if n, err := d.CountTradePairs(ctx, "a"); err != nil || n != 0 {
		t.Fatalf("CountTradePairs = %d, %v", n, err)
	}
	entry := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := d.CreateTradePair(ctx, TradePair{
		AccountID: "a", Symbol: "BTCUSDT", StrategyID: "s1", EntryTradeID: 1, ExitTradeID: 2,
		Profit: 5, ProfitPercent: 5, EntryTime: entry, ExitTime: entry.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("CreateTradePair: %v", err)
	}
	pairs, err := d.GetTradePairs(ctx, "a", 0, 0)
	if err != nil || len(pairs) != 1 {
		t.Fatalf("GetTradePairs = %+v, %v", pairs, err)
	}
	if got := pairs[0].ExitTime.Sub(pairs[0].EntryTime); got != 30*time.Minute {
		t.Fatalf("pair duration = %v", got)
	}
	if n, _ := d.CountTradePairs(ctx, "a"); n != 1 {
		t.Fatalf("CountTradePairs = %d, want 1", n)
	}
}

func TestCredentialsUpsert(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if _, err := d.GetCredential(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := d.UpsertCredential(ctx, Credential{AccountID: "a", APIKeyEncrypted: "k1", APISecretEncrypted: "s1", KeyVersion: 1}); err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}
	if err := d.UpsertCredential(ctx, Credential{AccountID: "a", APIKeyEncrypted: "k2", APISecretEncrypted: "s2", KeyVersion: 1, Testnet: true}); err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}
	c, err := d.GetCredential(ctx, "a")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if c.APIKeyEncrypted != "k2" || !c.Testnet {
		t.Fatalf("credential not replaced: %+v", c)
	}
}

func TestUsersByEmailCaseInsensitive(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if err := d.CreateUser(ctx, User{ID: "u1", Email: "Trader@Example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u, err := d.GetUserByEmail(ctx, "trader@example.COM")
	if err != nil || u == nil || u.ID != "u1" {
		t.Fatalf("GetUserByEmail = %+v, %v", u, err)
	}
	if u, _ := d.GetUserByEmail(ctx, "nobody@example.com"); u != nil {
		t.Fatalf("expected nil for unknown email, got %+v", u)
	}
}
