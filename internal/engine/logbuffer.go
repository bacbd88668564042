package engine

import (
	"sync"
	"time"
)

const (
	detailCapacity = 200
	tradeCapacity  = 1000
)

// LogBuffer keeps recent detail lines per run and a trade feed per account.
// Oldest entries are evicted first.
type LogBuffer struct {
	mu     sync.Mutex
	detail map[RunKey][]LogEntry
	trades map[string][]LogEntry

	detailCap int
	tradeCap  int
	now       func() time.Time
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{
		detail:    make(map[RunKey][]LogEntry),
		trades:    make(map[string][]LogEntry),
		detailCap: detailCapacity,
		tradeCap:  tradeCapacity,
		now:       time.Now,
	}
}

// AddDetail appends a diagnostic line for key.
func (b *LogBuffer) AddDetail(key RunKey, msg string) LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := LogEntry{Time: b.now(), StrategyID: key.StrategyID, Message: msg}
	b.detail[key] = appendCapped(b.detail[key], e, b.detailCap)
	return e
}

// AddTrade appends to the account's trade feed.
func (b *LogBuffer) AddTrade(key RunKey, msg string) LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := LogEntry{Time: b.now(), StrategyID: key.StrategyID, Message: msg}
	b.trades[key.AccountID] = appendCapped(b.trades[key.AccountID], e, b.tradeCap)
	return e
}

// Detail returns a copy of the detail lines for key, oldest first.
func (b *LogBuffer) Detail(key RunKey) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]LogEntry(nil), b.detail[key]...)
}

// Trades returns the account's trade feed; strategyID filters it when set.
func (b *LogBuffer) Trades(accountID, strategyID string) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	feed := b.trades[accountID]
	out := make([]LogEntry, 0, len(feed))
	for _, e := range feed {
		if strategyID == "" || e.StrategyID == strategyID {
			out = append(out, e)
		}
	}
	return out
}

func appendCapped(s []LogEntry, e LogEntry, capacity int) []LogEntry {
	if len(s) >= capacity {
		// drop from the front and compact so the backing array does not grow unbounded
		n := copy(s, s[len(s)-capacity+1:])
		s = s[:n]
	}
	return append(s, e)
}
