package common

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimeSync keeps the local clock offset to an exchange server.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	offset        int64 // milliseconds, server - local
	lastSync      time.Time
	mu            sync.RWMutex
	log           zerolog.Logger
}

// NewTimeSync creates a time synchronization manager.
func NewTimeSync(getServerTime func(ctx context.Context) (int64, error), log zerolog.Logger) *TimeSync {
	return &TimeSync{
		getServerTime: getServerTime,
		log:           log,
	}
}

// Sync synchronizes with server time assuming symmetric latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()
	localTime := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	ts.log.Debug().Int64("offset_ms", serverTime-localTime).Msg("time synced")
	return nil
}

// Now returns the current time in milliseconds adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// LastSync reports when the offset was last refreshed.
func (ts *TimeSync) LastSync() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync
}

// Offset returns the current offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
