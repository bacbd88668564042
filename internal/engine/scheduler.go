package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tradex-core/internal/events"
	"tradex-core/internal/monitor"
	"tradex-core/internal/state"
	"tradex-core/internal/strategy"
	"tradex-core/pkg/db"
	"tradex-core/pkg/instance"
)

// Options holds scheduler timings and defaults.
type Options struct {
	PollInterval    time.Duration
	RetryDelay      time.Duration
	OrderRetryDelay time.Duration
	// CandleBuffer is fetched on top of the strategy warm-up.
	CandleBuffer  int
	DefaultAmount float64
	// InstanceID stamps persisted runs with the owning process.
	InstanceID string
	// ResumeRuns relaunches this instance's active runs on Reconcile and
	// leaves them active on Shutdown.
	ResumeRuns bool
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 10 * time.Second
	}
	if o.OrderRetryDelay <= 0 {
		o.OrderRetryDelay = 5 * time.Second
	}
	if o.CandleBuffer < 0 {
		o.CandleBuffer = 0
	}
	return o
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Registry *strategy.Registry
	Market   MarketDataSource
	Gateways GatewayResolver
	Store    PersistentStore
	Bus      *events.Bus      // optional
	Metrics  *monitor.Metrics // optional
	Logs     *LogBuffer       // optional
}

type runHandle struct {
	key       RunKey
	desc      strategy.Descriptor
	runID     int64
	amount    float64
	machine   *state.Machine
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Scheduler owns every local run. It implements Service.
type Scheduler struct {
	registry *strategy.Registry
	market   MarketDataSource
	gateways GatewayResolver
	store    PersistentStore
	bus      *events.Bus
	metrics  *monitor.Metrics
	logs     *LogBuffer
	opts     Options
	log      zerolog.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu   sync.Mutex
	runs map[RunKey]*runHandle

	shuttingDown atomic.Bool
}

var _ Service = (*Scheduler)(nil)

func NewScheduler(deps Deps, opts Options, log zerolog.Logger) *Scheduler {
	if deps.Logs == nil {
		deps.Logs = NewLogBuffer()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitor.NewMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		registry:  deps.Registry,
		market:    deps.Market,
		gateways:  deps.Gateways,
		store:     deps.Store,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		logs:      deps.Logs,
		opts:      opts.withDefaults(),
		log:       log,
		baseCtx:   ctx,
		cancelAll: cancel,
		runs:      make(map[RunKey]*runHandle),
	}
}

// Start validates the strategy, reserves the key, persists the run and
// launches its loop. The loop outlives ctx; use Stop to end it.
func (s *Scheduler) Start(ctx context.Context, accountID, strategyID string, amount *float64) (RunInfo, error) {
	desc, ok := s.registry.Get(strategyID)
	if !ok {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	size, err := s.resolveAmount(desc, amount)
	if err != nil {
		return RunInfo{}, err
	}
	if s.shuttingDown.Load() {
		return RunInfo{}, fmt.Errorf("%w: scheduler is shutting down", ErrStateConflict)
	}

	key := RunKey{AccountID: accountID, StrategyID: strategyID}
	h := s.newHandle(key, desc, size)
	if !s.reserve(h) {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}

	active, err := s.store.GetActiveRuns(ctx, accountID)
	if err != nil {
		s.release(h)
		return RunInfo{}, fmt.Errorf("%w: load active runs: %w", ErrTransientIO, err)
	}
	for _, r := range active {
		if r.StrategyID == strategyID {
			s.release(h)
			return RunInfo{}, fmt.Errorf("%w: %s has persisted run %d", ErrAlreadyRunning, key, r.ID)
		}
	}

	if err := s.restorePosition(ctx, h); err != nil {
		s.release(h)
		return RunInfo{}, err
	}

	runID, err := s.store.CreateRun(ctx, db.Run{
		AccountID:  accountID,
		StrategyID: strategyID,
		Amount:     size,
		InstanceID: s.opts.InstanceID,
		StartedAt:  h.startedAt,
	})
	if err != nil {
		s.release(h)
		if errors.Is(err, db.ErrRunActive) {
			// Another instance persisted the run between our check and insert.
			return RunInfo{}, fmt.Errorf("%w: %s: %w", ErrAlreadyRunning, key, err)
		}
		return RunInfo{}, fmt.Errorf("%w: create run: %w", ErrTransientIO, err)
	}
	h.runID = runID

	s.launch(h)
	return h.info(), nil
}

func (s *Scheduler) resolveAmount(desc strategy.Descriptor, amount *float64) (float64, error) {
	if amount != nil {
		if *amount <= 0 {
			return 0, ErrInvalidAmount
		}
		return *amount, nil
	}
	if desc.DefaultAmount > 0 {
		return desc.DefaultAmount, nil
	}
	if s.opts.DefaultAmount > 0 {
		return s.opts.DefaultAmount, nil
	}
	return 0, ErrInvalidAmount
}

func (s *Scheduler) newHandle(key RunKey, desc strategy.Descriptor, amount float64) *runHandle {
	ctx, cancel := context.WithCancel(s.baseCtx)
	return &runHandle{
		key:       key,
		desc:      desc,
		amount:    amount,
		machine:   state.NewMachine(),
		startedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// reserve inserts h unless the key is taken.
func (s *Scheduler) reserve(h *runHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.runs[h.key]; taken {
		return false
	}
	s.runs[h.key] = h
	return true
}

// release undoes a reservation whose loop was never launched.
func (s *Scheduler) release(h *runHandle) {
	s.mu.Lock()
	if s.runs[h.key] == h {
		delete(s.runs, h.key)
	}
	s.mu.Unlock()
	h.cancel()
	close(h.done)
}

// restorePosition reopens the lot of an open BUY left by an earlier run.
func (s *Scheduler) restorePosition(ctx context.Context, h *runHandle) error {
	t, err := s.store.FindOpenTrade(ctx, h.key.AccountID, h.key.StrategyID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load open trade: %w", ErrTransientIO, err)
	}
	pos := state.Position{
		Symbol:         t.Symbol,
		EntryPrice:     t.Price,
		Quantity:       t.Quantity,
		Commission:     t.Commission,
		OpeningTradeID: t.ID,
		OpenedAt:       t.CreatedAt,
	}
	if err := h.machine.Open(pos); err != nil {
		return fmt.Errorf("%w: restore position from trade %d: %w", ErrUnexpected, t.ID, err)
	}
	s.note(h, fmt.Sprintf("restored open position %.8f %s @ %.8f from trade %d", t.Quantity, t.Symbol, t.Price, t.ID))
	return nil
}

func (s *Scheduler) launch(h *runHandle) {
	s.bus.Publish(events.EventRunStarted, events.RunEvent{
		AccountID: h.key.AccountID, StrategyID: h.key.StrategyID, RunID: h.runID, Time: time.Now(),
	})
	go s.loop(h.ctx, h)
}

// Stop ends a local run and waits for its cleanup, or marks a run known only
// from storage as stopped.
func (s *Scheduler) Stop(ctx context.Context, accountID, strategyID string) error {
	key := RunKey{AccountID: accountID, StrategyID: strategyID}

	s.mu.Lock()
	h := s.runs[key]
	s.mu.Unlock()

	if h != nil {
		h.cancel()
		select {
		case <-h.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	active, err := s.store.GetActiveRuns(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: load active runs: %w", ErrTransientIO, err)
	}
	stopped := false
	for _, r := range active {
		if r.StrategyID != strategyID {
			continue
		}
		if err := s.store.StopRun(ctx, r.ID); err != nil {
			return fmt.Errorf("%w: stop run %d: %w", ErrTransientIO, r.ID, err)
		}
		stopped = true
	}
	if !stopped {
		return fmt.Errorf("%w: %s", ErrNotRunning, key)
	}
	return nil
}

// Status lists every registered strategy with its run state for accountID.
func (s *Scheduler) Status(ctx context.Context, accountID string) ([]StrategyStatus, error) {
	active, err := s.store.GetActiveRuns(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: load active runs: %w", ErrTransientIO, err)
	}
	persisted := make(map[string]db.Run, len(active))
	for _, r := range active {
		persisted[r.StrategyID] = r
	}

	descs := s.registry.List()
	out := make([]StrategyStatus, 0, len(descs))
	for _, d := range descs {
		st := StrategyStatus{Descriptor: d}
		s.mu.Lock()
		h := s.runs[RunKey{AccountID: accountID, StrategyID: d.ID}]
		s.mu.Unlock()
		if h != nil {
			st.Running, st.Local, st.Amount = true, true, h.amount
			if pos, ok := h.machine.Position(); ok {
				st.Position = &pos
			}
		} else if r, ok := persisted[d.ID]; ok {
			st.Running, st.Amount = true, r.Amount
		}
		out = append(out, st)
	}
	return out, nil
}

// Logs returns the detail log of a run or the account's trade feed for a strategy.
func (s *Scheduler) Logs(accountID, strategyID string, kind LogType) ([]LogEntry, error) {
	if _, ok := s.registry.Get(strategyID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	switch kind {
	case LogDetail, "":
		return s.logs.Detail(RunKey{AccountID: accountID, StrategyID: strategyID}), nil
	case LogTrade:
		return s.logs.Trades(accountID, strategyID), nil
	default:
		return nil, fmt.Errorf("%w: unknown log type %q", ErrConfiguration, kind)
	}
}

// Reconcile handles runs persisted as active by this instance before a
// restart: they are relaunched when ResumeRuns is set and stopped otherwise.
// Runs left by an ephemeral instance id can never be reclaimed, so they are
// stopped. Runs owned by other instances are left alone.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	runs, err := s.store.ListActiveRuns(ctx, "")
	if err != nil {
		return fmt.Errorf("%w: list active runs: %w", ErrTransientIO, err)
	}

	var resumed, stopped, orphaned int
	for _, r := range runs {
		log := s.log.With().Str("account_id", r.AccountID).Str("strategy_id", r.StrategyID).Int64("run_id", r.ID).Logger()

		if r.InstanceID != s.opts.InstanceID {
			if !instance.IsEphemeral(r.InstanceID) {
				continue
			}
			if err := s.store.StopRun(ctx, r.ID); err != nil {
				log.Error().Err(err).Msg("stop orphaned run failed")
				continue
			}
			log.Warn().Str("owner", r.InstanceID).Msg("stopped run of previous ephemeral instance")
			orphaned++
			continue
		}

		desc, known := s.registry.Get(r.StrategyID)
		if !s.opts.ResumeRuns || !known || r.Amount <= 0 {
			if err := s.store.StopRun(ctx, r.ID); err != nil {
				log.Error().Err(err).Msg("stop stale run failed")
				continue
			}
			if !known {
				log.Warn().Msg("stopped run of unregistered strategy")
			}
			stopped++
			continue
		}

		h := s.newHandle(RunKey{AccountID: r.AccountID, StrategyID: r.StrategyID}, desc, r.Amount)
		h.runID = r.ID
		h.startedAt = r.StartedAt
		if !s.reserve(h) {
			h.cancel()
			continue
		}
		if err := s.restorePosition(ctx, h); err != nil {
			log.Error().Err(err).Msg("restore position failed, stopping run")
			s.release(h)
			if err := s.store.StopRun(ctx, r.ID); err != nil {
				log.Error().Err(err).Msg("stop run failed")
			}
			stopped++
			continue
		}
		s.note(h, "run resumed after restart")
		s.launch(h)
		resumed++
	}

	s.log.Info().Int("resumed", resumed).Int("stopped", stopped).Int("orphaned", orphaned).Str("instance_id", s.opts.InstanceID).Msg("run reconciliation complete")
	return nil
}

// Shutdown cancels every loop and waits for them or ctx. With ResumeRuns the
// persisted runs stay active so the next process resumes them.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)
	s.mu.Lock()
	handles := make([]*runHandle, 0, len(s.runs))
	for _, h := range s.runs {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	s.cancelAll()
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ActiveRuns returns the number of local runs.
func (s *Scheduler) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (h *runHandle) info() RunInfo {
	return RunInfo{
		RunID:      h.runID,
		AccountID:  h.key.AccountID,
		StrategyID: h.key.StrategyID,
		Amount:     h.amount,
		StartedAt:  h.startedAt,
	}
}
