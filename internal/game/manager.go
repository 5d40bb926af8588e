package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	BETTING_TIME      = 10 * time.Second
	COOLDOWN_TIME     = 3 * time.Second
	RETRY_BACKOFF     = 5 * time.Second
	MAINTENANCE_RETRY = 5 * time.Second
	TICK_INTERVAL     = 100 * time.Millisecond

	// phaseTimeout bounds the store work of a single transition.
	phaseTimeout = 10 * time.Second
)

type Settings struct {
	BettingDuration  time.Duration
	Cooldown         time.Duration
	RetryBackoff     time.Duration
	MaintenanceRetry time.Duration
	TickInterval     time.Duration
	Formula          CrashFormula
	Clock            Clock
}

var DefaultSettings = Settings{
	BettingDuration:  BETTING_TIME,
	Cooldown:         COOLDOWN_TIME,
	RetryBackoff:     RETRY_BACKOFF,
	MaintenanceRetry: MAINTENANCE_RETRY,
	TickInterval:     TICK_INTERVAL,
	Formula:          DefaultFormula,
	Clock:            DefaultClock,
}

// Manager drives the round lifecycle: betting, running, crashed, repeat.
// A single goroutine owns the timers and is the only writer of the current
// round.
type Manager struct {
	store       Store
	events      Broadcaster
	maintenance MaintenanceChecker
	cfg         Settings
	log         *zap.Logger

	stateMutex   sync.RWMutex
	currentRound *Round

	now     func() time.Time
	newSeed func() string

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(store Store, events Broadcaster, maintenance MaintenanceChecker, cfg Settings, log *zap.Logger) *Manager {
	if events == nil {
		events = nopBroadcaster{}
	}
	if maintenance == nil {
		maintenance = noMaintenance{}
	}
	return &Manager{
		store:       store,
		events:      events,
		maintenance: maintenance,
		cfg:         cfg,
		log:         log.Named("game"),
		now:         time.Now,
		newSeed:     GenerateSeed,
	}
}

// step is the next phase and how long to wait before running it.
type step struct {
	phase string
	after time.Duration
	run   func(ctx context.Context) step
}

// Start launches the round loop. The first round begins immediately, or the
// latest unfinished round in the store is resumed.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.gameLoop(ctx)
}

// Stop cancels the loop and waits for it to exit. Timers are not persisted;
// the next Start picks the round up from the store.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.log.Info("game loop stopped")
}

// CurrentRound returns a copy of the round being driven.
func (m *Manager) CurrentRound() (Round, bool) {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	if m.currentRound == nil {
		return Round{}, false
	}
	return *m.currentRound, true
}

func (m *Manager) setCurrent(r Round) {
	m.stateMutex.Lock()
	m.currentRound = &r
	m.stateMutex.Unlock()
}

func (m *Manager) gameLoop(ctx context.Context) {
	defer close(m.done)

	next := step{phase: "start", run: m.startRound}
	timer := time.NewTimer(0)
	defer timer.Stop()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickC:
			m.tick()
		case <-timer.C:
			next = m.runStep(ctx, next)
			if ctx.Err() != nil {
				return
			}

			r, ok := m.CurrentRound()
			switch {
			case ok && r.Status == RoundRunning && ticker == nil:
				ticker = time.NewTicker(m.cfg.TickInterval)
				tickC = ticker.C
			case (!ok || r.Status != RoundRunning) && ticker != nil:
				stopTicker()
			}

			if next.after < 0 {
				next.after = 0
			}
			timer.Reset(next.after)
		}
	}
}

// runStep executes one phase. A panic is treated like any other phase
// failure so the loop keeps producing rounds.
func (m *Manager) runStep(ctx context.Context, s step) (next step) {
	defer func() {
		if r := recover(); r != nil {
			next = m.fail(s.phase, fmt.Errorf("panic: %v", r))
		}
	}()
	return s.run(ctx)
}

func (m *Manager) fail(phase string, err error) step {
	phaseErrors.WithLabelValues(phase).Inc()
	m.log.Error("round phase failed, retrying",
		zap.String("phase", phase),
		zap.Duration("backoff", m.cfg.RetryBackoff),
		zap.Error(err),
	)
	return step{phase: "start", after: m.cfg.RetryBackoff, run: m.startRound}
}

func (m *Manager) startRound(ctx context.Context) step {
	ctx, cancel := context.WithTimeout(ctx, phaseTimeout)
	defer cancel()

	// Anything left unfinished by a failed phase or a previous process is
	// resumed before a new round is created.
	latest, err := m.store.LatestRound(ctx)
	if err != nil {
		return m.fail("start", fmt.Errorf("load latest round: %w", err))
	}
	if latest != nil && latest.Status != RoundCrashed {
		return m.adopt(*latest)
	}

	active, err := m.maintenance.MaintenanceActive(ctx)
	if err != nil {
		return m.fail("start", fmt.Errorf("check maintenance: %w", err))
	}
	if active {
		m.log.Info("maintenance active, deferring round", zap.Duration("retry", m.cfg.MaintenanceRetry))
		return step{phase: "start", after: m.cfg.MaintenanceRetry, run: m.startRound}
	}

	seq, err := m.store.LastSequence(ctx)
	if err != nil {
		return m.fail("start", fmt.Errorf("last sequence: %w", err))
	}

	seed := m.newSeed()
	round := Round{
		ID:             uuid.NewString(),
		Seq:            seq + 1,
		ServerSeed:     seed,
		ServerSeedHash: HashSeed(seed),
		CrashPoint:     m.cfg.Formula.CrashPoint(seed),
		Status:         RoundBetting,
		CreatedAt:      m.now(),
	}
	if err := m.store.CreateRound(ctx, &round); err != nil {
		return m.fail("start", fmt.Errorf("create round: %w", err))
	}
	m.setCurrent(round)
	roundsTotal.Inc()

	m.log.Info("round betting",
		zap.String("round_id", round.ID),
		zap.Int64("seq", round.Seq),
		zap.String("hash", round.ServerSeedHash),
	)
	m.events.Broadcast(Event{Type: EventRoundStarting, Data: RoundStarting{
		RoundID:           round.ID,
		Seq:               round.Seq,
		Hash:              round.ServerSeedHash,
		BettingDurationMs: m.cfg.BettingDuration.Milliseconds(),
	}})

	return step{phase: "run", after: m.cfg.BettingDuration, run: m.runRound}
}

func (m *Manager) runRound(ctx context.Context) step {
	ctx, cancel := context.WithTimeout(ctx, phaseTimeout)
	defer cancel()

	round, ok := m.CurrentRound()
	if !ok {
		return m.fail("run", ErrNoActiveRound)
	}

	at := m.now()
	promoted, err := m.store.StartRound(ctx, round.ID, at)
	if err != nil {
		return m.fail("run", fmt.Errorf("start round %s: %w", round.ID, err))
	}
	round.Status = RoundRunning
	round.StartedAt = at
	m.setCurrent(round)

	m.log.Info("round running",
		zap.String("round_id", round.ID),
		zap.Int64("seq", round.Seq),
		zap.Int64("bets", promoted),
	)
	m.events.Broadcast(Event{Type: EventRoundStarted, Data: RoundStarted{
		RoundID:     round.ID,
		Seq:         round.Seq,
		StartTimeMs: at.UnixMilli(),
	}})

	return m.crashStep(round)
}

// crashStep schedules the crash at the instant the clock reaches the crash
// point, measured from the recorded start.
func (m *Manager) crashStep(r Round) step {
	deadline := r.StartedAt.Add(m.cfg.Clock.ElapsedFor(r.CrashPoint))
	return step{phase: "crash", after: deadline.Sub(m.now()), run: m.crashRound}
}

func (m *Manager) crashRound(ctx context.Context) step {
	ctx, cancel := context.WithTimeout(ctx, phaseTimeout)
	defer cancel()

	round, ok := m.CurrentRound()
	if !ok {
		return m.fail("crash", ErrNoActiveRound)
	}

	at := m.now()
	lost, err := m.store.CrashRound(ctx, round.ID, at)
	if err != nil {
		return m.fail("crash", fmt.Errorf("crash round %s: %w", round.ID, err))
	}
	round.Status = RoundCrashed
	round.CrashedAt = at
	m.setCurrent(round)

	crashPoints.Observe(round.CrashPoint)
	betsLost.Add(float64(lost))
	m.log.Info("round crashed",
		zap.String("round_id", round.ID),
		zap.Int64("seq", round.Seq),
		zap.Float64("crash_point", round.CrashPoint),
		zap.Int64("lost", lost),
	)
	m.events.Broadcast(Event{Type: EventRoundCrashed, Data: RoundCrashedPayload{
		RoundID:    round.ID,
		Seq:        round.Seq,
		CrashPoint: round.CrashPoint,
		Seed:       round.ServerSeed,
		Hash:       round.ServerSeedHash,
	}})

	return step{phase: "start", after: m.cfg.Cooldown, run: m.startRound}
}

// adopt resumes a round found unfinished in the store, keeping its original
// schedule.
func (m *Manager) adopt(r Round) step {
	m.setCurrent(r)
	m.log.Warn("resuming unfinished round",
		zap.String("round_id", r.ID),
		zap.Int64("seq", r.Seq),
		zap.String("status", string(r.Status)),
	)

	if r.Status == RoundRunning {
		return m.crashStep(r)
	}
	remaining := r.CreatedAt.Add(m.cfg.BettingDuration).Sub(m.now())
	return step{phase: "run", after: remaining, run: m.runRound}
}

// tick broadcasts the live multiplier. Ticks are informational; settlement
// always recomputes from the start time.
func (m *Manager) tick() {
	r, ok := m.CurrentRound()
	if !ok || r.Status != RoundRunning {
		return
	}
	elapsed := m.now().Sub(r.StartedAt)
	mult := m.cfg.Clock.MultiplierAt(elapsed)
	if mult >= r.CrashPoint {
		return
	}
	m.events.Broadcast(Event{Type: EventRoundTick, Data: RoundTick{
		RoundID:    r.ID,
		Multiplier: mult,
		ElapsedMs:  elapsed.Milliseconds(),
	}})
}
