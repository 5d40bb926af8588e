package game

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory Store. One mutex stands in for the row locks, so
// each method behaves as one serialised transaction.
type memStore struct {
	mu       sync.Mutex
	rounds   []*Round
	bets     []*Bet
	balances map[string]Balances

	// failures injected per method name
	fail map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		balances: make(map[string]Balances),
		fail:     make(map[string]error),
	}
}

func (s *memStore) injected(op string) error {
	return s.fail[op]
}

func (s *memStore) setFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *memStore) round(id string) *Round {
	for _, r := range s.rounds {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *memStore) CreateRound(_ context.Context, r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateRound"); err != nil {
		return err
	}
	for _, existing := range s.rounds {
		if existing.Seq == r.Seq {
			return errors.New("duplicate seq")
		}
	}
	cp := *r
	s.rounds = append(s.rounds, &cp)
	return nil
}

func (s *memStore) LastSequence(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, r := range s.rounds {
		if r.Seq > max {
			max = r.Seq
		}
	}
	return max, nil
}

func (s *memStore) LatestRound(context.Context) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("LatestRound"); err != nil {
		return nil, err
	}
	var latest *Round
	for _, r := range s.rounds {
		if latest == nil || r.Seq > latest.Seq {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) StartRound(_ context.Context, roundID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("StartRound"); err != nil {
		return 0, err
	}
	r := s.round(roundID)
	if r == nil || r.Status != RoundBetting {
		return 0, errors.New("round not betting")
	}
	r.Status = RoundRunning
	r.StartedAt = at
	var n int64
	for _, b := range s.bets {
		if b.RoundID == roundID && b.Status == BetPending {
			b.Status = BetPlaying
			n++
		}
	}
	return n, nil
}

func (s *memStore) CrashRound(_ context.Context, roundID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CrashRound"); err != nil {
		return 0, err
	}
	r := s.round(roundID)
	if r == nil || r.Status != RoundRunning {
		return 0, errors.New("round not running")
	}
	r.Status = RoundCrashed
	r.CrashedAt = at
	var n int64
	for _, b := range s.bets {
		if b.RoundID == roundID && b.Status == BetPlaying {
			b.Status = BetLost
			b.Profit = b.Amount.Neg()
			n++
		}
	}
	return n, nil
}

func (s *memStore) HasBet(_ context.Context, roundID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(roundID, userID) != nil, nil
}

func (s *memStore) find(roundID, userID string) *Bet {
	for _, b := range s.bets {
		if b.RoundID == roundID && b.UserID == userID {
			return b
		}
	}
	return nil
}

func (s *memStore) PlaceBet(_ context.Context, bet *Bet) (Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(bet.RoundID)
	if r == nil || r.Status != RoundBetting {
		return nil, ErrBettingClosed
	}
	bal := s.balances[bet.UserID][bet.Currency]
	if bal.LessThan(bet.Amount) {
		return nil, ErrInsufficientBalance
	}
	if s.find(bet.RoundID, bet.UserID) != nil {
		return nil, ErrBetAlreadyPlaced
	}
	s.balances[bet.UserID][bet.Currency] = bal.Sub(bet.Amount)
	cp := *bet
	s.bets = append(s.bets, &cp)
	return s.copyBalances(bet.UserID), nil
}

func (s *memStore) CashOut(_ context.Context, userID, roundID string, settle SettleFunc) (*Bet, Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(roundID)
	if r == nil || r.Status != RoundRunning {
		return nil, nil, ErrNoGameRunning
	}
	b := s.find(roundID, userID)
	if b == nil || b.Status != BetPlaying {
		return nil, nil, ErrNoActiveBet
	}
	st, err := settle(*b)
	if err != nil {
		return nil, nil, err
	}
	mult := st.Multiplier
	at := st.At
	b.Status = BetCashedOut
	b.CashOutMultiplier = &mult
	b.CashOutTime = &at
	b.Profit = st.Profit
	s.balances[userID][b.Currency] = s.balances[userID][b.Currency].Add(b.Amount).Add(st.Profit)
	cp := *b
	return &cp, s.copyBalances(userID), nil
}

func (s *memStore) RoundBets(_ context.Context, roundID string) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bet
	for _, b := range s.bets {
		if b.RoundID == roundID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *memStore) History(_ context.Context, limit int) ([]RoundSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RoundSummary
	for _, r := range s.rounds {
		if r.Status != RoundCrashed {
			continue
		}
		out = append(out, RoundSummary{
			RoundID:        r.ID,
			Seq:            r.Seq,
			CrashPoint:     r.CrashPoint,
			ServerSeed:     r.ServerSeed,
			ServerSeedHash: r.ServerSeedHash,
			CrashedAt:      r.CrashedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Balances(_ context.Context, userID string) (Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyBalances(userID), nil
}

func (s *memStore) SetBalance(_ context.Context, userID, currency string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[userID] == nil {
		s.balances[userID] = make(Balances)
	}
	s.balances[userID][currency] = amount
	return nil
}

func (s *memStore) copyBalances(userID string) Balances {
	out := make(Balances)
	for c, v := range s.balances[userID] {
		out[c] = v
	}
	return out
}

// bet returns a copy of the user's bet in the round.
func (s *memStore) bet(roundID, userID string) (Bet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.find(roundID, userID)
	if b == nil {
		return Bet{}, false
	}
	return *b, true
}

func (s *memStore) roundByID(id string) (Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(id)
	if r == nil {
		return Round{}, false
	}
	return *r, true
}

// staticRounds is a RoundSource fixed by the test.
type staticRounds struct {
	mu sync.Mutex
	r  *Round
}

func (s *staticRounds) CurrentRound() (Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil {
		return Round{}, false
	}
	return *s.r, true
}

func (s *staticRounds) set(r Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r = &r
}

// recorder is a Broadcaster that keeps everything it is given.
type recorder struct {
	mu     sync.Mutex
	all    []Event
	direct map[string][]Event
}

func newRecorder() *recorder {
	return &recorder{direct: make(map[string][]Event)}
}

func (r *recorder) Broadcast(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, e)
}

func (r *recorder) SendToUser(userID string, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[userID] = append(r.direct[userID], e)
}

func (r *recorder) broadcasts(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.all {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) toUser(userID, typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.direct[userID] {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
