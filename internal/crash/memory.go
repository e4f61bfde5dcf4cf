package crash

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same transactional
// semantics as PostgresStore. It backs the engine and settlement tests
// and is handy for local development without a database.
type MemoryStore struct {
	mu       sync.Mutex
	rounds   map[string]*Round
	bets     map[string]*Bet
	accounts map[string]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:   make(map[string]*Round),
		bets:     make(map[string]*Bet),
		accounts: make(map[string]*Account),
	}
}

func (s *MemoryStore) CreateRound(_ context.Context, r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rounds[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, id string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetOpenRound(_ context.Context) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rounds {
		if r.Open() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRoundNotFound
}

func (s *MemoryStore) MarkRoundRunning(_ context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok || r.Status != RoundWaiting {
		return ErrRoundNotFound
	}
	t := startedAt
	r.Status = RoundRunning
	r.StartedAt = &t
	return nil
}

func (s *MemoryStore) MarkRoundCrashed(_ context.Context, id string, crashedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok || !r.Open() {
		return ErrRoundNotFound
	}
	t := crashedAt
	r.Status = RoundCrashed
	r.CrashedAt = &t
	return nil
}

func (s *MemoryStore) ListCrashedRounds(_ context.Context, limit, offset int) ([]Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Round
	for _, r := range s.rounds {
		if r.Status == RoundCrashed {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (s *MemoryStore) PlaceBet(_ context.Context, b *Bet) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[b.RoundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	if r.Status != RoundWaiting {
		return nil, ErrBettingClosed
	}
	for _, existing := range s.bets {
		if existing.RoundID == b.RoundID && existing.UserID == b.UserID && existing.Status == BetActive {
			return nil, ErrBetExists
		}
	}
	acct, ok := s.accounts[b.UserID]
	if !ok || acct.Balance < b.Amount {
		return nil, ErrInsufficientBalance
	}

	acct.Balance -= b.Amount
	acct.TotalWagered += b.Amount
	acct.GamesPlayed++

	cp := *b
	cp.Status = BetActive
	s.bets[b.ID] = &cp
	b.Status = BetActive

	out := *acct
	return &out, nil
}

func (s *MemoryStore) GetActiveBet(_ context.Context, betID, userID string) (*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok || b.UserID != userID || b.Status != BetActive {
		return nil, ErrBetNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) GetActiveBetForRound(_ context.Context, roundID, userID string) (*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bets {
		if b.RoundID == roundID && b.UserID == userID && b.Status == BetActive {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrBetNotFound
}

func (s *MemoryStore) ListAutoCashoutDue(_ context.Context, roundID string, multiplier float64) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bet
	for _, b := range s.bets {
		if b.RoundID == roundID && b.Status == BetActive && b.AutoCashout > 0 && b.AutoCashout <= multiplier {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *MemoryStore) SettleBetWon(_ context.Context, betID string, multiplier, winAmount float64) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[betID]
	if !ok || b.Status != BetActive {
		return nil, ErrBetNotFound
	}
	acct, ok := s.accounts[b.UserID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	b.Status = BetWon
	b.CashoutMultiplier = multiplier
	b.WinAmount = winAmount
	acct.Balance += winAmount
	acct.TotalWon += winAmount

	out := *acct
	return &out, nil
}

func (s *MemoryStore) SettleBetsLost(_ context.Context, roundID string) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bet
	for _, b := range s.bets {
		if b.RoundID == roundID && b.Status == BetActive {
			b.Status = BetLost
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *MemoryStore) RefundActiveBets(_ context.Context, roundID string) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Bet
	for _, b := range s.bets {
		if b.RoundID == roundID && b.Status == BetActive {
			b.Status = BetLost
			if acct, ok := s.accounts[b.UserID]; ok {
				acct.Balance += b.Amount
			}
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListSettledBets(_ context.Context, userID string, limit, offset int) ([]BetHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BetHistoryEntry
	for _, b := range s.bets {
		if b.UserID != userID || b.Status == BetActive {
			continue
		}
		entry := BetHistoryEntry{Bet: *b}
		if r, ok := s.rounds[b.RoundID]; ok {
			entry.CrashPoint = r.CrashPoint
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return pageEntries(out, limit, offset), nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *MemoryStore) SetBalance(_ context.Context, userID string, balance float64) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		acct = &Account{UserID: userID}
		s.accounts[userID] = acct
	}
	acct.Balance = balance
	cp := *acct
	return &cp, nil
}

func page(in []Round, limit, offset int) []Round {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func pageEntries(in []BetHistoryEntry, limit, offset int) []BetHistoryEntry {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
