package crash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const roundColumns = `id, status, server_seed, server_seed_hash, client_seed, nonce, crash_point, started_at, crashed_at, created_at`

func scanRound(row pgx.Row) (*Round, error) {
	var r Round
	err := row.Scan(&r.ID, &r.Status, &r.ServerSeed, &r.ServerSeedHash, &r.ClientSeed,
		&r.Nonce, &r.CrashPoint, &r.StartedAt, &r.CrashedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateRound(ctx context.Context, r *Round) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rounds (id, status, server_seed, server_seed_hash, client_seed, nonce, crash_point, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Status, r.ServerSeed, r.ServerSeedHash, r.ClientSeed, r.Nonce, r.CrashPoint, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create round: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRound(ctx context.Context, id string) (*Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get round: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetOpenRound(ctx context.Context) (*Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE status IN ('waiting', 'running') LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open round: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) MarkRoundRunning(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET status = 'running', started_at = $2 WHERE id = $1 AND status = 'waiting'`,
		id, startedAt)
	if err != nil {
		return fmt.Errorf("mark round running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoundNotFound
	}
	return nil
}

func (s *PostgresStore) MarkRoundCrashed(ctx context.Context, id string, crashedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rounds SET status = 'crashed', crashed_at = $2 WHERE id = $1 AND status IN ('waiting', 'running')`,
		id, crashedAt)
	if err != nil {
		return fmt.Errorf("mark round crashed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoundNotFound
	}
	return nil
}

func (s *PostgresStore) ListCrashedRounds(ctx context.Context, limit, offset int) ([]Round, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE status = 'crashed'
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list crashed rounds: %w", err)
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crashed round: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PlaceBet(ctx context.Context, b *Bet) (*Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin place bet: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the round row so the engine cannot move it to running while
	// the bet commits.
	var status RoundStatus
	err = tx.QueryRow(ctx, `SELECT status FROM rounds WHERE id = $1 FOR SHARE`, b.RoundID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock round: %w", err)
	}
	if status != RoundWaiting {
		return nil, ErrBettingClosed
	}

	var acct Account
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $2,
		    total_wagered = total_wagered + $2,
		    games_played = games_played + 1
		WHERE user_id = $1 AND balance >= $2
		RETURNING user_id, balance, total_wagered, total_won, games_played`,
		b.UserID, b.Amount).
		Scan(&acct.UserID, &acct.Balance, &acct.TotalWagered, &acct.TotalWon, &acct.GamesPlayed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInsufficientBalance
	}
	if err != nil {
		return nil, fmt.Errorf("debit stake: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bets (id, round_id, user_id, amount, auto_cashout, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'active', $6)`,
		b.ID, b.RoundID, b.UserID, b.Amount, b.AutoCashout, b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrBetExists
		}
		return nil, fmt.Errorf("insert bet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit place bet: %w", err)
	}
	b.Status = BetActive
	return &acct, nil
}

const betColumns = `id, round_id, user_id, amount, auto_cashout, status, cashout_multiplier, win_amount, created_at`

func scanBet(row pgx.Row) (*Bet, error) {
	var b Bet
	err := row.Scan(&b.ID, &b.RoundID, &b.UserID, &b.Amount, &b.AutoCashout,
		&b.Status, &b.CashoutMultiplier, &b.WinAmount, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) GetActiveBet(ctx context.Context, betID, userID string) (*Bet, error) {
	b, err := scanBet(s.pool.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE id = $1 AND user_id = $2 AND status = 'active'`,
		betID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active bet: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) GetActiveBetForRound(ctx context.Context, roundID, userID string) (*Bet, error) {
	b, err := scanBet(s.pool.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE round_id = $1 AND user_id = $2 AND status = 'active'`,
		roundID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active bet for round: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListAutoCashoutDue(ctx context.Context, roundID string, multiplier float64) ([]Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE round_id = $1 AND status = 'active' AND auto_cashout > 0 AND auto_cashout <= $2`,
		roundID, multiplier)
	if err != nil {
		return nil, fmt.Errorf("list auto cashouts: %w", err)
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due bet: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SettleBetWon(ctx context.Context, betID string, multiplier, winAmount float64) (*Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settle won: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	err = tx.QueryRow(ctx, `
		UPDATE bets
		SET status = 'won', cashout_multiplier = $2, win_amount = $3
		WHERE id = $1 AND status = 'active'
		RETURNING user_id`,
		betID, multiplier, winAmount).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark bet won: %w", err)
	}

	var acct Account
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2, total_won = total_won + $2
		WHERE user_id = $1
		RETURNING user_id, balance, total_wagered, total_won, games_played`,
		userID, winAmount).
		Scan(&acct.UserID, &acct.Balance, &acct.TotalWagered, &acct.TotalWon, &acct.GamesPlayed)
	if err != nil {
		return nil, fmt.Errorf("credit win: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settle won: %w", err)
	}
	return &acct, nil
}

func (s *PostgresStore) SettleBetsLost(ctx context.Context, roundID string) ([]Bet, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE bets SET status = 'lost'
		WHERE round_id = $1 AND status = 'active'
		RETURNING `+betColumns, roundID)
	if err != nil {
		return nil, fmt.Errorf("settle bets lost: %w", err)
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lost bet: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RefundActiveBets(ctx context.Context, roundID string) ([]Bet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin refund: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE bets SET status = 'lost'
		WHERE round_id = $1 AND status = 'active'
		RETURNING `+betColumns, roundID)
	if err != nil {
		return nil, fmt.Errorf("void active bets: %w", err)
	}

	var refunded []Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan refunded bet: %w", err)
		}
		refunded = append(refunded, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, b := range refunded {
		_, err := tx.Exec(ctx,
			`UPDATE accounts SET balance = balance + $2 WHERE user_id = $1`,
			b.UserID, b.Amount)
		if err != nil {
			return nil, fmt.Errorf("refund stake: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit refund: %w", err)
	}
	return refunded, nil
}

func (s *PostgresStore) ListSettledBets(ctx context.Context, userID string, limit, offset int) ([]BetHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.id, b.round_id, b.user_id, b.amount, b.auto_cashout, b.status,
		       b.cashout_multiplier, b.win_amount, b.created_at, r.crash_point
		FROM bets b
		JOIN rounds r ON r.id = b.round_id
		WHERE b.user_id = $1 AND b.status IN ('won', 'lost')
		ORDER BY b.created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list settled bets: %w", err)
	}
	defer rows.Close()

	var out []BetHistoryEntry
	for rows.Next() {
		var e BetHistoryEntry
		err := rows.Scan(&e.ID, &e.RoundID, &e.UserID, &e.Amount, &e.AutoCashout, &e.Status,
			&e.CashoutMultiplier, &e.WinAmount, &e.CreatedAt, &e.CrashPoint)
		if err != nil {
			return nil, fmt.Errorf("scan settled bet: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	var acct Account
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, balance, total_wagered, total_won, games_played
		FROM accounts WHERE user_id = $1`, userID).
		Scan(&acct.UserID, &acct.Balance, &acct.TotalWagered, &acct.TotalWon, &acct.GamesPlayed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID string, balance float64) (*Account, error) {
	var acct Account
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance
		RETURNING user_id, balance, total_wagered, total_won, games_played`,
		userID, balance).
		Scan(&acct.UserID, &acct.Balance, &acct.TotalWagered, &acct.TotalWon, &acct.GamesPlayed)
	if err != nil {
		return nil, fmt.Errorf("set balance: %w", err)
	}
	return &acct, nil
}
