package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"crashgame/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	uniqueViolation  = "23505"
	betRoundUserKey  = "crash_bets_round_user_key"
	roundColumns     = `id::text, seq, server_seed, server_seed_hash, crash_point::float8, status, created_at, started_at, crashed_at`
	betColumns       = `id::text, user_id, round_id::text, currency, bet_amount::text, cash_out_multiplier::text, profit::text, status, created_at, cash_out_time`
	betColumnsPrefix = `b.id::text, b.user_id, b.round_id::text, b.currency, b.bet_amount::text, b.cash_out_multiplier::text, b.profit::text, b.status, b.created_at, b.cash_out_time`
)

// Postgres is the game.Store backed by PostgreSQL. Amounts travel as text to
// keep NUMERIC exact.
type Postgres struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

func NewPostgres(db *pgxpool.Pool, log *zap.Logger) *Postgres {
	return &Postgres{db: db, log: log.Named("store")}
}

var _ game.Store = (*Postgres)(nil)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *Postgres) CreateRound(ctx context.Context, r *game.Round) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO crash_rounds (id, seq, server_seed, server_seed_hash, crash_point, status, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
	`, r.ID, r.Seq, r.ServerSeed, r.ServerSeedHash, strconv.FormatFloat(r.CrashPoint, 'f', 2, 64), string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (p *Postgres) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := p.db.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM crash_rounds`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq, nil
}

func (p *Postgres) LatestRound(ctx context.Context) (*game.Round, error) {
	row := p.db.QueryRow(ctx, `SELECT `+roundColumns+` FROM crash_rounds ORDER BY seq DESC LIMIT 1`)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest round: %w", err)
	}
	return r, nil
}

// StartRound waits for in-flight bets holding the round row, then flips the
// status and promotes pending bets in the same transaction.
func (p *Postgres) StartRound(ctx context.Context, roundID string, at time.Time) (int64, error) {
	var promoted int64
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE crash_rounds SET status = 'running', started_at = $2
			WHERE id = $1 AND status = 'betting'
		`, roundID, at)
		if err != nil {
			return fmt.Errorf("update round: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("round %s is not betting", roundID)
		}

		tag, err = tx.Exec(ctx, `
			UPDATE crash_bets SET status = 'playing'
			WHERE round_id = $1 AND status = 'pending'
		`, roundID)
		if err != nil {
			return fmt.Errorf("promote bets: %w", err)
		}
		promoted = tag.RowsAffected()
		return nil
	})
	return promoted, err
}

// CrashRound is the bulk counterpart of CashOut: both require status playing
// under a row lock, so each bet is settled by exactly one of them.
func (p *Postgres) CrashRound(ctx context.Context, roundID string, at time.Time) (int64, error) {
	var lost int64
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE crash_rounds SET status = 'crashed', crashed_at = $2
			WHERE id = $1 AND status = 'running'
		`, roundID, at)
		if err != nil {
			return fmt.Errorf("update round: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("round %s is not running", roundID)
		}

		tag, err = tx.Exec(ctx, `
			UPDATE crash_bets SET status = 'lost', profit = -bet_amount
			WHERE round_id = $1 AND status = 'playing'
		`, roundID)
		if err != nil {
			return fmt.Errorf("settle lost bets: %w", err)
		}
		lost = tag.RowsAffected()
		return nil
	})
	return lost, err
}

func (p *Postgres) HasBet(ctx context.Context, roundID, userID string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM crash_bets WHERE round_id = $1 AND user_id = $2)
	`, roundID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has bet: %w", err)
	}
	return exists, nil
}

func (p *Postgres) PlaceBet(ctx context.Context, bet *game.Bet) (game.Balances, error) {
	var balances game.Balances
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockRound(ctx, tx, bet.RoundID, game.RoundBetting, game.ErrBettingClosed); err != nil {
			return err
		}

		var raw string
		err := tx.QueryRow(ctx, `
			SELECT amount::text FROM user_balances
			WHERE user_id = $1 AND currency = $2
			FOR UPDATE
		`, bet.UserID, bet.Currency).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return game.ErrInsufficientBalance
		}
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse balance %q: %w", raw, err)
		}
		if balance.LessThan(bet.Amount) {
			return game.ErrInsufficientBalance
		}

		if _, err := tx.Exec(ctx, `
			UPDATE user_balances SET amount = amount - $3::numeric, updated_at = NOW()
			WHERE user_id = $1 AND currency = $2
		`, bet.UserID, bet.Currency, bet.Amount.String()); err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO crash_bets (id, round_id, user_id, currency, bet_amount, profit, status, created_at)
			VALUES ($1, $2, $3, $4, $5::numeric, 0, $6, $7)
		`, bet.ID, bet.RoundID, bet.UserID, bet.Currency, bet.Amount.String(), string(game.BetPending), bet.CreatedAt)
		if isUniqueViolation(err, betRoundUserKey) {
			return game.ErrBetAlreadyPlaced
		}
		if err != nil {
			return fmt.Errorf("insert bet: %w", err)
		}

		balances, err = readBalances(ctx, tx, bet.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (p *Postgres) CashOut(ctx context.Context, userID, roundID string, settle game.SettleFunc) (*game.Bet, game.Balances, error) {
	var (
		bet      *game.Bet
		balances game.Balances
	)
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockRound(ctx, tx, roundID, game.RoundRunning, game.ErrNoGameRunning); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			SELECT `+betColumns+` FROM crash_bets
			WHERE round_id = $1 AND user_id = $2 AND status = 'playing'
			FOR UPDATE
		`, roundID, userID)
		b, err := scanBet(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return game.ErrNoActiveBet
		}
		if err != nil {
			return fmt.Errorf("lock bet: %w", err)
		}

		st, err := settle(*b)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE crash_bets
			SET status = 'cashed_out', cash_out_multiplier = $2::numeric, profit = $3::numeric, cash_out_time = $4
			WHERE id = $1
		`, b.ID, st.Multiplier.String(), st.Profit.String(), st.At); err != nil {
			return fmt.Errorf("settle bet: %w", err)
		}

		credit := b.Amount.Add(st.Profit)
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_balances (user_id, currency, amount)
			VALUES ($1, $2, $3::numeric)
			ON CONFLICT (user_id, currency)
			DO UPDATE SET amount = user_balances.amount + EXCLUDED.amount, updated_at = NOW()
		`, userID, b.Currency, credit.String()); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		mult, at := st.Multiplier, st.At
		b.Status = game.BetCashedOut
		b.CashOutMultiplier = &mult
		b.Profit = st.Profit
		b.CashOutTime = &at
		bet = b

		balances, err = readBalances(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return bet, balances, nil
}

func (p *Postgres) RoundBets(ctx context.Context, roundID string) ([]game.Bet, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+betColumns+` FROM crash_bets
		WHERE round_id = $1
		ORDER BY created_at, id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("round bets: %w", err)
	}
	defer rows.Close()

	var bets []game.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

// UserBets lists a user's most recent bets across rounds.
func (p *Postgres) UserBets(ctx context.Context, userID string, limit int) ([]game.Bet, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+betColumnsPrefix+` FROM crash_bets b
		JOIN crash_rounds r ON r.id = b.round_id
		WHERE b.user_id = $1
		ORDER BY r.seq DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("user bets: %w", err)
	}
	defer rows.Close()

	var bets []game.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func (p *Postgres) History(ctx context.Context, limit int) ([]game.RoundSummary, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id::text, seq, crash_point::float8, server_seed, server_seed_hash, crashed_at
		FROM crash_rounds
		WHERE status = 'crashed'
		ORDER BY seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	history := []game.RoundSummary{}
	for rows.Next() {
		var (
			s         game.RoundSummary
			crashedAt *time.Time
		)
		if err := rows.Scan(&s.RoundID, &s.Seq, &s.CrashPoint, &s.ServerSeed, &s.ServerSeedHash, &crashedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if crashedAt != nil {
			s.CrashedAt = *crashedAt
		}
		history = append(history, s)
	}
	return history, rows.Err()
}

func (p *Postgres) Balances(ctx context.Context, userID string) (game.Balances, error) {
	return readBalances(ctx, p.db, userID)
}

func (p *Postgres) SetBalance(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO user_balances (user_id, currency, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (user_id, currency)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()
	`, userID, currency, amount.String())
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// lockRound takes a share lock on the round row and checks its status. The
// lock keeps phase transitions out until the calling transaction ends.
func lockRound(ctx context.Context, tx pgx.Tx, roundID string, want game.RoundStatus, rejection error) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM crash_rounds WHERE id = $1 FOR SHARE`, roundID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return rejection
	}
	if err != nil {
		return fmt.Errorf("lock round: %w", err)
	}
	if game.RoundStatus(status) != want {
		return rejection
	}
	return nil
}

func readBalances(ctx context.Context, q querier, userID string) (game.Balances, error) {
	rows, err := q.Query(ctx, `SELECT currency, amount::text FROM user_balances WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("read balances: %w", err)
	}
	defer rows.Close()

	balances := make(game.Balances)
	for rows.Next() {
		var currency, raw string
		if err := rows.Scan(&currency, &raw); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse balance %q: %w", raw, err)
		}
		balances[currency] = amount
	}
	return balances, rows.Err()
}

func scanRound(row pgx.Row) (*game.Round, error) {
	var (
		r                    game.Round
		status               string
		startedAt, crashedAt *time.Time
	)
	if err := row.Scan(&r.ID, &r.Seq, &r.ServerSeed, &r.ServerSeedHash, &r.CrashPoint, &status, &r.CreatedAt, &startedAt, &crashedAt); err != nil {
		return nil, err
	}
	r.Status = game.RoundStatus(status)
	if startedAt != nil {
		r.StartedAt = *startedAt
	}
	if crashedAt != nil {
		r.CrashedAt = *crashedAt
	}
	return &r, nil
}

func scanBet(row pgx.Row) (*game.Bet, error) {
	var (
		b              game.Bet
		amount, profit string
		multiplier     *string
		status         string
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.RoundID, &b.Currency, &amount, &multiplier, &profit, &status, &b.CreatedAt, &b.CashOutTime); err != nil {
		return nil, err
	}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if b.Profit, err = decimal.NewFromString(profit); err != nil {
		return nil, fmt.Errorf("parse profit %q: %w", profit, err)
	}
	if multiplier != nil {
		m, err := decimal.NewFromString(*multiplier)
		if err != nil {
			return nil, fmt.Errorf("parse multiplier %q: %w", *multiplier, err)
		}
		b.CashOutMultiplier = &m
	}
	b.Status = game.BetStatus(status)
	return &b, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}
