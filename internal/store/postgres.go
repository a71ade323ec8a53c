package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pasarprediksi/market-core/internal/model"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Share counts and prices are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool // nil when bound to a transaction
	db   querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

const uniqueViolation = "23505"

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", model.ErrDuplicate, pgErr.Message)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- user_profiles ---

const profileCols = `id::TEXT, user_id::TEXT, coin_balance, daily_hunting_attempts,
	last_hunting_date::TEXT, created_at`

func scanProfile(row rowScanner) (model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.ID, &p.UserID, &p.CoinBalance, &p.DailyHuntingAttempts,
		&p.LastHuntingDate, &p.CreatedAt)
	return p, err
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	// LIMIT 2 is enough to tell "one" from "more than one".
	rows, err := s.db.Query(ctx,
		`SELECT `+profileCols+` FROM user_profiles WHERE user_id = $1 LIMIT 2`, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	defer rows.Close()

	var found []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile %s: %w", userID, err)
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("profile for user %s: %w", userID, model.ErrNotFound)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("profile for user %s: %w", userID, model.ErrMultipleRows)
	}
}

func (s *PostgresStore) ListProfiles(ctx context.Context, userID string) ([]model.Profile, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+profileCols+` FROM user_profiles WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list profiles %s: %w", userID, err)
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile %s: %w", userID, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p *model.Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO user_profiles (id, user_id, coin_balance, daily_hunting_attempts, last_hunting_date, created_at)
		 VALUES ($1, $2, $3, $4, $5::DATE, $6)`,
		p.ID, p.UserID, p.CoinBalance, p.DailyHuntingAttempts, p.LastHuntingDate, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create profile %s: %w", p.UserID, mapErr(err))
	}
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.Profile, error) {
	var sets []string
	args := []any{userID}
	if upd.CoinBalance != nil {
		args = append(args, *upd.CoinBalance)
		sets = append(sets, fmt.Sprintf("coin_balance = $%d", len(args)))
	}
	if upd.DailyHuntingAttempts != nil {
		args = append(args, *upd.DailyHuntingAttempts)
		sets = append(sets, fmt.Sprintf("daily_hunting_attempts = $%d", len(args)))
	}
	if upd.LastHuntingDate != nil {
		args = append(args, *upd.LastHuntingDate)
		sets = append(sets, fmt.Sprintf("last_hunting_date = $%d::DATE", len(args)))
	}
	if len(sets) == 0 {
		return s.GetProfile(ctx, userID)
	}

	rows, err := s.db.Query(ctx,
		`UPDATE user_profiles SET `+strings.Join(sets, ", ")+
			` WHERE user_id = $1 RETURNING `+profileCols, args...)
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", userID, err)
	}
	defer rows.Close()

	var updated []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile %s: %w", userID, err)
		}
		updated = append(updated, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("update profile %s: %w", userID, err)
	}

	switch len(updated) {
	case 0:
		return nil, fmt.Errorf("profile for user %s: %w", userID, model.ErrNotFound)
	case 1:
		return &updated[0], nil
	default:
		return nil, fmt.Errorf("profile for user %s: %w", userID, model.ErrMultipleRows)
	}
}

func (s *PostgresStore) DeleteProfile(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM user_profiles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	return nil
}

// --- markets ---

const marketCols = `id::TEXT, title, description, category, type, probability,
	volume::TEXT, liquidity::TEXT, fee::TEXT,
	closing_date, resolution_date, resolution_source, created_by::TEXT,
	status, featured, is_private, allow_comments, options,
	min_value::TEXT, max_value::TEXT, created_at`

func scanMarket(row rowScanner) (model.Market, error) {
	var m model.Market
	var volume, liquidity, fee string
	var closing, resolution *time.Time
	var minValue, maxValue *string

	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Type, &m.Probability,
		&volume, &liquidity, &fee,
		&closing, &resolution, &m.ResolutionSource, &m.CreatedBy,
		&m.Status, &m.Featured, &m.IsPrivate, &m.AllowComments, &m.Options,
		&minValue, &maxValue, &m.CreatedAt)
	if err != nil {
		return model.Market{}, err
	}

	m.Volume, _ = decimal.NewFromString(volume)
	m.Liquidity, _ = decimal.NewFromString(liquidity)
	m.Fee, _ = decimal.NewFromString(fee)
	if closing != nil {
		m.ClosingDate = *closing
	}
	if resolution != nil {
		m.ResolutionDate = *resolution
	}
	m.MinValue = parseOptionalDecimal(minValue)
	m.MaxValue = parseOptionalDecimal(maxValue)
	return m, nil
}

func parseOptionalDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &v
}

func optionalDecimalString(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// optionalTime stores the zero time as NULL, which scanMarket reads back as
// the zero time.
func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// likeEscaper makes search text match literally under ILIKE.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO markets (id, title, description, category, type, probability,
		                      volume, liquidity, fee, closing_date, resolution_date,
		                      resolution_source, created_by, status, featured, is_private,
		                      allow_comments, options, min_value, max_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11,
		         $12, $13, $14, $15, $16,
		         $17, $18, $19::NUMERIC, $20::NUMERIC, $21)`,
		m.ID, m.Title, m.Description, m.Category, m.Type, m.Probability,
		m.Volume.String(), m.Liquidity.String(), m.Fee.String(), optionalTime(m.ClosingDate), optionalTime(m.ResolutionDate),
		m.ResolutionSource, m.CreatedBy, m.Status, m.Featured, m.IsPrivate,
		m.AllowComments, m.Options, optionalDecimalString(m.MinValue), optionalDecimalString(m.MaxValue), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create market: %w", mapErr(err))
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.db.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, mapErr(err))
	}
	return &m, nil
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, id string, upd model.MarketUpdate) (*model.Market, error) {
	var sets []string
	args := []any{id}
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Title != nil {
		set("title", *upd.Title)
	}
	if upd.Description != nil {
		set("description", *upd.Description)
	}
	if upd.Category != nil {
		set("category", *upd.Category)
	}
	if upd.Type != nil {
		set("type", *upd.Type)
	}
	if upd.Probability != nil {
		set("probability", *upd.Probability)
	}
	if upd.Liquidity != nil {
		set("liquidity", upd.Liquidity.String())
		sets[len(sets)-1] += "::NUMERIC"
	}
	if upd.Fee != nil {
		set("fee", upd.Fee.String())
		sets[len(sets)-1] += "::NUMERIC"
	}
	if upd.ClosingDate != nil {
		set("closing_date", optionalTime(*upd.ClosingDate))
	}
	if upd.ResolutionDate != nil {
		set("resolution_date", optionalTime(*upd.ResolutionDate))
	}
	if upd.ResolutionSource != nil {
		set("resolution_source", *upd.ResolutionSource)
	}
	if upd.Status != nil {
		set("status", *upd.Status)
	}
	if upd.Featured != nil {
		set("featured", *upd.Featured)
	}
	if upd.IsPrivate != nil {
		set("is_private", *upd.IsPrivate)
	}
	if upd.AllowComments != nil {
		set("allow_comments", *upd.AllowComments)
	}
	if len(sets) == 0 {
		return s.GetMarket(ctx, id)
	}

	m, err := scanMarket(s.db.QueryRow(ctx,
		`UPDATE markets SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+marketCols, args...))
	if err != nil {
		return nil, fmt.Errorf("update market %s: %w", id, mapErr(err))
	}
	return &m, nil
}

func (s *PostgresStore) DeleteMarket(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM markets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, f model.MarketFilter) ([]model.Market, int, error) {
	where := " WHERE TRUE"
	var args []any
	if f.Category != "" {
		args = append(args, f.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+likeEscaper.Replace(f.Search)+"%")
		where += fmt.Sprintf(" AND title ILIKE $%d", len(args))
	}
	if f.Featured != nil {
		args = append(args, *f.Featured)
		where += fmt.Sprintf(" AND featured = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM markets`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count markets: %w", err)
	}

	query := `SELECT ` + marketCols + ` FROM markets` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	markets := []model.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, total, rows.Err()
}

// --- positions ---

const positionCols = `p.id::TEXT, p.user_id::TEXT, p.market_id::TEXT, p.position,
	p.shares::TEXT, p.average_price::TEXT, p.current_value::TEXT,
	p.profit::TEXT, p.profit_percentage::TEXT, p.created_at`

func scanPosition(row rowScanner, extra ...any) (model.Position, error) {
	var p model.Position
	var shares, avg, value, profit, pct string

	dest := []any{&p.ID, &p.UserID, &p.MarketID, &p.Side,
		&shares, &avg, &value, &profit, &pct, &p.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.Position{}, err
	}

	p.Shares, _ = decimal.NewFromString(shares)
	p.AveragePrice, _ = decimal.NewFromString(avg)
	p.CurrentValue, _ = decimal.NewFromString(value)
	p.Profit, _ = decimal.NewFromString(profit)
	p.ProfitPercentage, _ = decimal.NewFromString(pct)
	return p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID, side string) (*model.Position, error) {
	p, err := scanPosition(s.db.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions p
		 WHERE p.user_id = $1 AND p.market_id = $2 AND p.position = $3`,
		userID, marketID, side))
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s/%s: %w", userID, marketID, side, mapErr(err))
	}
	return &p, nil
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO positions (id, user_id, market_id, position, shares, average_price,
		                        current_value, profit, profit_percentage, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		p.ID, p.UserID, p.MarketID, p.Side,
		p.Shares.String(), p.AveragePrice.String(), p.CurrentValue.String(),
		p.Profit.String(), p.ProfitPercentage.String(), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create position: %w", mapErr(err))
	}
	return nil
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, id string, shares, averagePrice decimal.Decimal) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE positions SET shares = $2::NUMERIC, average_price = $3::NUMERIC WHERE id = $1`,
		id, shares.String(), averagePrice.String())
	if err != nil {
		return fmt.Errorf("update position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete position %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionCols+`,
		        m.title, m.category, m.status, m.probability, m.closing_date
		 FROM positions p
		 LEFT JOIN markets m ON m.id = p.market_id
		 WHERE p.user_id = $1
		 ORDER BY p.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions %s: %w", userID, err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var title, category, status *string
		var probability *int
		var closing *time.Time

		p, err := scanPosition(rows, &title, &category, &status, &probability, &closing)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if title != nil {
			snap := &model.MarketSnapshot{Title: *title}
			if category != nil {
				snap.Category = *category
			}
			if status != nil {
				snap.Status = *status
			}
			if probability != nil {
				snap.Probability = *probability
			}
			if closing != nil {
				snap.ClosingDate = *closing
			}
			p.Market = snap
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// --- transactions ---

const transactionCols = `t.id::TEXT, t.user_id::TEXT, t.market_id::TEXT, t.type, t.position,
	t.shares::TEXT, t.price::TEXT, t.total::TEXT, t.created_at`

func scanTransaction(row rowScanner, extra ...any) (model.Transaction, error) {
	var t model.Transaction
	var shares, price, total string

	dest := []any{&t.ID, &t.UserID, &t.MarketID, &t.Type, &t.Side,
		&shares, &price, &total, &t.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.Transaction{}, err
	}

	t.Shares, _ = decimal.NewFromString(shares)
	t.Price, _ = decimal.NewFromString(price)
	t.Total, _ = decimal.NewFromString(total)
	return t, nil
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO transactions (id, user_id, market_id, type, position, shares, price, total, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.UserID, t.MarketID, t.Type, t.Side,
		t.Shares.String(), t.Price.String(), t.Total.String(), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", mapErr(err))
	}
	return nil
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+transactionCols+`, m.title
		 FROM transactions t
		 LEFT JOIN markets m ON m.id = t.market_id
		 WHERE t.user_id = $1 AND t.created_at >= $2
		 ORDER BY t.created_at DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list transactions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var title *string
		t, err := scanTransaction(rows, &title)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if title != nil {
			t.Market = &model.MarketSnapshot{Title: *title}
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) ListTransactionsByMarket(ctx context.Context, marketID string, since time.Time) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+transactionCols+`
		 FROM transactions t
		 WHERE t.market_id = $1 AND t.created_at >= $2
		 ORDER BY t.created_at ASC`, marketID, since)
	if err != nil {
		return nil, fmt.Errorf("list transactions for market %s: %w", marketID, err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// WithTx runs fn inside one PostgreSQL transaction. It commits if fn returns
// nil, otherwise it rolls back. Nested calls join the outer transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&PostgresStore{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback after fn error: %v (fn err: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
