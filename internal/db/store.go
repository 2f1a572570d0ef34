package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"clickstonks/internal/market"
)

var ErrTxConflict = errors.New("transaction conflict, retry")

const maxAttempts = 8

var (
	retryBaseDelay = 75 * time.Millisecond
	retryMaxDelay  = 1200 * time.Millisecond
)

// Store is the PostgreSQL market.Store. Updates run SERIALIZABLE and are
// retried on serialization failures, so fn may be called more than once.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, log: logger}
}

func (s *Store) Update(ctx context.Context, fn func(tx market.Tx) error) error {
	return withRetry(ctx, s.log, func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{ctx: ctx, tx: tx, writable: true}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) View(ctx context.Context, fn func(tx market.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func withRetry(ctx context.Context, logger *slog.Logger, attempt func() error) error {
	retryDelay := retryBaseDelay
	for i := 0; i < maxAttempts; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if i == maxAttempts-1 {
			break
		}
		logger.Debug("serialization failure, retrying", "attempt", i+1, "delay", retryDelay.String())
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < retryMaxDelay {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	writable bool
}

// lock returns the row-lock suffix; read-only transactions cannot take locks.
func (t *pgTx) lock() string {
	if t.writable {
		return " FOR UPDATE"
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toInt8(name string, v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %s %d does not fit in BIGINT", market.ErrOverflow, name, v)
	}
	return int64(v), nil
}

func fromInt8(name string, v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%s is negative: %d", name, v)
	}
	return uint64(v), nil
}

type column struct {
	name string
	v    uint64
}

// int8Args converts unsigned columns in order, stopping at the first overflow.
func int8Args(cols ...column) ([]int64, error) {
	out := make([]int64, 0, len(cols))
	for _, c := range cols {
		v, err := toInt8(c.name, c.v)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *pgTx) Config() (market.MarketConfig, error) {
	var raw []byte
	err := t.tx.QueryRow(t.ctx, `SELECT config FROM clickstonks.market_config WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.MarketConfig{}, market.ErrNotInitialized
	}
	if err != nil {
		return market.MarketConfig{}, err
	}
	var cfg market.MarketConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return market.MarketConfig{}, fmt.Errorf("decode market config: %w", err)
	}
	return cfg, nil
}

func (t *pgTx) PutConfig(cfg market.MarketConfig) error {
	if !t.writable {
		return errReadOnly
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO clickstonks.market_config (id, config, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()
	`, raw)
	return err
}

var errReadOnly = errors.New("write in read-only transaction")

const stockColumns = `id, name, description, price_per_share, total_shares, available_shares,
	last_price, momentum, volatility, recent_buys, recent_sells, event`

func scanStock(row rowScanner) (market.Stock, error) {
	var (
		st                                market.Stock
		id, price, total, available, last int64
		vol, buys, sells                  int64
		event                             string
	)
	if err := row.Scan(&id, &st.Name, &st.Description, &price, &total, &available,
		&last, &st.Momentum, &vol, &buys, &sells, &event); err != nil {
		return st, err
	}
	st.ID = market.StockID(id)
	st.Event = market.Event(event)
	var err error
	for _, f := range []struct {
		name string
		src  int64
		dst  *uint64
	}{
		{"price_per_share", price, &st.PricePerShare},
		{"total_shares", total, &st.TotalShares},
		{"available_shares", available, &st.AvailableShares},
		{"last_price", last, &st.LastPrice},
		{"volatility", vol, &st.Volatility},
		{"recent_buys", buys, &st.RecentBuys},
		{"recent_sells", sells, &st.RecentSells},
	} {
		if *f.dst, err = fromInt8(f.name, f.src); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (t *pgTx) Stock(id market.StockID) (market.Stock, error) {
	st, err := scanStock(t.tx.QueryRow(t.ctx, `SELECT `+stockColumns+` FROM clickstonks.stocks WHERE id = $1`+t.lock(), int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return st, fmt.Errorf("%w: stock %d", market.ErrNotFound, id)
	}
	return st, err
}

func (t *pgTx) Stocks() ([]market.Stock, error) {
	rows, err := t.tx.Query(t.ctx, `SELECT `+stockColumns+` FROM clickstonks.stocks ORDER BY id`+t.lock())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Stock
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func stockArgs(s market.Stock) ([]int64, error) {
	return int8Args(
		column{"price_per_share", s.PricePerShare},
		column{"total_shares", s.TotalShares},
		column{"available_shares", s.AvailableShares},
		column{"last_price", s.LastPrice},
		column{"volatility", s.Volatility},
		column{"recent_buys", s.RecentBuys},
		column{"recent_sells", s.RecentSells},
	)
}

func (t *pgTx) InsertStock(s market.Stock) (market.StockID, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	v, err := stockArgs(s)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(t.ctx, `
		INSERT INTO clickstonks.stocks (name, description, price_per_share, total_shares, available_shares,
			last_price, momentum, volatility, recent_buys, recent_sells, event)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, s.Name, s.Description, v[0], v[1], v[2], v[3], s.Momentum, v[4], v[5], v[6], string(s.Event)).Scan(&id)
	if err != nil {
		return 0, err
	}
	return market.StockID(id), nil
}

func (t *pgTx) PutStock(s market.Stock) error {
	if !t.writable {
		return errReadOnly
	}
	v, err := stockArgs(s)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE clickstonks.stocks
		SET name = $2, description = $3, price_per_share = $4, total_shares = $5, available_shares = $6,
		    last_price = $7, momentum = $8, volatility = $9, recent_buys = $10, recent_sells = $11,
		    event = $12, updated_at = now()
		WHERE id = $1
	`, int64(s.ID), s.Name, s.Description, v[0], v[1], v[2], v[3], s.Momentum, v[4], v[5], v[6], string(s.Event))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stock %d", market.ErrNotFound, s.ID)
	}
	return nil
}

const playerColumns = `id, username, money, passive_income, click_power, click_cooldown_ms,
	last_click, online, buy_fee_rate, sell_fee_rate`

func scanPlayer(row rowScanner) (market.Player, error) {
	var (
		p                                 market.Player
		money, passive, power, cooldownMS int64
		buyFee, sellFee                   int64
	)
	if err := row.Scan(&p.ID, &p.Username, &money, &passive, &power, &cooldownMS,
		&p.LastClick, &p.Online, &buyFee, &sellFee); err != nil {
		return p, err
	}
	p.ClickCooldown = time.Duration(cooldownMS) * time.Millisecond
	p.LastClick = p.LastClick.UTC()
	var err error
	for _, f := range []struct {
		name string
		src  int64
		dst  *uint64
	}{
		{"money", money, &p.Money},
		{"passive_income", passive, &p.PassiveIncome},
		{"click_power", power, &p.ClickPower},
		{"buy_fee_rate", buyFee, &p.BuyFeeRate},
		{"sell_fee_rate", sellFee, &p.SellFeeRate},
	} {
		if *f.dst, err = fromInt8(f.name, f.src); err != nil {
			return p, err
		}
	}
	p.Holdings = make(map[market.StockID]uint64)
	return p, nil
}

func (t *pgTx) Player(id market.PlayerID) (market.Player, error) {
	p, err := scanPlayer(t.tx.QueryRow(t.ctx, `SELECT `+playerColumns+` FROM clickstonks.players WHERE id = $1`+t.lock(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("%w: player %s", market.ErrNotFound, id)
	}
	if err != nil {
		return p, err
	}
	players := map[market.PlayerID]*market.Player{id: &p}
	if err := t.loadPlayerRows(players, `WHERE player_id = $1`, id); err != nil {
		return p, err
	}
	return p, nil
}

func (t *pgTx) Players() ([]market.Player, error) {
	rows, err := t.tx.Query(t.ctx, `SELECT `+playerColumns+` FROM clickstonks.players ORDER BY id`+t.lock())
	if err != nil {
		return nil, err
	}
	var out []market.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byID := make(map[market.PlayerID]*market.Player, len(out))
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	if err := t.loadPlayerRows(byID, ``); err != nil {
		return nil, err
	}
	return out, nil
}

// loadPlayerRows fills Holdings and Upgrades for the given players.
func (t *pgTx) loadPlayerRows(players map[market.PlayerID]*market.Player, where string, args ...any) error {
	rows, err := t.tx.Query(t.ctx, `SELECT player_id, stock_id, amount FROM clickstonks.holdings `+where+` ORDER BY player_id, stock_id`, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			pid           market.PlayerID
			stock, amount int64
		)
		if err := rows.Scan(&pid, &stock, &amount); err != nil {
			rows.Close()
			return err
		}
		if p, ok := players[pid]; ok {
			p.Holdings[market.StockID(stock)] = uint64(amount)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = t.tx.Query(t.ctx, `SELECT player_id, upgrade_id FROM clickstonks.player_upgrades `+where+` ORDER BY player_id, upgrade_id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid     market.PlayerID
			upgrade int16
		)
		if err := rows.Scan(&pid, &upgrade); err != nil {
			return err
		}
		if p, ok := players[pid]; ok {
			p.Upgrades = append(p.Upgrades, market.UpgradeID(upgrade))
		}
	}
	return rows.Err()
}

func playerArgs(p market.Player) ([]int64, error) {
	return int8Args(
		column{"money", p.Money},
		column{"passive_income", p.PassiveIncome},
		column{"click_power", p.ClickPower},
		column{"buy_fee_rate", p.BuyFeeRate},
		column{"sell_fee_rate", p.SellFeeRate},
	)
}

func (t *pgTx) InsertPlayer(p market.Player) error {
	if !t.writable {
		return errReadOnly
	}
	v, err := playerArgs(p)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx, `
		INSERT INTO clickstonks.players (id, username, money, passive_income, click_power, click_cooldown_ms,
			last_click, online, buy_fee_rate, sell_fee_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.Username, v[0], v[1], v[2], p.ClickCooldown.Milliseconds(), p.LastClick, p.Online, v[3], v[4])
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: player %s already exists", market.ErrInvalidArgument, p.ID)
	}
	return t.replacePlayerRows(p)
}

func (t *pgTx) PutPlayer(p market.Player) error {
	if !t.writable {
		return errReadOnly
	}
	v, err := playerArgs(p)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE clickstonks.players
		SET username = $2, money = $3, passive_income = $4, click_power = $5, click_cooldown_ms = $6,
		    last_click = $7, online = $8, buy_fee_rate = $9, sell_fee_rate = $10
		WHERE id = $1
	`, p.ID, p.Username, v[0], v[1], v[2], p.ClickCooldown.Milliseconds(), p.LastClick, p.Online, v[3], v[4])
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: player %s", market.ErrNotFound, p.ID)
	}
	return t.replacePlayerRows(p)
}

// replacePlayerRows rewrites the holding and upgrade rows of p. Zero holdings
// are dropped rather than stored.
func (t *pgTx) replacePlayerRows(p market.Player) error {
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM clickstonks.holdings WHERE player_id = $1`, p.ID); err != nil {
		return err
	}
	for stockID, amount := range p.Holdings {
		if amount == 0 {
			continue
		}
		n, err := toInt8("holding", amount)
		if err != nil {
			return err
		}
		if _, err := t.tx.Exec(t.ctx, `
			INSERT INTO clickstonks.holdings (player_id, stock_id, amount) VALUES ($1, $2, $3)
		`, p.ID, int64(stockID), n); err != nil {
			return err
		}
	}

	if _, err := t.tx.Exec(t.ctx, `DELETE FROM clickstonks.player_upgrades WHERE player_id = $1`, p.ID); err != nil {
		return err
	}
	for _, id := range p.Upgrades {
		if _, err := t.tx.Exec(t.ctx, `
			INSERT INTO clickstonks.player_upgrades (player_id, upgrade_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, p.ID, int16(id)); err != nil {
			return err
		}
	}
	return nil
}

const transactionColumns = `id, sender, stock_id, amount, type, status, reason, created_at, settled_at`

func scanTransaction(row rowScanner) (market.Transaction, error) {
	var (
		tr                market.Transaction
		id, stock, amount int64
		typ, status       string
	)
	if err := row.Scan(&id, &tr.Sender, &stock, &amount, &typ, &status, &tr.Reason, &tr.Timestamp, &tr.SettledAt); err != nil {
		return tr, err
	}
	tr.ID = market.TransactionID(id)
	tr.StockID = market.StockID(stock)
	tr.Amount = uint64(amount)
	tr.Type = market.TxType(typ)
	tr.Status = market.TxStatus(status)
	tr.Timestamp = tr.Timestamp.UTC()
	if tr.SettledAt != nil {
		at := tr.SettledAt.UTC()
		tr.SettledAt = &at
	}
	return tr, nil
}

func (t *pgTx) Transaction(id market.TransactionID) (market.Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRow(t.ctx, `SELECT `+transactionColumns+` FROM clickstonks.transactions WHERE id = $1`+t.lock(), int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return tr, fmt.Errorf("%w: transaction %d", market.ErrNotFound, id)
	}
	return tr, err
}

func (t *pgTx) Transactions(filter market.TransactionFilter) ([]market.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if filter.Sender != nil {
		args = append(args, *filter.Sender)
		where = append(where, fmt.Sprintf("sender = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + transactionColumns + ` FROM clickstonks.transactions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id`

	rows, err := t.tx.Query(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertTransaction(tr market.Transaction) (market.TransactionID, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	amount, err := toInt8("amount", tr.Amount)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(t.ctx, `
		INSERT INTO clickstonks.transactions (sender, stock_id, amount, type, status, reason, created_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, tr.Sender, int64(tr.StockID), amount, string(tr.Type), string(tr.Status), tr.Reason, tr.Timestamp, tr.SettledAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return market.TransactionID(id), nil
}

func (t *pgTx) PutTransaction(tr market.Transaction) error {
	if !t.writable {
		return errReadOnly
	}
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE clickstonks.transactions
		SET status = $2, reason = $3, settled_at = $4
		WHERE id = $1
	`, int64(tr.ID), string(tr.Status), tr.Reason, tr.SettledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %d", market.ErrNotFound, tr.ID)
	}
	return nil
}

// ClaimIdempotencyKey relies on the (player_id, key) primary key. A concurrent
// claim of the same key fails serialization and the retry sees the winner.
func (t *pgTx) ClaimIdempotencyKey(player market.PlayerID, key string, id market.TransactionID) (market.TransactionID, error) {
	if !t.writable {
		return 0, errReadOnly
	}
	tag, err := t.tx.Exec(t.ctx, `
		INSERT INTO clickstonks.idempotency_keys (player_id, key, transaction_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, key) DO NOTHING
	`, player, key, int64(id))
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 1 {
		return id, nil
	}
	var owner int64
	if err := t.tx.QueryRow(t.ctx, `
		SELECT transaction_id FROM clickstonks.idempotency_keys
		WHERE player_id = $1 AND key = $2
	`, player, key).Scan(&owner); err != nil {
		return 0, err
	}
	return market.TransactionID(owner), nil
}
