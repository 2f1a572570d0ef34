package market

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var errReadOnly = errors.New("write in read-only transaction")

// MemoryStore is an in-process Store. Updates are serialized by a single lock
// and staged in an overlay that is merged only when fn succeeds.
type MemoryStore struct {
	mu        sync.RWMutex
	config    *MarketConfig
	stocks    map[StockID]Stock
	players   map[PlayerID]Player
	txs       map[TransactionID]Transaction
	keys      map[idemKey]TransactionID
	nextStock StockID
	nextTx    TransactionID
}

type idemKey struct {
	player PlayerID
	key    string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:  make(map[StockID]Stock),
		players: make(map[PlayerID]Player),
		txs:     make(map[TransactionID]Transaction),
		keys:    make(map[idemKey]TransactionID),
	}
}

func (m *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.begin(true)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.begin(false))
}

func (m *MemoryStore) begin(writable bool) *memTx {
	return &memTx{
		base:      m,
		writable:  writable,
		stocks:    make(map[StockID]Stock),
		players:   make(map[PlayerID]Player),
		txs:       make(map[TransactionID]Transaction),
		keys:      make(map[idemKey]TransactionID),
		nextStock: m.nextStock,
		nextTx:    m.nextTx,
	}
}

type memTx struct {
	base     *MemoryStore
	writable bool

	config    *MarketConfig
	stocks    map[StockID]Stock
	players   map[PlayerID]Player
	txs       map[TransactionID]Transaction
	keys      map[idemKey]TransactionID
	nextStock StockID
	nextTx    TransactionID
}

func (t *memTx) commit() {
	b := t.base
	if t.config != nil {
		cfg := *t.config
		b.config = &cfg
	}
	maps.Copy(b.stocks, t.stocks)
	maps.Copy(b.players, t.players)
	maps.Copy(b.txs, t.txs)
	maps.Copy(b.keys, t.keys)
	b.nextStock = t.nextStock
	b.nextTx = t.nextTx
}

func (t *memTx) checkWritable() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func (t *memTx) Config() (MarketConfig, error) {
	if t.config != nil {
		return *t.config, nil
	}
	if t.base.config != nil {
		return *t.base.config, nil
	}
	return MarketConfig{}, ErrNotInitialized
}

func (t *memTx) PutConfig(cfg MarketConfig) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	t.config = &cfg
	return nil
}

func (t *memTx) Stock(id StockID) (Stock, error) {
	if s, ok := t.stocks[id]; ok {
		return s, nil
	}
	if s, ok := t.base.stocks[id]; ok {
		return s, nil
	}
	return Stock{}, fmt.Errorf("%w: stock %d", ErrNotFound, id)
}

func (t *memTx) Stocks() ([]Stock, error) {
	merged := maps.Clone(t.base.stocks)
	maps.Copy(merged, t.stocks)
	out := slices.Collect(maps.Values(merged))
	slices.SortFunc(out, func(a, b Stock) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) InsertStock(s Stock) (StockID, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	t.nextStock++
	s.ID = t.nextStock
	t.stocks[s.ID] = s
	return s.ID, nil
}

func (t *memTx) PutStock(s Stock) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.Stock(s.ID); err != nil {
		return err
	}
	t.stocks[s.ID] = s
	return nil
}

func (t *memTx) Player(id PlayerID) (Player, error) {
	if p, ok := t.players[id]; ok {
		return p.Clone(), nil
	}
	if p, ok := t.base.players[id]; ok {
		return p.Clone(), nil
	}
	return Player{}, fmt.Errorf("%w: player %s", ErrNotFound, id)
}

func (t *memTx) Players() ([]Player, error) {
	merged := maps.Clone(t.base.players)
	maps.Copy(merged, t.players)
	out := make([]Player, 0, len(merged))
	for _, p := range merged {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b Player) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	return out, nil
}

func (t *memTx) InsertPlayer(p Player) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.Player(p.ID); err == nil {
		return fmt.Errorf("%w: player %s already exists", ErrInvalidArgument, p.ID)
	}
	t.players[p.ID] = p.Clone()
	return nil
}

func (t *memTx) PutPlayer(p Player) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.Player(p.ID); err != nil {
		return err
	}
	t.players[p.ID] = p.Clone()
	return nil
}

func (t *memTx) Transaction(id TransactionID) (Transaction, error) {
	if tr, ok := t.txs[id]; ok {
		return tr, nil
	}
	if tr, ok := t.base.txs[id]; ok {
		return tr, nil
	}
	return Transaction{}, fmt.Errorf("%w: transaction %d", ErrNotFound, id)
}

func (t *memTx) Transactions(filter TransactionFilter) ([]Transaction, error) {
	merged := maps.Clone(t.base.txs)
	maps.Copy(merged, t.txs)
	var out []Transaction
	for _, tr := range merged {
		if filter.Match(tr) {
			out = append(out, tr)
		}
	}
	slices.SortFunc(out, func(a, b Transaction) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) InsertTransaction(tr Transaction) (TransactionID, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	t.nextTx++
	tr.ID = t.nextTx
	t.txs[tr.ID] = tr
	return tr.ID, nil
}

func (t *memTx) PutTransaction(tr Transaction) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.Transaction(tr.ID); err != nil {
		return err
	}
	t.txs[tr.ID] = tr
	return nil
}

func (t *memTx) ClaimIdempotencyKey(player PlayerID, key string, id TransactionID) (TransactionID, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	k := idemKey{player: player, key: key}
	if owner, ok := t.keys[k]; ok {
		return owner, nil
	}
	if owner, ok := t.base.keys[k]; ok {
		return owner, nil
	}
	if _, err := t.Transaction(id); err != nil {
		return 0, err
	}
	t.keys[k] = id
	return id, nil
}
