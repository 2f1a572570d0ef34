package market

import "context"

// Store is the transactional row store the market runs on. Update applies fn
// atomically: every write made through tx commits together, or none does when
// fn returns an error. View runs fn against a consistent read-only snapshot.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes keyed get/insert/update and iterate-all for each row set.
// Lookups of missing rows return an error wrapping ErrNotFound.
type Tx interface {
	Config() (MarketConfig, error)
	PutConfig(cfg MarketConfig) error

	Stock(id StockID) (Stock, error)
	Stocks() ([]Stock, error)
	InsertStock(s Stock) (StockID, error)
	PutStock(s Stock) error

	Player(id PlayerID) (Player, error)
	Players() ([]Player, error)
	InsertPlayer(p Player) error
	PutPlayer(p Player) error

	Transaction(id TransactionID) (Transaction, error)
	Transactions(filter TransactionFilter) ([]Transaction, error)
	InsertTransaction(t Transaction) (TransactionID, error)
	PutTransaction(t Transaction) error

	// ClaimIdempotencyKey binds key to id for player. When the key is
	// already bound it returns the earlier transaction instead of id.
	ClaimIdempotencyKey(player PlayerID, key string, id TransactionID) (TransactionID, error)
}

// TransactionFilter narrows Transactions. Zero fields match everything.
// Results are always ordered by ascending ID.
type TransactionFilter struct {
	Sender *PlayerID
	Status *TxStatus
}

func (f TransactionFilter) Match(t Transaction) bool {
	if f.Sender != nil && t.Sender != *f.Sender {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	return true
}
