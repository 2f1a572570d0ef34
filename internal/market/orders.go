package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CreateTransaction queues a buy or sell for the next settlement pass and
// returns immediately.
func (s *Service) CreateTransaction(ctx context.Context, sender PlayerID, stockID StockID, amount uint64, typ TxType) (TransactionID, error) {
	return s.QueueTransaction(ctx, sender, stockID, amount, typ, "")
}

// QueueTransaction is CreateTransaction with an idempotency key. Repeating a
// key for the same sender returns the order the key first produced and
// queues nothing. An empty key disables the check.
func (s *Service) QueueTransaction(ctx context.Context, sender PlayerID, stockID StockID, amount uint64, typ TxType, key string) (TransactionID, error) {
	if amount == 0 {
		return 0, fmt.Errorf("%w: amount must be > 0", ErrInvalidArgument)
	}
	if typ != Buy && typ != Sell {
		return 0, fmt.Errorf("%w: transaction type must be buy or sell", ErrInvalidArgument)
	}
	key = strings.TrimSpace(key)

	var id TransactionID
	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.Player(sender); err != nil {
			return err
		}
		if _, err := tx.Stock(stockID); err != nil {
			return err
		}
		var err error
		id, err = tx.InsertTransaction(Transaction{
			Sender:    sender,
			StockID:   stockID,
			Amount:    amount,
			Type:      typ,
			Status:    StatusPending,
			Timestamp: s.Now(),
		})
		if err != nil || key == "" {
			return err
		}
		owner, err := tx.ClaimIdempotencyKey(sender, key, id)
		if err != nil {
			return err
		}
		if owner != id {
			id = owner
			return errDuplicateKey
		}
		return nil
	})
	if errors.Is(err, errDuplicateKey) {
		s.log.Debug("duplicate idempotency key", "player", sender, "transaction_id", id)
		return id, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}
// ListTransactions returns a player's orders, optionally narrowed to one status.
func (s *Service) ListTransactions(ctx context.Context, sender PlayerID, status *TxStatus) ([]Transaction, error) {
	var out []Transaction
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Transactions(TransactionFilter{Sender: &sender, Status: status})
		return err
	})
	return out, err
}

func (s *Service) GetTransaction(ctx context.Context, id TransactionID) (Transaction, error) {
	var out Transaction
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Transaction(id)
		return err
	})
	return out, err
}
