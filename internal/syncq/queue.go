// Package syncq keeps queued orders that could not reach the server so they
// can be replayed later. Each order carries its idempotency key, which makes
// replaying an order the server already accepted harmless.
package syncq

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"clickstonks/internal/market"
)

type Order struct {
	StockID        market.StockID `json:"stock_id"`
	Amount         uint64         `json:"amount"`
	Type           market.TxType  `json:"type"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

// Dir can be overridden in tests.
var Dir = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".stk"), nil
}

func queuePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Order, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(raw) == 0) {
		return []Order{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Order
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save replaces the queue. An empty slice removes the file.
func Save(orders []Order) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	raw, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(o Order) error {
	orders, err := Load()
	if err != nil {
		return err
	}
	return Save(append(orders, o))
}

// Replay sends every stored order through send, oldest first. Orders that
// fail with retry set stay queued; the rest are dropped. It returns how many
// were sent and the errors of the orders that were dropped.
func Replay(send func(Order) (retry bool, err error)) (int, []error, error) {
	orders, err := Load()
	if err != nil {
		return 0, nil, err
	}
	var (
		remaining []Order
		dropped   []error
		sent      int
	)
	for _, o := range orders {
		retry, err := send(o)
		switch {
		case err == nil:
			sent++
		case retry:
			remaining = append(remaining, o)
		default:
			dropped = append(dropped, err)
		}
	}
	return sent, dropped, Save(remaining)
}
