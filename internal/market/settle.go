package market

import (
	"context"
	"errors"
	"fmt"
)

type SettlementReport struct {
	Confirmed int
	Rejected  int
	Skipped   int
}

type OrderResult struct {
	TransactionID TransactionID `json:"transaction_id"`
	PricePerShare uint64        `json:"price_per_share"`
	Total         uint64        `json:"total"`
	Fee           uint64        `json:"fee"`
	Balance       uint64        `json:"balance"`
}

// SettleAllPending resolves every order that is Pending when the pass starts,
// oldest first. Each order commits on its own, so later orders observe the
// ledger as left by earlier ones. A rejected order never aborts the pass.
func (s *Service) SettleAllPending(ctx context.Context) (SettlementReport, error) {
	var report SettlementReport

	status := StatusPending
	var pending []Transaction
	if err := s.store.View(ctx, func(tx Tx) error {
		var err error
		pending, err = tx.Transactions(TransactionFilter{Status: &status})
		return err
	}); err != nil {
		return report, err
	}

	for _, order := range pending {
		err := s.store.Update(ctx, func(tx Tx) error {
			cur, err := tx.Transaction(order.ID)
			if err != nil {
				return err
			}
			if cur.Status != StatusPending {
				return errAlreadySettled
			}
			if _, err := applyOrder(tx, cur); err != nil {
				return err
			}
			return s.finish(tx, cur, StatusConfirmed, "")
		})
		switch {
		case err == nil:
			report.Confirmed++
			continue
		case errors.Is(err, errAlreadySettled):
			report.Skipped++
			continue
		}

		reason := err.Error()
		rejectErr := s.store.Update(ctx, func(tx Tx) error {
			cur, err := tx.Transaction(order.ID)
			if err != nil {
				return err
			}
			if cur.Status != StatusPending {
				return errAlreadySettled
			}
			return s.finish(tx, cur, StatusRejected, reason)
		})
		if rejectErr != nil && !errors.Is(rejectErr, errAlreadySettled) {
			// The order stays Pending with no effects applied; the next pass retries it.
			s.log.Error("reject transaction failed", "transaction_id", order.ID, "err", rejectErr)
			report.Skipped++
			continue
		}
		report.Rejected++
		s.log.Debug("transaction rejected", "transaction_id", order.ID, "reason", reason)
	}
	return report, nil
}

// BuyStock settles a buy immediately instead of queueing it.
func (s *Service) BuyStock(ctx context.Context, sender PlayerID, stockID StockID, amount uint64) (OrderResult, error) {
	return s.settleNow(ctx, sender, stockID, amount, Buy)
}

// SellStock settles a sell immediately instead of queueing it.
func (s *Service) SellStock(ctx context.Context, sender PlayerID, stockID StockID, amount uint64) (OrderResult, error) {
	return s.settleNow(ctx, sender, stockID, amount, Sell)
}

func (s *Service) settleNow(ctx context.Context, sender PlayerID, stockID StockID, amount uint64, typ TxType) (OrderResult, error) {
	if amount == 0 {
		return OrderResult{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidArgument)
	}
	var out OrderResult
	err := s.store.Update(ctx, func(tx Tx) error {
		order := Transaction{
			Sender:    sender,
			StockID:   stockID,
			Amount:    amount,
			Type:      typ,
			Status:    StatusPending,
			Timestamp: s.Now(),
		}
		res, err := applyOrder(tx, order)
		if err != nil {
			return err
		}
		order.ID, err = tx.InsertTransaction(order)
		if err != nil {
			return err
		}
		if err := s.finish(tx, order, StatusConfirmed, ""); err != nil {
			return err
		}
		out = res
		out.TransactionID = order.ID
		return nil
	})
	return out, err
}

func (s *Service) finish(tx Tx, t Transaction, status TxStatus, reason string) error {
	settled := s.Now()
	t.Status = status
	t.Reason = reason
	t.SettledAt = &settled
	return tx.PutTransaction(t)
}

// applyOrder applies one order's balance, holding and inventory effects inside
// tx. Callers discard tx when it returns an error.
func applyOrder(tx Tx, order Transaction) (OrderResult, error) {
	var out OrderResult
	player, err := tx.Player(order.Sender)
	if err != nil {
		return out, err
	}
	stock, err := tx.Stock(order.StockID)
	if err != nil {
		return out, err
	}
	total, err := MulChecked(stock.PricePerShare, order.Amount)
	if err != nil {
		return out, fmt.Errorf("order total: %w", err)
	}
	out.PricePerShare = stock.PricePerShare
	out.Total = total
	if player.Holdings == nil {
		player.Holdings = make(map[StockID]uint64)
	}

	switch order.Type {
	case Buy:
		fee, err := ApplyRate(total, player.BuyFeeRate)
		if err != nil {
			return out, fmt.Errorf("buy fee: %w", err)
		}
		cost, err := AddChecked(total, fee)
		if err != nil {
			return out, fmt.Errorf("buy cost: %w", err)
		}
		if player.Money < cost {
			return out, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, FormatScaled(cost), FormatScaled(player.Money))
		}
		held, err := AddChecked(player.Holdings[order.StockID], order.Amount)
		if err != nil {
			return out, err
		}
		if err := adjustInventory(&stock, Buy, order.Amount); err != nil {
			return out, err
		}
		player.Money -= cost
		player.Holdings[order.StockID] = held
		out.Fee = fee

	case Sell:
		held := player.Holdings[order.StockID]
		if held < order.Amount {
			return out, fmt.Errorf("%w: hold %d, selling %d", ErrInsufficientShares, held, order.Amount)
		}
		fee, err := ApplyRate(total, player.SellFeeRate)
		if err != nil {
			return out, fmt.Errorf("sell fee: %w", err)
		}
		proceeds := saturatingSub(total, fee)
		money, err := AddChecked(player.Money, proceeds)
		if err != nil {
			return out, err
		}
		if err := adjustInventory(&stock, Sell, order.Amount); err != nil {
			return out, err
		}
		player.Money = money
		if held == order.Amount {
			delete(player.Holdings, order.StockID)
		} else {
			player.Holdings[order.StockID] = held - order.Amount
		}
		out.Fee = fee

	default:
		return out, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidArgument, order.Type)
	}

	if err := tx.PutPlayer(player); err != nil {
		return out, err
	}
	if err := tx.PutStock(stock); err != nil {
		return out, err
	}
	out.Balance = player.Money
	return out, nil
}
