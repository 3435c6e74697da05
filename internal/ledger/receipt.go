package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultConfirmInterval is the receipt polling interval.
const DefaultConfirmInterval = time.Second

// ErrReverted means the transaction was mined but the contract rejected it.
// It is not a transport failure.
var ErrReverted = errors.New("transaction reverted")

type receiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// waitMined polls for the receipt of hash until it is available, ctx is done
// or a non-retryable error occurs. A reverted transaction is an error.
func waitMined(ctx context.Context, r receiptReader, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = DefaultConfirmInterval
	}

	var receipt *types.Receipt
	op := func() error {
		rcpt, err := r.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		receipt = rcpt
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctxErr)
		}
		return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s in block %v: %w", hash.Hex(), receipt.BlockNumber, ErrReverted)
	}
	return receipt, nil
}
