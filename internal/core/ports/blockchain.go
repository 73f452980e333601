package ports

import (
	"context"
	"errors"
)

var ErrTxNotFound = errors.New("transaction not found")

type BlockchainService interface {
	BroadcastTransaction(ctx context.Context, txHex string) (string, error)
	GetTransaction(ctx context.Context, txid string) (string, error)
	// GetTransactionConfirmations returns 0 for a tx in mempool and
	// ErrTxNotFound for an unknown one.
	GetTransactionConfirmations(ctx context.Context, txid string) (uint32, error)
	// GetOutputSpender returns the txid of the tx spending the given output,
	// or an empty string if unspent.
	GetOutputSpender(ctx context.Context, txid string, vout uint32) (string, error)
}
