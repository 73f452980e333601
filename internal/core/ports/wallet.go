package ports

import (
	"context"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// WalletService holds the keys and coins of a party. Utxos returned with
// lock set stay reserved until released with UnreserveUtxos.
type WalletService interface {
	GetNewAddress(ctx context.Context) (string, error)
	GetNewFundKey(ctx context.Context) (*btcec.PublicKey, error)
	GetSecretKeyForPubkey(ctx context.Context, pubkey *btcec.PublicKey) (*btcec.PrivateKey, error)
	GetUtxosForAmount(
		ctx context.Context, amount, feeRate uint64, lock bool,
	) ([]domain.FundingInput, error)
	UnreserveUtxos(ctx context.Context, utxos []domain.FundingInput) error
	// SignFundingInput returns the witness of the given wallet owned input of
	// the funding tx. The packet carries the previous outputs of all inputs.
	SignFundingInput(ctx context.Context, ptx *psbt.Packet, index int) (wire.TxWitness, error)
}
