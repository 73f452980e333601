package dlctx

import (
	"fmt"

	"github.com/ark-network/dlc/pkg/outcome"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BuildClosingTx returns a transaction spending the funding outpoint and
// paying each party its share. Dust outputs are dropped. The input sequence
// enables the locktime.
func BuildClosingTx(
	fundingOutpoint wire.OutPoint,
	offerScript, acceptScript []byte,
	payout outcome.Payout, locktime uint32,
) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	tx.LockTime = locktime

	in := wire.NewTxIn(&fundingOutpoint, nil, nil)
	in.Sequence = wire.MaxTxInSequenceNum - 1
	tx.AddTxIn(in)

	if payout.Offer >= DustLimit {
		tx.AddTxOut(wire.NewTxOut(int64(payout.Offer), offerScript))
	}
	if payout.Accept >= DustLimit {
		tx.AddTxOut(wire.NewTxOut(int64(payout.Accept), acceptScript))
	}
	if len(tx.TxOut) <= 0 {
		return nil, fmt.Errorf("closing tx has only dust outputs")
	}
	return tx, nil
}

// BuildCET returns the contract execution transaction for the given payout,
// valid from the contract maturity.
func BuildCET(
	fundingOutpoint wire.OutPoint, offerScript, acceptScript []byte,
	payout outcome.Payout, maturity uint32,
) (*wire.MsgTx, error) {
	return BuildClosingTx(fundingOutpoint, offerScript, acceptScript, payout, maturity)
}

// BuildRefundTx returns the transaction giving back each party its
// collateral, valid from the refund locktime.
func BuildRefundTx(
	fundingOutpoint wire.OutPoint, offerScript, acceptScript []byte,
	offerCollateral, acceptCollateral uint64, refundLocktime uint32,
) (*wire.MsgTx, error) {
	payout := outcome.Payout{Offer: offerCollateral, Accept: acceptCollateral}
	return BuildClosingTx(fundingOutpoint, offerScript, acceptScript, payout, refundLocktime)
}

// ContractID derives the permanent id of a contract by xoring the funding
// txid with the temporary id, and the funding output index with its last
// two bytes.
func ContractID(fundingTxid chainhash.Hash, outputIndex uint16, temporaryID [32]byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = fundingTxid[i] ^ temporaryID[i]
	}
	id[30] ^= byte(outputIndex >> 8)
	id[31] ^= byte(outputIndex)
	return id
}
