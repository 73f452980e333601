// Package dlctx builds the funding, contract execution and refund
// transactions of a contract and the witnesses spending the funding output.
package dlctx

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// unspendablePoint is the x-only NUMS point used as taproot internal key, so
// that the funding output can only be spent through its script leaf.
var unspendablePoint = []byte{
	0x02, 0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54, 0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a,
	0x5e, 0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5, 0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
}

func UnspendableKey() *btcec.PublicKey {
	key, _ := btcec.ParsePubKey(unspendablePoint)
	return key
}

// FundingOutput is the 2-of-2 taproot output locking both collaterals:
//
//	<offer key> OP_CHECKSIGVERIFY <accept key> OP_CHECKSIG
type FundingOutput struct {
	OfferKey     *btcec.PublicKey
	AcceptKey    *btcec.PublicKey
	Leaf         txscript.TapLeaf
	ControlBlock []byte
	PkScript     []byte
}

func NewFundingOutput(offerKey, acceptKey *btcec.PublicKey) (*FundingOutput, error) {
	if offerKey == nil || acceptKey == nil {
		return nil, fmt.Errorf("missing funding key")
	}
	offerKeyBytes := schnorr.SerializePubKey(offerKey)
	acceptKeyBytes := schnorr.SerializePubKey(acceptKey)
	if bytes.Equal(offerKeyBytes, acceptKeyBytes) {
		return nil, fmt.Errorf("offer and accept funding keys must differ")
	}

	script, err := txscript.NewScriptBuilder().AddData(offerKeyBytes).
		AddOp(txscript.OP_CHECKSIGVERIFY).AddData(acceptKeyBytes).
		AddOp(txscript.OP_CHECKSIG).Script()
	if err != nil {
		return nil, err
	}

	leaf := txscript.NewBaseTapLeaf(script)
	tapTree := txscript.AssembleTaprootScriptTree(leaf)
	root := tapTree.RootNode.TapHash()

	controlBlock := tapTree.LeafMerkleProofs[0].ToControlBlock(UnspendableKey())
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return nil, err
	}

	taprootKey := txscript.ComputeTaprootOutputKey(UnspendableKey(), root[:])
	pkScript, err := txscript.PayToTaprootScript(taprootKey)
	if err != nil {
		return nil, err
	}

	return &FundingOutput{
		OfferKey:     offerKey,
		AcceptKey:    acceptKey,
		Leaf:         leaf,
		ControlBlock: controlBlockBytes,
		PkScript:     pkScript,
	}, nil
}

// SigHash returns the tapscript signature hash of the first input of tx,
// spending the funding output of the given value.
func (f *FundingOutput) SigHash(tx *wire.MsgTx, fundingValue int64) ([]byte, error) {
	prevoutFetcher := txscript.NewCannedPrevOutputFetcher(f.PkScript, fundingValue)
	return txscript.CalcTapscriptSignaturehash(
		txscript.NewTxSigHashes(tx, prevoutFetcher),
		txscript.SigHashDefault, tx, 0, prevoutFetcher, f.Leaf,
	)
}

// Witness returns the script path witness spending the funding output.
func (f *FundingOutput) Witness(offerSig, acceptSig *schnorr.Signature) wire.TxWitness {
	return wire.TxWitness{
		acceptSig.Serialize(),
		offerSig.Serialize(),
		f.Leaf.Script,
		f.ControlBlock,
	}
}
