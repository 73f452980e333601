package dlctx

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DustLimit is the minimum value of a taproot output.
	DustLimit = 330
	// CloseTxVSize is the virtual size reserved in the funding output to pay
	// the fees of the CET or refund transaction spending it.
	CloseTxVSize = 200
	// FundingOutputIndex is the index of the funding output in the funding tx.
	FundingOutputIndex = 0

	// version, locktime, in/out counts, segwit marker and flag, plus the
	// taproot funding output
	fundingBaseWeight = 42 + 43*4
	// outpoint, sequence and empty script sig
	inputBaseWeight = 41 * 4
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type FundingInput struct {
	Outpoint      wire.OutPoint
	Amount        uint64
	PkScript      []byte
	MaxWitnessLen uint32
}

// PartyFunding is what one party brings to the funding transaction.
type PartyFunding struct {
	Collateral   uint64
	Inputs       []FundingInput
	ChangeScript []byte
}

func (p PartyFunding) InputAmount() uint64 {
	var total uint64
	for _, in := range p.Inputs {
		total += in.Amount
	}
	return total
}

// FixedFee is the fee paid by a party independently of its inputs: its share
// of the shared funding tx parts, its change output and its half of the
// closing tx fee reserve.
func FixedFee(changeScriptLen int, feeRate uint64) uint64 {
	weight := uint64(fundingBaseWeight/2) + outputWeight(changeScriptLen)
	return feeRate*vsize(weight) + closeTxFeeShare(feeRate)
}

// InputFee is the fee paid to spend an input with the given witness size.
func InputFee(maxWitnessLen uint32, feeRate uint64) uint64 {
	return feeRate * vsize(inputBaseWeight+uint64(maxWitnessLen))
}

// PartyFee is the total fee paid by a party for the funding and closing
// transactions.
func PartyFee(p PartyFunding, feeRate uint64) uint64 {
	weight := uint64(fundingBaseWeight/2) + outputWeight(len(p.ChangeScript))
	for _, in := range p.Inputs {
		weight += inputBaseWeight + uint64(in.MaxWitnessLen)
	}
	return feeRate*vsize(weight) + closeTxFeeShare(feeRate)
}

// FundingValue is the value of the funding output: both collaterals plus the
// fee reserve of the closing transaction.
func FundingValue(offerCollateral, acceptCollateral, feeRate uint64) uint64 {
	return offerCollateral + acceptCollateral + 2*closeTxFeeShare(feeRate)
}

// BuildFundingTx returns the unsigned funding transaction as a psbt carrying
// the previous outputs of every input. Offer inputs come first, then accept
// ones. Outputs are the funding output followed by the non dust change
// outputs of offer and accept parties.
func BuildFundingTx(
	offer, accept PartyFunding, fundingScript []byte, feeRate uint64,
) (*psbt.Packet, error) {
	if len(offer.Inputs) <= 0 {
		return nil, fmt.Errorf("missing offer funding inputs")
	}
	if len(accept.Inputs) <= 0 {
		return nil, fmt.Errorf("missing accept funding inputs")
	}

	tx := wire.NewMsgTx(2)
	seen := make(map[wire.OutPoint]struct{})
	inputs := append(append([]FundingInput{}, offer.Inputs...), accept.Inputs...)
	for _, in := range inputs {
		if _, ok := seen[in.Outpoint]; ok {
			return nil, fmt.Errorf("duplicated funding input %s", in.Outpoint)
		}
		seen[in.Outpoint] = struct{}{}
		tx.AddTxIn(wire.NewTxIn(&in.Outpoint, nil, nil))
	}

	fundingValue := FundingValue(offer.Collateral, accept.Collateral, feeRate)
	tx.AddTxOut(wire.NewTxOut(int64(fundingValue), fundingScript))

	for _, party := range []PartyFunding{offer, accept} {
		required := party.Collateral + PartyFee(party, feeRate)
		if party.InputAmount() < required {
			return nil, fmt.Errorf(
				"%w: inputs amount %d, required %d", ErrInsufficientFunds, party.InputAmount(), required,
			)
		}
		if change := party.InputAmount() - required; change >= DustLimit {
			tx.AddTxOut(wire.NewTxOut(int64(change), party.ChangeScript))
		}
	}

	ptx, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	for i, in := range inputs {
		ptx.Inputs[i].WitnessUtxo = wire.NewTxOut(int64(in.Amount), in.PkScript)
	}
	return ptx, nil
}

// PrevOutputFetcher returns the fetcher of the previous outputs of the
// funding transaction inputs.
func PrevOutputFetcher(ptx *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range ptx.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("missing previous output of input %d", i)
		}
		prevouts[ptx.UnsignedTx.TxIn[i].PreviousOutPoint] = in.WitnessUtxo
	}
	return txscript.NewMultiPrevOutFetcher(prevouts), nil
}

// VerifyInputWitness executes the scripts of the given input with the
// provided witness.
func VerifyInputWitness(ptx *psbt.Packet, index int, witness wire.TxWitness) error {
	prevoutFetcher, err := PrevOutputFetcher(ptx)
	if err != nil {
		return err
	}
	tx := ptx.UnsignedTx.Copy()
	tx.TxIn[index].Witness = witness
	prevout := ptx.Inputs[index].WitnessUtxo

	engine, err := txscript.NewEngine(
		prevout.PkScript, tx, index, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, prevoutFetcher), prevout.Value, prevoutFetcher,
	)
	if err != nil {
		return err
	}
	return engine.Execute()
}

// FinalizeFundingTx sets the witnesses of every input and extracts the
// signed funding transaction.
func FinalizeFundingTx(ptx *psbt.Packet, witnesses map[int]wire.TxWitness) (*wire.MsgTx, error) {
	for index, witness := range witnesses {
		if index < 0 || index >= len(ptx.Inputs) {
			return nil, fmt.Errorf("witness for unknown input %d", index)
		}
		var buf bytes.Buffer
		if err := writeWitness(&buf, witness); err != nil {
			return nil, err
		}
		ptx.Inputs[index].FinalScriptWitness = buf.Bytes()
	}
	return psbt.Extract(ptx)
}

func writeWitness(buf *bytes.Buffer, witness wire.TxWitness) error {
	if err := wire.WriteVarInt(buf, 0, uint64(len(witness))); err != nil {
		return err
	}
	for _, item := range witness {
		if err := wire.WriteVarBytes(buf, 0, item); err != nil {
			return err
		}
	}
	return nil
}

func closeTxFeeShare(feeRate uint64) uint64 {
	return feeRate * CloseTxVSize / 2
}

func outputWeight(scriptLen int) uint64 {
	return uint64(9+scriptLen) * 4
}

func vsize(weight uint64) uint64 {
	return (weight + 3) / 4
}
