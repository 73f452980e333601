package application

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"iter"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/pkg/dlctx"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func parsePubkey(key string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey format: %s", err)
	}
	return btcec.ParsePubKey(buf)
}

func serializePubkey(key *btcec.PublicKey) string {
	return hex.EncodeToString(key.SerializeCompressed())
}

func toPartyFunding(params domain.PartyParams) (dlctx.PartyFunding, error) {
	changeScript, err := hex.DecodeString(params.ChangeScript)
	if err != nil {
		return dlctx.PartyFunding{}, fmt.Errorf("invalid change script: %s", err)
	}
	inputs := make([]dlctx.FundingInput, 0, len(params.FundingInputs))
	for _, in := range params.FundingInputs {
		input, err := toFundingInput(in)
		if err != nil {
			return dlctx.PartyFunding{}, err
		}
		inputs = append(inputs, input)
	}
	return dlctx.PartyFunding{
		Collateral:   params.Collateral,
		Inputs:       inputs,
		ChangeScript: changeScript,
	}, nil
}

func toFundingInput(in domain.FundingInput) (dlctx.FundingInput, error) {
	hash, err := chainhash.NewHashFromStr(in.Txid)
	if err != nil {
		return dlctx.FundingInput{}, fmt.Errorf("invalid funding input txid %s: %s", in.Txid, err)
	}
	pkScript, err := hex.DecodeString(in.PkScript)
	if err != nil {
		return dlctx.FundingInput{}, fmt.Errorf("invalid funding input script: %s", err)
	}
	return dlctx.FundingInput{
		Outpoint:      wire.OutPoint{Hash: *hash, Index: in.Vout},
		Amount:        in.Amount,
		PkScript:      pkScript,
		MaxWitnessLen: in.MaxWitnessLen,
	}, nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func serializeWitness(witness wire.TxWitness) []string {
	items := make([]string, 0, len(witness))
	for _, item := range witness {
		items = append(items, hex.EncodeToString(item))
	}
	return items
}

func deserializeWitness(items []string) (wire.TxWitness, error) {
	witness := make(wire.TxWitness, 0, len(items))
	for _, item := range items {
		buf, err := hex.DecodeString(item)
		if err != nil {
			return nil, err
		}
		witness = append(witness, buf)
	}
	return witness, nil
}

// combinations lazily yields the k sized subsets of [0, n) in lexicographic
// order.
func combinations(n, k int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		if k <= 0 || k > n {
			return
		}
		indexes := make([]int, k)
		for i := range indexes {
			indexes[i] = i
		}
		for {
			if !yield(append([]int(nil), indexes...)) {
				return
			}
			i := k - 1
			for i >= 0 && indexes[i] == n-k+i {
				i--
			}
			if i < 0 {
				return
			}
			indexes[i]++
			for j := i + 1; j < k; j++ {
				indexes[j] = indexes[j-1] + 1
			}
		}
	}
}

// product lazily yields every tuple picking one index in [0, sizes[i]) for
// each position, the last position varying fastest.
func product(sizes []int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		for _, size := range sizes {
			if size <= 0 {
				return
			}
		}
		indexes := make([]int, len(sizes))
		for {
			if !yield(append([]int(nil), indexes...)) {
				return
			}
			i := len(sizes) - 1
			for i >= 0 {
				indexes[i]++
				if indexes[i] < sizes[i] {
					break
				}
				indexes[i] = 0
				i--
			}
			if i < 0 {
				return
			}
		}
	}
}

func digitsToStrings(digits []int) []string {
	out := make([]string, 0, len(digits))
	for _, d := range digits {
		if d == 0 {
			out = append(out, "0")
		} else {
			out = append(out, "1")
		}
	}
	return out
}

func stringsToDigits(outcomes []string) []int {
	digits := make([]int, 0, len(outcomes))
	for _, o := range outcomes {
		if o == "1" {
			digits = append(digits, 1)
		} else {
			digits = append(digits, 0)
		}
	}
	return digits
}
