package singlekeywallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/internal/infrastructure/blockchain/esplora"
	"github.com/ark-network/dlc/pkg/dlctx"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

// key path spend: witness item count, signature length, 64-byte signature
const keySpendWitnessLen = 66

// Explorer lists the spendable outputs of an address.
type Explorer interface {
	GetUtxos(ctx context.Context, addr string) ([]esplora.Utxo, error)
}

type singlekeyWallet struct {
	privateKey *btcec.PrivateKey
	address    *btcutil.AddressTaproot
	pkScript   []byte
	explorer   Explorer

	lock     sync.Mutex
	reserved map[wire.OutPoint]struct{}
}

// NewWallet returns a wallet owning a single key, used both as contract
// fund key and to receive funds on a P2TR key path address. The seed is
// either a hex or nsec encoded key, or a BIP39 mnemonic the key is derived
// from at m/86'/coin'/0'/0/0.
func NewWallet(
	seed string, network *chaincfg.Params, explorer Explorer,
) (ports.WalletService, error) {
	if explorer == nil {
		return nil, fmt.Errorf("missing explorer")
	}
	privateKey, err := parseKey(seed, network)
	if err != nil {
		return nil, err
	}

	taprootKey := txscript.ComputeTaprootKeyNoScript(privateKey.PubKey())
	address, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(taprootKey), network)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		return nil, err
	}

	log.Infof("wallet address %s", address.EncodeAddress())
	return &singlekeyWallet{
		privateKey: privateKey,
		address:    address,
		pkScript:   pkScript,
		explorer:   explorer,
		reserved:   make(map[wire.OutPoint]struct{}),
	}, nil
}

func (w *singlekeyWallet) GetNewAddress(_ context.Context) (string, error) {
	return w.address.EncodeAddress(), nil
}

func (w *singlekeyWallet) GetNewFundKey(_ context.Context) (*btcec.PublicKey, error) {
	return w.privateKey.PubKey(), nil
}

func (w *singlekeyWallet) GetSecretKeyForPubkey(
	_ context.Context, pubkey *btcec.PublicKey,
) (*btcec.PrivateKey, error) {
	if pubkey == nil || !pubkey.IsEqual(w.privateKey.PubKey()) {
		return nil, fmt.Errorf("key not found")
	}
	return w.privateKey, nil
}

// GetUtxosForAmount selects confirmed coins first, largest first, until
// they cover the amount plus the fee to spend them.
func (w *singlekeyWallet) GetUtxosForAmount(
	ctx context.Context, amount, feeRate uint64, lock bool,
) ([]domain.FundingInput, error) {
	utxos, err := w.explorer.GetUtxos(ctx, w.address.EncodeAddress())
	if err != nil {
		return nil, fmt.Errorf("failed to get utxos: %s", err)
	}

	sort.SliceStable(utxos, func(i, j int) bool {
		if utxos[i].Status.Confirmed != utxos[j].Status.Confirmed {
			return utxos[i].Status.Confirmed
		}
		return utxos[i].Amount > utxos[j].Amount
	})

	w.lock.Lock()
	defer w.lock.Unlock()

	selected := make([]domain.FundingInput, 0)
	outpoints := make([]wire.OutPoint, 0)
	var total, fees uint64
	for _, u := range utxos {
		outpoint, err := toOutpoint(u.Txid, u.Vout)
		if err != nil {
			return nil, err
		}
		if _, ok := w.reserved[*outpoint]; ok {
			continue
		}

		selected = append(selected, domain.FundingInput{
			Txid:          u.Txid,
			Vout:          u.Vout,
			Amount:        u.Amount,
			PkScript:      hex.EncodeToString(w.pkScript),
			MaxWitnessLen: keySpendWitnessLen,
		})
		outpoints = append(outpoints, *outpoint)
		total += u.Amount
		fees += dlctx.InputFee(keySpendWitnessLen, feeRate)
		if total >= amount+fees {
			break
		}
	}
	if total < amount+fees {
		return nil, fmt.Errorf(
			"%w: available %d, required %d", dlctx.ErrInsufficientFunds, total, amount+fees,
		)
	}

	if lock {
		for _, outpoint := range outpoints {
			w.reserved[outpoint] = struct{}{}
		}
	}
	return selected, nil
}

func (w *singlekeyWallet) UnreserveUtxos(_ context.Context, utxos []domain.FundingInput) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, u := range utxos {
		outpoint, err := toOutpoint(u.Txid, u.Vout)
		if err != nil {
			return err
		}
		delete(w.reserved, *outpoint)
	}
	return nil
}

func (w *singlekeyWallet) SignFundingInput(
	_ context.Context, ptx *psbt.Packet, index int,
) (wire.TxWitness, error) {
	if index < 0 || index >= len(ptx.Inputs) {
		return nil, fmt.Errorf("input %d out of range", index)
	}
	prevout := ptx.Inputs[index].WitnessUtxo
	if prevout == nil {
		return nil, fmt.Errorf("missing previous output of input %d", index)
	}
	if !bytes.Equal(prevout.PkScript, w.pkScript) {
		return nil, fmt.Errorf("input %d not owned by wallet", index)
	}

	prevoutFetcher, err := dlctx.PrevOutputFetcher(ptx)
	if err != nil {
		return nil, err
	}
	return txscript.TaprootWitnessSignature(
		ptx.UnsignedTx, txscript.NewTxSigHashes(ptx.UnsignedTx, prevoutFetcher), index,
		prevout.Value, prevout.PkScript, txscript.SigHashDefault, w.privateKey,
	)
}

func parseKey(seed string, network *chaincfg.Params) (*btcec.PrivateKey, error) {
	seed = strings.TrimSpace(seed)
	if len(seed) <= 0 {
		return nil, fmt.Errorf("missing wallet seed")
	}
	if isMnemonic(seed) {
		return keyFromMnemonic(seed, network)
	}

	var buf []byte
	if strings.HasPrefix(seed, "nsec") {
		hrp, data, err := bech32.Decode(seed)
		if err != nil {
			return nil, fmt.Errorf("invalid nsec format: %w", err)
		}
		if hrp != "nsec" {
			return nil, fmt.Errorf("invalid nsec prefix")
		}
		buf, err = bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return nil, fmt.Errorf("failed to convert bits: %w", err)
		}
	} else {
		var err error
		buf, err = hex.DecodeString(seed)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %s", err)
		}
	}
	if len(buf) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("invalid private key length %d", len(buf))
	}

	privateKey, _ := btcec.PrivKeyFromBytes(buf)
	return privateKey, nil
}

func toOutpoint(txid string, vout uint32) (*wire.OutPoint, error) {
	outpoint, err := wire.NewOutPointFromString(fmt.Sprintf("%s:%d", txid, vout))
	if err != nil {
		return nil, fmt.Errorf("invalid outpoint %s:%d: %s", txid, vout, err)
	}
	return outpoint, nil
}
