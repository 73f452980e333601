package application_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/dlctx"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/ark-network/dlc/pkg/oracle/oracletest"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

const maxWitnessLen = 66

type utxo struct {
	input    domain.FundingInput
	key      *btcec.PrivateKey
	reserved bool
}

// fakeWallet owns p2tr key path coins.
type fakeWallet struct {
	lock  sync.Mutex
	keys  map[string]*btcec.PrivateKey
	utxos []*utxo
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{keys: make(map[string]*btcec.PrivateKey)}
}

func (w *fakeWallet) fund(amounts ...uint64) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, amount := range amounts {
		key, err := btcec.NewPrivateKey()
		if err != nil {
			return err
		}
		pkScript, err := p2trScript(key.PubKey())
		if err != nil {
			return err
		}
		var txid chainhash.Hash
		copy(txid[:], schnorr.SerializePubKey(key.PubKey()))
		w.utxos = append(w.utxos, &utxo{
			input: domain.FundingInput{
				Txid:          txid.String(),
				Vout:          0,
				Amount:        amount,
				PkScript:      hex.EncodeToString(pkScript),
				MaxWitnessLen: maxWitnessLen,
			},
			key: key,
		})
	}
	return nil
}

func (w *fakeWallet) addPrevouts(prevouts map[wire.OutPoint]*wire.TxOut) {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, u := range w.utxos {
		hash, _ := chainhash.NewHashFromStr(u.input.Txid)
		pkScript, _ := hex.DecodeString(u.input.PkScript)
		prevouts[wire.OutPoint{Hash: *hash, Index: u.input.Vout}] = &wire.TxOut{
			Value: int64(u.input.Amount), PkScript: pkScript,
		}
	}
}

func (w *fakeWallet) reservedCount() int {
	w.lock.Lock()
	defer w.lock.Unlock()

	count := 0
	for _, u := range w.utxos {
		if u.reserved {
			count++
		}
	}
	return count
}

func (w *fakeWallet) GetNewAddress(_ context.Context) (string, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}
	taprootKey := txscript.ComputeTaprootKeyNoScript(key.PubKey())
	addr, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(taprootKey), &chaincfg.RegressionNetParams,
	)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func (w *fakeWallet) GetNewFundKey(_ context.Context) (*btcec.PublicKey, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	w.keys[hex.EncodeToString(key.PubKey().SerializeCompressed())] = key
	return key.PubKey(), nil
}

func (w *fakeWallet) GetSecretKeyForPubkey(
	_ context.Context, pubkey *btcec.PublicKey,
) (*btcec.PrivateKey, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	key, ok := w.keys[hex.EncodeToString(pubkey.SerializeCompressed())]
	if !ok {
		return nil, fmt.Errorf("key not found")
	}
	return key, nil
}

func (w *fakeWallet) GetUtxosForAmount(
	_ context.Context, amount, feeRate uint64, lock bool,
) ([]domain.FundingInput, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	selected := make([]*utxo, 0)
	var total, fees uint64
	for _, u := range w.utxos {
		if u.reserved {
			continue
		}
		selected = append(selected, u)
		total += u.input.Amount
		fees += dlctx.InputFee(u.input.MaxWitnessLen, feeRate)
		if total >= amount+fees {
			break
		}
	}
	if total < amount+fees {
		return nil, fmt.Errorf("not enough funds to cover amount %d", amount)
	}

	inputs := make([]domain.FundingInput, 0, len(selected))
	for _, u := range selected {
		u.reserved = lock
		inputs = append(inputs, u.input)
	}
	return inputs, nil
}

func (w *fakeWallet) UnreserveUtxos(_ context.Context, inputs []domain.FundingInput) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, in := range inputs {
		for _, u := range w.utxos {
			if u.input.Txid == in.Txid && u.input.Vout == in.Vout {
				u.reserved = false
			}
		}
	}
	return nil
}

func (w *fakeWallet) SignFundingInput(
	_ context.Context, ptx *psbt.Packet, index int,
) (wire.TxWitness, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	outpoint := ptx.UnsignedTx.TxIn[index].PreviousOutPoint
	var owned *utxo
	for _, u := range w.utxos {
		if u.input.Txid == outpoint.Hash.String() && u.input.Vout == outpoint.Index {
			owned = u
		}
	}
	if owned == nil {
		return nil, fmt.Errorf("input %d not owned by wallet", index)
	}

	prevoutFetcher, err := dlctx.PrevOutputFetcher(ptx)
	if err != nil {
		return nil, err
	}
	prevout := ptx.Inputs[index].WitnessUtxo
	return txscript.TaprootWitnessSignature(
		ptx.UnsignedTx, txscript.NewTxSigHashes(ptx.UnsignedTx, prevoutFetcher), index,
		prevout.Value, prevout.PkScript, txscript.SigHashDefault, owned.key,
	)
}

// fakeChain is a mempool plus a block counter shared by both parties.
type fakeChain struct {
	lock          sync.Mutex
	txs           map[string]*wire.MsgTx
	confirmations map[string]uint32
	spenders      map[wire.OutPoint]string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:           make(map[string]*wire.MsgTx),
		confirmations: make(map[string]uint32),
		spenders:      make(map[wire.OutPoint]string),
	}
}

func (c *fakeChain) mine(nbBlocks uint32) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for txid := range c.confirmations {
		c.confirmations[txid] += nbBlocks
	}
}

func (c *fakeChain) addPrevouts(prevouts map[wire.OutPoint]*wire.TxOut) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, tx := range c.txs {
		for i, out := range tx.TxOut {
			prevouts[wire.OutPoint{Hash: tx.TxHash(), Index: uint32(i)}] = out
		}
	}
}

func (c *fakeChain) tx(txid string) *wire.MsgTx {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.txs[txid]
}

func (c *fakeChain) BroadcastTransaction(_ context.Context, txHex string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return "", err
	}
	txid := tx.TxHash().String()
	for _, in := range tx.TxIn {
		if spender, ok := c.spenders[in.PreviousOutPoint]; ok && spender != txid {
			return "", fmt.Errorf("input %s already spent", in.PreviousOutPoint)
		}
	}
	for _, in := range tx.TxIn {
		c.spenders[in.PreviousOutPoint] = txid
	}
	if _, ok := c.txs[txid]; !ok {
		c.txs[txid] = &tx
		c.confirmations[txid] = 0
	}
	return txid, nil
}

func (c *fakeChain) GetTransaction(_ context.Context, txid string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	tx, ok := c.txs[txid]
	if !ok {
		return "", ports.ErrTxNotFound
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func (c *fakeChain) GetTransactionConfirmations(_ context.Context, txid string) (uint32, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	confirmations, ok := c.confirmations[txid]
	if !ok {
		return 0, ports.ErrTxNotFound
	}
	return confirmations, nil
}

func (c *fakeChain) GetOutputSpender(_ context.Context, txid string, vout uint32) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return "", err
	}
	return c.spenders[wire.OutPoint{Hash: *hash, Index: vout}], nil
}

// partyChain is the view of the shared chain of one party. Its broadcasts
// can be made to fail.
type partyChain struct {
	*fakeChain

	mu           sync.Mutex
	broadcastErr error
	spenderCalls int
}

func (c *partyChain) failBroadcasts(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broadcastErr = err
}

func (c *partyChain) nbSpenderCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.spenderCalls
}

func (c *partyChain) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	c.mu.Lock()
	err := c.broadcastErr
	c.mu.Unlock()

	if err != nil {
		return "", err
	}
	return c.fakeChain.BroadcastTransaction(ctx, txHex)
}

func (c *partyChain) GetOutputSpender(ctx context.Context, txid string, vout uint32) (string, error) {
	c.mu.Lock()
	c.spenderCalls++
	c.mu.Unlock()

	return c.fakeChain.GetOutputSpender(ctx, txid, vout)
}

// flakyOracle is the view of an oracle of one party, which can be made
// unreachable.
type flakyOracle struct {
	*oracletest.Oracle

	mu  sync.Mutex
	err error
}

func (o *flakyOracle) setUnreachable(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.err = err
}

func (o *flakyOracle) GetAttestation(ctx context.Context, eventID string) (*oracle.Attestation, error) {
	o.mu.Lock()
	err := o.err
	o.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return o.Oracle.GetAttestation(ctx, eventID)
}

type mockedBlockchain struct {
	mock.Mock
}

func (m *mockedBlockchain) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	args := m.Called(ctx, txHex)

	var res string
	if a := args.Get(0); a != nil {
		res = a.(string)
	}
	return res, args.Error(1)
}

func (m *mockedBlockchain) GetTransaction(ctx context.Context, txid string) (string, error) {
	args := m.Called(ctx, txid)

	var res string
	if a := args.Get(0); a != nil {
		res = a.(string)
	}
	return res, args.Error(1)
}

func (m *mockedBlockchain) GetTransactionConfirmations(
	ctx context.Context, txid string,
) (uint32, error) {
	args := m.Called(ctx, txid)

	var res uint32
	if a := args.Get(0); a != nil {
		res = a.(uint32)
	}
	return res, args.Error(1)
}

func (m *mockedBlockchain) GetOutputSpender(
	ctx context.Context, txid string, vout uint32,
) (string, error) {
	args := m.Called(ctx, txid, vout)

	var res string
	if a := args.Get(0); a != nil {
		res = a.(string)
	}
	return res, args.Error(1)
}

type fakeClock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.now
}

func (c *fakeClock) set(now time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.now = now
}

type fakeRepoManager struct {
	repo *fakeContractRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{&fakeContractRepo{contracts: make(map[string]domain.Contract)}}
}

func (r *fakeRepoManager) Contracts() domain.ContractRepository {
	return r.repo
}

func (r *fakeRepoManager) Close() {}

type fakeContractRepo struct {
	lock      sync.Mutex
	contracts map[string]domain.Contract
}

func (r *fakeContractRepo) AddOrUpdateContract(_ context.Context, contract domain.Contract) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	contract.Changes = nil
	r.contracts[contract.TemporaryId] = contract
	return nil
}

func (r *fakeContractRepo) GetContract(_ context.Context, id string) (*domain.Contract, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, contract := range r.contracts {
		if contract.TemporaryId == id || (len(contract.Id) > 0 && contract.Id == id) {
			return &contract, nil
		}
	}
	return nil, domain.ErrContractNotFound
}

func (r *fakeContractRepo) GetContracts(_ context.Context) ([]domain.Contract, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	contracts := make([]domain.Contract, 0, len(r.contracts))
	for _, contract := range r.contracts {
		contracts = append(contracts, contract)
	}
	return contracts, nil
}

func (r *fakeContractRepo) GetContractsByState(
	_ context.Context, states ...domain.ContractState,
) ([]domain.Contract, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	contracts := make([]domain.Contract, 0)
	for _, contract := range r.contracts {
		for _, state := range states {
			if contract.State == state {
				contracts = append(contracts, contract)
			}
		}
	}
	return contracts, nil
}

func (r *fakeContractRepo) GetUnsettledContracts(_ context.Context) ([]domain.Contract, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	contracts := make([]domain.Contract, 0)
	for _, contract := range r.contracts {
		if contract.Settled {
			continue
		}
		for _, state := range domain.UnsettledStates {
			if contract.State == state {
				contracts = append(contracts, contract)
			}
		}
	}
	return contracts, nil
}

func (r *fakeContractRepo) Close() {}

func p2trScript(key *btcec.PublicKey) ([]byte, error) {
	return txscript.PayToTaprootScript(txscript.ComputeTaprootKeyNoScript(key))
}
