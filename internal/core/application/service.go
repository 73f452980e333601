package application

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/dlctx"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

// Manager drives the contracts of one party. Every method holds the manager
// lock for its whole duration, and every transition is persisted before
// anything is broadcast or sent to the counterparty.
type Manager struct {
	wallet      ports.WalletService
	blockchain  ports.BlockchainService
	repoManager ports.RepoManager
	oracles     map[string]ports.Oracle
	clock       ports.TimeProvider
	cfg         Config

	lock     *sync.Mutex
	plans    map[string]*ContractPlan
	handlers []func(contract domain.Contract)
}

func NewManager(
	walletSvc ports.WalletService, blockchainSvc ports.BlockchainService,
	repoManager ports.RepoManager, oracles []ports.Oracle,
	clock ports.TimeProvider, cfg Config,
) (*Manager, error) {
	if walletSvc == nil || blockchainSvc == nil || repoManager == nil || clock == nil {
		return nil, fmt.Errorf("missing manager dependency")
	}
	oraclesByKey := make(map[string]ports.Oracle)
	for _, o := range oracles {
		oraclesByKey[o.PublicKey()] = o
	}
	return &Manager{
		wallet:      walletSvc,
		blockchain:  blockchainSvc,
		repoManager: repoManager,
		oracles:     oraclesByKey,
		clock:       clock,
		cfg:         cfg.withDefaults(),
		lock:        &sync.Mutex{},
		plans:       make(map[string]*ContractPlan),
	}, nil
}

// RegisterEventsHandler registers a function called with every contract
// after its transitions are persisted. Contract.Changes holds the events
// of the transition.
func (m *Manager) RegisterEventsHandler(handler func(contract domain.Contract)) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.handlers = append(m.handlers, handler)
}

// SendOffer reserves the offer party funds for the given contract and
// returns the offer to send to the counterparty.
func (m *Manager) SendOffer(ctx context.Context, input ContractInput) (*domain.OfferMsg, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContractInput, err)
	}

	infos := make([]domain.ContractInfo, 0, len(input.Infos))
	for i, info := range input.Infos {
		announcements, err := m.getAnnouncements(ctx, info.Oracles)
		if err != nil {
			return nil, fmt.Errorf("contract info %d: %w", i, err)
		}
		contractInfo := domain.ContractInfo{
			Oracles: domain.OracleInfo{
				Threshold:     info.Oracles.Threshold,
				Announcements: announcements,
			},
			Descriptor: info.Descriptor,
		}
		if err := validateContractInfo(contractInfo, input.TotalCollateral(), input.Maturity); err != nil {
			return nil, fmt.Errorf("%w: contract info %d: %s", ErrInvalidContractInput, i, err)
		}
		infos = append(infos, contractInfo)
	}

	params, err := m.newPartyParams(ctx, input.OfferCollateral, input.FeeRate)
	if err != nil {
		return nil, err
	}

	offer := domain.OfferMsg{
		ContractInfos:    infos,
		OfferParams:      *params,
		AcceptCollateral: input.AcceptCollateral,
		FeeRate:          input.FeeRate,
		Maturity:         input.Maturity,
		RefundLocktime:   input.Maturity + m.cfg.RefundDelay,
	}
	offer.TemporaryContractId, err = offer.ComputeTemporaryId()
	if err != nil {
		m.unreserve(ctx, params.FundingInputs)
		return nil, err
	}
	if err := validateOffer(offer); err != nil {
		m.unreserve(ctx, params.FundingInputs)
		return nil, fmt.Errorf("%w: %s", ErrInvalidContractInput, err)
	}

	contract, err := domain.NewContract(offer, true, m.now())
	if err != nil {
		m.unreserve(ctx, params.FundingInputs)
		return nil, err
	}
	if err := m.save(ctx, contract); err != nil {
		m.unreserve(ctx, params.FundingInputs)
		return nil, err
	}

	log.Debugf("sent offer for contract %s", contract.TemporaryId)
	return &offer, nil
}

// OnOffer records an offer received from the counterparty.
func (m *Manager) OnOffer(ctx context.Context, offer domain.OfferMsg) (*domain.Contract, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := validateOffer(offer); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
	}

	_, err := m.repoManager.Contracts().GetContract(ctx, offer.TemporaryContractId)
	if err == nil {
		return nil, fmt.Errorf("%w: contract %s already exists", ErrInvalidOffer, offer.TemporaryContractId)
	}
	if !errors.Is(err, domain.ErrContractNotFound) {
		return nil, err
	}

	contract, err := domain.NewContract(offer, false, m.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
	}
	if err := m.save(ctx, contract); err != nil {
		return nil, err
	}

	log.Debugf("received offer for contract %s", contract.TemporaryId)
	return contract, nil
}

// RejectOffer discards a received offer.
func (m *Manager) RejectOffer(ctx context.Context, temporaryId string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	contract, err := m.repoManager.Contracts().GetContract(ctx, temporaryId)
	if err != nil {
		return err
	}
	if _, err := contract.Reject(m.now()); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	return m.save(ctx, contract)
}

// AcceptContractOffer reserves the accept party funds and signs the CETs
// and refund tx of a received offer. On failure the contract is left as it
// was and the funds are released.
func (m *Manager) AcceptContractOffer(
	ctx context.Context, temporaryId string,
) (string, *domain.AcceptMsg, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	contract, err := m.repoManager.Contracts().GetContract(ctx, temporaryId)
	if err != nil {
		return "", nil, err
	}
	if contract.State != domain.OfferedState || contract.IsOfferParty {
		return "", nil, fmt.Errorf("%w: cannot accept contract in state %s", ErrInvalidState, contract.State)
	}
	offer := contract.OfferMsg

	params, err := m.newPartyParams(ctx, offer.AcceptCollateral, offer.FeeRate)
	if err != nil {
		return "", nil, err
	}

	accept, err := m.accept(ctx, contract, *params)
	if err != nil {
		m.unreserve(ctx, params.FundingInputs)
		return "", nil, err
	}

	log.Debugf("accepted contract %s", contract.Id)
	return contract.Id, accept, nil
}

func (m *Manager) accept(
	ctx context.Context, contract *domain.Contract, params domain.PartyParams,
) (*domain.AcceptMsg, error) {
	plan, err := NewContractPlan(contract.OfferMsg, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
	}
	key, err := m.fundKey(ctx, params.FundPubkey)
	if err != nil {
		return nil, err
	}
	set, err := plan.ComputeSignatures(ctx, key)
	if err != nil {
		return nil, err
	}
	contractId, err := plan.ContractId()
	if err != nil {
		return nil, err
	}
	fundingTx, err := serializeTx(plan.FundingPtx.UnsignedTx)
	if err != nil {
		return nil, err
	}

	accept := domain.AcceptMsg{
		TemporaryContractId:  contract.TemporaryId,
		AcceptParams:         params,
		CetAdaptorSignatures: set.CetAdaptorSignatures,
		RefundSignature:      set.RefundSignature,
	}
	if _, err := contract.Accept(
		accept, contractId, fundingTx, plan.FundingTxid(), m.now(),
	); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	if err := m.save(ctx, contract); err != nil {
		return nil, err
	}
	m.plans[contract.TemporaryId] = plan
	return &accept, nil
}

// OnAccept verifies the accept message of the counterparty and returns the
// sign message carrying the offer party signatures. An invalid signature
// moves the contract to FailedAccept and releases the reserved funds.
func (m *Manager) OnAccept(ctx context.Context, accept domain.AcceptMsg) (*domain.SignMsg, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	contract, err := m.repoManager.Contracts().GetContract(ctx, accept.TemporaryContractId)
	if err != nil {
		return nil, err
	}
	if contract.State != domain.OfferedState || !contract.IsOfferParty {
		return nil, fmt.Errorf("%w: cannot handle accept in state %s", ErrInvalidState, contract.State)
	}

	plan, err := m.verifyAccept(ctx, contract, accept)
	if err != nil {
		if failErr := m.fail(ctx, contract, err); failErr != nil {
			return nil, errors.Join(err, failErr)
		}
		return nil, err
	}

	offerParams := contract.OfferMsg.OfferParams
	key, err := m.fundKey(ctx, offerParams.FundPubkey)
	if err != nil {
		return nil, err
	}
	set, err := plan.ComputeSignatures(ctx, key)
	if err != nil {
		return nil, err
	}

	witnesses := make([][]string, 0, len(offerParams.FundingInputs))
	for i := range offerParams.FundingInputs {
		witness, err := m.wallet.SignFundingInput(ctx, plan.FundingPtx, i)
		if err != nil {
			return nil, fmt.Errorf("failed to sign funding input %d: %s", i, err)
		}
		witnesses = append(witnesses, serializeWitness(witness))
	}

	contractId, err := plan.ContractId()
	if err != nil {
		return nil, err
	}
	fundingTx, err := serializeTx(plan.FundingPtx.UnsignedTx)
	if err != nil {
		return nil, err
	}

	sign := domain.SignMsg{
		ContractId:           contractId,
		CetAdaptorSignatures: set.CetAdaptorSignatures,
		RefundSignature:      set.RefundSignature,
		FundingWitnesses:     witnesses,
	}
	if _, err := contract.Sign(
		&accept, sign, contractId, fundingTx, plan.FundingTxid(), m.now(),
	); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	if err := m.save(ctx, contract); err != nil {
		return nil, err
	}
	m.plans[contract.TemporaryId] = plan

	log.Debugf("signed contract %s", contract.Id)
	return &sign, nil
}

func (m *Manager) verifyAccept(
	ctx context.Context, contract *domain.Contract, accept domain.AcceptMsg,
) (*ContractPlan, error) {
	offer := contract.OfferMsg
	if accept.AcceptParams.Collateral != offer.AcceptCollateral {
		return nil, fmt.Errorf(
			"%w: accept collateral %d does not match offer %d",
			ErrInvalidOffer, accept.AcceptParams.Collateral, offer.AcceptCollateral,
		)
	}
	if err := validatePartyParams(accept.AcceptParams, offer.FeeRate); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
	}
	plan, err := NewContractPlan(offer, accept.AcceptParams)
	if err != nil {
		return nil, err
	}
	acceptKey, err := parsePubkey(accept.AcceptParams.FundPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
	}
	if err := plan.VerifySignatures(ctx, acceptKey, SignatureSet{
		CetAdaptorSignatures: accept.CetAdaptorSignatures,
		RefundSignature:      accept.RefundSignature,
	}); err != nil {
		return nil, err
	}
	return plan, nil
}

// OnSign verifies the sign message of the counterparty, completes and
// broadcasts the funding tx. An invalid signature moves the contract to
// FailedSign and releases the reserved funds.
func (m *Manager) OnSign(ctx context.Context, sign domain.SignMsg) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	contract, err := m.repoManager.Contracts().GetContract(ctx, sign.ContractId)
	if err != nil {
		return err
	}
	if contract.State != domain.AcceptedState || contract.IsOfferParty {
		return fmt.Errorf("%w: cannot handle sign in state %s", ErrInvalidState, contract.State)
	}

	plan, err := m.plan(contract)
	if err != nil {
		return err
	}
	if err := m.verifySign(ctx, plan, contract, sign); err != nil {
		if failErr := m.fail(ctx, contract, err); failErr != nil {
			return errors.Join(err, failErr)
		}
		return err
	}

	nbOfferInputs := len(contract.OfferMsg.OfferParams.FundingInputs)
	witnesses := make(map[int]wire.TxWitness)
	for i, items := range sign.FundingWitnesses {
		witness, err := deserializeWitness(items)
		if err != nil {
			return err
		}
		witnesses[i] = witness
	}
	for i := range contract.AcceptMsg.AcceptParams.FundingInputs {
		index := nbOfferInputs + i
		witness, err := m.wallet.SignFundingInput(ctx, plan.FundingPtx, index)
		if err != nil {
			return fmt.Errorf("failed to sign funding input %d: %s", index, err)
		}
		witnesses[index] = witness
	}

	fundingTx, err := dlctx.FinalizeFundingTx(plan.FundingPtx, witnesses)
	if err != nil {
		return fmt.Errorf("failed to finalize funding tx: %s", err)
	}
	txHex, err := serializeTx(fundingTx)
	if err != nil {
		return err
	}

	if _, err := contract.Sign(
		nil, sign, sign.ContractId, txHex, fundingTx.TxHash().String(), m.now(),
	); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	if err := m.save(ctx, contract); err != nil {
		return err
	}

	if _, err := m.blockchain.BroadcastTransaction(ctx, txHex); err != nil {
		log.WithError(err).Warnf(
			"failed to broadcast funding tx of contract %s, retrying on next check", contract.Id,
		)
		return nil
	}

	log.Debugf("signed and broadcast funding tx %s of contract %s", contract.FundingTxid, contract.Id)
	return nil
}

func (m *Manager) verifySign(
	ctx context.Context, plan *ContractPlan, contract *domain.Contract, sign domain.SignMsg,
) error {
	offerKey, err := parsePubkey(contract.OfferMsg.OfferParams.FundPubkey)
	if err != nil {
		return err
	}
	if err := plan.VerifySignatures(ctx, offerKey, SignatureSet{
		CetAdaptorSignatures: sign.CetAdaptorSignatures,
		RefundSignature:      sign.RefundSignature,
	}); err != nil {
		return err
	}

	nbOfferInputs := len(contract.OfferMsg.OfferParams.FundingInputs)
	if len(sign.FundingWitnesses) != nbOfferInputs {
		return &SignatureError{
			Kind:  FundingSignature,
			Index: min(len(sign.FundingWitnesses), nbOfferInputs),
			Err: fmt.Errorf(
				"expected %d funding witnesses, got %d", nbOfferInputs, len(sign.FundingWitnesses),
			),
		}
	}
	for i, items := range sign.FundingWitnesses {
		witness, err := deserializeWitness(items)
		if err != nil {
			return &SignatureError{Kind: FundingSignature, Index: i, Err: err}
		}
		if err := dlctx.VerifyInputWitness(plan.FundingPtx, i, witness); err != nil {
			return &SignatureError{Kind: FundingSignature, Index: i, Err: err}
		}
	}
	return nil
}

// GetContract returns the contract with the given temporary or permanent id.
func (m *Manager) GetContract(ctx context.Context, id string) (*domain.Contract, error) {
	return m.repoManager.Contracts().GetContract(ctx, id)
}

func (m *Manager) GetContracts(ctx context.Context) ([]domain.Contract, error) {
	return m.repoManager.Contracts().GetContracts(ctx)
}

func (m *Manager) getAnnouncements(
	ctx context.Context, input OracleInput,
) ([]oracle.Announcement, error) {
	announcements := make([]oracle.Announcement, 0, len(input.PublicKeys))
	for _, key := range input.PublicKeys {
		o, ok := m.oracles[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOracle, key)
		}
		announcement, err := o.GetAnnouncement(ctx, input.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to get announcement of event %s: %w", input.EventID, err)
		}
		if announcement.PublicKey != key || announcement.EventID != input.EventID {
			return nil, fmt.Errorf(
				"%w: announcement does not match oracle %s", oracle.ErrInvalidAnnouncement, key,
			)
		}
		announcements = append(announcements, *announcement)
	}
	return announcements, nil
}

// newPartyParams derives new keys and scripts and reserves the utxos
// funding the given collateral.
func (m *Manager) newPartyParams(
	ctx context.Context, collateral, feeRate uint64,
) (*domain.PartyParams, error) {
	fundKey, err := m.wallet.GetNewFundKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to derive fund key: %s", err)
	}
	payoutScript, err := m.newScript(ctx)
	if err != nil {
		return nil, err
	}
	changeScript, err := m.newScript(ctx)
	if err != nil {
		return nil, err
	}

	amount := collateral + dlctx.FixedFee(len(changeScript), feeRate)
	utxos, err := m.wallet.GetUtxosForAmount(ctx, amount, feeRate, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUtxoSelection, err)
	}

	return &domain.PartyParams{
		FundPubkey:    serializePubkey(fundKey),
		PayoutScript:  hex.EncodeToString(payoutScript),
		ChangeScript:  hex.EncodeToString(changeScript),
		Collateral:    collateral,
		FundingInputs: utxos,
	}, nil
}

func (m *Manager) newScript(ctx context.Context) ([]byte, error) {
	addr, err := m.wallet.GetNewAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %s", err)
	}
	decoded, err := btcutil.DecodeAddress(addr, m.cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address %s: %s", addr, err)
	}
	return txscript.PayToAddrScript(decoded)
}

func (m *Manager) fundKey(ctx context.Context, pubkey string) (*btcec.PrivateKey, error) {
	key, err := parsePubkey(pubkey)
	if err != nil {
		return nil, err
	}
	secret, err := m.wallet.GetSecretKeyForPubkey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get fund key: %s", err)
	}
	return secret, nil
}

// plan returns the contract plan of a contract the counterparty already
// accepted.
func (m *Manager) plan(contract *domain.Contract) (*ContractPlan, error) {
	if plan, ok := m.plans[contract.TemporaryId]; ok {
		return plan, nil
	}
	if contract.AcceptMsg == nil {
		return nil, fmt.Errorf("%w: contract %s not accepted", ErrInvalidState, contract.TemporaryId)
	}
	plan, err := NewContractPlan(contract.OfferMsg, contract.AcceptMsg.AcceptParams)
	if err != nil {
		return nil, err
	}
	m.plans[contract.TemporaryId] = plan
	return plan, nil
}

// fail moves the contract to its failed state for a protocol violation of
// the counterparty and releases the funds reserved for it.
func (m *Manager) fail(ctx context.Context, contract *domain.Contract, reason error) error {
	var err error
	if contract.IsOfferParty {
		_, err = contract.FailAccept(reason, m.now())
	} else {
		_, err = contract.FailSign(reason, m.now())
	}
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	if err := m.save(ctx, contract); err != nil {
		return err
	}
	if params := contract.OwnParams(); params != nil {
		m.unreserve(ctx, params.FundingInputs)
	}
	delete(m.plans, contract.TemporaryId)

	log.WithError(reason).Warnf("contract %s failed", contract.TemporaryId)
	return nil
}

func (m *Manager) unreserve(ctx context.Context, utxos []domain.FundingInput) {
	if err := m.wallet.UnreserveUtxos(ctx, utxos); err != nil {
		log.WithError(err).Warn("failed to unreserve utxos")
	}
}

func (m *Manager) save(ctx context.Context, contract *domain.Contract) error {
	if err := m.repoManager.Contracts().AddOrUpdateContract(ctx, *contract); err != nil {
		return fmt.Errorf("failed to persist contract: %s", err)
	}
	for _, handler := range m.handlers {
		handler(*contract)
	}
	contract.Changes = nil
	return nil
}

func (m *Manager) now() int64 {
	return m.clock.Now().Unix()
}
