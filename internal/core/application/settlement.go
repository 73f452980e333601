package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

// PeriodicCheck advances every live contract: it confirms funded contracts,
// detects settlements broadcast by the counterparty, closes matured
// contracts once enough oracles attested, refunds them once the refund
// locktime is reached and follows closing txs until they are settled.
// Errors of single contracts do not stop the check of the others.
func (m *Manager) PeriodicCheck(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	contracts, err := m.repoManager.Contracts().GetUnsettledContracts(ctx)
	if err != nil {
		return err
	}

	errs := make([]error, 0)
	for i := range contracts {
		contract := &contracts[i]
		if err := m.checkContract(ctx, contract); err != nil {
			log.WithError(err).WithField("contract", contract.Id).Warn("contract check failed")
			errs = append(errs, fmt.Errorf("contract %s: %w", contract.Id, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) checkContract(ctx context.Context, contract *domain.Contract) error {
	switch contract.State {
	case domain.SignedState:
		confirmed, err := m.checkFunding(ctx, contract)
		if err != nil || !confirmed {
			return err
		}
		return m.checkConfirmed(ctx, contract)
	case domain.ConfirmedState:
		return m.checkConfirmed(ctx, contract)
	case domain.ClosedState, domain.RefundedState:
		if contract.Settled {
			return nil
		}
		return m.checkClosing(ctx, contract)
	}
	return nil
}

func (m *Manager) checkFunding(ctx context.Context, contract *domain.Contract) (bool, error) {
	confirmations, err := m.blockchain.GetTransactionConfirmations(ctx, contract.FundingTxid)
	if err != nil {
		if !errors.Is(err, ports.ErrTxNotFound) {
			return false, err
		}
		// only the accept party holds the signed funding tx
		if !contract.IsOfferParty {
			if _, err := m.blockchain.BroadcastTransaction(ctx, contract.FundingTx); err != nil {
				return false, fmt.Errorf("failed to rebroadcast funding tx: %s", err)
			}
			log.Debugf("rebroadcast funding tx %s", contract.FundingTxid)
		}
		return false, nil
	}
	if confirmations < m.cfg.NbConfirmations {
		return false, nil
	}

	if _, err := contract.Confirm(m.now()); err != nil {
		return false, err
	}
	if err := m.save(ctx, contract); err != nil {
		return false, err
	}
	log.Debugf("funding tx of contract %s confirmed", contract.Id)
	return true, nil
}

func (m *Manager) checkConfirmed(ctx context.Context, contract *domain.Contract) error {
	plan, err := m.plan(contract)
	if err != nil {
		return err
	}

	closed, err := m.checkSpent(ctx, contract, plan)
	if err != nil || closed {
		return err
	}

	now := m.now()
	if now >= int64(contract.OfferMsg.Maturity) {
		closed, err := m.tryClose(ctx, contract, plan)
		if err != nil || closed {
			return err
		}
	}
	if now >= int64(contract.OfferMsg.RefundLocktime) {
		return m.refund(ctx, contract, plan)
	}
	return nil
}

// checkSpent looks for a tx spending the funding output, which is either
// the refund tx or one of the CETs.
func (m *Manager) checkSpent(
	ctx context.Context, contract *domain.Contract, plan *ContractPlan,
) (bool, error) {
	spender, err := m.fundingSpender(ctx, contract, plan)
	if err != nil || len(spender) <= 0 {
		return false, err
	}
	if err := m.recordSpend(ctx, contract, plan, spender); err != nil {
		return false, err
	}
	log.Debugf("funding output of contract %s spent on chain by %s", contract.Id, spender)
	return true, nil
}

// checkClosing follows the closing tx of a closed or refunded contract until
// it is settled. If the funding output turns out to be spent by another tx
// than the recorded one, the contract is corrected to match the chain.
func (m *Manager) checkClosing(ctx context.Context, contract *domain.Contract) error {
	plan, err := m.plan(contract)
	if err != nil {
		return err
	}
	spender, err := m.fundingSpender(ctx, contract, plan)
	if err != nil {
		return err
	}

	if len(spender) <= 0 {
		if len(contract.ClosingTx) <= 0 {
			return nil
		}
		if _, err := m.blockchain.BroadcastTransaction(ctx, contract.ClosingTx); err != nil {
			return fmt.Errorf("failed to rebroadcast tx %s: %s", contract.ClosingTxid, err)
		}
		log.Debugf("rebroadcast tx %s", contract.ClosingTxid)
		return nil
	}

	if spender != contract.ClosingTxid {
		log.Warnf(
			"funding output of contract %s spent by %s instead of %s",
			contract.Id, spender, contract.ClosingTxid,
		)
		return m.recordSpend(ctx, contract, plan, spender)
	}

	confirmations, err := m.blockchain.GetTransactionConfirmations(ctx, spender)
	if err != nil {
		if errors.Is(err, ports.ErrTxNotFound) {
			return nil
		}
		return err
	}
	if confirmations < m.cfg.NbConfirmations {
		return nil
	}

	if _, err := contract.Settle(m.now()); err != nil {
		return err
	}
	if err := m.save(ctx, contract); err != nil {
		return err
	}
	delete(m.plans, contract.TemporaryId)
	log.Debugf("closing tx %s of contract %s settled", spender, contract.Id)
	return nil
}

func (m *Manager) fundingSpender(
	ctx context.Context, contract *domain.Contract, plan *ContractPlan,
) (string, error) {
	spender, err := m.blockchain.GetOutputSpender(
		ctx, contract.FundingTxid, plan.FundingOutpoint.Index,
	)
	if err != nil {
		return "", fmt.Errorf("failed to get funding output spender: %s", err)
	}
	return spender, nil
}

// recordSpend moves the contract to refunded or closed depending on the tx
// found spending the funding output.
func (m *Manager) recordSpend(
	ctx context.Context, contract *domain.Contract, plan *ContractPlan, spender string,
) error {
	txHex, err := m.blockchain.GetTransaction(ctx, spender)
	if err != nil {
		log.WithError(err).Warnf("failed to fetch spending tx %s", spender)
	}

	if spender == plan.RefundTxid() {
		if _, err := contract.Refund(txHex, spender, m.now()); err != nil {
			return err
		}
		return m.save(ctx, contract)
	}

	hash, err := chainhash.NewHashFromStr(spender)
	if err != nil {
		return err
	}
	if !plan.IsCet(*hash) {
		return fmt.Errorf("funding output spent by unknown tx %s", spender)
	}
	if _, err := contract.Close(txHex, spender, nil, m.now()); err != nil {
		return err
	}
	return m.save(ctx, contract)
}

// tryClose settles the contract on the outcome attested by the oracles, if
// enough of them already attested. While no outcome resolves, failures to
// reach an oracle are returned so that the contract is not refunded in the
// meantime.
func (m *Manager) tryClose(
	ctx context.Context, contract *domain.Contract, plan *ContractPlan,
) (bool, error) {
	attestations, fetchErr := m.getAttestations(ctx, contract)

	resolved, ok, err := plan.Resolve(attestations)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fetchErr
	}
	if fetchErr != nil {
		log.WithError(fetchErr).Warnf("contract %s resolved with unreachable oracles", contract.Id)
	}

	counterpartySigs := contract.CounterpartyAdaptorSignatures()
	if resolved.EntryIndex >= len(counterpartySigs) {
		return false, fmt.Errorf("missing counterparty adaptor signature %d", resolved.EntryIndex)
	}
	key, err := m.fundKey(ctx, contract.OwnParams().FundPubkey)
	if err != nil {
		return false, err
	}
	cet, err := plan.Finalize(
		resolved, key, contract.IsOfferParty, counterpartySigs[resolved.EntryIndex],
	)
	if err != nil {
		return false, err
	}

	txHex, err := serializeTx(cet)
	if err != nil {
		return false, err
	}
	resolution := &domain.Resolution{
		InfoIndex: resolved.InfoIndex,
		Outcome:   resolved.Outcome,
		Payout:    resolved.Payout,
		Oracles:   resolved.Oracles,
	}
	if _, err := contract.Close(txHex, cet.TxHash().String(), resolution, m.now()); err != nil {
		return false, err
	}
	if err := m.save(ctx, contract); err != nil {
		return false, err
	}

	m.broadcast(ctx, cet, contract.Id)
	log.Debugf("contract %s closed on outcome %s", contract.Id, resolved.Outcome)
	return true, nil
}

func (m *Manager) refund(ctx context.Context, contract *domain.Contract, plan *ContractPlan) error {
	key, err := m.fundKey(ctx, contract.OwnParams().FundPubkey)
	if err != nil {
		return err
	}
	refundTx, err := plan.FinalizeRefund(
		key, contract.IsOfferParty, contract.CounterpartyRefundSignature(),
	)
	if err != nil {
		return err
	}
	txHex, err := serializeTx(refundTx)
	if err != nil {
		return err
	}

	if _, err := contract.Refund(txHex, refundTx.TxHash().String(), m.now()); err != nil {
		return err
	}
	if err := m.save(ctx, contract); err != nil {
		return err
	}

	m.broadcast(ctx, refundTx, contract.Id)
	log.Debugf("contract %s refunded", contract.Id)
	return nil
}

// getAttestations fetches and verifies the available attestations of every
// contract info. Missing or invalid attestations are left nil, failures to
// reach an oracle are joined in the returned error.
func (m *Manager) getAttestations(
	ctx context.Context, contract *domain.Contract,
) ([][]*oracle.Attestation, error) {
	attestations := make([][]*oracle.Attestation, 0, len(contract.OfferMsg.ContractInfos))
	errs := make([]error, 0)
	for _, info := range contract.OfferMsg.ContractInfos {
		atts := make([]*oracle.Attestation, len(info.Oracles.Announcements))
		for j, announcement := range info.Oracles.Announcements {
			o, ok := m.oracles[announcement.PublicKey]
			if !ok {
				log.Warnf("unknown oracle %s", announcement.PublicKey)
				continue
			}
			att, err := o.GetAttestation(ctx, announcement.EventID)
			if err != nil {
				if !errors.Is(err, oracle.ErrNotYetAttested) {
					errs = append(errs, fmt.Errorf(
						"failed to get attestation of event %s from oracle %s: %w",
						announcement.EventID, announcement.PublicKey, err,
					))
				}
				continue
			}
			if err := att.Verify(announcement); err != nil {
				log.WithError(err).Warnf(
					"discarding attestation of oracle %s", announcement.PublicKey,
				)
				continue
			}
			atts[j] = att
		}
		attestations = append(attestations, atts)
	}
	return attestations, errors.Join(errs...)
}

func (m *Manager) broadcast(ctx context.Context, tx *wire.MsgTx, contractId string) {
	txHex, err := serializeTx(tx)
	if err != nil {
		log.WithError(err).Warn("failed to serialize tx")
		return
	}
	if _, err := m.blockchain.BroadcastTransaction(ctx, txHex); err != nil {
		log.WithError(err).Warnf(
			"failed to broadcast tx %s of contract %s, retrying on next check",
			tx.TxHash().String(), contractId,
		)
	}
}
