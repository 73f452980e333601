package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"runtime"

	"github.com/ark-network/dlc/pkg/adaptor"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/sync/errgroup"
)

// SignatureSet is what a party sends to the other to settle the contract:
// one adaptor signature per entry of the plan and the refund signature.
type SignatureSet struct {
	CetAdaptorSignatures []string
	RefundSignature      string
}

// ComputeSignatures signs every CET of the plan with adaptor signatures
// encrypted under the entry points, and the refund tx.
func (p *ContractPlan) ComputeSignatures(
	ctx context.Context, key *btcec.PrivateKey,
) (*SignatureSet, error) {
	sigs := make([]string, len(p.entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range p.entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry := p.entries[i]
			hash := p.infos[entry.info].sigHashes[entry.cet]
			sig, err := adaptor.Sign(key, hash, entry.point)
			if err != nil {
				return fmt.Errorf("failed to sign cet %d: %s", i, err)
			}
			sigs[i] = hex.EncodeToString(sig.Serialize())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refundHash, err := p.RefundSigHash()
	if err != nil {
		return nil, err
	}
	refundSig, err := schnorr.Sign(key, refundHash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refund tx: %s", err)
	}

	return &SignatureSet{
		CetAdaptorSignatures: sigs,
		RefundSignature:      hex.EncodeToString(refundSig.Serialize()),
	}, nil
}

// VerifySignatures checks the signature set of the counterparty owning
// pubkey. The returned error is a *SignatureError naming the failing
// signature.
func (p *ContractPlan) VerifySignatures(
	ctx context.Context, pubkey *btcec.PublicKey, set SignatureSet,
) error {
	if len(set.CetAdaptorSignatures) != len(p.entries) {
		return &SignatureError{
			Kind:  CetSignature,
			Index: min(len(set.CetAdaptorSignatures), len(p.entries)),
			Err: fmt.Errorf(
				"expected %d adaptor signatures, got %d",
				len(p.entries), len(set.CetAdaptorSignatures),
			),
		}
	}

	refundHash, err := p.RefundSigHash()
	if err != nil {
		return err
	}
	refundSig, err := parseSchnorrSignature(set.RefundSignature)
	if err != nil {
		return &SignatureError{Kind: RefundSignature, Err: err}
	}
	if !refundSig.Verify(refundHash, pubkey) {
		return &SignatureError{Kind: RefundSignature}
	}

	// every signature is checked so that the lowest failing index is reported
	errs := make([]error, len(set.CetAdaptorSignatures))
	g := &errgroup.Group{}
	g.SetLimit(runtime.NumCPU())
	for i, s := range set.CetAdaptorSignatures {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sig, err := parseAdaptorSignature(s)
			if err != nil {
				errs[i] = &SignatureError{Kind: CetSignature, Index: i, Err: err}
				return nil
			}
			entry := p.entries[i]
			hash := p.infos[entry.info].sigHashes[entry.cet]
			if err := adaptor.Verify(sig, pubkey, hash, entry.point); err != nil {
				errs[i] = &SignatureError{Kind: CetSignature, Index: i}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Finalize decrypts the counterparty adaptor signature of the resolved
// entry with the attestation secret and returns the CET ready to be
// broadcast. It fails if the attestation does not unlock the entry.
func (p *ContractPlan) Finalize(
	resolved *ResolvedOutcome, key *btcec.PrivateKey, isOfferParty bool,
	counterpartySig string,
) (*wire.MsgTx, error) {
	if resolved == nil || resolved.EntryIndex < 0 || resolved.EntryIndex >= len(p.entries) {
		return nil, fmt.Errorf("invalid resolved outcome")
	}
	entry := p.entries[resolved.EntryIndex]
	info := p.infos[entry.info]

	sig, err := parseAdaptorSignature(counterpartySig)
	if err != nil {
		return nil, err
	}
	decrypted, err := adaptor.Decrypt(sig, &resolved.secret, entry.point)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt adaptor signature: %w", err)
	}

	hash := info.sigHashes[entry.cet]
	own, err := schnorr.Sign(key, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign cet: %s", err)
	}

	cet := info.cets[entry.cet].Copy()
	cet.TxIn[0].Witness = p.witness(own, decrypted, isOfferParty)
	return cet, nil
}

// FinalizeRefund returns the refund tx signed by both parties.
func (p *ContractPlan) FinalizeRefund(
	key *btcec.PrivateKey, isOfferParty bool, counterpartySig string,
) (*wire.MsgTx, error) {
	sig, err := parseSchnorrSignature(counterpartySig)
	if err != nil {
		return nil, err
	}
	hash, err := p.RefundSigHash()
	if err != nil {
		return nil, err
	}
	own, err := schnorr.Sign(key, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refund tx: %s", err)
	}

	refund := p.RefundTx.Copy()
	refund.TxIn[0].Witness = p.witness(own, sig, isOfferParty)
	return refund, nil
}

func (p *ContractPlan) witness(own, counterparty *schnorr.Signature, isOfferParty bool) wire.TxWitness {
	if isOfferParty {
		return p.FundingOutput.Witness(own, counterparty)
	}
	return p.FundingOutput.Witness(counterparty, own)
}

func parseAdaptorSignature(sig string) (*adaptor.Signature, error) {
	buf, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid adaptor signature format: %s", err)
	}
	return adaptor.ParseSignature(buf)
}

func parseSchnorrSignature(sig string) (*schnorr.Signature, error) {
	buf, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid signature format: %s", err)
	}
	return schnorr.ParseSignature(buf)
}
