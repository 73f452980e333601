package application

import (
	"encoding/hex"
	"fmt"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/pkg/dlctx"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/ark-network/dlc/pkg/outcome"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ContractPlan is everything both parties derive identically from the offer
// and accept messages: the funding tx, the refund tx, one CET per committed
// payout and the ordered list of adaptor points the CET signatures are
// encrypted with.
type ContractPlan struct {
	Offer           domain.OfferMsg
	AcceptParams    domain.PartyParams
	FundingOutput   *dlctx.FundingOutput
	FundingPtx      *psbt.Packet
	FundingOutpoint wire.OutPoint
	FundingValue    int64
	RefundTx        *wire.MsgTx

	infos   []*infoPlan
	entries []adaptorEntry
}

type infoPlan struct {
	info       domain.ContractInfo
	oracleKeys []*btcec.PublicKey
	nonces     [][]*btcec.PublicKey
	cets       []*wire.MsgTx
	sigHashes  [][]byte
	payouts    []outcome.Payout
	// ranges of values of each numeric CET
	ranges []outcome.RangePayout
	points map[pointKey]*btcec.PublicKey
}

type pointKey struct {
	oracle  int
	nonce   int
	outcome string
}

// adaptorEntry is one adaptor signature of the set: the CET it signs and the
// outcomes the oracles of a subset must attest to decrypt it.
type adaptorEntry struct {
	info    int
	cet     int
	oracles []int
	// messages are the attested outcomes committed to, per oracle of the
	// subset. Numeric ones are digit prefixes.
	messages [][]string
	point    *btcec.PublicKey
}

func NewContractPlan(offer domain.OfferMsg, acceptParams domain.PartyParams) (*ContractPlan, error) {
	offerKey, err := parsePubkey(offer.OfferParams.FundPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: offer fund pubkey: %s", ErrInvalidOffer, err)
	}
	acceptKey, err := parsePubkey(acceptParams.FundPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: accept fund pubkey: %s", ErrInvalidOffer, err)
	}
	fundingOutput, err := dlctx.NewFundingOutput(offerKey, acceptKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
	}

	offerFunding, err := toPartyFunding(offer.OfferParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
	}
	acceptFunding, err := toPartyFunding(acceptParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
	}
	fundingPtx, err := dlctx.BuildFundingTx(
		offerFunding, acceptFunding, fundingOutput.PkScript, offer.FeeRate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build funding tx: %w", err)
	}

	offerScript, err := hex.DecodeString(offer.OfferParams.PayoutScript)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid offer payout script", ErrInvalidOffer)
	}
	acceptScript, err := hex.DecodeString(acceptParams.PayoutScript)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid accept payout script", ErrInvalidOffer)
	}

	fundingOutpoint := wire.OutPoint{
		Hash:  fundingPtx.UnsignedTx.TxHash(),
		Index: dlctx.FundingOutputIndex,
	}
	fundingValue := fundingPtx.UnsignedTx.TxOut[dlctx.FundingOutputIndex].Value

	refundTx, err := dlctx.BuildRefundTx(
		fundingOutpoint, offerScript, acceptScript,
		offer.OfferParams.Collateral, acceptParams.Collateral, offer.RefundLocktime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build refund tx: %s", err)
	}

	plan := &ContractPlan{
		Offer:           offer,
		AcceptParams:    acceptParams,
		FundingOutput:   fundingOutput,
		FundingPtx:      fundingPtx,
		FundingOutpoint: fundingOutpoint,
		FundingValue:    fundingValue,
		RefundTx:        refundTx,
		infos:           make([]*infoPlan, 0, len(offer.ContractInfos)),
		entries:         make([]adaptorEntry, 0),
	}

	totalCollateral := offer.TotalCollateral()
	for i, info := range offer.ContractInfos {
		planned, err := newInfoPlan(info, totalCollateral)
		if err != nil {
			return nil, fmt.Errorf("contract info %d: %w", i, err)
		}
		for _, payout := range planned.payouts {
			cet, err := dlctx.BuildCET(
				fundingOutpoint, offerScript, acceptScript, payout, offer.Maturity,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to build cet: %s", err)
			}
			sigHash, err := fundingOutput.SigHash(cet, fundingValue)
			if err != nil {
				return nil, fmt.Errorf("failed to compute cet sighash: %s", err)
			}
			planned.cets = append(planned.cets, cet)
			planned.sigHashes = append(planned.sigHashes, sigHash)
		}
		plan.infos = append(plan.infos, planned)
		if err := plan.addEntries(i); err != nil {
			return nil, fmt.Errorf("contract info %d: %w", i, err)
		}
	}

	return plan, nil
}

// ContractId returns the permanent id of the contract.
func (p *ContractPlan) ContractId() (string, error) {
	buf, err := hex.DecodeString(p.Offer.TemporaryContractId)
	if err != nil || len(buf) != 32 {
		return "", fmt.Errorf("%w: invalid temporary contract id", ErrInvalidOffer)
	}
	id := dlctx.ContractID(p.FundingOutpoint.Hash, dlctx.FundingOutputIndex, [32]byte(buf))
	return hex.EncodeToString(id[:]), nil
}

func (p *ContractPlan) FundingTxid() string {
	return p.FundingOutpoint.Hash.String()
}

// NbAdaptorSignatures is the number of CET adaptor signatures each party
// must provide.
func (p *ContractPlan) NbAdaptorSignatures() int {
	return len(p.entries)
}

func (p *ContractPlan) NbCets() int {
	count := 0
	for _, info := range p.infos {
		count += len(info.cets)
	}
	return count
}

func (p *ContractPlan) RefundTxid() string {
	return p.RefundTx.TxHash().String()
}

func (p *ContractPlan) RefundSigHash() ([]byte, error) {
	return p.FundingOutput.SigHash(p.RefundTx, p.FundingValue)
}

// IsCet reports whether txid is the id of one of the CETs of the contract.
func (p *ContractPlan) IsCet(txid chainhash.Hash) bool {
	for _, info := range p.infos {
		for _, cet := range info.cets {
			if cet.TxHash() == txid {
				return true
			}
		}
	}
	return false
}

func newInfoPlan(info domain.ContractInfo, totalCollateral uint64) (*infoPlan, error) {
	oracles := info.Oracles.Announcements
	plan := &infoPlan{
		info:       info,
		oracleKeys: make([]*btcec.PublicKey, 0, len(oracles)),
		nonces:     make([][]*btcec.PublicKey, 0, len(oracles)),
		points:     make(map[pointKey]*btcec.PublicKey),
	}
	for _, announcement := range oracles {
		key, err := announcement.PubKey()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
		}
		nonces, err := announcement.NoncePoints()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidOffer, err)
		}
		plan.oracleKeys = append(plan.oracleKeys, key)
		plan.nonces = append(plan.nonces, nonces)
	}

	switch d := info.Descriptor.(type) {
	case outcome.EnumDescriptor:
		for _, o := range d.Outcomes {
			plan.payouts = append(plan.payouts, o.Payout)
		}
	case outcome.NumericalDescriptor:
		ranges, err := outcome.RangePayouts(d, totalCollateral)
		if err != nil {
			return nil, err
		}
		for _, r := range ranges {
			plan.payouts = append(plan.payouts, r.Payout)
		}
		plan.ranges = ranges
	default:
		return nil, fmt.Errorf("%w: unknown descriptor", ErrInvalidOffer)
	}
	return plan, nil
}

func (p *ContractPlan) addEntries(infoIndex int) error {
	info := p.infos[infoIndex]
	threshold := info.info.Oracles.Threshold
	nbOracles := len(info.oracleKeys)

	add := func(cet int, oracles []int, messages [][]string) error {
		point, err := info.adaptorPoint(oracles, messages)
		if err != nil {
			return err
		}
		p.entries = append(p.entries, adaptorEntry{
			info:     infoIndex,
			cet:      cet,
			oracles:  oracles,
			messages: messages,
			point:    point,
		})
		return nil
	}

	switch d := info.info.Descriptor.(type) {
	case outcome.EnumDescriptor:
		for cet, o := range d.Outcomes {
			for subset := range combinations(nbOracles, threshold) {
				messages := make([][]string, len(subset))
				for i := range subset {
					messages[i] = []string{o.Outcome}
				}
				if err := add(cet, subset, messages); err != nil {
					return err
				}
			}
		}
	case outcome.NumericalDescriptor:
		for cet, r := range info.ranges {
			for subset := range combinations(nbOracles, threshold) {
				for prefix := range outcome.DecomposeRange(r.Start, r.End, d.NbDigits) {
					if d.Difference == nil || len(subset) == 1 {
						messages := make([][]string, len(subset))
						for i := range subset {
							messages[i] = digitsToStrings(prefix)
						}
						if err := add(cet, subset, messages); err != nil {
							return err
						}
						continue
					}
					if err := p.addDifferenceEntries(d, prefix, subset, func(messages [][]string) error {
						return add(cet, subset, messages)
					}); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// addDifferenceEntries commits the first oracle of the subset to the
// extensions of prefix, and every other one to the window of values
// tolerated around each extension.
func (p *ContractPlan) addDifferenceEntries(
	d outcome.NumericalDescriptor, prefix []int, subset []int,
	add func(messages [][]string) error,
) error {
	params := *d.Difference
	for primary := range outcome.ExtendPrefix(prefix, params.PrimaryPrefixLen(d.NbDigits)) {
		start, end := outcome.PrefixRange(primary, d.NbDigits)
		lo, hi := outcome.SecondaryRange(start, end, d.MaxValue(), params)
		secondaries := make([][]string, 0)
		for secondary := range outcome.DecomposeRange(lo, hi, d.NbDigits) {
			secondaries = append(secondaries, digitsToStrings(secondary))
		}

		sizes := make([]int, len(subset)-1)
		for i := range sizes {
			sizes[i] = len(secondaries)
		}
		for picks := range product(sizes) {
			messages := make([][]string, 0, len(subset))
			messages = append(messages, digitsToStrings(primary))
			for _, pick := range picks {
				messages = append(messages, secondaries[pick])
			}
			if err := add(messages); err != nil {
				return err
			}
		}
	}
	return nil
}

// adaptorPoint sums the attestation points of every outcome the given
// oracles must attest to.
func (i *infoPlan) adaptorPoint(oracles []int, messages [][]string) (*btcec.PublicKey, error) {
	points := make([]*btcec.PublicKey, 0)
	for j, oracleIndex := range oracles {
		nonces := i.nonces[oracleIndex]
		if len(messages[j]) > len(nonces) {
			return nil, fmt.Errorf(
				"%w: oracle %d announced %d nonces, %d required",
				ErrInvalidOffer, oracleIndex, len(nonces), len(messages[j]),
			)
		}
		for k, msg := range messages[j] {
			key := pointKey{oracleIndex, k, msg}
			point, ok := i.points[key]
			if !ok {
				point = oracle.AttestationPoint(i.oracleKeys[oracleIndex], nonces[k], msg)
				i.points[key] = point
			}
			points = append(points, point)
		}
	}
	return oracle.SumPoints(points...)
}
