package application

import (
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/pkg/dlctx"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/ark-network/dlc/pkg/outcome"
)

// validateOffer checks an offer the way the accept party does before
// recording it.
func validateOffer(offer domain.OfferMsg) error {
	id, err := offer.ComputeTemporaryId()
	if err != nil {
		return err
	}
	if id != offer.TemporaryContractId {
		return fmt.Errorf("temporary contract id does not match offer")
	}
	if offer.FeeRate <= 0 || offer.FeeRate > maxFeeRate {
		return fmt.Errorf("fee rate must be in range [1, %d]", maxFeeRate)
	}
	if offer.TotalCollateral() < 2*dlctx.DustLimit {
		return fmt.Errorf("total collateral must be at least %d", 2*dlctx.DustLimit)
	}
	if offer.RefundLocktime <= offer.Maturity {
		return fmt.Errorf("refund locktime must be after maturity")
	}
	if len(offer.ContractInfos) <= 0 {
		return fmt.Errorf("missing contract infos")
	}
	for i, info := range offer.ContractInfos {
		if err := validateContractInfo(info, offer.TotalCollateral(), offer.Maturity); err != nil {
			return fmt.Errorf("contract info %d: %s", i, err)
		}
	}
	return validatePartyParams(offer.OfferParams, offer.FeeRate)
}

func validateContractInfo(info domain.ContractInfo, totalCollateral uint64, maturity uint32) error {
	if info.Descriptor == nil {
		return fmt.Errorf("missing descriptor")
	}
	if err := info.Descriptor.Validate(totalCollateral); err != nil {
		return err
	}

	announcements := info.Oracles.Announcements
	if len(announcements) <= 0 {
		return fmt.Errorf("missing oracle announcements")
	}
	if info.Oracles.Threshold <= 0 || info.Oracles.Threshold > len(announcements) {
		return fmt.Errorf("threshold must be in range [1, %d]", len(announcements))
	}

	seen := make(map[string]struct{})
	for _, announcement := range announcements {
		if err := announcement.Validate(); err != nil {
			return err
		}
		if _, ok := seen[announcement.PublicKey]; ok {
			return fmt.Errorf("duplicated oracle %s", announcement.PublicKey)
		}
		seen[announcement.PublicKey] = struct{}{}
		if announcement.Maturity > int64(maturity) {
			return fmt.Errorf("oracle event %s matures after contract", announcement.EventID)
		}
	}

	switch d := info.Descriptor.(type) {
	case outcome.EnumDescriptor:
		for _, announcement := range announcements {
			if err := checkEnumEvent(d, announcement); err != nil {
				return err
			}
		}
	case outcome.NumericalDescriptor:
		minDigits := uint(0)
		for _, announcement := range announcements {
			if !announcement.Event.IsNumeric() {
				return fmt.Errorf("oracle event %s is not numeric", announcement.EventID)
			}
			if minDigits == 0 || announcement.Event.NbDigits < minDigits {
				minDigits = announcement.Event.NbDigits
			}
		}
		// contract precision is the one of the least precise oracle
		if d.NbDigits != minDigits {
			return fmt.Errorf(
				"descriptor has %d digits, least precise oracle attests %d", d.NbDigits, minDigits,
			)
		}
	}
	return nil
}

func checkEnumEvent(d outcome.EnumDescriptor, announcement oracle.Announcement) error {
	if announcement.Event.IsNumeric() {
		return fmt.Errorf("oracle event %s is not an enumeration", announcement.EventID)
	}
	if len(announcement.Event.Outcomes) != len(d.Outcomes) {
		return fmt.Errorf("oracle event %s outcomes do not match descriptor", announcement.EventID)
	}
	for _, o := range d.Outcomes {
		if !slices.Contains(announcement.Event.Outcomes, o.Outcome) {
			return fmt.Errorf("oracle event %s does not attest outcome %s", announcement.EventID, o.Outcome)
		}
	}
	return nil
}

func validatePartyParams(params domain.PartyParams, feeRate uint64) error {
	if _, err := parsePubkey(params.FundPubkey); err != nil {
		return fmt.Errorf("invalid fund pubkey: %s", err)
	}
	if script, err := hex.DecodeString(params.PayoutScript); err != nil || len(script) <= 0 {
		return fmt.Errorf("invalid payout script")
	}
	if script, err := hex.DecodeString(params.ChangeScript); err != nil || len(script) <= 0 {
		return fmt.Errorf("invalid change script")
	}
	if len(params.FundingInputs) <= 0 {
		return fmt.Errorf("missing funding inputs")
	}
	funding, err := toPartyFunding(params)
	if err != nil {
		return err
	}
	required := params.Collateral + dlctx.PartyFee(funding, feeRate)
	if funding.InputAmount() < required {
		return fmt.Errorf(
			"%w: inputs amount %d, required %d", dlctx.ErrInsufficientFunds, funding.InputAmount(), required,
		)
	}
	return nil
}
