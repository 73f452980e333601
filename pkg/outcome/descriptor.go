package outcome

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDescriptor = errors.New("invalid outcome descriptor")
	ErrInvalidPayout     = errors.New("invalid payout function")
)

// Payout is the split of the total collateral between the two parties.
type Payout struct {
	Offer  uint64 `json:"offer"`
	Accept uint64 `json:"accept"`
}

func (p Payout) Total() uint64 {
	return p.Offer + p.Accept
}

// Descriptor describes the set of outcomes a contract commits to and the
// payout associated with each of them.
type Descriptor interface {
	// Validate checks the descriptor against the total collateral locked by
	// both parties.
	Validate(totalCollateral uint64) error
	isDescriptor()
}

type EnumPayout struct {
	Outcome string `json:"outcome"`
	Payout  Payout `json:"payout"`
}

type EnumDescriptor struct {
	Outcomes []EnumPayout `json:"outcomes"`
}

func (EnumDescriptor) isDescriptor() {}

func (d EnumDescriptor) Validate(totalCollateral uint64) error {
	if len(d.Outcomes) <= 0 {
		return fmt.Errorf("%w: missing outcomes", ErrInvalidDescriptor)
	}
	seen := make(map[string]struct{}, len(d.Outcomes))
	for i, o := range d.Outcomes {
		if len(o.Outcome) <= 0 {
			return fmt.Errorf("%w: outcome %d has empty label", ErrInvalidDescriptor, i)
		}
		if _, ok := seen[o.Outcome]; ok {
			return fmt.Errorf("%w: duplicated outcome %s", ErrInvalidDescriptor, o.Outcome)
		}
		seen[o.Outcome] = struct{}{}
		if o.Payout.Total() != totalCollateral {
			return fmt.Errorf(
				"%w: payout for outcome %s does not match total collateral %d",
				ErrInvalidDescriptor, o.Outcome, totalCollateral,
			)
		}
	}
	return nil
}

// PayoutFor returns the payout of the given outcome label.
func (d EnumDescriptor) PayoutFor(label string) (Payout, bool) {
	for _, o := range d.Outcomes {
		if o.Outcome == label {
			return o.Payout, true
		}
	}
	return Payout{}, false
}

// DifferenceParams configure how numeric oracles whose attested values are
// not exactly equal are reconciled. The primary oracle of a subset commits to
// ranges no wider than 2^MinSupportExp. Secondary oracles are then accepted
// whenever they deviate by at most 2^MinSupportExp from the primary value,
// and never when they deviate by more than 2^MaxErrorExp. MaximizeCoverage
// widens the accepted window up to the maximum error.
type DifferenceParams struct {
	MaxErrorExp      uint `json:"maxErrorExp"`
	MinSupportExp    uint `json:"minSupportExp"`
	MaximizeCoverage bool `json:"maximizeCoverage"`
}

func (p DifferenceParams) validate(nbDigits uint) error {
	if p.MinSupportExp >= p.MaxErrorExp {
		return fmt.Errorf(
			"%w: min support exponent %d must be lower than max error exponent %d",
			ErrInvalidDescriptor, p.MinSupportExp, p.MaxErrorExp,
		)
	}
	if p.MaxErrorExp >= nbDigits {
		return fmt.Errorf(
			"%w: max error exponent %d must be lower than number of digits %d",
			ErrInvalidDescriptor, p.MaxErrorExp, nbDigits,
		)
	}
	return nil
}

// PrimaryPrefixLen is the minimum length of the digit prefixes committed to
// by the primary oracle of a subset.
func (p DifferenceParams) PrimaryPrefixLen(nbDigits uint) uint {
	return nbDigits - p.MinSupportExp
}

// Tolerance returns the distance by which a secondary oracle value may
// deviate from the primary range.
func (p DifferenceParams) Tolerance() uint64 {
	support := uint64(1) << p.MinSupportExp
	if p.MaximizeCoverage {
		return (uint64(1) << p.MaxErrorExp) - support
	}
	return support
}

// NumericalDescriptor commits to every value in [0, 2^NbDigits - 1], with
// values represented as base 2 digit sequences, most significant first.
// Oracles attesting with more digits are truncated to NbDigits.
type NumericalDescriptor struct {
	NbDigits   uint              `json:"nbDigits"`
	Function   PayoutFunction    `json:"function"`
	Rounding   RoundingIntervals `json:"rounding"`
	Difference *DifferenceParams `json:"difference,omitempty"`
}

func (NumericalDescriptor) isDescriptor() {}

func (d NumericalDescriptor) MaxValue() uint64 {
	return (uint64(1) << d.NbDigits) - 1
}

func (d NumericalDescriptor) Validate(totalCollateral uint64) error {
	if d.NbDigits <= 0 || d.NbDigits > MaxDigits {
		return fmt.Errorf(
			"%w: number of digits must be in range [1, %d]", ErrInvalidDescriptor, MaxDigits,
		)
	}
	if err := d.Function.validate(d.MaxValue(), totalCollateral); err != nil {
		return err
	}
	if err := d.Rounding.validate(); err != nil {
		return err
	}
	if d.Difference != nil {
		if err := d.Difference.validate(d.NbDigits); err != nil {
			return err
		}
	}
	return nil
}

// PayoutFor evaluates the payout function at the given value and applies the
// rounding intervals. Values out of the domain clamp to the nearest endpoint.
func (d NumericalDescriptor) PayoutFor(value, totalCollateral uint64) (Payout, error) {
	if maxValue := d.MaxValue(); value > maxValue {
		value = maxValue
	}
	offer, err := d.Function.Evaluate(value, totalCollateral)
	if err != nil {
		return Payout{}, err
	}
	offer = d.Rounding.Round(value, offer, totalCollateral)
	return Payout{Offer: offer, Accept: totalCollateral - offer}, nil
}

// PayoutFor returns the payout for the given outcome. For enumerated
// descriptors the value is looked up by label, for numerical ones it is
// evaluated from the payout curve.
func PayoutFor(d Descriptor, o Outcome, totalCollateral uint64) (Payout, error) {
	switch desc := d.(type) {
	case EnumDescriptor:
		payout, ok := desc.PayoutFor(o.Label)
		if !ok {
			return Payout{}, fmt.Errorf("%w: unknown outcome %s", ErrInvalidDescriptor, o.Label)
		}
		return payout, nil
	case NumericalDescriptor:
		return desc.PayoutFor(o.Start, totalCollateral)
	default:
		return Payout{}, fmt.Errorf("%w: unknown descriptor type %T", ErrInvalidDescriptor, d)
	}
}
