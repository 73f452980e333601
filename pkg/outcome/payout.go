package outcome

import (
	"fmt"
	"math"
)

// PayoutPoint is the offer party payout at a given outcome.
type PayoutPoint struct {
	Outcome uint64 `json:"outcome"`
	Payout  uint64 `json:"payout"`
}

// PayoutPiece is one contiguous segment of a payout curve.
type PayoutPiece interface {
	LeftEnd() PayoutPoint
	RightEnd() PayoutPoint
	// At returns the unrounded offer payout at the given value.
	At(value uint64) (float64, error)
	// monotone reports whether the piece never changes direction over its
	// domain.
	monotone() bool
	validate() error
}

// PolynomialPiece interpolates its points with the lowest degree polynomial
// passing through all of them. Two points make a line segment.
type PolynomialPiece struct {
	Points []PayoutPoint `json:"points"`
}

func (p PolynomialPiece) LeftEnd() PayoutPoint {
	return p.Points[0]
}

func (p PolynomialPiece) RightEnd() PayoutPoint {
	return p.Points[len(p.Points)-1]
}

func (p PolynomialPiece) At(value uint64) (float64, error) {
	x := float64(value)
	var result float64
	for i, pi := range p.Points {
		if pi.Outcome == value {
			return float64(pi.Payout), nil
		}
		term := float64(pi.Payout)
		for j, pj := range p.Points {
			if i == j {
				continue
			}
			term *= (x - float64(pj.Outcome)) / (float64(pi.Outcome) - float64(pj.Outcome))
		}
		result += term
	}
	return result, nil
}

func (p PolynomialPiece) monotone() bool {
	return len(p.Points) == 2
}

func (p PolynomialPiece) validate() error {
	if len(p.Points) < 2 {
		return fmt.Errorf("%w: polynomial piece needs at least 2 points", ErrInvalidPayout)
	}
	for i := 1; i < len(p.Points); i++ {
		if p.Points[i].Outcome <= p.Points[i-1].Outcome {
			return fmt.Errorf(
				"%w: polynomial points must have strictly increasing outcomes", ErrInvalidPayout,
			)
		}
	}
	return nil
}

// HyperbolaPiece evaluates
//
//	t = ((x - TranslateOutcome) ± sqrt((x - TranslateOutcome)^2 - 4AB)) / 2A
//	payout = C*t + D/t + TranslatePayout
//
// taking the positive root when UsePositivePiece is set.
type HyperbolaPiece struct {
	Left             PayoutPoint `json:"left"`
	Right            PayoutPoint `json:"right"`
	UsePositivePiece bool        `json:"usePositivePiece"`
	TranslateOutcome float64     `json:"translateOutcome"`
	TranslatePayout  float64     `json:"translatePayout"`
	A                float64     `json:"a"`
	B                float64     `json:"b"`
	C                float64     `json:"c"`
	D                float64     `json:"d"`
}

func (h HyperbolaPiece) LeftEnd() PayoutPoint {
	return h.Left
}

func (h HyperbolaPiece) RightEnd() PayoutPoint {
	return h.Right
}

func (h HyperbolaPiece) At(value uint64) (float64, error) {
	x := float64(value) - h.TranslateOutcome
	disc := x*x - 4*h.A*h.B
	if disc < 0 {
		return 0, fmt.Errorf("%w: hyperbola undefined at %d", ErrInvalidPayout, value)
	}
	sqrt := math.Sqrt(disc)
	var t float64
	if h.UsePositivePiece {
		t = (x + sqrt) / (2 * h.A)
	} else {
		t = (x - sqrt) / (2 * h.A)
	}
	if t == 0 {
		return 0, fmt.Errorf("%w: hyperbola undefined at %d", ErrInvalidPayout, value)
	}
	payout := h.C*t + h.D/t + h.TranslatePayout
	if math.IsNaN(payout) || math.IsInf(payout, 0) {
		return 0, fmt.Errorf("%w: hyperbola undefined at %d", ErrInvalidPayout, value)
	}
	return payout, nil
}

// monotone holds when B is zero, so that t is linear in the translated
// outcome, the C and D terms pull in the same direction and the piece does
// not cross the pole.
func (h HyperbolaPiece) monotone() bool {
	left := float64(h.Left.Outcome) - h.TranslateOutcome
	right := float64(h.Right.Outcome) - h.TranslateOutcome
	return h.B == 0 && h.C*h.D <= 0 && left*right > 0
}

func (h HyperbolaPiece) validate() error {
	if h.A == 0 {
		return fmt.Errorf("%w: hyperbola parameter a must not be zero", ErrInvalidPayout)
	}
	if h.Right.Outcome <= h.Left.Outcome {
		return fmt.Errorf("%w: hyperbola right end must follow left end", ErrInvalidPayout)
	}
	for _, p := range []PayoutPoint{h.Left, h.Right} {
		v, err := h.At(p.Outcome)
		if err != nil {
			return err
		}
		if roundPayout(v) != float64(p.Payout) {
			return fmt.Errorf(
				"%w: hyperbola evaluates to %.0f at end point %d, expected %d",
				ErrInvalidPayout, roundPayout(v), p.Outcome, p.Payout,
			)
		}
	}
	return nil
}

// PayoutFunction is an ordered list of contiguous pieces covering the whole
// numeric domain of a contract.
type PayoutFunction struct {
	Pieces []PayoutPiece `json:"pieces"`
}

// Evaluate returns the offer payout at the given value, clamped to
// [0, totalCollateral]. A value sitting on the boundary between two pieces is
// evaluated by the lower one.
func (f PayoutFunction) Evaluate(value, totalCollateral uint64) (uint64, error) {
	if len(f.Pieces) <= 0 {
		return 0, fmt.Errorf("%w: no pieces", ErrInvalidPayout)
	}
	piece := f.pieceFor(value)
	if first := f.Pieces[0]; value < first.LeftEnd().Outcome {
		value = first.LeftEnd().Outcome
	}
	if value > piece.RightEnd().Outcome {
		value = piece.RightEnd().Outcome
	}

	v, err := piece.At(value)
	if err != nil {
		return 0, err
	}
	return clamp(roundPayout(v), totalCollateral), nil
}

func (f PayoutFunction) pieceFor(value uint64) PayoutPiece {
	for _, p := range f.Pieces {
		if value <= p.RightEnd().Outcome {
			return p
		}
	}
	return f.Pieces[len(f.Pieces)-1]
}

func (f PayoutFunction) validate(maxValue, totalCollateral uint64) error {
	if len(f.Pieces) <= 0 {
		return fmt.Errorf("%w: no pieces", ErrInvalidPayout)
	}
	if f.Pieces[0].LeftEnd().Outcome != 0 {
		return fmt.Errorf("%w: first piece must start at 0", ErrInvalidPayout)
	}
	if last := f.Pieces[len(f.Pieces)-1]; last.RightEnd().Outcome != maxValue {
		return fmt.Errorf(
			"%w: last piece must end at max value %d, got %d",
			ErrInvalidPayout, maxValue, last.RightEnd().Outcome,
		)
	}

	for i, piece := range f.Pieces {
		if err := piece.validate(); err != nil {
			return fmt.Errorf("piece %d: %w", i, err)
		}
		if piece.LeftEnd().Payout > totalCollateral ||
			piece.RightEnd().Payout > totalCollateral {
			return fmt.Errorf(
				"%w: piece %d pays more than total collateral", ErrInvalidPayout, i,
			)
		}
		if i == 0 {
			continue
		}

		prev := f.Pieces[i-1]
		if prev.RightEnd().Outcome != piece.LeftEnd().Outcome {
			return fmt.Errorf("%w: pieces %d and %d are not contiguous", ErrInvalidPayout, i-1, i)
		}
		boundary := piece.LeftEnd().Outcome
		lower, err := prev.At(boundary)
		if err != nil {
			return err
		}
		upper, err := piece.At(boundary)
		if err != nil {
			return err
		}
		if roundPayout(lower) != roundPayout(upper) {
			return fmt.Errorf(
				"%w: pieces %d and %d disagree at boundary %d", ErrInvalidPayout, i-1, i, boundary,
			)
		}
	}
	return nil
}

type RoundingInterval struct {
	BeginInterval uint64 `json:"beginInterval"`
	RoundingMod   uint64 `json:"roundingMod"`
}

// RoundingIntervals round payouts to a multiple of a modulus. Each interval
// applies from its begin value up to the begin of the next one.
type RoundingIntervals struct {
	Intervals []RoundingInterval `json:"intervals"`
}

func (r RoundingIntervals) validate() error {
	for i, interval := range r.Intervals {
		if interval.RoundingMod <= 0 {
			return fmt.Errorf("%w: rounding mod must be positive", ErrInvalidDescriptor)
		}
		if i > 0 && interval.BeginInterval <= r.Intervals[i-1].BeginInterval {
			return fmt.Errorf(
				"%w: rounding intervals must be strictly increasing", ErrInvalidDescriptor,
			)
		}
	}
	return nil
}

// Round rounds the payout computed at value to the nearest multiple of the
// applicable modulus, clamped to totalCollateral.
func (r RoundingIntervals) Round(value, payout, totalCollateral uint64) uint64 {
	var mod uint64
	for _, interval := range r.Intervals {
		if interval.BeginInterval > value {
			break
		}
		mod = interval.RoundingMod
	}
	if mod <= 1 {
		return payout
	}

	rem := payout % mod
	rounded := payout - rem
	if rem >= (mod+1)/2 {
		rounded += mod
	}
	return min(rounded, totalCollateral)
}

func roundPayout(v float64) float64 {
	return math.Round(v)
}

func clamp(v float64, totalCollateral uint64) uint64 {
	if v <= 0 {
		return 0
	}
	if v >= float64(totalCollateral) {
		return totalCollateral
	}
	return uint64(v)
}
