package outcome

import (
	"fmt"
	"iter"
)

// Outcome is one committed outcome of a contract. Enumerated outcomes carry
// a label, numerical ones a digit prefix covering [Start, End].
type Outcome struct {
	Label  string
	Digits []int
	Start  uint64
	End    uint64
	Payout Payout
}

// RangePayout is a maximal range of consecutive values sharing a payout.
type RangePayout struct {
	Start  uint64
	End    uint64
	Payout Payout
}

// RangePayouts groups the numeric domain of the descriptor into ranges of
// consecutive values with the same payout. Monotone segments of the curve are
// walked range by range, the others value by value.
func RangePayouts(d NumericalDescriptor, totalCollateral uint64) ([]RangePayout, error) {
	ranges := make([]RangePayout, 0)
	add := func(start, end uint64, payout Payout) {
		if n := len(ranges); n > 0 && ranges[n-1].Payout == payout {
			ranges[n-1].End = end
			return
		}
		ranges = append(ranges, RangePayout{Start: start, End: end, Payout: payout})
	}

	for _, seg := range d.segments() {
		for v := seg.start; ; {
			payout, err := d.PayoutFor(v, totalCollateral)
			if err != nil {
				return nil, err
			}
			end := v
			if seg.monotone {
				if end, err = d.lastWithPayout(v, seg.end, payout, totalCollateral); err != nil {
					return nil, err
				}
			}
			add(v, end, payout)
			if end >= seg.end {
				break
			}
			v = end + 1
		}
	}
	return ranges, nil
}

// segment is a contiguous part of the domain evaluated by a single piece
// and rounded with a single modulus.
type segment struct {
	start    uint64
	end      uint64
	monotone bool
}

func (d NumericalDescriptor) segments() []segment {
	maxValue := d.MaxValue()
	pieces := d.Function.Pieces
	segments := make([]segment, 0, len(pieces))

	start := uint64(0)
	for i, piece := range pieces {
		end := min(piece.RightEnd().Outcome, maxValue)
		if i == len(pieces)-1 {
			end = maxValue
		}
		if end < start {
			continue
		}
		for _, interval := range d.Rounding.Intervals {
			if interval.BeginInterval <= start || interval.BeginInterval > end {
				continue
			}
			segments = append(segments, segment{start, interval.BeginInterval - 1, piece.monotone()})
			start = interval.BeginInterval
		}
		segments = append(segments, segment{start, end, piece.monotone()})
		if end >= maxValue {
			break
		}
		start = end + 1
	}
	return segments
}

// lastWithPayout returns the last value of [start, end] sharing the payout
// of start, assuming payouts are monotone over the range.
func (d NumericalDescriptor) lastWithPayout(
	start, end uint64, payout Payout, totalCollateral uint64,
) (uint64, error) {
	lo, hi := start, end
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		p, err := d.PayoutFor(mid, totalCollateral)
		if err != nil {
			return 0, err
		}
		if p == payout {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// Outcomes lazily enumerates the outcomes of the descriptor. Numerical
// outcomes are the digit prefixes covering the payout ranges, so the full
// digit tree is never materialized. The sequence can be ranged over again.
func Outcomes(d Descriptor, totalCollateral uint64) iter.Seq2[Outcome, error] {
	return func(yield func(Outcome, error) bool) {
		switch desc := d.(type) {
		case EnumDescriptor:
			for _, o := range desc.Outcomes {
				if !yield(Outcome{Label: o.Outcome, Payout: o.Payout}, nil) {
					return
				}
			}
		case NumericalDescriptor:
			ranges, err := RangePayouts(desc, totalCollateral)
			if err != nil {
				yield(Outcome{}, err)
				return
			}
			for _, r := range ranges {
				for prefix := range DecomposeRange(r.Start, r.End, desc.NbDigits) {
					start, end := PrefixRange(prefix, desc.NbDigits)
					o := Outcome{Digits: prefix, Start: start, End: end, Payout: r.Payout}
					if !yield(o, nil) {
						return
					}
				}
			}
		default:
			yield(Outcome{}, fmt.Errorf("%w: unknown descriptor type %T", ErrInvalidDescriptor, d))
		}
	}
}
