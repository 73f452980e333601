package outcome

import "iter"

// MaxDigits bounds the depth of the digit tree of numerical contracts, and
// the number of evaluations of curves that are not monotone.
const MaxDigits = 20

// ValueToDigits returns the base 2 representation of value on nbDigits
// digits, most significant first.
func ValueToDigits(value uint64, nbDigits uint) []int {
	digits := make([]int, nbDigits)
	for i := int(nbDigits) - 1; i >= 0; i-- {
		digits[i] = int(value & 1)
		value >>= 1
	}
	return digits
}

func DigitsToValue(digits []int) uint64 {
	var value uint64
	for _, d := range digits {
		value = value<<1 | uint64(d&1)
	}
	return value
}

// Truncate drops the least significant digits of a value attested with
// fromDigits digits so that it is expressed on toDigits digits.
func Truncate(value uint64, fromDigits, toDigits uint) uint64 {
	if fromDigits <= toDigits {
		return value
	}
	return value >> (fromDigits - toDigits)
}

// PrefixRange returns the inclusive range of values on nbDigits digits that
// start with the given prefix.
func PrefixRange(prefix []int, nbDigits uint) (uint64, uint64) {
	free := nbDigits - uint(len(prefix))
	start := DigitsToValue(prefix) << free
	end := start | ((uint64(1) << free) - 1)
	return start, end
}

// DecomposeRange lazily yields the minimal set of digit prefixes whose
// subtrees exactly cover [start, end], in increasing order.
func DecomposeRange(start, end uint64, nbDigits uint) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		if start > end {
			return
		}
		var walk func(prefix []int) bool
		walk = func(prefix []int) bool {
			lo, hi := PrefixRange(prefix, nbDigits)
			if hi < start || lo > end {
				return true
			}
			// an empty prefix would commit to no digit at all
			if len(prefix) > 0 && lo >= start && hi <= end {
				return yield(append([]int(nil), prefix...))
			}
			for d := 0; d < 2; d++ {
				if !walk(append(prefix, d)) {
					return false
				}
			}
			return true
		}
		walk(make([]int, 0, nbDigits))
	}
}

// SecondaryRange returns the range of values a secondary oracle may attest
// for an outcome whose primary range is [start, end], clipped to the domain.
func SecondaryRange(start, end, maxValue uint64, params DifferenceParams) (uint64, uint64) {
	tolerance := params.Tolerance()
	lo := uint64(0)
	if start > tolerance {
		lo = start - tolerance
	}
	hi := maxValue
	if maxValue-end > tolerance {
		hi = end + tolerance
	}
	return lo, hi
}

// WithinTolerance reports whether all the given values lie within the
// maximum error allowed by params from the primary one.
func WithinTolerance(primary uint64, others []uint64, params DifferenceParams) bool {
	maxErr := uint64(1) << params.MaxErrorExp
	for _, v := range others {
		diff := v - primary
		if primary > v {
			diff = primary - v
		}
		if diff > maxErr {
			return false
		}
	}
	return true
}

// ExtendPrefix lazily yields every extension of prefix to minLen digits, or
// prefix itself when it is already long enough.
func ExtendPrefix(prefix []int, minLen uint) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		if uint(len(prefix)) >= minLen {
			yield(prefix)
			return
		}
		free := minLen - uint(len(prefix))
		base := DigitsToValue(prefix) << free
		for i := uint64(0); i < uint64(1)<<free; i++ {
			if !yield(ValueToDigits(base|i, minLen)) {
				return
			}
		}
	}
}
