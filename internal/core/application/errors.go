package application

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidContractInput = errors.New("invalid contract input")
	ErrInvalidOffer         = errors.New("invalid offer")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrUtxoSelection        = errors.New("utxo selection failed")
	ErrInvalidState         = errors.New("invalid contract state")
	ErrUnknownOracle        = errors.New("unknown oracle")
)

type SignatureKind int

const (
	CetSignature SignatureKind = iota
	RefundSignature
	FundingSignature
)

func (k SignatureKind) String() string {
	switch k {
	case CetSignature:
		return "cet adaptor"
	case RefundSignature:
		return "refund"
	case FundingSignature:
		return "funding"
	default:
		return "unknown"
	}
}

// SignatureError reports the first signature of a peer message that failed
// verification.
type SignatureError struct {
	Kind  SignatureKind
	Index int
	Err   error
}

func (e *SignatureError) Error() string {
	msg := fmt.Sprintf("invalid %s signature at index %d", e.Kind, e.Index)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *SignatureError) Unwrap() error {
	return ErrInvalidSignature
}
