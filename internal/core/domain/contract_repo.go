package domain

import (
	"context"
	"errors"
)

var ErrContractNotFound = errors.New("contract not found")

// UnsettledStates are the states a contract can be in while its funding
// output is not spent by a settled tx.
var UnsettledStates = []ContractState{SignedState, ConfirmedState, ClosedState, RefundedState}

type ContractRepository interface {
	AddOrUpdateContract(ctx context.Context, contract Contract) error
	// GetContract returns the contract with the given temporary or permanent
	// id, or ErrContractNotFound.
	GetContract(ctx context.Context, id string) (*Contract, error)
	GetContracts(ctx context.Context) ([]Contract, error)
	GetContractsByState(ctx context.Context, states ...ContractState) ([]Contract, error)
	// GetUnsettledContracts returns the signed and confirmed contracts, and
	// the closed or refunded ones whose closing tx is not settled yet.
	GetUnsettledContracts(ctx context.Context) ([]Contract, error)
	Close()
}
