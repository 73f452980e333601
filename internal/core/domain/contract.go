package domain

import (
	"fmt"

	"github.com/ark-network/dlc/pkg/outcome"
)

const (
	UndefinedState ContractState = iota
	OfferedState
	AcceptedState
	SignedState
	ConfirmedState
	ClosedState
	RefundedState
	FailedAcceptState
	FailedSignState
	RejectedState
)

type ContractState int

func (s ContractState) String() string {
	switch s {
	case OfferedState:
		return "OFFERED"
	case AcceptedState:
		return "ACCEPTED"
	case SignedState:
		return "SIGNED"
	case ConfirmedState:
		return "CONFIRMED"
	case ClosedState:
		return "CLOSED"
	case RefundedState:
		return "REFUNDED"
	case FailedAcceptState:
		return "FAILED_ACCEPT"
	case FailedSignState:
		return "FAILED_SIGN"
	case RejectedState:
		return "REJECTED"
	default:
		return "UNDEFINED"
	}
}

// IsFinal reports whether no transition can leave the state.
func (s ContractState) IsFinal() bool {
	switch s {
	case ClosedState, RefundedState, FailedAcceptState, FailedSignState, RejectedState:
		return true
	default:
		return false
	}
}

// Resolution records which outcome settled a contract.
type Resolution struct {
	InfoIndex int            `json:"infoIndex"`
	Outcome   string         `json:"outcome"`
	Payout    outcome.Payout `json:"payout"`
	Oracles   []string       `json:"oracles"`
}

// Contract is the aggregate tracking a contract of one party through its
// lifecycle. It is mutated only through its transition methods, each raising
// the event that is then applied.
type Contract struct {
	TemporaryId  string        `json:"temporaryId"`
	Id           string        `json:"id"`
	IsOfferParty bool          `json:"isOfferParty"`
	State        ContractState `json:"state"`
	OfferMsg     OfferMsg      `json:"offer"`
	AcceptMsg    *AcceptMsg    `json:"accept,omitempty"`
	SignMsg      *SignMsg      `json:"sign,omitempty"`
	// FundingTx is the hex encoded signed funding tx for the accept party,
	// and the unsigned one for the offer party.
	FundingTx   string      `json:"fundingTx,omitempty"`
	FundingTxid string      `json:"fundingTxid,omitempty"`
	ClosingTx   string      `json:"closingTx,omitempty"`
	ClosingTxid string      `json:"closingTxid,omitempty"`
	Resolution  *Resolution `json:"resolution,omitempty"`
	// Settled is set once the closing tx reached enough confirmations. Until
	// then a closed or refunded contract can still be corrected by what is
	// observed on chain.
	Settled       bool            `json:"settled,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	CreatedAt     int64           `json:"createdAt"`
	UpdatedAt     int64           `json:"updatedAt"`
	Version       uint            `json:"version"`
	Changes       []ContractEvent `json:"-"`
}

// NewContract records an offer, either sent or received.
func NewContract(offer OfferMsg, isOfferParty bool, timestamp int64) (*Contract, error) {
	if len(offer.TemporaryContractId) <= 0 {
		return nil, fmt.Errorf("missing temporary contract id")
	}
	c := &Contract{Changes: make([]ContractEvent, 0)}
	c.raise(ContractOffered{
		TemporaryId:  offer.TemporaryContractId,
		IsOfferParty: isOfferParty,
		Offer:        offer,
		Timestamp:    timestamp,
	})
	return c, nil
}

func NewContractFromEvents(events []ContractEvent) *Contract {
	c := &Contract{}

	for _, event := range events {
		c.On(event, true)
	}

	c.Changes = append([]ContractEvent{}, events...)

	return c
}

func (c *Contract) On(event ContractEvent, replayed bool) {
	switch e := event.(type) {
	case ContractOffered:
		c.State = OfferedState
		c.TemporaryId = e.TemporaryId
		c.IsOfferParty = e.IsOfferParty
		c.OfferMsg = e.Offer
		c.CreatedAt = e.Timestamp
		c.UpdatedAt = e.Timestamp
	case ContractAccepted:
		c.State = AcceptedState
		c.Id = e.Id
		accept := e.Accept
		c.AcceptMsg = &accept
		c.FundingTx = e.FundingTx
		c.FundingTxid = e.FundingTxid
		c.UpdatedAt = e.Timestamp
	case ContractSigned:
		c.State = SignedState
		c.Id = e.Id
		if e.Accept != nil {
			accept := *e.Accept
			c.AcceptMsg = &accept
		}
		sign := e.Sign
		c.SignMsg = &sign
		c.FundingTx = e.FundingTx
		c.FundingTxid = e.FundingTxid
		c.UpdatedAt = e.Timestamp
	case ContractConfirmed:
		c.State = ConfirmedState
		c.UpdatedAt = e.Timestamp
	case ContractClosed:
		c.State = ClosedState
		c.ClosingTx = e.ClosingTx
		c.ClosingTxid = e.ClosingTxid
		c.Resolution = e.Resolution
		c.UpdatedAt = e.Timestamp
	case ContractRefunded:
		c.State = RefundedState
		c.ClosingTx = e.ClosingTx
		c.ClosingTxid = e.ClosingTxid
		c.Resolution = nil
		c.UpdatedAt = e.Timestamp
	case ContractSettled:
		c.Settled = true
		c.UpdatedAt = e.Timestamp
	case ContractFailed:
		c.State = e.State
		c.FailureReason = e.Reason
		c.UpdatedAt = e.Timestamp
	case ContractRejected:
		c.State = RejectedState
		c.UpdatedAt = e.Timestamp
	}

	if replayed {
		c.Version++
	}
}

// Accept moves a received offer to accepted once the accept party produced
// its signatures.
func (c *Contract) Accept(
	accept AcceptMsg, id, fundingTx, fundingTxid string, timestamp int64,
) ([]ContractEvent, error) {
	if c.State != OfferedState || c.IsOfferParty {
		return nil, fmt.Errorf("not in a valid state to accept contract")
	}
	if len(id) <= 0 || len(fundingTxid) <= 0 {
		return nil, fmt.Errorf("missing contract id or funding txid")
	}

	event := ContractAccepted{
		TemporaryId: c.TemporaryId,
		Id:          id,
		Accept:      accept,
		FundingTx:   fundingTx,
		FundingTxid: fundingTxid,
		Timestamp:   timestamp,
	}
	c.raise(event)

	return []ContractEvent{event}, nil
}

// Sign moves the contract to signed. The offer party signs from offered
// and must provide the accept message, the accept party from accepted.
func (c *Contract) Sign(
	accept *AcceptMsg, sign SignMsg, id, fundingTx, fundingTxid string, timestamp int64,
) ([]ContractEvent, error) {
	if c.IsOfferParty {
		if c.State != OfferedState {
			return nil, fmt.Errorf("not in a valid state to sign contract")
		}
		if accept == nil {
			return nil, fmt.Errorf("missing accept message")
		}
	} else {
		if c.State != AcceptedState {
			return nil, fmt.Errorf("not in a valid state to sign contract")
		}
		if len(c.Id) > 0 && id != c.Id {
			return nil, fmt.Errorf("contract id mismatch, expected %s, got %s", c.Id, id)
		}
		accept = nil
	}

	event := ContractSigned{
		TemporaryId: c.TemporaryId,
		Id:          id,
		Accept:      accept,
		Sign:        sign,
		FundingTx:   fundingTx,
		FundingTxid: fundingTxid,
		Timestamp:   timestamp,
	}
	c.raise(event)

	return []ContractEvent{event}, nil
}

func (c *Contract) Confirm(timestamp int64) ([]ContractEvent, error) {
	if c.State != SignedState {
		return nil, fmt.Errorf("not in a valid state to confirm contract")
	}

	event := ContractConfirmed{Id: c.Id, Timestamp: timestamp}
	c.raise(event)

	return []ContractEvent{event}, nil
}

// Close records the settlement of the contract through a CET. Resolution is
// nil when the CET was broadcast by the counterparty and observed on chain.
// A closed or refunded contract that is not settled yet can be closed again
// with the CET that actually spent the funding output.
func (c *Contract) Close(
	closingTx, closingTxid string, resolution *Resolution, timestamp int64,
) ([]ContractEvent, error) {
	if !c.canSpendFunding(closingTxid) {
		return nil, fmt.Errorf("not in a valid state to close contract")
	}
	if len(closingTxid) <= 0 {
		return nil, fmt.Errorf("missing closing txid")
	}

	event := ContractClosed{
		Id:          c.Id,
		ClosingTx:   closingTx,
		ClosingTxid: closingTxid,
		Resolution:  resolution,
		Timestamp:   timestamp,
	}
	c.raise(event)

	return []ContractEvent{event}, nil
}

// Refund records the settlement of the contract through the refund tx, with
// the same correction rule as Close.
func (c *Contract) Refund(refundTx, refundTxid string, timestamp int64) ([]ContractEvent, error) {
	if !c.canSpendFunding(refundTxid) {
		return nil, fmt.Errorf("not in a valid state to refund contract")
	}
	if len(refundTxid) <= 0 {
		return nil, fmt.Errorf("missing refund txid")
	}

	event := ContractRefunded{
		Id:          c.Id,
		ClosingTx:   refundTx,
		ClosingTxid: refundTxid,
		Timestamp:   timestamp,
	}
	c.raise(event)

	return []ContractEvent{event}, nil
}

// Settle marks the closing tx of a closed or refunded contract as
// confirmed. The contract cannot change anymore.
func (c *Contract) Settle(timestamp int64) ([]ContractEvent, error) {
	if (c.State != ClosedState && c.State != RefundedState) || c.Settled {
		return nil, fmt.Errorf("not in a valid state to settle contract")
	}

	event := ContractSettled{Id: c.Id, ClosingTxid: c.ClosingTxid, Timestamp: timestamp}
	c.raise(event)

	return []ContractEvent{event}, nil
}

// FailAccept marks an offer whose accept message could not be verified.
func (c *Contract) FailAccept(reason error, timestamp int64) ([]ContractEvent, error) {
	if c.State != OfferedState || !c.IsOfferParty {
		return nil, fmt.Errorf("not in a valid state to fail accept")
	}
	return c.fail(FailedAcceptState, reason, timestamp), nil
}

// FailSign marks an accepted contract whose sign message could not be
// verified.
func (c *Contract) FailSign(reason error, timestamp int64) ([]ContractEvent, error) {
	if c.State != AcceptedState {
		return nil, fmt.Errorf("not in a valid state to fail sign")
	}
	return c.fail(FailedSignState, reason, timestamp), nil
}

func (c *Contract) Reject(timestamp int64) ([]ContractEvent, error) {
	if c.State != OfferedState || c.IsOfferParty {
		return nil, fmt.Errorf("not in a valid state to reject offer")
	}

	event := ContractRejected{TemporaryId: c.TemporaryId, Timestamp: timestamp}
	c.raise(event)

	return []ContractEvent{event}, nil
}

func (c *Contract) IsFinal() bool {
	return c.State.IsFinal()
}

// OwnParams returns the party params of the owner of the contract.
func (c *Contract) OwnParams() *PartyParams {
	if c.IsOfferParty {
		return &c.OfferMsg.OfferParams
	}
	if c.AcceptMsg == nil {
		return nil
	}
	return &c.AcceptMsg.AcceptParams
}

// CounterpartyAdaptorSignatures returns the CET adaptor signatures received
// from the other party, if any.
func (c *Contract) CounterpartyAdaptorSignatures() []string {
	if c.IsOfferParty {
		if c.AcceptMsg == nil {
			return nil
		}
		return c.AcceptMsg.CetAdaptorSignatures
	}
	if c.SignMsg == nil {
		return nil
	}
	return c.SignMsg.CetAdaptorSignatures
}

// CounterpartyRefundSignature returns the refund signature received from the
// other party.
func (c *Contract) CounterpartyRefundSignature() string {
	if c.IsOfferParty {
		if c.AcceptMsg == nil {
			return ""
		}
		return c.AcceptMsg.RefundSignature
	}
	if c.SignMsg == nil {
		return ""
	}
	return c.SignMsg.RefundSignature
}

func (c *Contract) canSpendFunding(txid string) bool {
	switch c.State {
	case ConfirmedState:
		return true
	case ClosedState, RefundedState:
		return !c.Settled && txid != c.ClosingTxid
	default:
		return false
	}
}

func (c *Contract) fail(state ContractState, reason error, timestamp int64) []ContractEvent {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	event := ContractFailed{
		Id:        c.Id,
		State:     state,
		Reason:    msg,
		Timestamp: timestamp,
	}
	c.raise(event)

	return []ContractEvent{event}
}

func (c *Contract) raise(event ContractEvent) {
	if c.Changes == nil {
		c.Changes = make([]ContractEvent, 0)
	}
	c.Changes = append(c.Changes, event)
	c.On(event, false)
}
