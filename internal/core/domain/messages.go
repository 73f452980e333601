package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/ark-network/dlc/pkg/outcome"
)

// OracleInfo lists the announcements of the oracles a contract info relies
// on and how many of them must agree for an outcome to settle.
type OracleInfo struct {
	Threshold     int                   `json:"threshold"`
	Announcements []oracle.Announcement `json:"announcements"`
}

// ContractInfo binds an outcome descriptor to the oracles attesting it.
type ContractInfo struct {
	Oracles    OracleInfo
	Descriptor outcome.Descriptor
}

type contractInfoJSON struct {
	Oracles    OracleInfo      `json:"oracles"`
	Descriptor json.RawMessage `json:"descriptor"`
}

func (i ContractInfo) MarshalJSON() ([]byte, error) {
	descriptor, err := outcome.MarshalDescriptor(i.Descriptor)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contractInfoJSON{i.Oracles, descriptor})
}

func (i *ContractInfo) UnmarshalJSON(buf []byte) error {
	var info contractInfoJSON
	if err := json.Unmarshal(buf, &info); err != nil {
		return err
	}
	descriptor, err := outcome.UnmarshalDescriptor(info.Descriptor)
	if err != nil {
		return err
	}
	i.Oracles = info.Oracles
	i.Descriptor = descriptor
	return nil
}

type FundingInput struct {
	Txid          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"amount"`
	PkScript      string `json:"pkScript"`
	MaxWitnessLen uint32 `json:"maxWitnessLen"`
}

// PartyParams are the funding and payout parameters of one party. Scripts
// and keys are hex encoded.
type PartyParams struct {
	FundPubkey    string         `json:"fundPubkey"`
	PayoutScript  string         `json:"payoutScript"`
	ChangeScript  string         `json:"changeScript"`
	Collateral    uint64         `json:"collateral"`
	FundingInputs []FundingInput `json:"fundingInputs"`
}

func (p PartyParams) InputAmount() uint64 {
	var total uint64
	for _, in := range p.FundingInputs {
		total += in.Amount
	}
	return total
}

type OfferMsg struct {
	TemporaryContractId string         `json:"temporaryContractId"`
	ContractInfos       []ContractInfo `json:"contractInfos"`
	OfferParams         PartyParams    `json:"offerParams"`
	AcceptCollateral    uint64         `json:"acceptCollateral"`
	FeeRate             uint64         `json:"feeRate"`
	Maturity            uint32         `json:"maturity"`
	RefundLocktime      uint32         `json:"refundLocktime"`
}

// ComputeTemporaryId returns the hash of the offer serialized without its
// temporary id.
func (m OfferMsg) ComputeTemporaryId() (string, error) {
	unsigned := m
	unsigned.TemporaryContractId = ""
	buf, err := json.Marshal(unsigned)
	if err != nil {
		return "", fmt.Errorf("failed to serialize offer: %s", err)
	}
	hash := sha256.Sum256(buf)
	return hex.EncodeToString(hash[:]), nil
}

func (m OfferMsg) TotalCollateral() uint64 {
	return m.OfferParams.Collateral + m.AcceptCollateral
}

type AcceptMsg struct {
	TemporaryContractId  string      `json:"temporaryContractId"`
	AcceptParams         PartyParams `json:"acceptParams"`
	CetAdaptorSignatures []string    `json:"cetAdaptorSignatures"`
	RefundSignature      string      `json:"refundSignature"`
}

type SignMsg struct {
	ContractId           string     `json:"contractId"`
	CetAdaptorSignatures []string   `json:"cetAdaptorSignatures"`
	RefundSignature      string     `json:"refundSignature"`
	FundingWitnesses     [][]string `json:"fundingWitnesses"`
}
