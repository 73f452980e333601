package application

import (
	"encoding/json"
	"fmt"

	"github.com/ark-network/dlc/pkg/dlctx"
	"github.com/ark-network/dlc/pkg/outcome"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// DefaultRefundDelay is the time after maturity from which the refund
	// tx becomes valid, one week.
	DefaultRefundDelay = 7 * 24 * 60 * 60
	// DefaultNbConfirmations is the depth at which the funding tx is
	// considered confirmed.
	DefaultNbConfirmations = 6
	maxFeeRate             = 10000
)

type OracleInput struct {
	PublicKeys []string `json:"publicKeys"`
	EventID    string   `json:"eventId"`
	Threshold  int      `json:"threshold"`
}

type ContractInputInfo struct {
	Oracles    OracleInput
	Descriptor outcome.Descriptor
}

type contractInputInfoJSON struct {
	Oracles    OracleInput     `json:"oracles"`
	Descriptor json.RawMessage `json:"descriptor"`
}

func (i ContractInputInfo) MarshalJSON() ([]byte, error) {
	descriptor, err := outcome.MarshalDescriptor(i.Descriptor)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contractInputInfoJSON{i.Oracles, descriptor})
}

func (i *ContractInputInfo) UnmarshalJSON(buf []byte) error {
	var info contractInputInfoJSON
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

// ContractInput is what the offer party proposes: the collateral split, the
// maturity as unix timestamp, the fee rate in sats/vbyte and the contract
// infos.
type ContractInput struct {
	OfferCollateral  uint64              `json:"offerCollateral"`
	AcceptCollateral uint64              `json:"acceptCollateral"`
	FeeRate          uint64              `json:"feeRate"`
	Maturity         uint32              `json:"maturity"`
	Infos            []ContractInputInfo `json:"infos"`
}

func (i ContractInput) TotalCollateral() uint64 {
	return i.OfferCollateral + i.AcceptCollateral
}

func (i ContractInput) Validate() error {
	if i.FeeRate <= 0 || i.FeeRate > maxFeeRate {
		return fmt.Errorf("fee rate must be in range [1, %d]", maxFeeRate)
	}
	if i.TotalCollateral() < 2*dlctx.DustLimit {
		return fmt.Errorf("total collateral must be at least %d", 2*dlctx.DustLimit)
	}
	if i.Maturity <= 0 {
		return fmt.Errorf("missing maturity")
	}
	if len(i.Infos) <= 0 {
		return fmt.Errorf("missing contract infos")
	}
	for index, info := range i.Infos {
		if err := info.Oracles.validate(); err != nil {
			return fmt.Errorf("contract info %d: %s", index, err)
		}
		if info.Descriptor == nil {
			return fmt.Errorf("contract info %d: missing descriptor", index)
		}
		if err := info.Descriptor.Validate(i.TotalCollateral()); err != nil {
			return fmt.Errorf("contract info %d: %s", index, err)
		}
	}
	return nil
}

func (o OracleInput) validate() error {
	if len(o.EventID) <= 0 {
		return fmt.Errorf("missing event id")
	}
	if len(o.PublicKeys) <= 0 {
		return fmt.Errorf("missing oracles")
	}
	if o.Threshold <= 0 || o.Threshold > len(o.PublicKeys) {
		return fmt.Errorf("threshold must be in range [1, %d]", len(o.PublicKeys))
	}
	seen := make(map[string]struct{})
	for _, key := range o.PublicKeys {
		if _, ok := seen[key]; ok {
			return fmt.Errorf("duplicated oracle %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

type Config struct {
	Network         *chaincfg.Params
	NbConfirmations uint32
	// RefundDelay is in seconds.
	RefundDelay uint32
}

func (c Config) withDefaults() Config {
	if c.Network == nil {
		c.Network = &chaincfg.RegressionNetParams
	}
	if c.NbConfirmations <= 0 {
		c.NbConfirmations = DefaultNbConfirmations
	}
	if c.RefundDelay <= 0 {
		c.RefundDelay = DefaultRefundDelay
	}
	return c
}
