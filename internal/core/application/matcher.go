package application

import (
	"slices"
	"strconv"

	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/ark-network/dlc/pkg/outcome"
	"github.com/btcsuite/btcd/btcec/v2"
)

// ResolvedOutcome is the outcome a set of attestations settles a contract
// on, along with the secret decrypting the matching adaptor signature.
type ResolvedOutcome struct {
	InfoIndex  int
	EntryIndex int
	// Outcome is the attested label, or the attested value of the first
	// oracle of the subset for numeric contracts.
	Outcome string
	Payout  outcome.Payout
	Oracles []string

	secret btcec.ModNScalar
}

// Resolve returns the first entry of the plan whose oracles all attested
// the committed outcomes. attestations[i][j] is the attestation of the j-th
// oracle of the i-th contract info, nil if not yet available. Attestations
// are expected to be verified against their announcements.
// The result is false while not enough oracles attested.
func (p *ContractPlan) Resolve(attestations [][]*oracle.Attestation) (*ResolvedOutcome, bool, error) {
	for index, entry := range p.entries {
		if entry.info >= len(attestations) {
			continue
		}
		atts := attestations[entry.info]
		if !entry.matches(atts) {
			continue
		}

		info := p.infos[entry.info]
		value, ok := info.attestedValue(entry, atts)
		if !ok {
			continue
		}

		var secret btcec.ModNScalar
		oracles := make([]string, 0, len(entry.oracles))
		for j, oracleIndex := range entry.oracles {
			att := atts[oracleIndex]
			secrets, err := att.Secrets()
			if err != nil {
				return nil, false, err
			}
			for k := range entry.messages[j] {
				secret.Add(&secrets[k])
			}
			oracles = append(oracles, att.PublicKey)
		}

		return &ResolvedOutcome{
			InfoIndex:  entry.info,
			EntryIndex: index,
			Outcome:    value,
			Payout:     info.payouts[entry.cet],
			Oracles:    oracles,
			secret:     secret,
		}, true, nil
	}
	return nil, false, nil
}

func (e adaptorEntry) matches(atts []*oracle.Attestation) bool {
	for j, oracleIndex := range e.oracles {
		if oracleIndex >= len(atts) || atts[oracleIndex] == nil {
			return false
		}
		attested := atts[oracleIndex].Outcomes
		msgs := e.messages[j]
		if len(attested) < len(msgs) || !slices.Equal(attested[:len(msgs)], msgs) {
			return false
		}
	}
	return true
}

// attestedValue returns the outcome settled by the entry. For numeric
// contracts with difference params it also checks that the values of the
// subset agree within the allowed error.
func (i *infoPlan) attestedValue(entry adaptorEntry, atts []*oracle.Attestation) (string, bool) {
	d, ok := i.info.Descriptor.(outcome.NumericalDescriptor)
	if !ok {
		return entry.messages[0][0], true
	}

	values := make([]uint64, 0, len(entry.oracles))
	for _, oracleIndex := range entry.oracles {
		attested := atts[oracleIndex].Outcomes
		value := outcome.DigitsToValue(stringsToDigits(attested))
		values = append(values, outcome.Truncate(value, uint(len(attested)), d.NbDigits))
	}
	if d.Difference != nil && !outcome.WithinTolerance(values[0], values[1:], *d.Difference) {
		return "", false
	}
	return strconv.FormatUint(values[0], 10), true
}
