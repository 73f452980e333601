// Package oracletest provides an in-memory oracle announcing events and
// attesting outcomes with real BIP340 keys, for tests.
package oracletest

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

type event struct {
	announcement *oracle.Announcement
	nonces       []*btcec.PrivateKey
	attestation  *oracle.Attestation
}

type Oracle struct {
	key *btcec.PrivateKey

	lock   sync.Mutex
	events map[string]*event
}

func New() (*Oracle, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Oracle{key: key, events: make(map[string]*event)}, nil
}

func (o *Oracle) PublicKey() string {
	return hex.EncodeToString(schnorr.SerializePubKey(o.key.PubKey()))
}

// Announce creates and signs the announcement of a new event.
func (o *Oracle) Announce(
	eventID string, maturity int64, descriptor oracle.EventDescriptor,
) (*oracle.Announcement, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if _, ok := o.events[eventID]; ok {
		return nil, fmt.Errorf("event %s already announced", eventID)
	}

	nonces := make([]*btcec.PrivateKey, 0, descriptor.NbNonces())
	publicNonces := make([]string, 0, descriptor.NbNonces())
	for i := 0; i < descriptor.NbNonces(); i++ {
		nonce, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, err
		}
		nonces = append(nonces, nonce)
		publicNonces = append(publicNonces, hex.EncodeToString(schnorr.SerializePubKey(nonce.PubKey())))
	}

	announcement := &oracle.Announcement{
		PublicKey: o.PublicKey(),
		EventID:   eventID,
		Nonces:    publicNonces,
		Maturity:  maturity,
		Event:     descriptor,
	}
	hash, err := announcement.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(o.key, hash)
	if err != nil {
		return nil, err
	}
	announcement.Signature = hex.EncodeToString(sig.Serialize())

	o.events[eventID] = &event{announcement: announcement, nonces: nonces}
	return announcement, nil
}

// AttestOutcome attests an outcome of an enumerated event.
func (o *Oracle) AttestOutcome(eventID, outcome string) (*oracle.Attestation, error) {
	return o.attest(eventID, []string{outcome})
}

// AttestValue attests a value of a numeric event, one digit per nonce.
func (o *Oracle) AttestValue(eventID string, value uint64) (*oracle.Attestation, error) {
	o.lock.Lock()
	ev, ok := o.events[eventID]
	o.lock.Unlock()
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}

	nbDigits := ev.announcement.Event.NbDigits
	outcomes := make([]string, 0, nbDigits)
	for i := int(nbDigits) - 1; i >= 0; i-- {
		outcomes = append(outcomes, strconv.FormatUint((value>>uint(i))&1, 10))
	}
	return o.attest(eventID, outcomes)
}

func (o *Oracle) attest(eventID string, outcomes []string) (*oracle.Attestation, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	ev, ok := o.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	if len(outcomes) != len(ev.nonces) {
		return nil, fmt.Errorf("expected %d outcomes, got %d", len(ev.nonces), len(outcomes))
	}

	sigs := make([]string, 0, len(outcomes))
	for i, outcome := range outcomes {
		sig := signWithNonce(o.key, ev.nonces[i], oracle.OutcomeHash(outcome))
		sigs = append(sigs, hex.EncodeToString(sig.Serialize()))
	}
	ev.attestation = &oracle.Attestation{
		PublicKey:  o.PublicKey(),
		EventID:    eventID,
		Signatures: sigs,
		Outcomes:   outcomes,
	}
	return ev.attestation, nil
}

func (o *Oracle) GetAnnouncement(_ context.Context, eventID string) (*oracle.Announcement, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	ev, ok := o.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	return ev.announcement, nil
}

func (o *Oracle) GetAttestation(_ context.Context, eventID string) (*oracle.Attestation, error) {
	o.lock.Lock()
	defer o.lock.Unlock()

	ev, ok := o.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	if ev.attestation == nil {
		return nil, oracle.ErrNotYetAttested
	}
	return ev.attestation, nil
}

// signWithNonce produces s = k + e*d with the pre-committed nonce k.
func signWithNonce(key, nonce *btcec.PrivateKey, hash []byte) *schnorr.Signature {
	d := key.Key
	if key.PubKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		d.Negate()
	}
	k := nonce.Key
	if nonce.PubKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		k.Negate()
	}

	nonceBytes := schnorr.SerializePubKey(nonce.PubKey())
	commitment := chainhash.TaggedHash(
		chainhash.TagBIP0340Challenge, nonceBytes, schnorr.SerializePubKey(key.PubKey()), hash,
	)
	var e, s btcec.ModNScalar
	e.SetBytes((*[32]byte)(commitment))
	s.Mul2(&e, &d).Add(&k)

	var r btcec.FieldVal
	r.SetByteSlice(nonceBytes)
	return schnorr.NewSignature(&r, &s)
}
