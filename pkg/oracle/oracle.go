// Package oracle models oracle announcements and attestations and derives
// the attestation points contracts commit to.
package oracle

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	ErrNotYetAttested      = errors.New("event not yet attested")
	ErrInvalidAnnouncement = errors.New("invalid oracle announcement")
	ErrInvalidAttestation  = errors.New("invalid oracle attestation")

	AnnouncementTag = []byte("DLC/oracle/announcement/v0")
	AttestationTag  = []byte("DLC/oracle/attestation/v0")
)

// EventDescriptor is either an enumeration of outcomes or a base 2 digit
// decomposition with NbDigits digits.
type EventDescriptor struct {
	Outcomes []string `json:"outcomes,omitempty"`
	NbDigits uint     `json:"nbDigits,omitempty"`
}

func (d EventDescriptor) IsNumeric() bool {
	return d.NbDigits > 0
}

func (d EventDescriptor) NbNonces() int {
	if d.IsNumeric() {
		return int(d.NbDigits)
	}
	return 1
}

// Announcement is the commitment of an oracle to sign the outcome of an
// event with the announced nonces. Keys are hex encoded x-only keys.
type Announcement struct {
	PublicKey string          `json:"publicKey"`
	EventID   string          `json:"eventId"`
	Nonces    []string        `json:"nonces"`
	Maturity  int64           `json:"maturity"`
	Event     EventDescriptor `json:"event"`
	Signature string          `json:"signature"`
}

// Hash is the message signed by the oracle to authenticate the announcement.
func (a Announcement) Hash() ([]byte, error) {
	unsigned := a
	unsigned.Signature = ""
	buf, err := json.Marshal(unsigned)
	if err != nil {
		return nil, err
	}
	return chainhash.TaggedHash(AnnouncementTag, buf)[:], nil
}

func (a Announcement) PubKey() (*btcec.PublicKey, error) {
	return parseXOnlyKey(a.PublicKey)
}

func (a Announcement) NoncePoints() ([]*btcec.PublicKey, error) {
	nonces := make([]*btcec.PublicKey, 0, len(a.Nonces))
	for i, n := range a.Nonces {
		nonce, err := parseXOnlyKey(n)
		if err != nil {
			return nil, fmt.Errorf("%w: nonce %d: %s", ErrInvalidAnnouncement, i, err)
		}
		nonces = append(nonces, nonce)
	}
	return nonces, nil
}

func (a Announcement) Validate() error {
	if len(a.EventID) <= 0 {
		return fmt.Errorf("%w: missing event id", ErrInvalidAnnouncement)
	}
	if !a.Event.IsNumeric() && len(a.Event.Outcomes) <= 0 {
		return fmt.Errorf("%w: missing event outcomes", ErrInvalidAnnouncement)
	}
	if len(a.Nonces) != a.Event.NbNonces() {
		return fmt.Errorf(
			"%w: expected %d nonces, got %d",
			ErrInvalidAnnouncement, a.Event.NbNonces(), len(a.Nonces),
		)
	}
	pubkey, err := a.PubKey()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAnnouncement, err)
	}
	if _, err := a.NoncePoints(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(a.Nonces))
	for _, n := range a.Nonces {
		if _, ok := seen[n]; ok {
			return fmt.Errorf("%w: duplicated nonce", ErrInvalidAnnouncement)
		}
		seen[n] = struct{}{}
	}

	buf, err := hex.DecodeString(a.Signature)
	if err != nil {
		return fmt.Errorf("%w: invalid signature format", ErrInvalidAnnouncement)
	}
	sig, err := schnorr.ParseSignature(buf)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAnnouncement, err)
	}
	hash, err := a.Hash()
	if err != nil {
		return err
	}
	if !sig.Verify(hash, pubkey) {
		return fmt.Errorf("%w: signature verification failed", ErrInvalidAnnouncement)
	}
	return nil
}

// Attestation reveals one BIP340 signature per announced nonce, each over
// the corresponding outcome.
type Attestation struct {
	PublicKey  string   `json:"publicKey"`
	EventID    string   `json:"eventId"`
	Signatures []string `json:"signatures"`
	Outcomes   []string `json:"outcomes"`
}

// Verify checks the attestation against the announcement it fulfills.
func (a Attestation) Verify(announcement Announcement) error {
	if a.PublicKey != announcement.PublicKey || a.EventID != announcement.EventID {
		return fmt.Errorf("%w: attestation does not match announced event", ErrInvalidAttestation)
	}
	if len(a.Signatures) != len(announcement.Nonces) || len(a.Outcomes) != len(a.Signatures) {
		return fmt.Errorf(
			"%w: expected %d signatures and outcomes", ErrInvalidAttestation, len(announcement.Nonces),
		)
	}
	pubkey, err := announcement.PubKey()
	if err != nil {
		return err
	}
	if !announcement.Event.IsNumeric() && !slices.Contains(announcement.Event.Outcomes, a.Outcomes[0]) {
		return fmt.Errorf("%w: unknown outcome %s", ErrInvalidAttestation, a.Outcomes[0])
	}

	for i, s := range a.Signatures {
		buf, err := hex.DecodeString(s)
		if err != nil || len(buf) != schnorr.SignatureSize {
			return fmt.Errorf("%w: invalid signature %d format", ErrInvalidAttestation, i)
		}
		if hex.EncodeToString(buf[:32]) != announcement.Nonces[i] {
			return fmt.Errorf("%w: signature %d does not use announced nonce", ErrInvalidAttestation, i)
		}
		if announcement.Event.IsNumeric() && a.Outcomes[i] != "0" && a.Outcomes[i] != "1" {
			return fmt.Errorf("%w: invalid digit %q at %d", ErrInvalidAttestation, a.Outcomes[i], i)
		}
		sig, err := schnorr.ParseSignature(buf)
		if err != nil {
			return fmt.Errorf("%w: signature %d: %s", ErrInvalidAttestation, i, err)
		}
		if !sig.Verify(OutcomeHash(a.Outcomes[i]), pubkey) {
			return fmt.Errorf("%w: signature %d verification failed", ErrInvalidAttestation, i)
		}
	}
	return nil
}

// Secrets returns the s values of the attestation signatures, which are the
// discrete logs of the corresponding attestation points.
func (a Attestation) Secrets() ([]btcec.ModNScalar, error) {
	secrets := make([]btcec.ModNScalar, 0, len(a.Signatures))
	for i, s := range a.Signatures {
		buf, err := hex.DecodeString(s)
		if err != nil || len(buf) != schnorr.SignatureSize {
			return nil, fmt.Errorf("%w: invalid signature %d format", ErrInvalidAttestation, i)
		}
		var secret btcec.ModNScalar
		if overflow := secret.SetByteSlice(buf[32:]); overflow {
			return nil, fmt.Errorf("%w: signature %d overflows", ErrInvalidAttestation, i)
		}
		secrets = append(secrets, secret)
	}
	return secrets, nil
}

func OutcomeHash(outcome string) []byte {
	return chainhash.TaggedHash(AttestationTag, []byte(outcome))[:]
}

// AttestationPoint returns R + H(R || P || m)*P, the public counterpart of
// the signature the oracle will produce for outcome with the given nonce.
func AttestationPoint(pubkey, nonce *btcec.PublicKey, outcome string) *btcec.PublicKey {
	pubBytes := schnorr.SerializePubKey(pubkey)
	nonceBytes := schnorr.SerializePubKey(nonce)
	commitment := chainhash.TaggedHash(
		chainhash.TagBIP0340Challenge, nonceBytes, pubBytes, OutcomeHash(outcome),
	)
	var e btcec.ModNScalar
	e.SetBytes((*[32]byte)(commitment))

	// both keys are lifted to their even y representation
	evenPub, _ := schnorr.ParsePubKey(pubBytes)
	evenNonce, _ := schnorr.ParsePubKey(nonceBytes)

	var P, R, eP, result btcec.JacobianPoint
	evenPub.AsJacobian(&P)
	evenNonce.AsJacobian(&R)
	btcec.ScalarMultNonConst(&e, &P, &eP)
	btcec.AddNonConst(&R, &eP, &result)
	result.ToAffine()
	return btcec.NewPublicKey(&result.X, &result.Y)
}

// SumPoints adds the given points, failing if the result is the point at
// infinity.
func SumPoints(points ...*btcec.PublicKey) (*btcec.PublicKey, error) {
	if len(points) <= 0 {
		return nil, fmt.Errorf("no points to sum")
	}
	var sum btcec.JacobianPoint
	points[0].AsJacobian(&sum)
	for _, p := range points[1:] {
		var next, result btcec.JacobianPoint
		p.AsJacobian(&next)
		btcec.AddNonConst(&sum, &next, &result)
		sum = result
	}
	if (sum.X.IsZero() && sum.Y.IsZero()) || sum.Z.IsZero() {
		return nil, fmt.Errorf("points sum to infinity")
	}
	sum.ToAffine()
	return btcec.NewPublicKey(&sum.X, &sum.Y), nil
}

func parseXOnlyKey(key string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key format: %s", err)
	}
	return schnorr.ParsePubKey(buf)
}
