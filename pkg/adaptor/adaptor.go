// Package adaptor implements BIP340 compatible Schnorr adaptor signatures
// over secp256k1.
//
// An adaptor signature (R', s') for the adaptor point T = t*G satisfies
//
//	s'*G = R' - T + e*P,  e = H_BIP340(R'.x || P.x || m)
//
// and becomes the valid BIP340 signature (R'.x, s' + t) once t is known.
package adaptor

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const SignatureSize = 64

var (
	ErrInvalidSignature = errors.New("invalid adaptor signature")
	ErrSecretMismatch   = errors.New("secret does not match adaptor point")

	nonceTag = []byte("DLC/adaptor/nonce")
)

// Signature is an adaptor signature. R is the x coordinate of the final
// nonce point, whose y coordinate is always even.
type Signature struct {
	R btcec.FieldVal
	S btcec.ModNScalar
}

func (s *Signature) Serialize() []byte {
	buf := make([]byte, SignatureSize)
	s.R.PutBytesUnchecked(buf[:32])
	s.S.PutBytesUnchecked(buf[32:])
	return buf
}

func ParseSignature(buf []byte) (*Signature, error) {
	if len(buf) != SignatureSize {
		return nil, fmt.Errorf(
			"%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureSize, len(buf),
		)
	}
	sig := &Signature{}
	if overflow := sig.R.SetByteSlice(buf[:32]); overflow {
		return nil, fmt.Errorf("%w: r overflows field", ErrInvalidSignature)
	}
	if overflow := sig.S.SetByteSlice(buf[32:]); overflow {
		return nil, fmt.Errorf("%w: s overflows group order", ErrInvalidSignature)
	}
	return sig, nil
}

// Sign produces an adaptor signature of the 32 bytes message hash for the
// given adaptor point. Nonces are derived deterministically from the key,
// the message and the adaptor point.
func Sign(
	priv *btcec.PrivateKey, hash []byte, point *btcec.PublicKey,
) (*Signature, error) {
	if len(hash) != chainhash.HashSize {
		return nil, fmt.Errorf("wrong size for message hash (got %v, want %v)", len(hash), chainhash.HashSize)
	}
	if point == nil {
		return nil, fmt.Errorf("missing adaptor point")
	}

	d := priv.Key
	if d.IsZero() {
		return nil, fmt.Errorf("invalid private key")
	}
	pub := priv.PubKey()
	if pub.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		d.Negate()
	}
	pubBytes := schnorr.SerializePubKey(pub)
	dBytes := d.Bytes()
	extra := chainhash.TaggedHash(nonceTag, point.SerializeCompressed())

	var adaptorPoint btcec.JacobianPoint
	point.AsJacobian(&adaptorPoint)

	for iteration := uint32(0); ; iteration++ {
		k := secp256k1.NonceRFC6979(dBytes[:], hash, extra[:], nil, iteration)

		// R' = k*G + T, retried until it has an even y coordinate.
		var R, finalR btcec.JacobianPoint
		btcec.ScalarBaseMultNonConst(k, &R)
		btcec.AddNonConst(&R, &adaptorPoint, &finalR)
		if (finalR.X.IsZero() && finalR.Y.IsZero()) || finalR.Z.IsZero() {
			k.Zero()
			continue
		}
		finalR.ToAffine()
		if finalR.Y.IsOdd() {
			k.Zero()
			continue
		}

		e := challenge(&finalR.X, pubBytes, hash)

		var s btcec.ModNScalar
		s.Mul2(e, &d).Add(k)
		k.Zero()

		return &Signature{R: finalR.X, S: s}, nil
	}
}

// Verify checks the adaptor signature of hash under pub for the given
// adaptor point.
func Verify(
	sig *Signature, pub *btcec.PublicKey, hash []byte, point *btcec.PublicKey,
) error {
	if len(hash) != chainhash.HashSize {
		return fmt.Errorf("wrong size for message hash (got %v, want %v)", len(hash), chainhash.HashSize)
	}

	rBytes := sig.R.Bytes()
	finalR, err := schnorr.ParsePubKey(rBytes[:])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	pubBytes := schnorr.SerializePubKey(pub)
	evenPub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return err
	}

	e := challenge(&sig.R, pubBytes, hash)

	var sG, P, eP, Rj, negT, RminusT, expected btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&sig.S, &sG)

	evenPub.AsJacobian(&P)
	btcec.ScalarMultNonConst(e, &P, &eP)

	finalR.AsJacobian(&Rj)
	point.AsJacobian(&negT)
	negT.Y.Negate(1).Normalize()
	btcec.AddNonConst(&Rj, &negT, &RminusT)
	btcec.AddNonConst(&RminusT, &eP, &expected)

	sG.ToAffine()
	expected.ToAffine()
	if !sG.X.Equals(&expected.X) || !sG.Y.Equals(&expected.Y) {
		return ErrInvalidSignature
	}
	return nil
}

// Decrypt completes the adaptor signature with the discrete log of the
// adaptor point. It fails if secret*G differs from point.
func Decrypt(
	sig *Signature, secret *btcec.ModNScalar, point *btcec.PublicKey,
) (*schnorr.Signature, error) {
	var tG btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(secret, &tG)
	tG.ToAffine()
	if !btcec.NewPublicKey(&tG.X, &tG.Y).IsEqual(point) {
		return nil, ErrSecretMismatch
	}

	var s btcec.ModNScalar
	s.Set(secret).Add(&sig.S)
	return schnorr.NewSignature(&sig.R, &s), nil
}

// Recover extracts the adaptor secret from the adaptor signature and the
// completed signature.
func Recover(sig *Signature, final *schnorr.Signature) (*btcec.ModNScalar, error) {
	buf := final.Serialize()
	var r btcec.FieldVal
	r.SetByteSlice(buf[:32])
	if !r.Equals(&sig.R) {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidSignature)
	}

	var s, t btcec.ModNScalar
	s.SetByteSlice(buf[32:])
	t.NegateVal(&sig.S).Add(&s)
	return &t, nil
}

func challenge(r *btcec.FieldVal, pubBytes, hash []byte) *btcec.ModNScalar {
	rBytes := r.Bytes()
	commitment := chainhash.TaggedHash(chainhash.TagBIP0340Challenge, rBytes[:], pubBytes, hash)

	var e btcec.ModNScalar
	e.SetBytes((*[32]byte)(commitment))
	return &e
}
