package oracle_test

import (
	"encoding/hex"
	"testing"

	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/ark-network/dlc/pkg/oracle/oracletest"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestAnnouncement(t *testing.T) {
	o, err := oracletest.New()
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		ann, err := o.Announce("enum", 1000, oracle.EventDescriptor{Outcomes: []string{"a", "b"}})
		require.NoError(t, err)
		require.NoError(t, ann.Validate())
		require.Len(t, ann.Nonces, 1)

		ann, err = o.Announce("numeric", 1000, oracle.EventDescriptor{NbDigits: 5})
		require.NoError(t, err)
		require.NoError(t, ann.Validate())
		require.Len(t, ann.Nonces, 5)
	})

	t.Run("invalid", func(t *testing.T) {
		ann, err := o.Announce("tampered", 1000, oracle.EventDescriptor{Outcomes: []string{"a"}})
		require.NoError(t, err)

		tampered := *ann
		tampered.Maturity++
		require.ErrorIs(t, tampered.Validate(), oracle.ErrInvalidAnnouncement)

		tampered = *ann
		tampered.Nonces = append(tampered.Nonces, tampered.Nonces[0])
		require.ErrorIs(t, tampered.Validate(), oracle.ErrInvalidAnnouncement)

		tampered = *ann
		tampered.EventID = ""
		require.ErrorIs(t, tampered.Validate(), oracle.ErrInvalidAnnouncement)
	})
}

func TestAttestation(t *testing.T) {
	o, err := oracletest.New()
	require.NoError(t, err)

	t.Run("enum", func(t *testing.T) {
		ann, err := o.Announce("enum", 1000, oracle.EventDescriptor{Outcomes: []string{"a", "b"}})
		require.NoError(t, err)

		att, err := o.AttestOutcome("enum", "a")
		require.NoError(t, err)
		require.NoError(t, att.Verify(*ann))

		requireSecretsMatchPoints(t, ann, att)

		tampered := *att
		tampered.Outcomes = []string{"b"}
		require.ErrorIs(t, tampered.Verify(*ann), oracle.ErrInvalidAttestation)
	})

	t.Run("numeric", func(t *testing.T) {
		ann, err := o.Announce("numeric", 1000, oracle.EventDescriptor{NbDigits: 4})
		require.NoError(t, err)

		att, err := o.AttestValue("numeric", 11)
		require.NoError(t, err)
		require.Equal(t, []string{"1", "0", "1", "1"}, att.Outcomes)
		require.NoError(t, att.Verify(*ann))

		requireSecretsMatchPoints(t, ann, att)

		tampered := *att
		tampered.Signatures = append([]string{}, att.Signatures...)
		tampered.Signatures[0], tampered.Signatures[1] = tampered.Signatures[1], tampered.Signatures[0]
		require.ErrorIs(t, tampered.Verify(*ann), oracle.ErrInvalidAttestation)
	})
}

func TestSumPoints(t *testing.T) {
	a, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	b, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	sum, err := oracle.SumPoints(a.PubKey(), b.PubKey())
	require.NoError(t, err)

	var secret btcec.ModNScalar
	secret.Set(&a.Key).Add(&b.Key)
	secretBytes := secret.Bytes()
	_, expected := btcec.PrivKeyFromBytes(secretBytes[:])
	require.True(t, expected.IsEqual(sum))

	neg := b.Key
	neg.Negate()
	negB := neg.Bytes()
	_, negPub := btcec.PrivKeyFromBytes(negB[:])
	_, err = oracle.SumPoints(b.PubKey(), negPub)
	require.Error(t, err)
}

func requireSecretsMatchPoints(t *testing.T, ann *oracle.Announcement, att *oracle.Attestation) {
	pubkey, err := ann.PubKey()
	require.NoError(t, err)
	nonces, err := ann.NoncePoints()
	require.NoError(t, err)
	secrets, err := att.Secrets()
	require.NoError(t, err)

	for i, secret := range secrets {
		point := oracle.AttestationPoint(pubkey, nonces[i], att.Outcomes[i])
		buf := secret.Bytes()
		_, fromSecret := btcec.PrivKeyFromBytes(buf[:])
		require.True(t, fromSecret.IsEqual(point), "digit %d", i)
		require.Equal(t, ann.Nonces[i], hex.EncodeToString(mustDecode(t, att.Signatures[i])[:32]))
	}
}

func mustDecode(t *testing.T, s string) []byte {
	buf, err := hex.DecodeString(s)
	require.NoError(t, err)
	return buf
}
