package adaptor_test

import (
	"crypto/sha256"
	"testing"

	"github.com/ark-network/dlc/pkg/adaptor"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestAdaptorSignature(t *testing.T) {
	hash := sha256.Sum256([]byte("cet"))

	t.Run("valid", func(t *testing.T) {
		// cover keys with both odd and even y coordinates
		for i := 0; i < 8; i++ {
			priv, err := btcec.NewPrivateKey()
			require.NoError(t, err)
			secret, err := btcec.NewPrivateKey()
			require.NoError(t, err)
			point := secret.PubKey()

			sig, err := adaptor.Sign(priv, hash[:], point)
			require.NoError(t, err)
			require.NoError(t, adaptor.Verify(sig, priv.PubKey(), hash[:], point))

			parsed, err := adaptor.ParseSignature(sig.Serialize())
			require.NoError(t, err)
			require.Equal(t, sig.Serialize(), parsed.Serialize())

			final, err := adaptor.Decrypt(sig, &secret.Key, point)
			require.NoError(t, err)
			require.True(t, final.Verify(hash[:], priv.PubKey()))

			again, err := adaptor.Decrypt(sig, &secret.Key, point)
			require.NoError(t, err)
			require.Equal(t, final.Serialize(), again.Serialize())

			recovered, err := adaptor.Recover(sig, final)
			require.NoError(t, err)
			require.True(t, recovered.Equals(&secret.Key))
		}
	})

	t.Run("invalid", func(t *testing.T) {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		secret, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		other, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		point := secret.PubKey()

		sig, err := adaptor.Sign(priv, hash[:], point)
		require.NoError(t, err)

		t.Run("wrong point", func(t *testing.T) {
			err := adaptor.Verify(sig, priv.PubKey(), hash[:], other.PubKey())
			require.ErrorIs(t, err, adaptor.ErrInvalidSignature)
		})

		t.Run("wrong key", func(t *testing.T) {
			err := adaptor.Verify(sig, other.PubKey(), hash[:], point)
			require.ErrorIs(t, err, adaptor.ErrInvalidSignature)
		})

		t.Run("wrong message", func(t *testing.T) {
			otherHash := sha256.Sum256([]byte("refund"))
			err := adaptor.Verify(sig, priv.PubKey(), otherHash[:], point)
			require.ErrorIs(t, err, adaptor.ErrInvalidSignature)
		})

		t.Run("wrong secret", func(t *testing.T) {
			_, err := adaptor.Decrypt(sig, &other.Key, point)
			require.ErrorIs(t, err, adaptor.ErrSecretMismatch)
		})

		t.Run("tampered", func(t *testing.T) {
			buf := sig.Serialize()
			for i := range buf {
				tampered := append([]byte{}, buf...)
				tampered[i] ^= 0x01

				parsed, err := adaptor.ParseSignature(tampered)
				if err != nil {
					continue
				}
				err = adaptor.Verify(parsed, priv.PubKey(), hash[:], point)
				require.Error(t, err, "byte %d", i)
			}
		})

		t.Run("malformed", func(t *testing.T) {
			_, err := adaptor.ParseSignature(make([]byte, 63))
			require.ErrorIs(t, err, adaptor.ErrInvalidSignature)
		})
	})
}
