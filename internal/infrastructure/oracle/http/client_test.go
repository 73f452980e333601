package httporacle_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	httporacle "github.com/ark-network/dlc/internal/infrastructure/oracle/http"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/ark-network/dlc/pkg/oracle/oracletest"
	"github.com/stretchr/testify/require"
)

// newOracleServer exposes an in-memory oracle over http. Unknown events and
// pending attestations are both reported as not found.
func newOracleServer(t *testing.T, o *oracletest.Oracle) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pubkey", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"publicKey": o.PublicKey()})
	})
	mux.HandleFunc("GET /announcements/{event}", func(w http.ResponseWriter, r *http.Request) {
		announcement, err := o.GetAnnouncement(r.Context(), r.PathValue("event"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(announcement)
	})
	mux.HandleFunc("GET /attestations/{event}", func(w http.ResponseWriter, r *http.Request) {
		attestation, err := o.GetAttestation(r.Context(), r.PathValue("event"))
		if err != nil {
			if errors.Is(err, oracle.ErrNotYetAttested) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(attestation)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestOracle(t *testing.T) {
	ctx := context.Background()
	o, err := oracletest.New()
	require.NoError(t, err)
	server := newOracleServer(t, o)

	announced, err := o.Announce("btcusd", 1700000000, oracle.EventDescriptor{NbDigits: 4})
	require.NoError(t, err)

	client, err := httporacle.NewOracle(ctx, server.URL)
	require.NoError(t, err)
	require.Equal(t, o.PublicKey(), client.PublicKey())

	t.Run("valid", func(t *testing.T) {
		announcement, err := client.GetAnnouncement(ctx, "btcusd")
		require.NoError(t, err)
		require.Equal(t, *announced, *announcement)

		_, err = client.GetAttestation(ctx, "btcusd")
		require.ErrorIs(t, err, oracle.ErrNotYetAttested)

		attested, err := o.AttestValue("btcusd", 9)
		require.NoError(t, err)

		attestation, err := client.GetAttestation(ctx, "btcusd")
		require.NoError(t, err)
		require.Equal(t, *attested, *attestation)
		require.Equal(t, []string{"1", "0", "0", "1"}, attestation.Outcomes)
		require.NoError(t, attestation.Verify(*announcement))
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := client.GetAnnouncement(ctx, "unknown")
		require.Error(t, err)

		_, err = httporacle.NewOracle(ctx, "")
		require.Error(t, err)

		_, err = httporacle.NewOracle(ctx, server.URL+"/missing")
		require.Error(t, err)
	})
}
