package esplora_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/internal/infrastructure/blockchain/esplora"
	"github.com/stretchr/testify/require"
)

const (
	txid    = "2b4a8e6c1e0b52d7b8f3d4e0b5b0f9a7b6e7c0f1a2d3e4f5061728394a5b6c7d"
	spender = "7d6c5b4a3928170605f4e3d2a1f0c7e6b7a9f0b5b0e4d3f8b7d7520b1e6c8e4a"
	txHex   = "0200000000010100"
)

func newTestServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tx", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if string(body) != txHex {
			http.Error(w, "sendrawtransaction RPC error: bad-txns", http.StatusBadRequest)
			return
		}
		w.Write([]byte(txid))
	})
	mux.HandleFunc("GET /tx/{txid}/hex", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("txid") != txid {
			http.Error(w, "Transaction not found", http.StatusNotFound)
			return
		}
		w.Write([]byte(txHex))
	})
	mux.HandleFunc("GET /tx/{txid}/status", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("txid") {
		case txid:
			w.Write([]byte(`{"confirmed":true,"block_height":100,"block_time":1700000000}`))
		case spender:
			w.Write([]byte(`{"confirmed":false}`))
		default:
			http.Error(w, "Transaction not found", http.StatusNotFound)
		}
	})
	mux.HandleFunc("GET /tx/{txid}/outspend/{vout}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("vout") == "0" {
			w.Write([]byte(`{"spent":true,"txid":"` + spender + `","vin":0}`))
			return
		}
		w.Write([]byte(`{"spent":false}`))
	})
	mux.HandleFunc("GET /blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("105"))
	})
	mux.HandleFunc("GET /address/{addr}/utxo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"txid":"` + txid + `","vout":1,"value":50000,"status":{"confirmed":true}}]`))
	})
	mux.HandleFunc("GET /fee-estimates", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"1":20.5,"6":10.2,"144":1.1}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestService(t *testing.T) {
	server := newTestServer(t)
	svc, err := esplora.NewService(server.URL)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		gotTxid, err := svc.BroadcastTransaction(ctx, txHex)
		require.NoError(t, err)
		require.Equal(t, txid, gotTxid)

		gotHex, err := svc.GetTransaction(ctx, txid)
		require.NoError(t, err)
		require.Equal(t, txHex, gotHex)

		confirmations, err := svc.GetTransactionConfirmations(ctx, txid)
		require.NoError(t, err)
		require.Equal(t, uint32(6), confirmations)

		confirmations, err = svc.GetTransactionConfirmations(ctx, spender)
		require.NoError(t, err)
		require.Zero(t, confirmations)

		gotSpender, err := svc.GetOutputSpender(ctx, txid, 0)
		require.NoError(t, err)
		require.Equal(t, spender, gotSpender)

		gotSpender, err = svc.GetOutputSpender(ctx, txid, 1)
		require.NoError(t, err)
		require.Empty(t, gotSpender)

		utxos, err := svc.GetUtxos(ctx, "bcrt1qaddress")
		require.NoError(t, err)
		require.Len(t, utxos, 1)
		require.Equal(t, uint64(50000), utxos[0].Amount)
		require.Equal(t, uint32(1), utxos[0].Vout)
		require.True(t, utxos[0].Status.Confirmed)

		feeRate, err := svc.GetFeeRate(ctx, 6)
		require.NoError(t, err)
		require.Equal(t, uint64(10), feeRate)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := esplora.NewService("")
		require.Error(t, err)

		_, err = svc.BroadcastTransaction(ctx, "00")
		require.ErrorContains(t, err, "bad-txns")

		_, err = svc.GetTransaction(ctx, spender)
		require.ErrorIs(t, err, ports.ErrTxNotFound)

		_, err = svc.GetTransactionConfirmations(ctx, "00")
		require.ErrorIs(t, err, ports.ErrTxNotFound)
	})
}
