package dlctx_test

import (
	"testing"

	"github.com/ark-network/dlc/pkg/adaptor"
	"github.com/ark-network/dlc/pkg/dlctx"
	"github.com/ark-network/dlc/pkg/outcome"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const (
	feeRate       = uint64(2)
	maxWitnessLen = 66
)

type party struct {
	key      *btcec.PrivateKey
	pkScript []byte
}

func newParty(t *testing.T) party {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	taprootKey := txscript.ComputeTaprootKeyNoScript(key.PubKey())
	pkScript, err := txscript.PayToTaprootScript(taprootKey)
	require.NoError(t, err)
	return party{key, pkScript}
}

func (p party) funding(t *testing.T, seed byte, collateral, amount uint64) dlctx.PartyFunding {
	return dlctx.PartyFunding{
		Collateral: collateral,
		Inputs: []dlctx.FundingInput{{
			Outpoint:      wire.OutPoint{Hash: chainhash.Hash{seed}, Index: 1},
			Amount:        amount,
			PkScript:      p.pkScript,
			MaxWitnessLen: maxWitnessLen,
		}},
		ChangeScript: p.pkScript,
	}
}

func TestFundingTx(t *testing.T) {
	offer, accept := newParty(t), newParty(t)
	fundingOutput, err := dlctx.NewFundingOutput(offer.key.PubKey(), accept.key.PubKey())
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		offerFunding := offer.funding(t, 1, 50000, 100000)
		acceptFunding := accept.funding(t, 2, 50000, 50000+dlctx.PartyFee(accept.funding(t, 2, 0, 0), feeRate)+100)

		ptx, err := dlctx.BuildFundingTx(offerFunding, acceptFunding, fundingOutput.PkScript, feeRate)
		require.NoError(t, err)

		tx := ptx.UnsignedTx
		require.Len(t, tx.TxIn, 2)
		// accept change is dust and gets dropped
		require.Len(t, tx.TxOut, 2)
		require.Equal(t, fundingOutput.PkScript, tx.TxOut[dlctx.FundingOutputIndex].PkScript)
		require.Equal(
			t, int64(dlctx.FundingValue(50000, 50000, feeRate)),
			tx.TxOut[dlctx.FundingOutputIndex].Value,
		)
		expectedChange := 100000 - 50000 - dlctx.PartyFee(offerFunding, feeRate)
		require.Equal(t, int64(expectedChange), tx.TxOut[1].Value)

		prevoutFetcher, err := dlctx.PrevOutputFetcher(ptx)
		require.NoError(t, err)
		sigHashes := txscript.NewTxSigHashes(tx, prevoutFetcher)

		witnesses := make(map[int]wire.TxWitness)
		for i, p := range []party{offer, accept} {
			prevout := ptx.Inputs[i].WitnessUtxo
			witness, err := txscript.TaprootWitnessSignature(
				tx, sigHashes, i, prevout.Value, prevout.PkScript, txscript.SigHashDefault, p.key,
			)
			require.NoError(t, err)
			require.NoError(t, dlctx.VerifyInputWitness(ptx, i, witness))
			witnesses[i] = witness
		}

		require.Error(t, dlctx.VerifyInputWitness(ptx, 0, witnesses[1]))

		unsignedTxid := tx.TxHash()
		signed, err := dlctx.FinalizeFundingTx(ptx, witnesses)
		require.NoError(t, err)
		require.Equal(t, unsignedTxid, signed.TxHash())
		require.Len(t, signed.TxIn[0].Witness, 1)
	})

	t.Run("invalid", func(t *testing.T) {
		offerFunding := offer.funding(t, 1, 50000, 100000)

		_, err := dlctx.BuildFundingTx(
			offerFunding, accept.funding(t, 2, 50000, 50000), fundingOutput.PkScript, feeRate,
		)
		require.ErrorIs(t, err, dlctx.ErrInsufficientFunds)

		_, err = dlctx.BuildFundingTx(
			offerFunding, accept.funding(t, 1, 50000, 100000), fundingOutput.PkScript, feeRate,
		)
		require.Error(t, err)

		_, err = dlctx.BuildFundingTx(
			offerFunding, dlctx.PartyFunding{Collateral: 0}, fundingOutput.PkScript, feeRate,
		)
		require.Error(t, err)

		_, err = dlctx.NewFundingOutput(offer.key.PubKey(), offer.key.PubKey())
		require.Error(t, err)
	})
}

func TestClosingTx(t *testing.T) {
	offer, accept := newParty(t), newParty(t)
	fundingOutput, err := dlctx.NewFundingOutput(offer.key.PubKey(), accept.key.PubKey())
	require.NoError(t, err)

	fundingOutpoint := wire.OutPoint{Hash: chainhash.Hash{9}, Index: dlctx.FundingOutputIndex}
	fundingValue := int64(dlctx.FundingValue(50000, 50000, feeRate))

	execute := func(tx *wire.MsgTx, witness wire.TxWitness) error {
		tx.TxIn[0].Witness = witness
		prevoutFetcher := txscript.NewCannedPrevOutputFetcher(fundingOutput.PkScript, fundingValue)
		engine, err := txscript.NewEngine(
			fundingOutput.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
			txscript.NewTxSigHashes(tx, prevoutFetcher), fundingValue, prevoutFetcher,
		)
		if err != nil {
			return err
		}
		return engine.Execute()
	}

	t.Run("refund", func(t *testing.T) {
		refund, err := dlctx.BuildRefundTx(
			fundingOutpoint, offer.pkScript, accept.pkScript, 50000, 50000, 1000,
		)
		require.NoError(t, err)
		require.Equal(t, uint32(1000), refund.LockTime)
		require.Equal(t, wire.MaxTxInSequenceNum-1, refund.TxIn[0].Sequence)
		require.Len(t, refund.TxOut, 2)

		hash, err := fundingOutput.SigHash(refund, fundingValue)
		require.NoError(t, err)
		offerSig, err := schnorr.Sign(offer.key, hash)
		require.NoError(t, err)
		acceptSig, err := schnorr.Sign(accept.key, hash)
		require.NoError(t, err)

		require.NoError(t, execute(refund, fundingOutput.Witness(offerSig, acceptSig)))
		require.Error(t, execute(refund, fundingOutput.Witness(acceptSig, offerSig)))
	})

	t.Run("cet", func(t *testing.T) {
		payout := outcome.Payout{Offer: 100000, Accept: 0}
		cet, err := dlctx.BuildCET(fundingOutpoint, offer.pkScript, accept.pkScript, payout, 500)
		require.NoError(t, err)
		require.Len(t, cet.TxOut, 1)
		require.Equal(t, offer.pkScript, cet.TxOut[0].PkScript)

		secret, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		hash, err := fundingOutput.SigHash(cet, fundingValue)
		require.NoError(t, err)
		adaptorSig, err := adaptor.Sign(accept.key, hash, secret.PubKey())
		require.NoError(t, err)
		require.NoError(t, adaptor.Verify(adaptorSig, accept.key.PubKey(), hash, secret.PubKey()))

		acceptSig, err := adaptor.Decrypt(adaptorSig, &secret.Key, secret.PubKey())
		require.NoError(t, err)
		offerSig, err := schnorr.Sign(offer.key, hash)
		require.NoError(t, err)

		require.NoError(t, execute(cet, fundingOutput.Witness(offerSig, acceptSig)))
	})

	t.Run("dust", func(t *testing.T) {
		_, err := dlctx.BuildCET(
			fundingOutpoint, offer.pkScript, accept.pkScript, outcome.Payout{Offer: 100, Accept: 100}, 500,
		)
		require.Error(t, err)
	})
}

func TestContractID(t *testing.T) {
	txid := chainhash.Hash{1, 2, 3}
	tempID := [32]byte{4, 5, 6, 31: 7}

	id := dlctx.ContractID(txid, 0, tempID)
	for i := range id {
		require.Equal(t, txid[i], id[i]^tempID[i])
	}
	require.NotEqual(t, id, dlctx.ContractID(txid, 1, tempID))
}
