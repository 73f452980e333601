package db_test

import (
	"context"
	"testing"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	"github.com/ark-network/dlc/internal/infrastructure/db"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/ark-network/dlc/pkg/outcome"
	"github.com/stretchr/testify/require"
)

const (
	tempId      = "0101010101010101010101010101010101010101010101010101010101010101"
	contractId  = "0303030303030303030303030303030303030303030303030303030303030302"
	fundingTxid = "0202020202020202020202020202020202020202020202020202020202020202"
	closingTxid = "0404040404040404040404040404040404040404040404040404040404040404"
	timestamp   = int64(1700000000)
)

var offer = domain.OfferMsg{
	TemporaryContractId: tempId,
	ContractInfos: []domain.ContractInfo{
		{
			Oracles: domain.OracleInfo{
				Threshold: 1,
				Announcements: []oracle.Announcement{{
					PublicKey: "aa",
					EventID:   "btcusd",
					Nonces:    []string{"bb", "cc"},
					Maturity:  timestamp,
					Event:     oracle.EventDescriptor{NbDigits: 2},
				}},
			},
			Descriptor: outcome.NumericalDescriptor{
				NbDigits: 2,
				Function: outcome.PayoutFunction{
					Pieces: []outcome.PayoutPiece{
						outcome.PolynomialPiece{Points: []outcome.PayoutPoint{
							{Outcome: 0, Payout: 0}, {Outcome: 3, Payout: 2000},
						}},
					},
				},
				Difference: &outcome.DifferenceParams{MaxErrorExp: 1},
			},
		},
		{
			Oracles: domain.OracleInfo{
				Threshold: 1,
				Announcements: []oracle.Announcement{{
					PublicKey: "aa",
					EventID:   "fomc",
					Nonces:    []string{"dd"},
					Maturity:  timestamp,
					Event:     oracle.EventDescriptor{Outcomes: []string{"hike", "cut"}},
				}},
			},
			Descriptor: outcome.EnumDescriptor{
				Outcomes: []outcome.EnumPayout{
					{Outcome: "hike", Payout: outcome.Payout{Offer: 2000}},
					{Outcome: "cut", Payout: outcome.Payout{Accept: 2000}},
				},
			},
		},
	},
	OfferParams: domain.PartyParams{
		FundPubkey:   "02aa",
		PayoutScript: "5120aa",
		ChangeScript: "5120bb",
		Collateral:   1000,
		FundingInputs: []domain.FundingInput{
			{Txid: fundingTxid, Vout: 1, Amount: 5000, PkScript: "5120cc", MaxWitnessLen: 66},
		},
	},
	AcceptCollateral: 1000,
	FeeRate:          2,
	Maturity:         uint32(timestamp),
	RefundLocktime:   uint32(timestamp) + 100,
}

func TestService(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "badger",
			config: db.ServiceConfig{
				DataStoreType:   "badger",
				DataStoreConfig: []interface{}{"", nil},
			},
		},
		{
			name: "sqlite",
			config: db.ServiceConfig{
				DataStoreType:   "sqlite",
				DataStoreConfig: []interface{}{t.TempDir()},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			defer svc.Close()

			testContractRepository(t, svc)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		_, err := db.NewService(db.ServiceConfig{DataStoreType: "postgres"})
		require.Error(t, err)

		_, err = db.NewService(db.ServiceConfig{
			DataStoreType:   "sqlite",
			DataStoreConfig: []interface{}{""},
		})
		require.Error(t, err)
	})
}

func testContractRepository(t *testing.T, svc ports.RepoManager) {
	ctx := context.Background()
	repo := svc.Contracts()

	_, err := repo.GetContract(ctx, tempId)
	require.ErrorIs(t, err, domain.ErrContractNotFound)

	contract, err := domain.NewContract(offer, false, timestamp)
	require.NoError(t, err)
	require.NoError(t, repo.AddOrUpdateContract(ctx, *contract))

	other := offer
	other.TemporaryContractId = closingTxid
	otherContract, err := domain.NewContract(other, true, timestamp+1)
	require.NoError(t, err)
	require.NoError(t, repo.AddOrUpdateContract(ctx, *otherContract))

	got, err := repo.GetContract(ctx, tempId)
	require.NoError(t, err)
	require.Equal(t, domain.OfferedState, got.State)
	require.Equal(t, offer, got.OfferMsg)
	require.Empty(t, got.Changes)

	accept := domain.AcceptMsg{
		TemporaryContractId:  tempId,
		AcceptParams:         offer.OfferParams,
		CetAdaptorSignatures: []string{"aa", "bb"},
		RefundSignature:      "cc",
	}
	_, err = got.Accept(accept, contractId, "00", fundingTxid, timestamp+2)
	require.NoError(t, err)
	require.NoError(t, repo.AddOrUpdateContract(ctx, *got))

	byId, err := repo.GetContract(ctx, contractId)
	require.NoError(t, err)
	require.Equal(t, domain.AcceptedState, byId.State)
	require.Equal(t, tempId, byId.TemporaryId)
	require.Equal(t, &accept, byId.AcceptMsg)
	require.Equal(t, got.Version, byId.Version)

	contracts, err := repo.GetContracts(ctx)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	require.Equal(t, closingTxid, contracts[0].TemporaryId)

	contracts, err = repo.GetContractsByState(ctx, domain.AcceptedState, domain.SignedState)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	require.Equal(t, contractId, contracts[0].Id)

	contracts, err = repo.GetContractsByState(ctx, domain.ClosedState)
	require.NoError(t, err)
	require.Empty(t, contracts)

	contracts, err = repo.GetUnsettledContracts(ctx)
	require.NoError(t, err)
	require.Empty(t, contracts)

	sign := domain.SignMsg{ContractId: contractId, RefundSignature: "dd"}
	_, err = byId.Sign(nil, sign, contractId, "00", fundingTxid, timestamp+3)
	require.NoError(t, err)
	_, err = byId.Confirm(timestamp + 4)
	require.NoError(t, err)
	_, err = byId.Refund("01", closingTxid, timestamp+5)
	require.NoError(t, err)
	require.NoError(t, repo.AddOrUpdateContract(ctx, *byId))

	contracts, err = repo.GetUnsettledContracts(ctx)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	require.Equal(t, domain.RefundedState, contracts[0].State)

	_, err = byId.Settle(timestamp + 6)
	require.NoError(t, err)
	require.NoError(t, repo.AddOrUpdateContract(ctx, *byId))

	contracts, err = repo.GetUnsettledContracts(ctx)
	require.NoError(t, err)
	require.Empty(t, contracts)

	contracts, err = repo.GetContractsByState(ctx, domain.RefundedState)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	require.True(t, contracts[0].Settled)
}
