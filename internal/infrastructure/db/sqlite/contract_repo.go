package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ark-network/dlc/internal/core/domain"
)

const (
	upsertContract = `
INSERT INTO contract (
	temporary_id, id, is_offer_party, state, settled, funding_txid, closing_txid, data,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(temporary_id) DO UPDATE SET
	id = excluded.id,
	state = excluded.state,
	settled = excluded.settled,
	funding_txid = excluded.funding_txid,
	closing_txid = excluded.closing_txid,
	data = excluded.data,
	updated_at = excluded.updated_at`

	selectContract = `
SELECT data FROM contract WHERE temporary_id = ? OR (id != '' AND id = ?) LIMIT 1`

	selectContracts = `SELECT data FROM contract ORDER BY updated_at, rowid`

	selectContractsByState = `SELECT data FROM contract WHERE state IN (%s) ORDER BY updated_at, rowid`

	selectUnsettledContracts = `
SELECT data FROM contract WHERE state IN (%s) AND settled = FALSE ORDER BY updated_at, rowid`
)

type contractRepository struct {
	db *sql.DB
}

func NewContractRepository(config ...interface{}) (domain.ContractRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open contract repository: invalid config, expected db at 0")
	}

	return &contractRepository{db}, nil
}

func (r *contractRepository) AddOrUpdateContract(
	ctx context.Context, contract domain.Contract,
) error {
	data, err := json.Marshal(contract)
	if err != nil {
		return fmt.Errorf("failed to serialize contract: %s", err)
	}

	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx, upsertContract,
			contract.TemporaryId, contract.Id, contract.IsOfferParty, int(contract.State),
			contract.Settled, contract.FundingTxid, contract.ClosingTxid, string(data),
			contract.CreatedAt, contract.UpdatedAt,
		)
		return err
	})
}

func (r *contractRepository) GetContract(
	ctx context.Context, id string,
) (*domain.Contract, error) {
	var data string
	err := r.db.QueryRowContext(ctx, selectContract, id, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrContractNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return decodeContract(data)
}

func (r *contractRepository) GetContracts(ctx context.Context) ([]domain.Contract, error) {
	return r.queryContracts(ctx, selectContracts)
}

func (r *contractRepository) GetContractsByState(
	ctx context.Context, states ...domain.ContractState,
) ([]domain.Contract, error) {
	if len(states) <= 0 {
		return nil, nil
	}
	query, args := withStates(selectContractsByState, states)
	return r.queryContracts(ctx, query, args...)
}

func (r *contractRepository) GetUnsettledContracts(ctx context.Context) ([]domain.Contract, error) {
	query, args := withStates(selectUnsettledContracts, domain.UnsettledStates)
	return r.queryContracts(ctx, query, args...)
}

func (r *contractRepository) Close() {
	_ = r.db.Close()
}

func (r *contractRepository) queryContracts(
	ctx context.Context, query string, args ...interface{},
) ([]domain.Contract, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get contracts: %w", err)
	}
	defer rows.Close()

	contracts := make([]domain.Contract, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		contract, err := decodeContract(data)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *contract)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contracts, nil
}

func withStates(query string, states []domain.ContractState) (string, []interface{}) {
	placeholders := make([]string, 0, len(states))
	args := make([]interface{}, 0, len(states))
	for _, state := range states {
		placeholders = append(placeholders, "?")
		args = append(args, int(state))
	}
	return fmt.Sprintf(query, strings.Join(placeholders, ", ")), args
}

func decodeContract(data string) (*domain.Contract, error) {
	var contract domain.Contract
	if err := json.Unmarshal([]byte(data), &contract); err != nil {
		return nil, fmt.Errorf("failed to deserialize contract: %s", err)
	}
	return &contract, nil
}
