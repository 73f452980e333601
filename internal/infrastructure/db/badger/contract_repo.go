package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const contractStoreDir = "contracts"

type contractRepository struct {
	store *badgerhold.Store
}

func NewContractRepository(config ...interface{}) (domain.ContractRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, contractStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open contract store: %s", err)
	}

	return &contractRepository{store}, nil
}

func (r *contractRepository) AddOrUpdateContract(
	ctx context.Context, contract domain.Contract,
) error {
	dto, err := toContractDTO(contract)
	if err != nil {
		return fmt.Errorf("failed to serialize contract: %s", err)
	}
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxUpsert(tx, dto.TemporaryId, *dto)
	}
	return r.store.Upsert(dto.TemporaryId, *dto)
}

func (r *contractRepository) GetContract(
	ctx context.Context, id string,
) (*domain.Contract, error) {
	var dto contractDTO
	err := r.get(ctx, id, &dto)
	if err == nil {
		return dto.toContract()
	}
	if !errors.Is(err, badgerhold.ErrNotFound) {
		return nil, err
	}

	dtos, err := r.findContracts(ctx, badgerhold.Where("Id").Eq(id))
	if err != nil {
		return nil, err
	}
	if len(dtos) <= 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrContractNotFound, id)
	}
	return dtos[0].toContract()
}

func (r *contractRepository) GetContracts(ctx context.Context) ([]domain.Contract, error) {
	dtos, err := r.findContracts(ctx, nil)
	if err != nil {
		return nil, err
	}
	return toContracts(dtos)
}

func (r *contractRepository) GetContractsByState(
	ctx context.Context, states ...domain.ContractState,
) ([]domain.Contract, error) {
	if len(states) <= 0 {
		return nil, nil
	}
	dtos, err := r.findContracts(ctx, badgerhold.Where("State").In(stateValues(states)...))
	if err != nil {
		return nil, err
	}
	return toContracts(dtos)
}

func (r *contractRepository) GetUnsettledContracts(ctx context.Context) ([]domain.Contract, error) {
	query := badgerhold.Where("State").In(stateValues(domain.UnsettledStates)...).
		And("Settled").Eq(false)
	dtos, err := r.findContracts(ctx, query)
	if err != nil {
		return nil, err
	}
	return toContracts(dtos)
}

func (r *contractRepository) Close() {
	r.store.Close()
}

func (r *contractRepository) get(ctx context.Context, key string, dto *contractDTO) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxGet(tx, key, dto)
	}
	return r.store.Get(key, dto)
}

func (r *contractRepository) findContracts(
	ctx context.Context, query *badgerhold.Query,
) ([]contractDTO, error) {
	var dtos []contractDTO
	var err error

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &dtos, query)
	} else {
		err = r.store.Find(&dtos, query)
	}

	return dtos, err
}

func stateValues(states []domain.ContractState) []interface{} {
	values := make([]interface{}, 0, len(states))
	for _, state := range states {
		values = append(values, state)
	}
	return values
}

func toContracts(dtos []contractDTO) ([]domain.Contract, error) {
	sort.SliceStable(dtos, func(i, j int) bool {
		return dtos[i].UpdatedAt < dtos[j].UpdatedAt
	})
	contracts := make([]domain.Contract, 0, len(dtos))
	for _, dto := range dtos {
		contract, err := dto.toContract()
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *contract)
	}
	return contracts, nil
}
