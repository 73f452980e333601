package badgerdb

import (
	"encoding/json"
	"time"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/timshannon/badgerhold/v4"
)

func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(30 * time.Minute)

		go func() {
			for {
				<-ticker.C
				if err := db.Badger().RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
					if logger != nil {
						logger.Errorf("%s", err)
					}
				}
			}
		}()
	}

	return db, nil
}

// contractDTO stores the json encoded contract next to its indexed fields.
type contractDTO struct {
	TemporaryId string
	Id          string
	State       domain.ContractState
	Settled     bool
	UpdatedAt   int64
	Data        []byte
}

func toContractDTO(contract domain.Contract) (*contractDTO, error) {
	buf, err := json.Marshal(contract)
	if err != nil {
		return nil, err
	}
	return &contractDTO{
		TemporaryId: contract.TemporaryId,
		Id:          contract.Id,
		State:       contract.State,
		Settled:     contract.Settled,
		UpdatedAt:   contract.UpdatedAt,
		Data:        buf,
	}, nil
}

func (d contractDTO) toContract() (*domain.Contract, error) {
	var contract domain.Contract
	if err := json.Unmarshal(d.Data, &contract); err != nil {
		return nil, err
	}
	return &contract, nil
}
