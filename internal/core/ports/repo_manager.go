package ports

import "github.com/ark-network/dlc/internal/core/domain"

type RepoManager interface {
	Contracts() domain.ContractRepository
	Close()
}
