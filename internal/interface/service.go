package service_interface

import (
	"github.com/ark-network/dlc/internal/config"
	daemon_interface "github.com/ark-network/dlc/internal/interface/daemon"
)

type Service interface {
	Start() error
	Stop()
}

func NewService(cfg *config.Config) (Service, error) {
	return daemon_interface.NewService(cfg)
}
