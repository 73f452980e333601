package clock

import (
	"time"

	"github.com/ark-network/dlc/internal/core/ports"
)

type systemClock struct{}

func NewSystemClock() ports.TimeProvider {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}
