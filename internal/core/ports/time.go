package ports

import "time"

type TimeProvider interface {
	Now() time.Time
}
