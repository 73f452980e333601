package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	scheduler "github.com/ark-network/dlc/internal/infrastructure/scheduler/gocron"
	"github.com/stretchr/testify/require"
)

func TestScheduleTask(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		svc := scheduler.NewScheduler()

		var count atomic.Int32
		err := svc.ScheduleTask(1, true, func() {
			count.Add(1)
		})
		require.NoError(t, err)

		svc.Start()
		defer svc.Stop()

		require.Eventually(t, func() bool {
			return count.Load() >= 2
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("invalid", func(t *testing.T) {
		svc := scheduler.NewScheduler()
		err := svc.ScheduleTask(0, true, func() {})
		require.Error(t, err)
	})
}
