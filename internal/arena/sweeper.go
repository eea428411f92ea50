package arena

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper periodically expires stale matchmaking entries
type Sweeper struct {
	sched gocron.Scheduler
}

// StartSweeper schedules ExpireQueue every interval
func StartSweeper(c *Coordinator, interval time.Duration) (*Sweeper, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if n := c.ExpireQueue(c.now()); n > 0 {
				c.logger.Info().Int("expired", n).Msg("Expired matchmaking entries")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("scheduling queue sweep: %w", err)
	}
	sched.Start()
	return &Sweeper{sched: sched}, nil
}

// Shutdown stops the schedule and waits for a running sweep
func (s *Sweeper) Shutdown() error {
	return s.sched.Shutdown()
}
