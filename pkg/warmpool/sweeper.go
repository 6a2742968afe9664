package warmpool

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepSchedule runs the idle-eviction pass every 30 seconds: fine enough
// granularity against the default 900s idle timeout without continuously
// polling the Docker daemon.
const sweepSchedule = "@every 30s"

// Sweeper periodically evicts a Pool's idle warm containers in the
// background.
type Sweeper struct {
	pool *Pool
	cron *cron.Cron
}

// NewSweeper wires a background sweeper over pool.
func NewSweeper(pool *Pool) *Sweeper {
	return &Sweeper{pool: pool, cron: cron.New()}
}

// Start schedules the periodic sweep and begins running it.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.pool.SweepIdle(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the sweeper and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
