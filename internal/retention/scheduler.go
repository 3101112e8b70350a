package retention

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the purge nightly at 03:00, when group chats are quiet.
const DefaultSchedule = "0 3 * * *"

// jobTimeout bounds a single scheduled purge.
const jobTimeout = 5 * time.Minute

// Scheduler runs the retention purge on a cron schedule.
type Scheduler struct {
	manager *Manager
	cron    *cron.Cron
}

// NewScheduler creates a scheduler for the given manager. An empty schedule
// uses DefaultSchedule. The expression is parsed here so a bad configuration
// fails at startup rather than silently never firing.
func NewScheduler(m *Manager, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	c := cron.New()
	s := &Scheduler{manager: m, cron: c}
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("parsing retention schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduled purging in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running purge to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	res, err := s.manager.Purge(ctx, "")
	if err != nil {
		log.Printf("retention purge failed: %v", err)
		return
	}
	if res.Total() > 0 {
		log.Printf("retention purge removed messages=%d embeddings=%d facts=%d",
			res.Messages, res.Embeddings, res.Facts)
	}
}
