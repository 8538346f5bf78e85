package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// CleanupScheduler runs the store's retention sweep on a cron schedule
type CleanupScheduler struct {
	cron  *cron.Cron
	store *Store
	log   *slog.Logger
}

// NewCleanupScheduler schedules store.Cleanup using a standard cron spec
// such as "@daily" or "0 3 * * *"
func NewCleanupScheduler(store *Store, spec string, log *slog.Logger) (*CleanupScheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &CleanupScheduler{
		cron:  cron.New(),
		store: store,
		log:   log,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *CleanupScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := s.store.Cleanup(ctx)
	if err != nil {
		s.log.Error("report cleanup failed", "error", err)
		return
	}
	s.log.Info("report cleanup finished", "removed", removed)
}

// Start begins running the schedule in the background
func (s *CleanupScheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *CleanupScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns when the sweep runs next; zero before Start
func (s *CleanupScheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
