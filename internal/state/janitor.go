package state

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Janitor runs the cleanup sweep on a cron schedule, deleting terminal scan
// records past the retention window.
type Janitor struct {
	store         *Store
	cron          *cron.Cron
	retentionDays int
	logger        *slog.Logger
}

// NewJanitor creates a janitor with a standard 5-field cron schedule, e.g.
// "0 3 * * *" for 3 AM daily.
func NewJanitor(store *Store, schedule string, retentionDays int) (*Janitor, error) {
	j := &Janitor{
		store:         store,
		cron:          cron.New(),
		retentionDays: retentionDays,
		logger:        slog.Default().With("component", "janitor"),
	}

	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins scheduled sweeps in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("retention janitor started", "retention_days", j.retentionDays)
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) sweep() {
	j.store.Cleanup(j.retentionDays)
}
