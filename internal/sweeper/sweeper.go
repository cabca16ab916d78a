// Package sweeper periodically scans for detection jobs that never
// called back. Jobs have no timeout; a sighting can sit in detection
// forever, so the sweep surfaces them for operator intervention rather
// than failing them automatically.
package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/internal/event"
	"github.com/houston-cloud/houston/internal/models"
	"github.com/houston-cloud/houston/pkg/log"
	"github.com/robfig/cron"
	"gorm.io/gorm"
)

// StaleJob identifies one job outstanding past the threshold.
type StaleJob struct {
	AssetGroupID uuid.UUID
	SightingID   uuid.UUID
	JobID        uuid.UUID
	Model        string
	Start        time.Time
}

type Sweeper struct {
	db        *gorm.DB
	schedule  cron.Schedule
	threshold time.Duration
	bus       event.Bus
}

// New parses the cron schedule and returns a sweeper.
func New(db *gorm.DB, schedule string, threshold time.Duration, bus event.Bus) (*Sweeper, error) {
	parser := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)

	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, err
	}

	return &Sweeper{
		db:        db,
		schedule:  sched,
		threshold: threshold,
		bus:       bus,
	}, nil
}

// Run sweeps on the configured schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(time.Now())

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			if _, err := s.Sweep(ctx); err != nil {
				log.Error("stale job sweep failed", "error", err)
			}
		}
	}
}

// Sweep scans every sighting still holding active jobs and reports
// those outstanding past the threshold.
func (s *Sweeper) Sweep(ctx context.Context) ([]StaleJob, error) {
	var sightings []*models.AssetGroupSighting
	if err := s.db.WithContext(ctx).Find(&sightings).Error; err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-s.threshold)

	var stale []StaleJob
	for _, sighting := range sightings {
		for id, job := range sighting.Jobs {
			if !job.Active || !job.Start.Before(cutoff) {
				continue
			}

			jobID, err := uuid.Parse(id)
			if err != nil {
				log.Warn("unparseable job guid in jobs map",
					"sighting", sighting.ID, "job", id)
				continue
			}

			entry := StaleJob{
				AssetGroupID: sighting.AssetGroupID,
				SightingID:   sighting.ID,
				JobID:        jobID,
				Model:        job.Model,
				Start:        job.Start,
			}
			stale = append(stale, entry)

			log.Warn("detection job never called back",
				"sighting", entry.SightingID,
				"job", entry.JobID,
				"model", entry.Model,
				"outstanding", time.Since(entry.Start))

			s.bus.Publish(event.Event{
				Type:         event.TypeJobStale,
				AssetGroupID: entry.AssetGroupID,
				SightingID:   entry.SightingID,
				JobID:        entry.JobID,
			})
		}
	}

	return stale, nil
}
