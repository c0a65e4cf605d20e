package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/briefing/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	DefaultSchedule  = "@daily"
)

// Cleanup deletes conversations that have not been written for longer than
// the retention period, on a cron schedule.
type Cleanup struct {
	manager   *SessionManager
	retention time.Duration
	schedule  string
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewCleanup creates a sweeper. Zero values select the defaults.
func NewCleanup(manager *SessionManager, retention time.Duration, schedule string) *Cleanup {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Cleanup{
		manager:   manager,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
	}
}

// Start schedules the sweep.
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	sched := cron.New()
	if _, err := sched.AddFunc(c.schedule, func() {
		if _, err := c.CleanupNow(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to clean up old conversations")
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	sched.Start()

	c.cron = sched
	c.running = true
	log.Info().
		Str("schedule", c.schedule).
		Dur("retention", c.retention).
		Msg("Conversation cleanup started")
	return nil
}

// Stop halts the schedule and waits for a sweep in progress.
func (c *Cleanup) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}
	<-c.cron.Stop().Done()
	c.running = false
	log.Info().Msg("Conversation cleanup stopped")
	return nil
}

// IsRunning reports whether the schedule is active.
func (c *Cleanup) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CleanupNow deletes expired conversations and returns how many were removed.
func (c *Cleanup) CleanupNow(ctx context.Context) (int, error) {
	infos, err := c.manager.ListConversations()
	if err != nil {
		return 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	cutoff := c.now().Add(-c.retention)
	deleted := 0
	for _, info := range infos {
		if !info.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := c.manager.DeleteConversation(ctx, info.ChatID); err != nil {
			log.Warn().Str("chat_id", info.ChatID).Err(err).Msg("Failed to delete conversation")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Cleaned up old conversations")
	}
	observability.RecordSessionsPruned(deleted)
	return deleted, nil
}
