package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCleanupAge      = 7 * 24 * time.Hour
	DefaultMaxEntries      = 500
	DefaultCleanupSchedule = "@daily"
)

// Cleanup prunes oversized sessions and deletes archived sessions past their
// retention age on a cron schedule.
type Cleanup struct {
	store      *Store
	cleanupAge time.Duration
	maxEntries int
	schedule   string
	cron       *cron.Cron
}

// NewCleanup creates a cleanup job. Zero values fall back to the defaults.
func NewCleanup(store *Store, cleanupAge time.Duration) *Cleanup {
	if cleanupAge == 0 {
		cleanupAge = DefaultCleanupAge
	}

	return &Cleanup{
		store:      store,
		cleanupAge: cleanupAge,
		maxEntries: DefaultMaxEntries,
		schedule:   DefaultCleanupSchedule,
	}
}

// Start schedules the cleanup job and runs one pass immediately.
func (c *Cleanup) Start() error {
	if c.cron != nil {
		return fmt.Errorf("cleanup is already running")
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.CleanupNow(); err != nil {
			log.Error().Err(err).Msg("Failed to cleanup old sessions")
		}
	}); err != nil {
		c.cron = nil
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	c.cron.Start()

	if err := c.CleanupNow(); err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old sessions")
	}

	log.Info().
		Dur("cleanup_age", c.cleanupAge).
		Str("schedule", c.schedule).
		Msg("Session cleanup started")
	return nil
}

// Stop cancels the schedule and waits for a running pass to finish.
func (c *Cleanup) Stop() error {
	if c.cron == nil {
		return fmt.Errorf("cleanup is not running")
	}

	<-c.cron.Stop().Done()
	c.cron = nil

	log.Info().Msg("Session cleanup stopped")
	return nil
}

// IsRunning reports whether the schedule is active.
func (c *Cleanup) IsRunning() bool {
	return c.cron != nil
}

// SetMaxEntries sets how many messages a session keeps after pruning.
func (c *Cleanup) SetMaxEntries(maxEntries int) {
	c.maxEntries = maxEntries
}

// CleanupNow immediately runs one cleanup pass.
func (c *Cleanup) CleanupNow() error {
	sessions, err := c.store.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	deleted := 0
	var problems []string

	for _, sessionKey := range sessions {
		if err := c.store.PruneSession(sessionKey, c.maxEntries); err != nil {
			log.Warn().Str("session_key", sessionKey).Err(err).Msg("Failed to prune session")
			problems = append(problems, sessionKey)
		}

		info, err := c.store.GetSessionInfo(sessionKey)
		if err != nil {
			log.Warn().Str("session_key", sessionKey).Err(err).Msg("Failed to get session info")
			continue
		}

		// Only archived sessions age out; active ones are kept indefinitely.
		if !info.Archived {
			continue
		}

		age := now.Sub(info.LastModified)
		if age < c.cleanupAge {
			continue
		}

		if err := c.store.DeleteSession(sessionKey); err != nil {
			log.Error().Str("session_key", sessionKey).Err(err).Msg("Failed to delete session")
			problems = append(problems, sessionKey)
			continue
		}
		deleted++

		log.Debug().
			Str("session_key", sessionKey).
			Dur("age", age).
			Msg("Session deleted")
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Cleaned up old sessions")
	}
	if len(problems) > 0 {
		return fmt.Errorf("cleanup finished with failures: %s", strings.Join(problems, ", "))
	}
	return nil
}
