package main

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gluk-w/online-ide/internal/database"
)

// startProjectPurgeJob schedules purgeExpiredProjects on schedule, a cron
// expression or descriptor such as "@every 1h".
func startProjectPurgeJob(schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := purgeExpiredProjects(time.Now()); err != nil {
			log.Printf("[project-purge] %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	c.Start()
	log.Printf("[project-purge] scheduled %q", schedule)
	return c, nil
}

// purgeExpiredProjects deletes project records whose TTL has elapsed.
// Sandbox directories are left alone; live sessions may still use them.
func purgeExpiredProjects(now time.Time) (int64, error) {
	if database.DB == nil {
		return 0, nil
	}
	n, err := database.PurgeExpiredProjects(now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[project-purge] removed %d expired projects", n)
	}
	return n, nil
}
