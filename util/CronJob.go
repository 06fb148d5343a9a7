package util

import (
	"log"
	"time"

	"mietplatz/repository"
)

// StartDailyCleanup runs the retention sweep once a day at 12:00 PM. Only
// records that are already dead (expired or revoked) AND older than the
// retention age are deleted; the sweep is storage hygiene, not revocation.
func StartDailyCleanup(repo repository.RefreshTokenRepository) {
	go func() {
		for {
			now := time.Now()

			// 1. Calculate target time: Today at 12:00 PM
			nextRun := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())

			// 2. If 12:00 PM has already passed today, schedule for tomorrow
			if nextRun.Before(now) {
				nextRun = nextRun.Add(24 * time.Hour)
			}

			duration := nextRun.Sub(now)
			log.Printf("Next refresh token record sweep scheduled in %v (at %v)\n", duration, nextRun.Format(time.Kitchen))

			time.Sleep(duration)

			log.Println("Sweeping dead token records...")
			deleted, err := repo.DeleteStale(TokenRetention())
			if err != nil {
				log.Printf("Sweep failed: %v\n", err)
			} else {
				log.Printf("Sweep completed, %d records removed.\n", deleted)
			}

			// Tiny buffer so the next loop doesn't double-trigger at exactly 12:00
			time.Sleep(1 * time.Second)
		}
	}()
}
