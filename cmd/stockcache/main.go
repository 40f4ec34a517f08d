// Command stockcache acquires and inspects cached stock snapshots.
//
// Usage:
//
//	stockcache acquire --symbols RELIANCE,TCS
//	stockcache status
//	stockcache backfill --days 5
//	stockcache watch --cron "0 45 15 * * 1-5"
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
