// Package common provides shared utilities for stockcache
package common

import "time"

// Freshness TTLs for wall-clock cached data. Bar freshness is measured in
// trading days by the freshness service, not here.
const (
	FreshnessTickOverlay = 12 * time.Hour // overlay documents older than this are ignored
	FreshnessRunLog      = 24 * time.Hour // status output highlights runs within this window
)

// IsFresh returns true if the given timestamp is within the TTL
func IsFresh(updated time.Time, ttl time.Duration) bool {
	if updated.IsZero() {
		return false
	}
	return time.Since(updated) < ttl
}
