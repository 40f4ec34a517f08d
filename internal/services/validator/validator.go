// Package validator sanity-checks snapshot candidates before they are trusted
package validator

import (
	"errors"
	"fmt"
	"os"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/models"
)

// ErrTooSmall marks a snapshot whose byte size is below the trusted minimum.
// A short file is corruption or truncation, never "no data".
var ErrTooSmall = errors.New("snapshot below minimum trusted size")

// ErrEmpty marks a decoded snapshot holding no series.
var ErrEmpty = errors.New("snapshot holds no series")

// Validate reports whether byteSize reaches expectedMinimumBytes. Pure and monotonic.
func Validate(byteSize, expectedMinimumBytes int64) bool {
	return byteSize >= expectedMinimumBytes
}

// Validator applies the configured size thresholds and structural checks.
type Validator struct {
	MinDailyBytes    int64
	MinIntradayBytes int64
}

// New creates a validator from the policy thresholds.
func New(policy common.PolicyConfig) *Validator {
	return &Validator{
		MinDailyBytes:    policy.GetMinDailyBytes(),
		MinIntradayBytes: policy.GetMinIntradayBytes(),
	}
}

// MinimumFor returns the minimum trusted size for a granularity.
func (v *Validator) MinimumFor(intraday bool) int64 {
	if intraday {
		return v.MinIntradayBytes
	}
	return v.MinDailyBytes
}

// ValidBytes checks a size against the threshold for a granularity.
func (v *Validator) ValidBytes(byteSize int64, intraday bool) bool {
	return Validate(byteSize, v.MinimumFor(intraday))
}

// CheckSize returns ErrTooSmall when byteSize is below the threshold.
func (v *Validator) CheckSize(byteSize int64, intraday bool) error {
	if !v.ValidBytes(byteSize, intraday) {
		return fmt.Errorf("%w: %d bytes, need %d", ErrTooSmall, byteSize, v.MinimumFor(intraday))
	}
	return nil
}

// ValidFile probes a file's on-disk size against the threshold.
func (v *Validator) ValidFile(path string, intraday bool) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return v.ValidBytes(info.Size(), intraday), nil
}

// CheckShape verifies a decoded snapshot is non-empty and every series is well formed.
func (v *Validator) CheckShape(snap *models.Snapshot) error {
	if snap.Len() == 0 {
		return ErrEmpty
	}
	for _, sym := range snap.Symbols() {
		if err := snap.Series[sym].Validate(); err != nil {
			return fmt.Errorf("symbol %s: %w", sym, err)
		}
	}
	return nil
}
