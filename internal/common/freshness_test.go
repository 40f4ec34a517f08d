package common

import (
	"testing"
	"time"
)

func TestIsFresh(t *testing.T) {
	if IsFresh(time.Time{}, time.Hour) {
		t.Error("zero time should never be fresh")
	}
	if !IsFresh(time.Now().Add(-time.Minute), time.Hour) {
		t.Error("a minute-old timestamp should be fresh within an hour")
	}
	if IsFresh(time.Now().Add(-2*FreshnessRunLog), FreshnessRunLog) {
		t.Error("a two-day-old run should not be fresh")
	}
}
