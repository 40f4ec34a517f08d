package runlog

import (
	"context"

	"github.com/bobmcallan/stockcache/internal/models"
)

// NoopRecorder is used when the run ledger is disabled.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) Record(_ context.Context, _ models.AcquireReport, _ []string) error {
	return nil
}

func (n *NoopRecorder) Recent(_ context.Context, _ int) ([]models.RunRecord, error) {
	return nil, nil
}

func (n *NoopRecorder) Close() error { return nil }
