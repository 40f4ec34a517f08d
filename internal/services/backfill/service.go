// Package backfill asks the remote CI job to regenerate missing snapshot history
package backfill

import (
	"context"
	"strconv"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/interfaces"
)

// InputMissingTradingDays is the workflow input carrying the gap to fill.
const InputMissingTradingDays = "missingTradingDays"

// Service implements BackfillTrigger over a WorkflowDispatcher
type Service struct {
	dispatcher interfaces.WorkflowDispatcher
	logger     *common.Logger
}

var _ interfaces.BackfillTrigger = (*Service)(nil)

// NewService creates a backfill trigger. A nil dispatcher behaves as one without credentials.
func NewService(dispatcher interfaces.WorkflowDispatcher, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{dispatcher: dispatcher, logger: logger}
}

// Trigger dispatches one backfill job. It returns false without any network
// call when no credential is configured, and false on any transport error or
// non-2xx response. Calls are not deduplicated.
func (s *Service) Trigger(ctx context.Context, missingTradingDays int) bool {
	if s.dispatcher == nil || !s.dispatcher.HasCredential() {
		s.logger.Debug().Int("missing_trading_days", missingTradingDays).Msg("Backfill skipped: no dispatch credential")
		return false
	}
	if missingTradingDays < 1 {
		missingTradingDays = 1
	}

	inputs := map[string]string{
		InputMissingTradingDays: strconv.Itoa(missingTradingDays),
	}
	if err := s.dispatcher.Dispatch(ctx, inputs); err != nil {
		s.logger.Warn().Err(err).Int("missing_trading_days", missingTradingDays).Msg("Backfill dispatch failed")
		return false
	}

	s.logger.Info().Int("missing_trading_days", missingTradingDays).Msg("Backfill dispatched")
	return true
}
