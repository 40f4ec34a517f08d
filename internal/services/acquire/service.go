// Package acquire walks the snapshot tiers and returns the best data obtainable for a session
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bobmcallan/stockcache/internal/clients/artifacts"
	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/frame"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
	"github.com/bobmcallan/stockcache/internal/services/validator"
	"github.com/bobmcallan/stockcache/internal/storage/snapshotfs"
)

// Dependencies are the collaborators of the acquirer. Store, Calendar,
// Freshness and Validator are required; every other tier is skipped when nil.
type Dependencies struct {
	Store      interfaces.SnapshotStore
	Remote     interfaces.SnapshotDownloader
	Reconciler interfaces.TickReconciler
	Live       interfaces.LiveFetcher
	Backfill   interfaces.BackfillTrigger
	Freshness  interfaces.FreshnessEvaluator
	Validator  *validator.Validator
	Calendar   interfaces.TradingCalendar
	Recorder   interfaces.RunRecorder
}

// Service implements SnapshotAcquirer
type Service struct {
	deps   Dependencies
	policy common.PolicyConfig
	logger *common.Logger
	now    func() time.Time // injectable clock for testing
	group  singleflight.Group
}

var _ interfaces.SnapshotAcquirer = (*Service)(nil)

// NewService creates an acquirer.
func NewService(deps Dependencies, policy common.PolicyConfig, logger *common.Logger) (*Service, error) {
	if deps.Store == nil || deps.Calendar == nil || deps.Freshness == nil || deps.Validator == nil {
		return nil, fmt.Errorf("acquire: store, calendar, freshness and validator are required")
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{
		deps:   deps,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Acquire returns the best snapshot obtainable for the current session and the
// symbols that remain missing or stale. Absence and transport failures never
// surface as errors; only context cancellation does, and then the best snapshot
// assembled so far is returned alongside ctx.Err().
//
// Concurrent calls for the same session, granularity and symbol set share one run.
func (s *Service) Acquire(ctx context.Context, req models.AcquireRequest) (*models.AcquireResult, error) {
	now := s.now()
	symbols := normalizeSymbols(req.Symbols)
	key := fmt.Sprintf("%s|%t|%s",
		s.deps.Calendar.SessionDate(now).Format("2006-01-02"), req.Intraday, strings.Join(symbols, ","))

	type outcome struct {
		result *models.AcquireResult
		err    error
	}
	v, _, shared := s.group.Do(key, func() (any, error) {
		res, err := s.run(ctx, now, symbols, req.Intraday)
		return outcome{result: res, err: err}, nil
	})
	if shared {
		s.logger.Debug().Str("key", key).Msg("Joined in-flight acquisition")
	}
	out := v.(outcome)
	return out.result, out.err
}

// acquisition is the working state of one run.
type acquisition struct {
	intraday  bool
	ref       time.Time
	session   time.Time
	now       time.Time
	required  []string
	local     *models.Snapshot
	working   *models.Snapshot
	dirty     bool
	liveFresh map[string]bool
	report    models.AcquireReport
}

func (a *acquisition) enter(state models.AcquireState) {
	a.report.States = append(a.report.States, state)
}

func (a *acquisition) fail(format string, args ...any) {
	a.report.Errors = append(a.report.Errors, fmt.Sprintf(format, args...))
}

func (s *Service) run(ctx context.Context, now time.Time, symbols []string, intraday bool) (*models.AcquireResult, error) {
	a := &acquisition{
		intraday:  intraday,
		ref:       s.deps.Calendar.Today(now),
		session:   s.deps.Calendar.SessionDate(now),
		now:       now,
		required:  symbols,
		liveFresh: make(map[string]bool),
	}
	a.report = models.AcquireReport{
		RunID:       uuid.NewString(),
		StartedAt:   now,
		SessionDate: a.session,
		Intraday:    intraday,
	}

	s.logger.Info().
		Str("run_id", a.report.RunID).
		Str("session", a.session.Format("2006-01-02")).
		Bool("intraday", intraday).
		Int("symbols", len(symbols)).
		Msg("Acquisition started")

	steps := []struct {
		state models.AcquireState
		fn    func(context.Context, *acquisition) bool
	}{
		{models.StateCheckLocal, s.checkLocal},
		{models.StateCheckRemotePrebuilt, s.checkRemote},
		{models.StateReconcileTicks, s.reconcileTicks},
		{models.StateFetchLivePerSymbol, s.fetchLive},
		{models.StateMaybeBackfill, s.maybeBackfill},
	}

	var cancelErr error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			s.logger.Warn().Str("run_id", a.report.RunID).Str("state", string(step.state)).Msg("Acquisition cancelled")
			break
		}
		a.enter(step.state)
		if done := step.fn(ctx, a); done {
			break
		}
	}

	a.enter(models.StateDone)
	result := s.finish(ctx, a, cancelErr == nil)
	return result, cancelErr
}

// checkLocal loads the session-date file, or failing that the newest local
// snapshot of the same granularity that validates. Returns true when every
// required symbol is already fresh.
func (s *Service) checkLocal(_ context.Context, a *acquisition) bool {
	var (
		snap *models.Snapshot
		name string
	)
	for _, candidate := range s.localCandidates(a) {
		loaded, err := s.loadLocal(candidate, a.intraday)
		if err == nil {
			snap, name = loaded, candidate
			break
		}
		if !errors.Is(err, snapshotfs.ErrNotFound) {
			a.fail("local %s: %v", candidate, err)
		}
	}
	if snap == nil {
		s.logger.Debug().Bool("intraday", a.intraday).Msg("No usable local snapshot")
		return false
	}

	a.local = snap
	a.working = snap
	a.report.LocalFile = name
	a.report.LocalSymbols = snap.Len()
	if len(a.required) == 0 {
		a.required = snap.Symbols()
	}

	verdict := s.deps.Freshness.EvaluateSymbols(a.working, a.required, a.intraday, a.ref)
	a.report.Verdict = verdict
	s.logger.Info().
		Str("file", name).
		Int("symbols", snap.Len()).
		Int("fresh", verdict.FreshCount).
		Int("stale", verdict.StaleCount).
		Msg("Local snapshot evaluated")

	return len(a.required) > 0 && verdict.StaleCount == 0
}

// localCandidates lists local files in the order they are tried: the session
// file first, then every other snapshot of the granularity, newest first.
func (s *Service) localCandidates(a *acquisition) []string {
	session := snapshotfs.FileName(a.session, a.intraday)
	names := []string{session}
	listed, err := s.deps.Store.List(a.intraday)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list local snapshots")
		return names
	}
	for _, n := range listed {
		if n != session {
			names = append(names, n)
		}
	}
	return names
}

// loadLocal reads one local file with size, decode and shape checks. A failed
// check is corruption: the file is re-read up to CorruptionRetries times with
// diagnostic logging before being treated as absent.
func (s *Service) loadLocal(name string, intraday bool) (*models.Snapshot, error) {
	logger := s.logger
	var lastErr error
	for attempt := 0; attempt <= s.retries(); attempt++ {
		if attempt > 0 {
			logger = s.logger.Verbose()
			logger.Debug().Str("file", name).Int("attempt", attempt).Err(lastErr).Msg("Re-reading corrupt local snapshot")
		}

		snap, err := s.readLocal(name, intraday)
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, snapshotfs.ErrNotFound) {
			return nil, err
		}
		lastErr = err
		logger.Warn().Str("file", name).Err(err).Msg("Local snapshot failed validation")
	}
	return nil, lastErr
}

func (s *Service) readLocal(name string, intraday bool) (*models.Snapshot, error) {
	size, err := s.deps.Store.Size(name)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Validator.CheckSize(size, intraday); err != nil {
		return nil, err
	}
	snap, err := s.deps.Store.Load(name)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Validator.CheckShape(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// checkRemote downloads the prebuilt snapshot for the session, walking back over
// previous trading days while the artifact is absent, and merges it into the
// working snapshot.
func (s *Service) checkRemote(ctx context.Context, a *acquisition) bool {
	if s.deps.Remote == nil {
		return false
	}

	date := a.session
	lookback := s.policy.RemoteLookbackDays
	if lookback < 0 {
		lookback = 0
	}

	for i := 0; i <= lookback; i++ {
		if i > 0 {
			date = s.deps.Calendar.PreviousTradingDay(date)
		}
		// Nothing older than the local snapshot can win the merge
		if a.local != nil && !a.local.Date.IsZero() && date.Before(a.local.Date) {
			break
		}

		for _, name := range remoteNames(date, a.intraday) {
			remote, data, err := s.downloadRemote(ctx, name, a.intraday)
			if errors.Is(err, artifacts.ErrNotFound) {
				continue
			}
			if err != nil {
				a.fail("remote %s: %v", name, err)
				return false
			}
			s.adoptRemote(a, name, remote, data)
			return false
		}
	}

	s.logger.Info().Int("lookback", lookback).Msg("No remote prebuilt snapshot available")
	return false
}

// remoteNames lists the artifact names tried for one session date, preferred first.
func remoteNames(date time.Time, intraday bool) []string {
	arrowName := snapshotfs.FileName(date, intraday)
	return []string{arrowName, strings.TrimSuffix(arrowName, ".arrow") + ".json"}
}

// downloadRemote fetches and validates one artifact. Corruption, including a
// truncated transfer, gets the same bounded retry as local files; absence and
// other transport errors do not.
func (s *Service) downloadRemote(ctx context.Context, name string, intraday bool) (*models.Snapshot, []byte, error) {
	logger := s.logger
	var lastErr error
	for attempt := 0; attempt <= s.retries(); attempt++ {
		if attempt > 0 {
			logger = s.logger.Verbose()
			logger.Debug().Str("artifact", name).Int("attempt", attempt).Err(lastErr).Msg("Retrying corrupt remote snapshot")
		}

		data, err := s.deps.Remote.Download(ctx, name)
		if err != nil && !errors.Is(err, artifacts.ErrTruncated) {
			return nil, nil, err
		}
		if err == nil {
			snap, derr := s.decodeRemote(name, data, intraday)
			if derr == nil {
				return snap, data, nil
			}
			err = derr
		}
		lastErr = err
		logger.Warn().Str("artifact", name).Int("bytes", len(data)).Err(err).Msg("Remote snapshot failed validation")
	}
	return nil, nil, fmt.Errorf("corrupt after %d attempts: %w", s.retries()+1, lastErr)
}

func (s *Service) decodeRemote(name string, data []byte, intraday bool) (*models.Snapshot, error) {
	if err := s.deps.Validator.CheckSize(int64(len(data)), intraday); err != nil {
		return nil, err
	}
	snap, err := snapshotfs.Decode(name, data, s.deps.Calendar.Location())
	if err != nil {
		return nil, err
	}
	if err := s.deps.Validator.CheckShape(snap); err != nil {
		return nil, err
	}
	snap.Source = models.TierRemote
	return snap, nil
}

// adoptRemote merges a validated remote snapshot into the working one: per
// symbol the newer last bar wins and an exact tie keeps local.
func (s *Service) adoptRemote(a *acquisition, name string, remote *models.Snapshot, data []byte) {
	a.report.RemoteFile = name

	// Committed under its own name unless that would overwrite the local file being merged into
	if name != a.report.LocalFile {
		if err := s.deps.Store.WriteRaw(name, data); err != nil {
			s.logger.Warn().Str("artifact", name).Err(err).Msg("Failed to commit remote snapshot locally")
		}
	}

	if a.working == nil {
		a.working = remote
		a.report.RemoteAdopted = remote.Len()
		if len(a.required) == 0 {
			a.required = remote.Symbols()
		}
		s.logger.Info().Str("artifact", name).Int("symbols", remote.Len()).Msg("Adopted remote snapshot")
		return
	}

	merged, adopted := mergeNewer(a.working, remote)
	if adopted > 0 {
		a.working = merged
		a.dirty = true
	}
	a.report.RemoteAdopted = adopted
	s.logger.Info().
		Str("artifact", name).
		Int("remote_symbols", remote.Len()).
		Int("adopted", adopted).
		Msg("Merged remote snapshot")
}

// mergeNewer returns base with every series from other whose last bar is newer,
// plus series base lacks. base is not modified.
func mergeNewer(base, other *models.Snapshot) (*models.Snapshot, int) {
	out := base.Clone()
	adopted := 0
	for _, sym := range other.Symbols() {
		candidate := other.Series[sym]
		cLast, ok := candidate.LastTimestamp()
		if !ok {
			continue
		}
		current, exists := out.Series[sym]
		if exists {
			if last, ok := current.LastTimestamp(); ok && !cLast.After(last) {
				continue
			}
		}
		out.Series[sym] = candidate
		adopted++
	}
	return out, adopted
}

func (s *Service) reconcileTicks(ctx context.Context, a *acquisition) bool {
	if s.deps.Reconciler == nil || a.working == nil {
		return false
	}
	patched, n := s.deps.Reconciler.Reconcile(ctx, a.working)
	if patched != nil {
		a.working = patched
	}
	a.report.TicksApplied = n
	if n > 0 {
		a.dirty = true
	}
	return false
}

// fetchLive fetches every required symbol still missing or stale. During market
// hours a successfully fetched series is accepted as fresh.
func (s *Service) fetchLive(ctx context.Context, a *acquisition) bool {
	if s.deps.Live == nil || len(a.required) == 0 {
		return false
	}
	verdict := s.deps.Freshness.EvaluateSymbols(a.working, a.required, a.intraday, a.ref)
	if verdict.StaleCount == 0 {
		return false
	}

	from := a.ref.AddDate(0, 0, -s.historyDays())
	if a.intraday {
		from = a.session
	}
	fetched, failed := s.deps.Live.Fetch(ctx, verdict.Stale, from, a.now, a.intraday)
	a.report.LiveFailed = len(failed)

	if a.working == nil {
		a.working = models.NewSnapshot(a.session, a.intraday, models.TierLive)
	}
	incoming := models.NewSnapshot(a.session, a.intraday, models.TierLive)
	for sym, series := range fetched {
		incoming.Series[sym] = series
	}
	merged, adopted := mergeNewer(a.working, incoming)
	if adopted > 0 {
		a.working = merged
		a.dirty = true
	}
	a.report.LiveFetched = adopted

	if s.deps.Calendar.IsMarketOpen(a.now) {
		for sym := range fetched {
			a.liveFresh[sym] = true
		}
	}

	for sym, err := range failed {
		s.logger.Debug().Str("symbol", sym).Err(err).Msg("Symbol unresolved by live fetch")
	}
	return false
}

// maybeBackfill asks for a remote backfill when the aggregate staleness reaches
// the policy threshold. The returned data is not affected.
func (s *Service) maybeBackfill(ctx context.Context, a *acquisition) bool {
	verdict := s.verdict(a)
	a.report.Verdict = verdict
	if s.deps.Backfill == nil || verdict.Total() == 0 {
		return false
	}
	minStale := s.policy.BackfillMinStale
	if minStale < 1 {
		minStale = 1
	}
	if verdict.StaleFraction() < s.policy.BackfillStaleFraction || verdict.StaleCount < minStale {
		return false
	}

	days := s.policy.FallbackBackfillDays
	if newest, ok := a.working.NewestBar(); ok {
		days = s.deps.Calendar.TradingDaysBetween(newest, a.ref)
	}
	if days < 1 {
		days = 1
	}

	a.report.BackfillAttempted = true
	a.report.MissingTradingDays = days
	a.report.BackfillAccepted = s.deps.Backfill.Trigger(ctx, days)

	s.logger.Info().
		Int("stale", verdict.StaleCount).
		Int("total", verdict.Total()).
		Int("missing_trading_days", days).
		Bool("accepted", a.report.BackfillAccepted).
		Msg("Backfill requested")
	return false
}

// verdict evaluates the working snapshot, counting symbols fetched live during
// market hours as fresh.
func (s *Service) verdict(a *acquisition) models.SnapshotVerdict {
	v := s.deps.Freshness.EvaluateSymbols(a.working, a.required, a.intraday, a.ref)
	if len(a.liveFresh) == 0 {
		return v
	}
	stale := v.Stale[:0:0]
	for _, sym := range v.Stale {
		if a.liveFresh[sym] {
			v.StaleCount--
			v.FreshCount++
			continue
		}
		stale = append(stale, sym)
	}
	v.Stale = stale
	return v
}

// finish computes the unresolved set, persists a changed snapshot and records the run.
func (s *Service) finish(ctx context.Context, a *acquisition, commit bool) *models.AcquireResult {
	verdict := s.verdict(a)
	a.report.Verdict = verdict

	unresolved := append([]string(nil), verdict.Stale...)
	sort.Strings(unresolved)

	if commit && s.policy.PersistResult && a.dirty && a.working.Len() > 0 {
		s.persist(a)
	}

	a.report.CompletedAt = s.now()
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.Record(context.WithoutCancel(ctx), a.report, unresolved); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record acquisition run")
		}
	}

	snap := a.working
	if snap == nil {
		snap = models.NewSnapshot(a.session, a.intraday, models.TierNone)
	}

	s.logger.Info().
		Str("run_id", a.report.RunID).
		Int("symbols", snap.Len()).
		Int("fresh", verdict.FreshCount).
		Int("unresolved", len(unresolved)).
		Int("ticks_applied", a.report.TicksApplied).
		Int("live_fetched", a.report.LiveFetched).
		Bool("backfill", a.report.BackfillAttempted).
		Dur("elapsed", a.report.Elapsed()).
		Msg("Acquisition complete")

	return &models.AcquireResult{
		Snapshot:   snap,
		Unresolved: unresolved,
		Report:     a.report,
	}
}

// persist writes the working snapshot as the session-date file. A result that
// encodes below the trusted minimum size is not written: checkLocal would read
// it back as corrupt and skip past it.
func (s *Service) persist(a *acquisition) {
	out := a.working.Clone()
	out.Date = a.session
	out.Intraday = a.intraday
	name := snapshotfs.FileName(a.session, a.intraday)

	data, err := frame.Encode(out)
	if err != nil {
		a.fail("persist: %v", err)
		s.logger.Warn().Err(err).Msg("Failed to encode acquired snapshot")
		return
	}
	if err := s.deps.Validator.CheckSize(int64(len(data)), a.intraday); err != nil {
		s.logger.Info().
			Str("file", name).
			Int("symbols", out.Len()).
			Err(err).
			Msg("Acquired snapshot below trusted size, not persisted")
		return
	}
	if err := s.deps.Store.WriteRaw(name, data); err != nil {
		a.fail("persist: %v", err)
		s.logger.Warn().Err(err).Msg("Failed to persist acquired snapshot")
		return
	}
	a.report.Persisted = true
	s.logger.Debug().Str("file", name).Int("bytes", len(data)).Msg("Acquired snapshot persisted")
}

func (s *Service) retries() int {
	if s.policy.CorruptionRetries < 0 {
		return 0
	}
	return s.policy.CorruptionRetries
}

func (s *Service) historyDays() int {
	if s.policy.LiveFetchHistoryDays <= 0 {
		return 365
	}
	return s.policy.LiveFetchHistoryDays
}

// normalizeSymbols trims, dedupes and sorts the requested symbols.
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
