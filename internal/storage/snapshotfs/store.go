// Package snapshotfs implements the local snapshot tier as files in a single directory.
// Files are only ever replaced by atomic rename, so readers never observe partial writes.
package snapshotfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/stockcache/internal/common"
	"github.com/bobmcallan/stockcache/internal/frame"
	"github.com/bobmcallan/stockcache/internal/interfaces"
	"github.com/bobmcallan/stockcache/internal/models"
)

// ErrNotFound is returned when a snapshot file does not exist.
var ErrNotFound = errors.New("snapshot not found")

const (
	dailyPrefix    = "stock_data_"
	intradayPrefix = "intraday_stock_data_"
	nameDateLayout = "02012006"
	extArrow       = ".arrow"
	extJSON        = ".json"
	tmpPrefix      = ".tmp-"
)

// FileName returns the deterministic snapshot file name for a session date and granularity.
func FileName(date time.Time, intraday bool) string {
	prefix := dailyPrefix
	if intraday {
		prefix = intradayPrefix
	}
	return prefix + date.Format(nameDateLayout) + extArrow
}

// ParseFileName extracts the session date and granularity from a snapshot file name.
// Both .arrow and .json names are recognised.
func ParseFileName(name string, loc *time.Location) (time.Time, bool, bool) {
	if loc == nil {
		loc = time.UTC
	}
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if ext != extArrow && ext != extJSON {
		return time.Time{}, false, false
	}
	stem := strings.TrimSuffix(base, ext)

	intraday := false
	switch {
	case strings.HasPrefix(stem, intradayPrefix):
		intraday = true
		stem = strings.TrimPrefix(stem, intradayPrefix)
	case strings.HasPrefix(stem, dailyPrefix):
		stem = strings.TrimPrefix(stem, dailyPrefix)
	default:
		return time.Time{}, false, false
	}
	d, err := time.ParseInLocation(nameDateLayout, stem, loc)
	if err != nil {
		return time.Time{}, false, false
	}
	return d, intraday, true
}

// Store is the file-backed local snapshot tier.
type Store struct {
	dir    string
	loc    *time.Location
	logger *common.Logger
}

var _ interfaces.SnapshotStore = (*Store)(nil)

// NewStore creates the snapshot directory if needed. Dates in file names are
// interpreted in loc (the exchange timezone).
func NewStore(logger *common.Logger, dir string, loc *time.Location) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot path %s: %w", dir, err)
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if loc == nil {
		loc = time.UTC
	}
	logger.Debug().Str("path", dir).Msg("Snapshot store opened")
	return &Store{dir: dir, loc: loc, logger: logger}, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// Size returns the on-disk size of a snapshot file.
func (s *Store) Size(name string) (int64, error) {
	info, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return info.Size(), nil
}

// ReadRaw reads a snapshot file fully into memory.
func (s *Store) ReadRaw(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// WriteRaw writes data to a temp file in the snapshot directory and renames it over name.
func (s *Store) WriteRaw(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}
	target := s.path(name)

	tmpFile, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.logger.Debug().Str("file", name).Int("bytes", len(data)).Msg("Snapshot written")
	return nil
}

// Load reads and decodes a snapshot file. The snapshot date and granularity are
// taken from the file name when it follows the naming convention.
func (s *Store) Load(name string) (*models.Snapshot, error) {
	data, err := s.ReadRaw(name)
	if err != nil {
		return nil, err
	}
	snap, err := Decode(name, data, s.loc)
	if err != nil {
		return nil, err
	}
	snap.Source = models.TierLocal
	return snap, nil
}

// Save encodes a snapshot and writes it under its session-date file name.
func (s *Store) Save(snap *models.Snapshot) (string, error) {
	data, err := frame.Encode(snap)
	if err != nil {
		return "", err
	}
	name := FileName(snap.Date, snap.Intraday)
	if err := s.WriteRaw(name, data); err != nil {
		return "", err
	}
	return name, nil
}

// List returns snapshot file names of one granularity, newest session date first.
func (s *Store) List(intraday bool) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	type dated struct {
		name string
		date time.Time
	}
	var files []dated
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		d, isIntraday, ok := ParseFileName(e.Name(), s.loc)
		if !ok || isIntraday != intraday {
			continue
		}
		files = append(files, dated{name: e.Name(), date: d})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].date.Equal(files[j].date) {
			return files[i].name < files[j].name
		}
		return files[i].date.After(files[j].date)
	})

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// Latest returns the newest snapshot file name of one granularity.
func (s *Store) Latest(intraday bool) (string, error) {
	names, err := s.List(intraday)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNotFound
	}
	return names[0], nil
}

// Prune removes all but the newest keep snapshots of one granularity and returns the count removed.
func (s *Store) Prune(intraday bool, keep int) (int, error) {
	names, err := s.List(intraday)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i, name := range names {
		if i < keep {
			continue
		}
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("file", name).Msg("Failed to prune snapshot")
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, sanitizeName(name))
}

// Decode parses snapshot bytes by file extension: .json split-frame documents or Arrow IPC.
func Decode(name string, data []byte, loc *time.Location) (*models.Snapshot, error) {
	var (
		snap *models.Snapshot
		err  error
	)
	if strings.EqualFold(filepath.Ext(name), extJSON) {
		snap, _, err = frame.DecodeSplitJSON(data, loc)
	} else {
		snap, err = frame.Decode(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	if d, intraday, ok := ParseFileName(name, loc); ok {
		snap.Date = d
		snap.Intraday = intraday
	}
	return snap, nil
}

func sanitizeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(name)
}
