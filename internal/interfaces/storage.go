// Package interfaces defines service contracts for stockcache
package interfaces

import (
	"context"

	"github.com/bobmcallan/stockcache/internal/models"
)

// SnapshotStore is the local snapshot tier
type SnapshotStore interface {
	// Dir returns the directory holding snapshot files
	Dir() string

	// Size returns the on-disk size of a snapshot file
	Size(name string) (int64, error)

	// ReadRaw reads a snapshot file fully into memory
	ReadRaw(name string) ([]byte, error)

	// WriteRaw writes a snapshot file atomically (temp file + rename)
	WriteRaw(name string, data []byte) error

	// Load reads and decodes a snapshot file
	Load(name string) (*models.Snapshot, error)

	// Save encodes a snapshot and writes it under its session-date file name
	Save(snap *models.Snapshot) (string, error)

	// List returns snapshot file names of one granularity, newest first
	List(intraday bool) ([]string, error)

	// Latest returns the newest snapshot file name of one granularity
	Latest(intraday bool) (string, error)
}

// RunRecorder persists acquisition reports
type RunRecorder interface {
	// Record stores one acquisition
	Record(ctx context.Context, report models.AcquireReport, unresolved []string) error

	// Recent returns the most recent runs, newest first
	Recent(ctx context.Context, limit int) ([]models.RunRecord, error)

	// Close releases the underlying storage
	Close() error
}
