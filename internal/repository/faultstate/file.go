package faultstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldbus-tools/vibro-sentinel/internal/domain/fault"
)

// Store defines the fault-state handoff operations. The sensor daemon only
// publishes; the alarm daemon only reads.
type Store interface {
	Publish(ctx context.Context, snapshot *fault.Snapshot) error
	Read(ctx context.Context) (*fault.Snapshot, error)
}

var (
	// ErrNotFound is returned when no state has been published yet.
	ErrNotFound = errors.New("fault state not found")
	// ErrStale is returned alongside the decoded snapshot when its age
	// exceeds the configured maximum. It means the producer is not running
	// or is stuck, which is a different situation from a CommFault level
	// published by a healthy producer.
	ErrStale = errors.New("fault state is stale")
)

// FileStore persists the fault state as JSON at a well-known path. Publish
// writes a temporary file in the same directory and atomically renames it
// into place, so a concurrent reader in the other process always sees either
// the previous complete record or the new complete record, never a mix. No
// cross-process locks are involved.
type FileStore struct {
	// path is the filesystem location of the JSON state file.
	path string
	// maxAge is the tolerated gap between producer updates.
	maxAge time.Duration
	// sequence is the last published sequence number.
	sequence uint64
	// now is the clock, replaceable in tests.
	now func() time.Time
}

// Open creates a store at the provided path. An existing readable record
// seeds the sequence counter, so sequence numbers keep increasing across a
// producer restart.
func Open(path string, maxAge time.Duration) (*FileStore, error) {
	s := &FileStore{
		path:   filepath.Clean(path),
		maxAge: maxAge,
		now:    time.Now,
	}

	last, err := s.decode()
	switch {
	case err == nil:
		s.sequence = last.Sequence
	case errors.Is(err, ErrNotFound):
		// First run, start from zero.
	default:
		// A corrupt record is not fatal for the producer: the next publish
		// replaces it. The sequence restarts, which the contract allows
		// only here because the previous record is unreadable anyway.
		return s, nil //nolint:nilerr // Corrupt state is replaced, not fatal.
	}

	return s, nil
}

// Publish stamps the snapshot with the next sequence number and the current
// time, then atomically replaces the state file.
func (s *FileStore) Publish(_ context.Context, snapshot *fault.Snapshot) error {
	record := snapshot.Clone()
	record.Version = fault.SchemaVersion
	record.Sequence = s.sequence + 1
	record.Timestamp = s.now()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode fault state: %w", err)
	}

	dir := filepath.Dir(s.path)

	tmp, err := os.CreateTemp(dir, ".fault-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	// Clean up the temp file on any failure past this point.
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write temp state file: %w", err)
	}

	// The rename is atomic, but the data must be on disk before the name
	// points at it, or a crash could publish an empty record.
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("sync temp state file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	s.sequence = record.Sequence

	return nil
}

// Read returns the last published snapshot. When the record is older than
// maxAge it is still returned, together with ErrStale, so the caller can log
// what it last knew while failing toward alarm.
func (s *FileStore) Read(_ context.Context) (*fault.Snapshot, error) {
	snapshot, err := s.decode()
	if err != nil {
		return nil, err
	}

	if age := s.now().Sub(snapshot.Timestamp); age > s.maxAge {
		return snapshot, fmt.Errorf("%w: age %s exceeds %s", ErrStale, age.Round(time.Millisecond), s.maxAge)
	}

	return snapshot, nil
}

// decode reads and unmarshals the state file.
func (s *FileStore) decode() (*fault.Snapshot, error) {
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var snapshot fault.Snapshot
	if err = json.Unmarshal(contents, &snapshot); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	if snapshot.Version != fault.SchemaVersion {
		return nil, fmt.Errorf("unsupported fault state schema version %d", snapshot.Version)
	}

	return &snapshot, nil
}
