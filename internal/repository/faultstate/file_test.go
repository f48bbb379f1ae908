package faultstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldbus-tools/vibro-sentinel/internal/domain/fault"
)

// testSnapshot builds a two-channel snapshot for round-trip checks.
func testSnapshot(ts time.Time) *fault.Snapshot {
	s := fault.NewSnapshot()
	s.Channels["crank_left"] = fault.ChannelState{
		Channel:   "crank_left",
		Level:     fault.LevelAlarm,
		Value:     12.5,
		Timestamp: ts,
	}
	s.Channels["tail_bearing"] = fault.ChannelState{
		Channel:   "tail_bearing",
		Level:     fault.LevelNormal,
		Value:     1.25,
		Timestamp: ts,
	}

	return s
}

// TestPublishReadRoundtrip: read(publish(x)) returns x in all fields except
// the store-stamped sequence and timestamp.
func TestPublishReadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fault-state.json")

	store, err := Open(path, time.Minute)
	require.NoError(t, err)

	in := testSnapshot(time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, store.Publish(context.Background(), in))

	out, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, fault.SchemaVersion, out.Version)
	require.Equal(t, uint64(1), out.Sequence)
	require.Equal(t, in.Channels, out.Channels)
}

// TestSequenceIncreasesAndResumes: strictly increasing per publish,
// resuming across a store reopen.
func TestSequenceIncreasesAndResumes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fault-state.json")

	store, err := Open(path, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Publish(context.Background(), testSnapshot(time.Now())))
	}

	reopened, err := Open(path, time.Minute)
	require.NoError(t, err)
	require.NoError(t, reopened.Publish(context.Background(), testSnapshot(time.Now())))

	out, err := reopened.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(4), out.Sequence)
}

// TestReadMissing returns ErrNotFound before the first publish.
func TestReadMissing(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "fault-state.json"), time.Minute)
	require.NoError(t, err)

	_, err = store.Read(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

// TestStaleness: a well-formed record past max-age reads back with ErrStale.
func TestStaleness(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fault-state.json")

	store, err := Open(path, 5*time.Second)
	require.NoError(t, err)

	published := time.Now()
	store.now = func() time.Time { return published }
	require.NoError(t, store.Publish(context.Background(), testSnapshot(published)))

	// Within max-age: fresh.
	store.now = func() time.Time { return published.Add(4 * time.Second) }
	_, err = store.Read(context.Background())
	require.NoError(t, err)

	// Past max-age: stale, but the record is still handed back.
	store.now = func() time.Time { return published.Add(6 * time.Second) }

	out, err := store.Read(context.Background())
	require.ErrorIs(t, err, ErrStale)
	require.NotNil(t, out)
	require.Equal(t, uint64(1), out.Sequence)
}

// TestCorruptRecord: unreadable JSON surfaces as a read error, and a fresh
// store still opens over it.
func TestCorruptRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fault-state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := Open(path, time.Minute)
	require.NoError(t, err)

	_, err = store.Read(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)

	// Publishing replaces the corrupt record.
	require.NoError(t, store.Publish(context.Background(), testSnapshot(time.Now())))

	_, err = store.Read(context.Background())
	require.NoError(t, err)
}

// TestSchemaVersionChecked: a record from a future schema is rejected.
func TestSchemaVersionChecked(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fault-state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"sequence":1,"timestamp":"2026-01-01T00:00:00Z","channels":{}}`), 0o600))

	store, err := Open(path, time.Minute)
	require.NoError(t, err)

	_, err = store.Read(context.Background())
	require.ErrorContains(t, err, "schema version")
}

// TestNoTempFilesLeftBehind: publish leaves exactly the state file in the
// directory.
func TestNoTempFilesLeftBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "fault-state.json")

	store, err := Open(path, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Publish(context.Background(), testSnapshot(time.Now())))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "fault-state.json", entries[0].Name())
}
