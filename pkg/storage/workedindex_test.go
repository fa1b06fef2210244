package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *WorkedStationIndex {
	t.Helper()
	dir := t.TempDir()
	idx, err := NewWorkedStationIndex(filepath.Join(dir, "worked.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestNewWorkedStationIndexCreatesNestedDir(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nested", "deeper", "worked.db")
	idx, err := NewWorkedStationIndex(dbPath)
	require.NoError(t, err)
	defer idx.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestHasWorkedFalseBeforeAnyRecord(t *testing.T) {
	idx := newTestIndex(t)
	require.False(t, idx.HasWorked("W1AW"))
}

func TestRecordQSOThenHasWorkedTrue(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.RecordQSO("W1AW", "FT8", "20m", time.Now()))
	require.True(t, idx.HasWorked("W1AW"))
	require.True(t, idx.HasWorkedOn("W1AW", "FT8", "20m"))
	require.False(t, idx.HasWorkedOn("W1AW", "FT8", "40m"))
}

func TestRecordQSOIsIdempotentForSamePair(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Now()
	require.NoError(t, idx.RecordQSO("K2ABC", "FT4", "15m", now))
	require.NoError(t, idx.RecordQSO("K2ABC", "FT4", "15m", now.Add(time.Minute)))

	var n int
	require.NoError(t, idx.db.QueryRow("SELECT COUNT(*) FROM worked_stations WHERE callsign = ?", "K2ABC").Scan(&n))
	require.Equal(t, 1, n, "same callsign/mode/band pair must upsert, not duplicate")
}

func TestHasWorkedIsCaseSensitiveExactMatch(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.RecordQSO("N0CALL", "FT8", "10m", time.Now()))
	require.True(t, idx.HasWorked("N0CALL"))
	require.False(t, idx.HasWorked("n0call"))
}
