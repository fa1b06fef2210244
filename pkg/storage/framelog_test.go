package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kb5ft8/ft8d/pkg/model"
)

func testPack(slotIndex int64, start time.Time) *model.SlotPack {
	return &model.SlotPack{
		Mode:      "FT8",
		SlotIndex: slotIndex,
		Start:     start,
		End:       start.Add(15 * time.Second),
		Frames: []model.FrameMessage{
			{Text: "CQ W1AW FN42", Callsign: "W1AW", Grid: "FN42", SNR: -5, ReceivedAt: start},
		},
		Stats: model.Stats{TotalDecodes: 1, SuccessfulDecodes: 1},
	}
}

func readRecords(t *testing.T, path string) []FrameRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []FrameRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec FrameRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestAppendWritesSlotIdMatchingStartMsInvariant(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFrameLog(dir)
	require.NoError(t, err)
	defer fl.Close()

	start := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	pack := testPack(42, start)
	storedAt := start.Add(2 * time.Second)

	require.NoError(t, fl.Append(pack, "created", storedAt))

	path := filepath.Join(dir, fmt.Sprintf("frames-%s.jsonl", storedAt.Format("2006-01-02")))
	records := readRecords(t, path)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, "created", rec.Operation)
	require.Equal(t, recordVersion, rec.Version)
	require.Equal(t, "FT8", rec.Mode)
	require.Equal(t, fmt.Sprintf("slot-%d", start.UnixMilli()), rec.SlotPack.SlotID)
	require.Equal(t, start.UnixMilli(), rec.SlotPack.StartMs)
}

func TestAppendRotatesFileAcrossUTCDayBoundary(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFrameLog(dir)
	require.NoError(t, err)
	defer fl.Close()

	day1 := time.Date(2026, 7, 29, 23, 59, 59, 0, time.UTC)
	day2 := time.Date(2026, 7, 30, 0, 0, 1, 0, time.UTC)

	require.NoError(t, fl.Append(testPack(1, day1), "created", day1))
	require.NoError(t, fl.Append(testPack(2, day2), "created", day2))

	_, err = os.Stat(filepath.Join(dir, "frames-2026-07-29.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "frames-2026-07-30.jsonl"))
	require.NoError(t, err)
}

func TestAppendMultipleRecordsSameDayAppendInOrder(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFrameLog(dir)
	require.NoError(t, err)
	defer fl.Close()

	start := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fl.Append(testPack(1, start), "created", start))
	require.NoError(t, fl.Append(testPack(1, start), "updated", start.Add(time.Second)))

	path := filepath.Join(dir, "frames-2026-07-29.jsonl")
	records := readRecords(t, path)
	require.Len(t, records, 2)
	require.Equal(t, "created", records[0].Operation)
	require.Equal(t, "updated", records[1].Operation)
}

func TestAppendRejectsNilPack(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFrameLog(dir)
	require.NoError(t, err)
	defer fl.Close()

	require.Error(t, fl.Append(nil, "created", time.Now()))
}

func TestCloseIsIdempotentAndRejectsFurtherAppends(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFrameLog(dir)
	require.NoError(t, err)

	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close())

	err = fl.Append(testPack(1, time.Now().UTC()), "created", time.Now().UTC())
	require.Error(t, err)
}
