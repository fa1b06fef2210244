// Package slot owns the slot-pack aggregation layer: merging decode results
// from however many sub-window and full-window passes ran against a slot,
// de-duplicating by signal identity, and expiring packs old enough that no
// further decode pass will contribute to them.
package slot

import (
	"sort"
	"sync"
	"time"

	"github.com/kb5ft8/ft8d/pkg/model"
)

// PackManager holds every slot pack still within its retention window,
// keyed by slot index.
type PackManager struct {
	mu        sync.Mutex
	packs     map[int64]*model.SlotPack
	retention time.Duration
}

// NewPackManager builds a PackManager that keeps closed packs around for
// retention before CleanupExpired removes them, long enough for a late
// decode pass or a status query to still see them.
func NewPackManager(retention time.Duration) *PackManager {
	return &PackManager{packs: make(map[int64]*model.SlotPack), retention: retention}
}

// MergeResult folds a decode pass's frames into the pack for its slot,
// creating the pack if this is the first pass to touch that slot.
// windowIdx identifies the decode pass (0 for the full-window pass) and
// windowOffsetMs is the DT correction MergeDecodeResult applies before
// de-duplicating; processedAt/processingTimeMs feed the
// pack's DecodeHistory.
func (p *PackManager) MergeResult(mode string, slotIndex int64, start, end time.Time, frames []model.FrameMessage, windowIdx int, windowOffsetMs float64, processedAt time.Time, processingTimeMs float64) *model.SlotPack {
	p.mu.Lock()
	defer p.mu.Unlock()

	pack, ok := p.packs[slotIndex]
	if !ok {
		pack = &model.SlotPack{Mode: mode, SlotIndex: slotIndex, Start: start, End: end}
		p.packs[slotIndex] = pack
	}
	pack.MergeDecodeResult(frames, windowIdx, windowOffsetMs, processedAt, processingTimeMs)
	return pack
}

// AddTransmissionFrame records one of this station's own outbound
// transmissions against the pack for slotIndex, creating the pack (spanning
// [start, end)) if no decode pass has touched that slot yet.
func (p *PackManager) AddTransmissionFrame(mode string, slotIndex int64, start, end time.Time, message string, freqHz float64, timestamp time.Time) *model.SlotPack {
	p.mu.Lock()
	defer p.mu.Unlock()

	pack, ok := p.packs[slotIndex]
	if !ok {
		pack = &model.SlotPack{Mode: mode, SlotIndex: slotIndex, Start: start, End: end}
		p.packs[slotIndex] = pack
	}
	pack.AddTransmissionFrame(message, freqHz, timestamp)
	return pack
}

// Close marks a slot pack as finalized (no further decode passes expected).
// Safe to call on a slot index with no pack yet; it is a no-op in that case.
func (p *PackManager) Close(slotIndex int64, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pack, ok := p.packs[slotIndex]; ok {
		pack.ClosedAt = at
	}
}

// Get returns the pack for slotIndex, if any.
func (p *PackManager) Get(slotIndex int64) (*model.SlotPack, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pack, ok := p.packs[slotIndex]
	return pack, ok
}

// CleanupExpired drops any pack that hasn't been touched within the
// retention window: explicitly closed packs age from their close time,
// everything else from its last merge (or, for a pack that never received
// a frame, its slot end).
func (p *PackManager) CleanupExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for idx, pack := range p.packs {
		ref := pack.ClosedAt
		if ref.IsZero() {
			ref = pack.Stats.LastUpdated
		}
		if ref.IsZero() {
			ref = pack.End
		}
		if now.Sub(ref) > p.retention {
			delete(p.packs, idx)
			removed++
		}
	}
	return removed
}

// Active returns every retained pack, newest slot first.
func (p *PackManager) Active() []*model.SlotPack {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.SlotPack, 0, len(p.packs))
	for _, pack := range p.packs {
		out = append(out, pack)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex > out[j].SlotIndex })
	return out
}

// Latest returns the pack with the highest slot index, if any exist.
func (p *PackManager) Latest() (*model.SlotPack, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *model.SlotPack
	for _, pack := range p.packs {
		if best == nil || pack.SlotIndex > best.SlotIndex {
			best = pack
		}
	}
	return best, best != nil
}

// GetLastMessageFromCallsign scans every retained pack (newest slot first)
// for the most recent frame sent by call.
func (p *PackManager) GetLastMessageFromCallsign(call string) (model.FrameMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	indices := make([]int64, 0, len(p.packs))
	for idx := range p.packs {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] > indices[j] })

	for _, idx := range indices {
		if f, ok := p.packs[idx].FindByCallsign(call); ok {
			return f, true
		}
	}
	return model.FrameMessage{}, false
}

// FindBestTransmitFrequency picks an audio frequency for a new outbound
// transmission that avoids stepping on frames already decoded in the slot:
// it looks for the widest gap between occupied frequencies within
// [minHz, maxHz], keeping guardHz/2 away from each neighbor, and returns
// the gap's center. An unoccupied slot yields the band midpoint; a band
// with no gap at least guardHz/2 wide yields ok=false and the caller keeps
// its current frequency.
func (p *PackManager) FindBestTransmitFrequency(slotIndex int64, minHz, maxHz, guardHz float64) (float64, bool) {
	p.mu.Lock()
	pack, found := p.packs[slotIndex]
	p.mu.Unlock()
	if !found || len(pack.Frames) == 0 {
		return (minHz + maxHz) / 2, true
	}

	occupied := make([]float64, 0, len(pack.Frames))
	for _, f := range pack.Frames {
		occupied = append(occupied, f.FreqHz)
	}
	sort.Float64s(occupied)

	keepAway := guardHz / 2
	type gap struct{ lo, hi float64 }
	gaps := []gap{{minHz, occupied[0] - keepAway}}
	for i := 1; i < len(occupied); i++ {
		gaps = append(gaps, gap{occupied[i-1] + keepAway, occupied[i] - keepAway})
	}
	gaps = append(gaps, gap{occupied[len(occupied)-1] + keepAway, maxHz})

	var best gap
	bestWidth := -1.0
	for _, g := range gaps {
		if width := g.hi - g.lo; width > bestWidth {
			bestWidth = width
			best = g
		}
	}
	if bestWidth < keepAway {
		return 0, false
	}
	return (best.lo + best.hi) / 2, true
}
