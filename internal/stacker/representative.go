package stacker

import (
	"sort"

	"github.com/kozaktomas/photo-stacker/internal/database"
)

// SelectRepresentative picks the best instance of a group for display.
// The order is a deterministic total order applied as successive
// tie-breaks: higher resolution, larger file size, earlier capture time,
// camera-original over screenshot, lowest photo record id. The final
// criterion never ties, so the same input always elects the same winner.
func SelectRepresentative(candidates []database.InstanceDetail) (database.InstanceDetail, bool) {
	if len(candidates) == 0 {
		return database.InstanceDetail{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if betterRepresentative(c, best) {
			best = c
		}
	}
	return best, true
}

// SortByPreference orders candidates best-first using the same total order
// as SelectRepresentative. The stack generator uses it to assign ranks.
func SortByPreference(candidates []database.InstanceDetail) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return betterRepresentative(candidates[i], candidates[j])
	})
}

func betterRepresentative(a, b database.InstanceDetail) bool {
	// 1. Higher pixel resolution
	resA := a.Width * a.Height
	resB := b.Width * b.Height
	if resA != resB {
		return resA > resB
	}

	// 2. Larger file size
	if a.SizeBytes != b.SizeBytes {
		return a.SizeBytes > b.SizeBytes
	}

	// 3. Earlier capture timestamp, missing timestamps last
	switch {
	case a.CapturedAt != nil && b.CapturedAt == nil:
		return true
	case a.CapturedAt == nil && b.CapturedAt != nil:
		return false
	case a.CapturedAt != nil && b.CapturedAt != nil && !a.CapturedAt.Equal(*b.CapturedAt):
		return a.CapturedAt.Before(*b.CapturedAt)
	}

	// 4. Camera originals over screenshots
	if a.Screenshot != b.Screenshot {
		return !a.Screenshot
	}

	// 5. Earliest ingestion order, never ties
	return a.PhotoRecordID < b.PhotoRecordID
}
