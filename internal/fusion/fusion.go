// Package fusion reduces the concatenated output of every detector on a page to
// one ordered list of non-overlapping, plausibly sized fields.
package fusion

import (
	"math"
	"sort"

	"github.com/tidwall/rtree"

	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
)

// Config holds the fusion thresholds, in document units. Size bounds are exclusive.
type Config struct {
	BaselineTolerance float64

	TextMinWidth  float64
	TextMaxWidth  float64
	TextMinHeight float64
	TextMaxHeight float64

	BoxMinSide float64 // checkbox and radio
	BoxMaxSide float64

	// ExemptStructured skips the plausibility bounds for records the document
	// itself declares. They still need a positive area.
	ExemptStructured bool
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		BaselineTolerance: 3,
		TextMinWidth:      20,
		TextMaxWidth:      500,
		TextMinHeight:     5,
		TextMaxHeight:     50,
		BoxMinSide:        5,
		BoxMaxSide:        40,
		ExemptStructured:  true,
	}
}

// Fuse runs baseline merging, overlap resolution and size filtering in that
// order. The input is not modified.
func Fuse(records []fields.Record, cfg Config) []fields.Record {
	merged := MergeBaselines(records, cfg.BaselineTolerance)
	resolved := ResolveOverlaps(merged)
	return FilterBySize(resolved, cfg)
}

// MergeBaselines unions records lying on the same baseline into one record
// spanning their combined horizontal extent. Records merge when they share kind
// and detection method, their bottom edges differ by less than tolerance, and
// they are not anchored to two different labels. Sharing a kind is not enough:
// records from different detectors stay separate and are left to
// ResolveOverlaps. The first record's attributes are kept. Structured
// annotation records are never merged.
func MergeBaselines(records []fields.Record, tolerance float64) []fields.Record {
	out := make([]fields.Record, 0, len(records))
	used := make([]bool, len(records))

	for i := range records {
		if used[i] {
			continue
		}
		used[i] = true
		cur := records[i].Clone()

		if cur.Method != fields.MethodStructuredAnnotation {
			for j := i + 1; j < len(records); j++ {
				if used[j] || !sameBaseline(cur, records[j], tolerance) {
					continue
				}
				cur.Rect.X0 = math.Min(cur.Rect.X0, records[j].Rect.X0)
				cur.Rect.X1 = math.Max(cur.Rect.X1, records[j].Rect.X1)
				used[j] = true
			}
		}
		out = append(out, cur)
	}
	return out
}

func sameBaseline(a, b fields.Record, tolerance float64) bool {
	if a.Kind != b.Kind || a.Method != b.Method {
		return false
	}
	if a.Label != "" && b.Label != "" && a.Label != b.Label {
		return false
	}
	return math.Abs(a.Rect.Y0-b.Rect.Y0) < tolerance
}

// ResolveOverlaps keeps the most trusted record of every spatial region.
// Records are ranked by confidence tier, then score, then input order, so the
// score only orders records within one tier; a high-tier record outranks a
// medium one whatever their scores. A record survives only if it shares no
// positive area with a record kept before it.
// Survivors are returned in rank order.
func ResolveOverlaps(records []fields.Record) []fields.Record {
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := records[order[a]], records[order[b]]
		if ra.Confidence != rb.Confidence {
			return ra.Confidence > rb.Confidence
		}
		return ra.Score > rb.Score
	})

	var index rtree.RTreeG[geometry.Rect]
	kept := make([]fields.Record, 0, len(records))
	for _, i := range order {
		r := records[i]
		if overlapsKept(&index, r.Rect) {
			continue
		}
		index.Insert(point(r.Rect.X0, r.Rect.Y0), point(r.Rect.X1, r.Rect.Y1), r.Rect)
		kept = append(kept, r.Clone())
	}
	return kept
}

func overlapsKept(index *rtree.RTreeG[geometry.Rect], rect geometry.Rect) bool {
	overlaps := false
	index.Search(point(rect.X0, rect.Y0), point(rect.X1, rect.Y1), func(_, _ [2]float64, other geometry.Rect) bool {
		// the index also reports rectangles that only touch
		if rect.Intersects(other) {
			overlaps = true
			return false
		}
		return true
	})
	return overlaps
}

func point(x, y float64) [2]float64 {
	return [2]float64{x, y}
}

// FilterBySize drops records whose dimensions are implausible for their kind
func FilterBySize(records []fields.Record, cfg Config) []fields.Record {
	out := make([]fields.Record, 0, len(records))
	for _, r := range records {
		if Plausible(r, cfg) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Plausible reports whether a record passes the size filter
func Plausible(r fields.Record, cfg Config) bool {
	if r.Rect.Empty() {
		return false
	}
	if cfg.ExemptStructured && r.Method == fields.MethodStructuredAnnotation {
		return true
	}

	w, h := r.Rect.Width(), r.Rect.Height()
	switch r.Kind {
	case fields.KindText:
		return between(w, cfg.TextMinWidth, cfg.TextMaxWidth) && between(h, cfg.TextMinHeight, cfg.TextMaxHeight)
	case fields.KindCheckbox, fields.KindRadio:
		return between(w, cfg.BoxMinSide, cfg.BoxMaxSide) && between(h, cfg.BoxMinSide, cfg.BoxMaxSide)
	default:
		return true
	}
}

func between(v, lo, hi float64) bool {
	return v > lo && v < hi
}
