// Package position turns unstable renderer-reported page numbers into a
// durable, restart-safe reading position.
package position

import (
	"math"

	"github.com/reflowkit/reflow/internal/render"
)

// Position is the persisted, resumable reading state. Progress is clamped
// to [0,1] and is non-decreasing under forward reading; explicit
// navigation may legitimately move it backward.
type Position struct {
	Locator      string  `json:"locator"`
	ChapterIndex int     `json:"chapter_index"`
	CurrentPage  int     `json:"current_page"`
	TotalPages   int     `json:"total_pages"`
	Progress     float64 `json:"progress"`
	ChapterTitle string  `json:"chapter_title,omitempty"`
}

// IndexView is the read side of the location index consumed by the
// resolver. A nil IndexView or Ready()==false means "fall back".
type IndexView interface {
	Ready() bool
	Length() int
	ChunkFromLocator(locator string) (int, bool)
}

// ChapterState carries what the resolver knows about chapter structure.
// RederiveTotal re-reads the document spine when the reported chapter
// count is missing or inconsistent; it may be nil.
type ChapterState struct {
	TotalChapters int
	RederiveTotal func() int
}

// ResolveProgress computes a Position from a relocation event using the
// tiered fallback chain: location-index chunk, engine-reported
// percentage, chapter-based estimate, spine re-derivation, and finally
// chapterIndex+1 as the total so progress never collapses to
// chapter-start on relocation.
func ResolveProgress(ev render.RelocationEvent, idx IndexView, ch ChapterState) Position {
	pos := Position{
		Locator:      ev.Locator,
		ChapterIndex: ev.ChapterIndex,
		CurrentPage:  ev.DisplayedPage,
		TotalPages:   ev.DisplayedTotal,
		ChapterTitle: ev.ChapterTitle,
	}
	pos.Progress = clamp01(resolveTiers(ev, idx, ch))
	return pos
}

func resolveTiers(ev render.RelocationEvent, idx IndexView, ch ChapterState) float64 {
	if idx != nil && idx.Ready() && idx.Length() > 0 {
		if chunk, ok := idx.ChunkFromLocator(ev.Locator); ok {
			return float64(chunk+1) / float64(idx.Length())
		}
	}

	if ev.Percentage >= 0 && !math.IsNaN(ev.Percentage) {
		return ev.Percentage
	}

	withinChapter := 0.0
	if ev.DisplayedTotal > 0 && ev.DisplayedPage > 0 {
		withinChapter = float64(ev.DisplayedPage-1) / float64(ev.DisplayedTotal)
	}

	total := ch.TotalChapters
	if total <= ev.ChapterIndex {
		// Reported count is missing or contradicts the event
		// (e.g. one chapter but a nonzero chapter index).
		if ch.RederiveTotal != nil {
			total = ch.RederiveTotal()
		}
		if total <= ev.ChapterIndex {
			total = ev.ChapterIndex + 1
		}
	}
	return (float64(ev.ChapterIndex) + withinChapter) / float64(total)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
