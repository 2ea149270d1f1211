package render

import (
	"context"
	"strings"
)

// pageLine is one wrapped display line. block is -1 for the blank
// separator lines inserted between blocks; from/to are word indices
// within the block (to inclusive).
type pageLine struct {
	text  string
	block int
	from  int
	to    int
}

// pageSeg is the portion of one block that landed on a page.
type pageSeg struct {
	block int
	from  int
	to    int
}

// page is a run of lines sized to the effective viewport. start and end
// address the first and last word shown.
type page struct {
	start loc
	end   loc
	lines []pageLine
	segs  []pageSeg
}

func (b *Book) effViewport() (cols, rows int) {
	scale := b.fontScale
	if scale <= 0 {
		scale = 1.0
	}
	cols = int(float64(b.cols) / scale)
	rows = int(float64(b.rows) / scale)
	if cols < 10 {
		cols = 10
	}
	if rows < 3 {
		rows = 3
	}
	return cols, rows
}

// relayout rebuilds pagination for every chapter against the current
// viewport and font scale. Callers hold b.mu.
func (b *Book) relayout() {
	cols, rows := b.effViewport()
	b.pages = make([][]page, len(b.chapters))
	for ci, ch := range b.chapters {
		b.pages[ci] = paginateChapter(ci, ch, cols, rows)
	}
	if b.chIdx >= len(b.pages) {
		b.chIdx = len(b.pages) - 1
	}
	if pp := b.pages[b.chIdx]; b.pgIdx >= len(pp) {
		b.pgIdx = len(pp) - 1
	}
	if b.pgIdx < 0 {
		b.pgIdx = 0
	}
}

func paginateChapter(ci int, ch chapter, cols, rows int) []page {
	var lines []pageLine
	for bi, words := range ch.blocks {
		lines = append(lines, wrapBlock(bi, words, cols)...)
		if bi != len(ch.blocks)-1 {
			lines = append(lines, pageLine{block: -1})
		}
	}

	var pages []page
	for start := 0; start < len(lines); {
		// Never open a page on a separator line.
		for start < len(lines) && lines[start].block == -1 {
			start++
		}
		if start >= len(lines) {
			break
		}
		end := start + rows
		if end > len(lines) {
			end = len(lines)
		}
		pg := buildPage(ci, lines[start:end])
		if len(pg.segs) > 0 {
			pages = append(pages, pg)
		}
		start = end
	}
	if len(pages) == 0 {
		pages = []page{{start: loc{spine: ci}, end: loc{spine: ci}}}
	}
	return pages
}

func wrapBlock(bi int, words []string, cols int) []pageLine {
	var lines []pageLine
	var cur strings.Builder
	from := 0
	flush := func(to int) {
		if cur.Len() == 0 {
			return
		}
		lines = append(lines, pageLine{text: cur.String(), block: bi, from: from, to: to})
		cur.Reset()
	}
	for wi, w := range words {
		if cur.Len() > 0 && cur.Len()+1+len(w) > cols {
			flush(wi - 1)
			from = wi
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	flush(len(words) - 1)
	return lines
}

func buildPage(ci int, lines []pageLine) page {
	pg := page{lines: lines}
	for _, ln := range lines {
		if ln.block < 0 {
			continue
		}
		if n := len(pg.segs); n > 0 && pg.segs[n-1].block == ln.block {
			pg.segs[n-1].to = ln.to
		} else {
			pg.segs = append(pg.segs, pageSeg{block: ln.block, from: ln.from, to: ln.to})
		}
	}
	if len(pg.segs) > 0 {
		first, last := pg.segs[0], pg.segs[len(pg.segs)-1]
		pg.start = loc{spine: ci, block: first.block, word: first.from}
		pg.end = loc{spine: ci, block: last.block, word: last.to}
	}
	return pg
}

// refLE reports whether a comes at or before b within one chapter.
func refLE(aBlock, aWord, bBlock, bWord int) bool {
	if aBlock != bBlock {
		return aBlock < bBlock
	}
	return aWord <= bWord
}

// pageFor finds the page of chapter l.spine containing l, clamping
// out-of-range references to the chapter edges.
func (b *Book) pageFor(l loc) (int, int) {
	ci := l.spine
	if ci < 0 {
		ci = 0
	}
	if ci >= len(b.pages) {
		ci = len(b.pages) - 1
	}
	pp := b.pages[ci]
	for pi, pg := range pp {
		if refLE(l.block, l.word, pg.end.block, pg.end.word) {
			return ci, pi
		}
	}
	return ci, len(pp) - 1
}

func (b *Book) eventLocked() RelocationEvent {
	pg := b.pages[b.chIdx][b.pgIdx]
	start := pg.start
	return RelocationEvent{
		Locator:        start.String(),
		ChapterIndex:   b.chIdx,
		ChapterTitle:   b.chapters[b.chIdx].title,
		DisplayedPage:  b.pgIdx + 1,
		DisplayedTotal: len(b.pages[b.chIdx]),
		Percentage:     b.percentageAt(start),
	}
}

func (b *Book) emitLocked() (RelocationEvent, []func(RelocationEvent)) {
	ev := b.eventLocked()
	subs := make([]func(RelocationEvent), len(b.subs))
	copy(subs, b.subs)
	return ev, subs
}

func notify(ev RelocationEvent, subs []func(RelocationEvent)) {
	for _, fn := range subs {
		fn(ev)
	}
}

// Display navigates to a locator or an href. It resolves once the target
// page is current; the relocation event fires before it returns.
func (b *Book) Display(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if l, ok := parseLocator(target); ok && l.spine < len(b.chapters) {
		b.chIdx, b.pgIdx = b.pageFor(l)
	} else if ci, ok := b.spineIndexByHref(target); ok {
		b.chIdx, b.pgIdx = ci, 0
	} else {
		b.mu.Unlock()
		return ErrNoContent
	}
	ev, subs := b.emitLocked()
	b.mu.Unlock()
	notify(ev, subs)
	return nil
}

func (b *Book) spineIndexByHref(target string) (int, bool) {
	href := target
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if href == "" {
		return 0, false
	}
	for _, it := range b.spine {
		if it.Href == href || strings.HasSuffix(it.Href, "/"+href) || pathBase(it.Href) == pathBase(href) {
			return it.Index, true
		}
	}
	return 0, false
}

func pathBase(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func (b *Book) step(ctx context.Context, forward bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	ci, pi, err := b.adjacent(b.chIdx, b.pgIdx, forward)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.chIdx, b.pgIdx = ci, pi
	ev, subs := b.emitLocked()
	b.mu.Unlock()
	notify(ev, subs)
	return nil
}

// adjacent computes the page next to (ci, pi) without mutating state.
func (b *Book) adjacent(ci, pi int, forward bool) (int, int, error) {
	if forward {
		if pi+1 < len(b.pages[ci]) {
			return ci, pi + 1, nil
		}
		if ci+1 < len(b.pages) {
			return ci + 1, 0, nil
		}
		return ci, pi, ErrEndOfDocument
	}
	if pi > 0 {
		return ci, pi - 1, nil
	}
	if ci > 0 {
		return ci - 1, len(b.pages[ci-1]) - 1, nil
	}
	return ci, pi, ErrStartOfDocument
}

// Next paginates forward by one screen.
func (b *Book) Next(ctx context.Context) error { return b.step(ctx, true) }

// Prev paginates backward by one screen.
func (b *Book) Prev(ctx context.Context) error { return b.step(ctx, false) }

// CurrentLocation reports the engine's view of the displayed content.
func (b *Book) CurrentLocation() Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	pg := b.pages[b.chIdx][b.pgIdx]
	displayed := Displayed{Page: b.pgIdx + 1, Total: len(b.pages[b.chIdx])}
	return Location{
		Start: LocationPoint{
			Locator:      pg.start.String(),
			ChapterIndex: b.chIdx,
			Percentage:   b.percentageAt(pg.start),
			Displayed:    displayed,
		},
		End: LocationPoint{
			Locator:      pg.end.String(),
			ChapterIndex: b.chIdx,
			Percentage:   b.percentageAt(pg.end),
			Displayed:    displayed,
		},
	}
}

// Resize changes the viewport and repaginates. The current page index is
// clamped, not restored: callers that care about position re-display an
// anchor locator afterward.
func (b *Book) Resize(width, height int) {
	b.mu.Lock()
	if width > 0 {
		b.cols = width
	}
	if height > 0 {
		b.rows = height
	}
	b.relayout()
	ev, subs := b.emitLocked()
	b.mu.Unlock()
	notify(ev, subs)
}

// SetFontScale changes the font scale and repaginates, with the same
// position-drift semantics as Resize.
func (b *Book) SetFontScale(scale float64) {
	b.mu.Lock()
	if scale > 0 {
		b.fontScale = scale
	}
	b.relayout()
	ev, subs := b.emitLocked()
	b.mu.Unlock()
	notify(ev, subs)
}

func (b *Book) pageTextAt(ci, pi int) PageText {
	pg := b.pages[ci][pi]
	pt := PageText{
		StartLocator: pg.start.String(),
		EndLocator:   pg.end.String(),
	}
	ch := b.chapters[ci]
	for _, seg := range pg.segs {
		words := ch.blocks[seg.block]
		to := seg.to
		if to >= len(words) {
			to = len(words) - 1
		}
		pt.Blocks = append(pt.Blocks, strings.Join(words[seg.from:to+1], " "))
		pt.BlockLocators = append(pt.BlockLocators, loc{spine: ci, block: seg.block, word: seg.from}.String())
	}
	pt.Text = strings.Join(pt.Blocks, "\n\n")
	return pt
}

// PageText returns the plain text of the displayed page with block
// boundaries preserved.
func (b *Book) PageText() (PageText, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageTextAt(b.chIdx, b.pgIdx), nil
}

// PeekNextPageText returns the following page's text without turning.
func (b *Book) PeekNextPageText() (PageText, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ci, pi, err := b.adjacent(b.chIdx, b.pgIdx, true)
	if err != nil {
		return PageText{}, err
	}
	return b.pageTextAt(ci, pi), nil
}

// ResolveRange maps a locator to a highlightable range. Best effort: the
// range covers the single word the locator addresses.
func (b *Book) ResolveRange(locator string) (Range, bool) {
	l, ok := parseLocator(locator)
	if !ok {
		return Range{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if l.spine >= len(b.chapters) || l.block >= len(b.chapters[l.spine].blocks) {
		return Range{}, false
	}
	if l.word >= len(b.chapters[l.spine].blocks[l.block]) {
		return Range{}, false
	}
	return Range{Spine: l.spine, Block: l.block, WordStart: l.word, WordEnd: l.word}, true
}

// Highlight records the decorated range. The host view reads it back via
// Highlighted when painting.
func (b *Book) Highlight(r Range) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.highlight = r
	b.hasHighlight = true
}

// ClearHighlight removes any active decoration.
func (b *Book) ClearHighlight() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.highlight = Range{}
	b.hasHighlight = false
}

// Highlighted returns the active decoration, if any.
func (b *Book) Highlighted() (Range, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.highlight, b.hasHighlight
}

// BlockText returns the full text of the block a range addresses.
func (b *Book) BlockText(r Range) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.Spine < 0 || r.Spine >= len(b.chapters) {
		return ""
	}
	ch := b.chapters[r.Spine]
	if r.Block < 0 || r.Block >= len(ch.blocks) {
		return ""
	}
	return strings.Join(ch.blocks[r.Block], " ")
}
