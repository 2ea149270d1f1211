package tts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflowkit/reflow/internal/render"
)

// fakeBook is an in-memory Renderer over a fixed sequence of pages.
type fakeBook struct {
	mu      sync.Mutex
	pages   []render.PageText
	idx     int
	cleared int
}

func pageOf(startLoc string, blocks ...string) render.PageText {
	return render.PageText{
		Text:         strings.Join(blocks, "\n\n"),
		Blocks:       blocks,
		StartLocator: startLoc,
		EndLocator:   startLoc,
	}
}

func (b *fakeBook) Display(_ context.Context, target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, p := range b.pages {
		if p.StartLocator == target {
			b.idx = i
			return nil
		}
	}
	return render.ErrNoContent
}

func (b *fakeBook) Next(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.idx+1 >= len(b.pages) {
		return render.ErrEndOfDocument
	}
	b.idx++
	return nil
}

func (b *fakeBook) Prev(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.idx == 0 {
		return render.ErrStartOfDocument
	}
	b.idx--
	return nil
}

func (b *fakeBook) CurrentLocation() render.Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	return render.Location{
		Start: render.LocationPoint{Locator: b.pages[b.idx].StartLocator},
	}
}

func (b *fakeBook) PageText() (render.PageText, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[b.idx], nil
}

func (b *fakeBook) PeekNextPageText() (render.PageText, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.idx+1 >= len(b.pages) {
		return render.PageText{}, render.ErrEndOfDocument
	}
	return b.pages[b.idx+1], nil
}

func (b *fakeBook) ResolveRange(string) (render.Range, bool) { return render.Range{}, false }
func (b *fakeBook) Resize(int, int)                          {}
func (b *fakeBook) SetFontScale(float64)                     {}
func (b *fakeBook) OnRelocated(func(render.RelocationEvent)) {}
func (b *fakeBook) Locations() render.Locations              { return nil }
func (b *fakeBook) TOC() []render.TOCItem                    { return nil }
func (b *fakeBook) Spine() []render.SpineItem                { return nil }
func (b *fakeBook) Highlight(render.Range)                   {}

func (b *fakeBook) ClearHighlight() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleared++
}

func (b *fakeBook) clearCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleared
}

// recordPlayer completes every clip instantly and remembers the order.
type recordPlayer struct {
	mu     sync.Mutex
	played []string
}

func (p *recordPlayer) Play(_ context.Context, clip Clip) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, strings.TrimPrefix(clip.URL, "mem://"))
	return nil
}

func (p *recordPlayer) Stop() {}

func (p *recordPlayer) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}

// blockingPlayer holds every clip until stopped or cancelled.
type blockingPlayer struct {
	started chan struct{}
}

func newBlockingPlayer() *blockingPlayer {
	return &blockingPlayer{started: make(chan struct{}, 8)}
}

func (p *blockingPlayer) Play(ctx context.Context, _ Clip) error {
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *blockingPlayer) Stop() {}

func (p *blockingPlayer) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never started")
	}
}

func newTestSynchronizer(book *fakeBook, player Player, synth Synthesizer, slot *Slot) *Synchronizer {
	return NewSynchronizer(Config{
		Renderer: book,
		Cache:    NewCache(synth, time.Hour, okProbe, nil),
		Player:   player,
		Slot:     slot,
	})
}

func TestPlaysParagraphsAcrossPages(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "First paragraph here.", "End of page one."),
		pageOf("0/2.0", "End of page one.", "Second page paragraph."),
	}}
	player := &recordPlayer{}
	slot := NewSlot()
	s := newTestSynchronizer(book, player, &countingSynth{}, slot)

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	// The paragraph split across the page boundary plays exactly once.
	assert.Equal(t, []string{
		"First paragraph here.",
		"End of page one.",
		"Second page paragraph.",
	}, player.texts())

	assert.False(t, s.State().IsPlaying)
	assert.Empty(t, slot.Holder(), "slot released after the document ends")
	assert.GreaterOrEqual(t, book.clearCount(), 1, "highlight cleared on finish")
}

func TestStartWhileActive(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{pageOf("0/0.0", "Only paragraph on the page.")}}
	player := newBlockingPlayer()
	s := newTestSynchronizer(book, player, &countingSynth{}, NewSlot())

	require.NoError(t, s.Start(context.Background()))
	player.waitStarted(t)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyPlaying)

	s.Stop()
	s.Wait()
	assert.False(t, s.State().IsPlaying)
}

func TestStopHaltsPlayback(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "First paragraph here.", "Second paragraph here."),
	}}
	player := newBlockingPlayer()
	slot := NewSlot()
	s := newTestSynchronizer(book, player, &countingSynth{}, slot)

	require.NoError(t, s.Start(context.Background()))
	player.waitStarted(t)

	s.Stop()
	s.Wait()

	assert.False(t, s.State().IsPlaying)
	assert.Empty(t, slot.Holder())
	assert.GreaterOrEqual(t, book.clearCount(), 1)

	// Stop with nothing playing is harmless.
	s.Stop()
}

func TestStartNoText(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{pageOf("0/0.0")}}
	s := newTestSynchronizer(book, &recordPlayer{}, &countingSynth{}, NewSlot())

	assert.ErrorIs(t, s.Start(context.Background()), ErrNoText)
	assert.False(t, s.State().IsPlaying)
}

func TestSkipsDuplicateParagraphs(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "Same paragraph text here.", "Same  paragraph\ntext here."),
	}}
	player := &recordPlayer{}
	s := newTestSynchronizer(book, player, &countingSynth{}, NewSlot())

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	assert.Equal(t, []string{"Same paragraph text here."}, player.texts())
}

func TestManualParagraphSteps(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "Alpha paragraph one.", "Beta paragraph two."),
		pageOf("0/2.0", "Gamma paragraph three."),
	}}
	player := &recordPlayer{}
	s := newTestSynchronizer(book, player, &countingSynth{}, NewSlot())
	ctx := context.Background()

	// The first step plays the current paragraph.
	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()
	assert.Equal(t, []string{"Alpha paragraph one."}, player.texts())
	assert.False(t, s.State().IsPlaying)

	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()
	assert.Equal(t, []string{"Alpha paragraph one.", "Beta paragraph two."}, player.texts())

	// Stepping past the page boundary turns the page.
	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()
	assert.Equal(t, []string{
		"Alpha paragraph one.",
		"Beta paragraph two.",
		"Gamma paragraph three.",
	}, player.texts())

	// And back again.
	require.NoError(t, s.PrevParagraph(ctx))
	s.Wait()
	got := player.texts()
	assert.Equal(t, "Beta paragraph two.", got[len(got)-1])
}

func TestManualStepReplaysRecentText(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "Alpha paragraph one.", "Beta paragraph two."),
	}}
	player := &recordPlayer{}
	s := newTestSynchronizer(book, player, &countingSynth{}, NewSlot())
	ctx := context.Background()

	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()
	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()
	require.NoError(t, s.PrevParagraph(ctx))
	s.Wait()
	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()

	// The duplicate filter guards auto-advance, not manual replays.
	assert.Equal(t, []string{
		"Alpha paragraph one.",
		"Beta paragraph two.",
		"Alpha paragraph one.",
		"Beta paragraph two.",
	}, player.texts())
}

func TestManualStepAfterNavigation(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "Alpha paragraph one.", "Beta paragraph two."),
		pageOf("0/2.0", "Gamma paragraph three.", "Delta paragraph four."),
	}}
	player := &recordPlayer{}
	s := newTestSynchronizer(book, player, &countingSynth{}, NewSlot())
	ctx := context.Background()

	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()
	require.Equal(t, []string{"Alpha paragraph one."}, player.texts())

	// The user pages elsewhere between steps; the old list is discarded
	// and the step reads the displayed page.
	require.NoError(t, book.Display(ctx, "0/2.0"))

	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()
	got := player.texts()
	assert.Equal(t, "Gamma paragraph three.", got[len(got)-1])

	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()
	got = player.texts()
	assert.Equal(t, "Delta paragraph four.", got[len(got)-1])
}

func TestPlaybackSkipsDuplicateOnlyPage(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "First paragraph here.", "Split paragraph text."),
		pageOf("0/1.4", "Split paragraph text."),
		pageOf("0/2.0", "Final paragraph here."),
	}}
	player := &recordPlayer{}
	s := newTestSynchronizer(book, player, &countingSynth{}, NewSlot())

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	// The page holding only the tail of an already-played split is
	// walked past instead of ending playback.
	assert.Equal(t, []string{
		"First paragraph here.",
		"Split paragraph text.",
		"Final paragraph here.",
	}, player.texts())
	assert.False(t, s.State().IsPlaying)
}

func TestPrevParagraphAtDocumentStart(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "Alpha paragraph one.", "Beta paragraph two."),
	}}
	player := &recordPlayer{}
	s := newTestSynchronizer(book, player, &countingSynth{}, NewSlot())
	ctx := context.Background()

	require.NoError(t, s.NextParagraph(ctx))
	s.Wait()
	require.NoError(t, s.PrevParagraph(ctx))
	s.Wait()

	assert.Equal(t, []string{"Alpha paragraph one."}, player.texts(), "document start is a no-op")
	assert.False(t, s.State().IsPlaying)
}

func TestPrevParagraphCrossesPageBack(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "Alpha paragraph one.", "Beta paragraph two."),
		pageOf("0/2.0", "Gamma paragraph three."),
	}}
	book.idx = 1
	player := &recordPlayer{}
	s := newTestSynchronizer(book, player, &countingSynth{}, NewSlot())
	ctx := context.Background()

	require.NoError(t, s.NextParagraph(ctx)) // plays Gamma on page two
	s.Wait()
	require.NoError(t, s.PrevParagraph(ctx)) // pages back, plays Beta
	s.Wait()

	assert.Equal(t, []string{"Gamma paragraph three.", "Beta paragraph two."}, player.texts())
}

func TestSlotPreemption(t *testing.T) {
	slot := NewSlot()
	mk := func() (*Synchronizer, *blockingPlayer) {
		book := &fakeBook{pages: []render.PageText{pageOf("0/0.0", "Only paragraph on the page.")}}
		player := newBlockingPlayer()
		return newTestSynchronizer(book, player, &countingSynth{}, slot), player
	}
	s1, p1 := mk()
	s2, _ := mk()

	require.NoError(t, s1.Start(context.Background()))
	p1.waitStarted(t)
	assert.True(t, s1.State().IsPlaying)

	require.NoError(t, s2.Start(context.Background()))
	s1.Wait()

	assert.False(t, s1.State().IsPlaying, "starting a second session stops the first")
	assert.True(t, s2.State().IsPlaying)

	s2.Stop()
	s2.Wait()
	assert.Empty(t, slot.Holder())
}

func TestRetryOnPlaybackError(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{pageOf("0/0.0", "Only paragraph on the page.")}}
	synth := &countingSynth{}
	player := &flakyPlayer{failures: 1}
	s := newTestSynchronizer(book, player, synth, NewSlot())

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	assert.Equal(t, []string{"Only paragraph on the page."}, player.texts())
	assert.Equal(t, 2, synth.count(), "failed playback invalidates the clip and resynthesizes once")
	assert.False(t, s.State().IsPlaying)
}

func TestPersistentPlaybackFailureStopsSession(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "First paragraph here.", "Second paragraph here."),
	}}
	player := &flakyPlayer{failures: 99}
	s := newTestSynchronizer(book, player, &countingSynth{}, NewSlot())

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	assert.Empty(t, player.texts(), "nothing completes when every play fails")
	assert.False(t, s.State().IsPlaying)
}

// flakyPlayer fails the first n Play calls, then records like recordPlayer.
type flakyPlayer struct {
	mu       sync.Mutex
	failures int
	played   []string
}

func (p *flakyPlayer) Play(_ context.Context, clip Clip) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("decoder glitch")
	}
	p.played = append(p.played, strings.TrimPrefix(clip.URL, "mem://"))
	return nil
}

func (p *flakyPlayer) Stop() {}

func (p *flakyPlayer) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}

func TestCursorNotifications(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "First paragraph here.", "Second paragraph here."),
	}}
	var mu sync.Mutex
	var cursors []Cursor
	s := NewSynchronizer(Config{
		Renderer: book,
		Cache:    NewCache(&countingSynth{}, time.Hour, okProbe, nil),
		Player:   &recordPlayer{},
		Slot:     NewSlot(),
		OnCursor: func(c Cursor) {
			mu.Lock()
			cursors = append(cursors, c)
			mu.Unlock()
		},
	})

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, cursors)
	assert.True(t, cursors[0].IsPlaying)
	assert.Equal(t, 2, cursors[0].TotalParagraphs)
	assert.False(t, cursors[len(cursors)-1].IsPlaying)
}

type cursorRecorder struct {
	mu   sync.Mutex
	last map[string]int
}

func (r *cursorRecorder) SaveTTSCursor(hash string, paragraph int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		r.last = map[string]int{}
	}
	r.last[hash] = paragraph
	return nil
}

func TestTTSCursorPersisted(t *testing.T) {
	book := &fakeBook{pages: []render.PageText{
		pageOf("0/0.0", "First paragraph here.", "Second paragraph here."),
	}}
	store := &cursorRecorder{}
	s := NewSynchronizer(Config{
		Renderer: book,
		Cache:    NewCache(&countingSynth{}, time.Hour, okProbe, nil),
		Player:   &recordPlayer{},
		Slot:     NewSlot(),
		Store:    store,
		DocHash:  "doc1",
	})

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.last["doc1"], "cursor tracks the last completed paragraph")
}
