// Package session wires the renderer, position engine, and TTS
// synchronizer into one document session and exposes the imperative
// surface the host applications drive.
package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reflowkit/reflow/internal/config"
	"github.com/reflowkit/reflow/internal/position"
	"github.com/reflowkit/reflow/internal/render"
	"github.com/reflowkit/reflow/internal/tts"
)

// Direction selects a page turn.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Options configures Open. Config is required; everything else defaults.
// Test seams: Synth, Player, Store.
type Options struct {
	Config     *config.Config
	Logger     *zap.Logger
	Slot       *tts.Slot
	Synth      tts.Synthesizer
	Player     tts.Player
	Store      *position.Store
	OnProgress func(progress float64, pos position.Position)
	OnTOC      func(items []render.TOCItem)
	OnCursor   func(c tts.Cursor)
}

// Session is one open document: the renderer, its restored reading
// position, the async location index, and an on-demand playback session.
type Session struct {
	book    *render.Book
	store   *position.Store
	docHash string
	index   *position.Index
	coord   *position.Coordinator
	synchro *tts.Synchronizer
	log     *zap.Logger
	cfg     *config.Config

	onProgress func(float64, position.Position)

	cancelBG context.CancelFunc
	bg       sync.WaitGroup

	posMu   sync.Mutex
	lastPos position.Position
	havePos bool
}

type disabledSynth struct{}

func (disabledSynth) Synthesize(context.Context, string, string) (tts.Clip, error) {
	return tts.Clip{}, errors.New("tts: no synthesis endpoint configured")
}

// Open opens the document, restores the saved position, schedules the
// location index build, and emits the initial progress and TOC.
func Open(ctx context.Context, path string, opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = position.NewStore()
		if err != nil {
			return nil, err
		}
	}
	docHash, err := position.ComputeHash(path)
	if err != nil {
		return nil, err
	}

	book, err := render.OpenBook(path,
		render.WithViewport(cfg.Viewport.Cols, cfg.Viewport.Rows),
		render.WithFontScale(cfg.Viewport.FontScale),
		render.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	s := &Session{
		book:       book,
		store:      store,
		docHash:    docHash,
		log:        log,
		cfg:        cfg,
		onProgress: opts.OnProgress,
	}
	s.index = position.NewIndex(book.Locations(), cfg.Timing.IndexTimeout, log)
	s.coord = position.NewCoordinator(book, cfg.Timing.SettleDelay, log)

	synth := opts.Synth
	if synth == nil {
		if cfg.TTS.BaseURL != "" {
			synth = tts.NewHTTPSynthesizer(cfg.TTS.BaseURL, log)
		} else {
			synth = disabledSynth{}
		}
	}
	s.synchro = tts.NewSynchronizer(tts.Config{
		Renderer: book,
		Cache:    tts.NewCache(synth, cfg.TTS.CacheTTL, nil, log),
		Player:   opts.Player,
		Slot:     opts.Slot,
		Store:    store,
		DocHash:  docHash,
		Voice:    cfg.TTS.Voice,
		Settle:   cfg.Timing.SettleDelay,
		OnCursor: opts.OnCursor,
		Logger:   log,
	})

	book.OnRelocated(s.handleRelocated)

	if err := s.restore(ctx); err != nil {
		return nil, err
	}

	if opts.OnTOC != nil {
		opts.OnTOC(book.TOC())
	}

	// The index build outlives Open's ctx and is cancelled by Close.
	bgCtx, cancelBG := context.WithCancel(context.Background())
	s.cancelBG = cancelBG
	s.bg.Add(1)
	go s.buildIndex(bgCtx)
	return s, nil
}

// restore re-displays the saved position, falling back down the tier
// ladder so the reader is never left blank. A restored locator landing in
// the wrong chapter gets exactly one corrective re-navigation.
func (s *Session) restore(ctx context.Context) error {
	rec, ok := s.store.Get(s.docHash)
	spine := s.book.Spine()

	displayFirst := func() error {
		return s.book.Display(ctx, spine[0].Href)
	}

	if !ok || rec.Position.Locator == "" {
		return displayFirst()
	}

	saved := rec.Position
	if err := s.book.Display(ctx, saved.Locator); err != nil {
		s.log.Warn("saved locator failed, falling back to chapter start",
			zap.String("locator", saved.Locator), zap.Error(err))
		if saved.ChapterIndex >= 0 && saved.ChapterIndex < len(spine) {
			if err := s.book.Display(ctx, spine[saved.ChapterIndex].Href); err == nil {
				return nil
			}
		}
		return displayFirst()
	}

	if s.book.CurrentLocation().Start.ChapterIndex != saved.ChapterIndex {
		// One corrective attempt, then accept the chapter-level position.
		if err := s.book.Display(ctx, saved.Locator); err != nil {
			return displayFirst()
		}
		if s.book.CurrentLocation().Start.ChapterIndex != saved.ChapterIndex {
			s.log.Warn("restored locator resolves to a different chapter",
				zap.Int("expected", saved.ChapterIndex),
				zap.Int("actual", s.book.CurrentLocation().Start.ChapterIndex))
		}
	}
	return nil
}

// buildIndex generates the location index after initial display, then
// upgrades the persisted position to the authoritative chunk-based value.
func (s *Session) buildIndex(ctx context.Context) {
	defer s.bg.Done()
	select {
	case <-time.After(s.cfg.Timing.IndexDelay):
	case <-ctx.Done():
		return
	}
	if err := s.index.Build(ctx, s.cfg.Timing.IndexChunkSize); err != nil {
		return // failed permanently for the session, fallbacks cover it
	}
	s.persistStable()
}

func (s *Session) chapterState() position.ChapterState {
	return position.ChapterState{
		TotalChapters: len(s.book.Spine()),
		RederiveTotal: func() int { return len(s.book.Spine()) },
	}
}

func (s *Session) handleRelocated(ev render.RelocationEvent) {
	if s.coord.Restoring() {
		return // mid-reflow relocations would flap progress
	}
	pos := position.ResolveProgress(ev, s.index, s.chapterState())
	if err := s.store.SavePosition(s.docHash, pos); err != nil {
		s.log.Warn("position save failed", zap.Error(err))
	}
	s.setLastPos(pos)
	if s.onProgress != nil {
		s.onProgress(pos.Progress, pos)
	}
}

func (s *Session) setLastPos(pos position.Position) {
	s.posMu.Lock()
	s.lastPos = pos
	s.havePos = true
	s.posMu.Unlock()
}

// Position returns the most recently resolved position.
func (s *Session) Position() (position.Position, bool) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	return s.lastPos, s.havePos
}

// persistStable recomputes one authoritative Position from the current
// location and flushes it, used after reflows and index readiness.
func (s *Session) persistStable() {
	if !s.index.Ready() {
		return
	}
	pos := position.ResolveProgress(s.currentEvent(), s.index, s.chapterState())
	if err := s.store.FlushPosition(s.docHash, pos); err != nil {
		s.log.Warn("stable position flush failed", zap.Error(err))
	}
	s.setLastPos(pos)
	if s.onProgress != nil {
		s.onProgress(pos.Progress, pos)
	}
}

func (s *Session) currentEvent() render.RelocationEvent {
	cur := s.book.CurrentLocation().Start
	title := ""
	if spine := s.book.Spine(); cur.ChapterIndex < len(spine) {
		title = spine[cur.ChapterIndex].Title
	}
	return render.RelocationEvent{
		Locator:        cur.Locator,
		ChapterIndex:   cur.ChapterIndex,
		ChapterTitle:   title,
		DisplayedPage:  cur.Displayed.Page,
		DisplayedTotal: cur.Displayed.Total,
		Percentage:     cur.Percentage,
	}
}

// TurnPage paginates one screen in the given direction. Hitting a
// document edge is not an error.
func (s *Session) TurnPage(ctx context.Context, dir Direction) error {
	var err error
	if dir == Forward {
		err = s.book.Next(ctx)
	} else {
		err = s.book.Prev(ctx)
	}
	if errors.Is(err, render.ErrEndOfDocument) || errors.Is(err, render.ErrStartOfDocument) {
		return nil
	}
	return err
}

// JumpToProgress navigates to a whole-document fraction. With the index
// ready the landing progress is within one chunk of the request;
// otherwise it is a proportional spine jump.
func (s *Session) JumpToProgress(ctx context.Context, p float64) error {
	if math.IsNaN(p) {
		p = 0
	}
	p = math.Min(1, math.Max(0, p))

	if s.index.Ready() && s.index.Length() > 0 {
		chunk := int(math.Round(p * float64(s.index.Length()-1)))
		if loc, ok := s.index.LocatorFromChunk(chunk); ok {
			return s.book.Display(ctx, loc)
		}
	}
	spine := s.book.Spine()
	ci := int(p * float64(len(spine)))
	if ci >= len(spine) {
		ci = len(spine) - 1
	}
	return s.book.Display(ctx, spine[ci].Href)
}

// JumpToPosition navigates to a previously persisted Position, falling
// back to its chapter start and then the document start.
func (s *Session) JumpToPosition(ctx context.Context, pos position.Position) error {
	if pos.Locator != "" {
		if err := s.book.Display(ctx, pos.Locator); err == nil {
			return nil
		}
	}
	spine := s.book.Spine()
	if pos.ChapterIndex >= 0 && pos.ChapterIndex < len(spine) {
		if err := s.book.Display(ctx, spine[pos.ChapterIndex].Href); err == nil {
			return nil
		}
	}
	return s.book.Display(ctx, spine[0].Href)
}

// Resize changes the viewport under the reflow guard so the anchor is
// restored and mid-reflow relocations are not persisted.
func (s *Session) Resize(ctx context.Context, width, height int) {
	s.coord.Reflow(ctx, func() { s.book.Resize(width, height) })
	s.persistStable()
}

// SetFontScale changes the font scale under the reflow guard.
func (s *Session) SetFontScale(ctx context.Context, scale float64) {
	s.coord.Reflow(ctx, func() { s.book.SetFontScale(scale) })
	s.persistStable()
}

// PageText exposes the displayed page for the host view.
func (s *Session) PageText() (render.PageText, error) {
	return s.book.PageText()
}

// HighlightedText returns the full text of the block under the playback
// highlight, empty when nothing is decorated.
func (s *Session) HighlightedText() string {
	if r, ok := s.book.Highlighted(); ok {
		return s.book.BlockText(r)
	}
	return ""
}

// TOC returns the document's table of contents.
func (s *Session) TOC() []render.TOCItem {
	return s.book.TOC()
}

// StartTTS begins paragraph playback from the displayed page.
func (s *Session) StartTTS(ctx context.Context) error {
	return s.synchro.Start(ctx)
}

// StopTTS halts playback.
func (s *Session) StopTTS() {
	s.synchro.Stop()
}

// NextParagraph plays the following paragraph once.
func (s *Session) NextParagraph(ctx context.Context) error {
	return s.synchro.NextParagraph(ctx)
}

// PrevParagraph plays the preceding paragraph once.
func (s *Session) PrevParagraph(ctx context.Context) error {
	return s.synchro.PrevParagraph(ctx)
}

// TTSState reports the playback cursor.
func (s *Session) TTSState() tts.Cursor {
	return s.synchro.State()
}

// Flush persists the latest position unconditionally; called from
// visibility-hide paths and before exit.
func (s *Session) Flush() {
	if pos, ok := s.Position(); ok {
		if err := s.store.FlushPosition(s.docHash, pos); err != nil {
			s.log.Warn("flush failed", zap.Error(err))
		}
	}
}

// Close stops playback, cancels the pending index build, and flushes
// state. Safe to call more than once.
func (s *Session) Close() {
	if s.cancelBG != nil {
		s.cancelBG()
	}
	s.bg.Wait()
	s.synchro.Stop()
	s.Flush()
}
