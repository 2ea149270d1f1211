package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reflowkit/reflow/internal/render"
)

var (
	// ErrAlreadyPlaying is returned by Start while a loop is active.
	ErrAlreadyPlaying = errors.New("tts: session already playing")
	// ErrNoText is returned when the current page has nothing to play.
	ErrNoText = errors.New("tts: no extractable text on page")
)

const (
	// prefetchWindow is how many upcoming paragraphs are warmed while
	// one plays.
	prefetchWindow = 10
	// prefetchWorkers bounds concurrent synthesis requests.
	prefetchWorkers = 4
	// peekAhead is how many next-page paragraphs are warmed near a
	// page boundary.
	peekAhead = 3
)

// Cursor is the playback position exposed to the UI. One writer (the
// synchronizer loop), many readers.
type Cursor struct {
	ParagraphIndex  int
	TotalParagraphs int
	IsPlaying       bool
}

// pageRenderer is the slice of the renderer the synchronizer drives.
type pageRenderer interface {
	Display(ctx context.Context, target string) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	CurrentLocation() render.Location
	PageText() (render.PageText, error)
	PeekNextPageText() (render.PageText, error)
	ResolveRange(locator string) (render.Range, bool)
	Highlight(r render.Range)
	ClearHighlight()
}

// CursorStore persists the TTS-specific progress record, separate from
// the reading Position.
type CursorStore interface {
	SaveTTSCursor(hash string, paragraph int) error
}

// Config wires a Synchronizer. Renderer, Cache and Slot are required;
// everything else has a usable zero value.
type Config struct {
	Renderer render.Renderer
	Cache    *Cache
	Player   Player
	Slot     *Slot
	Matcher  TextLocator
	Store    CursorStore
	DocHash  string
	Voice    string
	Settle   time.Duration
	OnCursor func(Cursor)
	Logger   *zap.Logger
}

// Synchronizer plays page paragraphs in order, advances the highlight,
// turns pages when a page's paragraphs are exhausted, and stitches the
// paragraph list across page boundaries. All awaits re-check the playing
// flag so stale continuations no-op after Stop.
type Synchronizer struct {
	id       string
	r        pageRenderer
	cache    *Cache
	player   Player
	slot     *Slot
	matcher  TextLocator
	store    CursorStore
	docHash  string
	voice    string
	settle   time.Duration
	onCursor func(Cursor)
	log      *zap.Logger

	mu         sync.Mutex
	playing    bool
	cancel     context.CancelFunc
	release    func()
	paras      []Paragraph
	listLoc    string // page the list was built from or last extended to
	idx        int
	lastPlayed string
	done       chan struct{}
}

// NewSynchronizer builds a playback session for one document.
func NewSynchronizer(cfg Config) *Synchronizer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	player := cfg.Player
	if player == nil {
		player = NewTimedPlayer()
	}
	matcher := cfg.Matcher
	if matcher == nil {
		matcher = NewPrefixMatcher(cfg.Renderer)
	}
	slot := cfg.Slot
	if slot == nil {
		slot = NewSlot()
	}
	return &Synchronizer{
		id:       uuid.NewString(),
		r:        cfg.Renderer,
		cache:    cfg.Cache,
		player:   player,
		slot:     slot,
		matcher:  matcher,
		store:    cfg.Store,
		docHash:  cfg.DocHash,
		voice:    cfg.Voice,
		settle:   cfg.Settle,
		onCursor: cfg.OnCursor,
		log:      log,
	}
}

// State returns the current playback cursor.
func (s *Synchronizer) State() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Cursor{ParagraphIndex: s.idx, TotalParagraphs: len(s.paras), IsPlaying: s.playing}
}

// Start extracts the current page's paragraphs, takes the playback slot,
// and begins sequential playback from the first paragraph.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return ErrAlreadyPlaying
	}
	s.mu.Unlock()

	pt, err := s.r.PageText()
	if err != nil {
		return err
	}
	paras := ExtractParagraphs(pt)
	if len(paras) == 0 {
		return ErrNoText
	}

	loc := s.r.CurrentLocation().Start.Locator
	release := s.slot.Acquire(s.id, s.Stop)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.playing = true
	s.cancel = cancel
	s.release = release
	s.paras = paras
	s.listLoc = loc
	s.idx = 0
	s.lastPlayed = ""
	s.done = done
	s.mu.Unlock()

	s.notifyCursor()
	go s.loop(runCtx, done)
	return nil
}

// Stop halts in-flight audio immediately, clears the highlight, releases
// the playback slot, and notifies the UI. Safe to call at any point,
// including during an in-flight page turn.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	cancel, release := s.cancel, s.release
	s.cancel, s.release = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.player.Stop()
	s.r.ClearHighlight()
	if release != nil {
		release()
	}
	s.notifyCursor()
}

// Wait blocks until the current playback loop exits. Test hook.
func (s *Synchronizer) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Synchronizer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if !s.alive(ctx) {
			return
		}
		p, i, ok := s.current()
		if !ok {
			if !s.extendForward(ctx) {
				s.finish()
				return
			}
			continue
		}

		if err := s.playOne(ctx, p, i); err != nil {
			if errors.Is(err, context.Canceled) || !s.alive(ctx) {
				return
			}
			s.log.Error("paragraph playback failed, stopping",
				zap.Int("paragraph", i), zap.Error(err))
			s.finish()
			return
		}

		s.mu.Lock()
		s.idx++
		s.mu.Unlock()
		s.notifyCursor()
	}
}

// playOne plays a single paragraph to completion. Empty and duplicate
// paragraphs are skipped, the cursor still advances.
func (s *Synchronizer) playOne(ctx context.Context, p Paragraph, index int) error {
	norm := NormalizeText(p.Text)
	s.mu.Lock()
	dup := norm == "" || norm == s.lastPlayed
	s.mu.Unlock()
	if dup {
		return nil
	}

	// Pre-navigate only across chapters. A same-chapter locator mismatch
	// is post-turn drift and is left alone.
	if p.StartLocator != "" {
		if r, ok := s.r.ResolveRange(p.StartLocator); ok {
			if r.Spine != s.r.CurrentLocation().Start.ChapterIndex {
				if err := s.r.Display(ctx, p.StartLocator); err != nil {
					s.log.Warn("pre-navigation failed", zap.String("locator", p.StartLocator), zap.Error(err))
				}
				if !s.alive(ctx) {
					return ctx.Err()
				}
			}
		}
	}

	if r, ok := s.rangeFor(p); ok {
		s.r.Highlight(r)
	}

	s.prefetch(ctx, index)

	clip, err := s.cache.Clip(ctx, p.Text, s.voice)
	if err != nil {
		return err
	}
	if !s.alive(ctx) {
		return ctx.Err()
	}

	if err := s.player.Play(ctx, clip); err != nil {
		if errors.Is(err, context.Canceled) || !s.alive(ctx) {
			return err
		}
		// A fresh entry that still errors gets one nested retry.
		s.cache.Invalidate(clip.Key)
		clip, err = s.cache.Clip(ctx, p.Text, s.voice)
		if err == nil {
			err = s.player.Play(ctx, clip)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrParagraphFailed, err)
		}
	}

	if s.store != nil {
		if err := s.store.SaveTTSCursor(s.docHash, index); err != nil {
			s.log.Warn("tts progress save failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.lastPlayed = norm
	s.mu.Unlock()
	return nil
}

func (s *Synchronizer) rangeFor(p Paragraph) (render.Range, bool) {
	if p.StartLocator != "" {
		if r, ok := s.r.ResolveRange(p.StartLocator); ok {
			return r, true
		}
	}
	return s.matcher.MatchInDocument(p.Text)
}

// prefetch warms the next paragraphs and, near the page boundary, the
// first paragraphs of the following page, without moving the display.
func (s *Synchronizer) prefetch(ctx context.Context, index int) {
	s.mu.Lock()
	var texts []string
	for i := index + 1; i < len(s.paras) && i <= index+prefetchWindow; i++ {
		texts = append(texts, s.paras[i].Text)
	}
	nearEnd := index >= len(s.paras)-2
	s.mu.Unlock()

	go func() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(prefetchWorkers)
		for _, t := range texts {
			t := t
			g.Go(func() error {
				s.cache.Warm(gctx, t, s.voice)
				return nil
			})
		}
		if nearEnd {
			if pt, err := s.r.PeekNextPageText(); err == nil {
				next := ExtractParagraphs(pt)
				for i, p := range next {
					if i >= peekAhead {
						break
					}
					t := p.Text
					g.Go(func() error {
						s.cache.Warm(gctx, t, s.voice)
						return nil
					})
				}
			}
		}
		_ = g.Wait()
	}()
}

// extendForward turns to the next page, waits for settle, and appends its
// paragraphs, dropping a leading paragraph identical to the last one
// played (the renderer splits paragraphs across page boundaries). A page
// that reduces entirely to the already-played split is skipped, so only
// the document edge ends the walk. Checked against ctx rather than the
// playing flag: manual steps extend before they mark playing.
func (s *Synchronizer) extendForward(ctx context.Context) bool {
	for {
		if err := s.r.Next(ctx); err != nil {
			return false
		}
		s.waitSettle(ctx)
		if ctx.Err() != nil {
			return false
		}

		pt, err := s.r.PageText()
		if err != nil {
			return false
		}
		next := ExtractParagraphs(pt)
		loc := s.r.CurrentLocation().Start.Locator

		s.mu.Lock()
		if len(next) > 0 && NormalizeText(next[0].Text) == s.lastPlayed {
			next = next[1:]
		}
		if len(next) > 0 {
			s.paras = append(s.paras, next...)
			s.listLoc = loc
			s.mu.Unlock()
			return true
		}
		s.mu.Unlock()
	}
}

// extendBackward turns to the previous page and prepends its paragraphs,
// dropping a trailing duplicate of the current first paragraph; pages
// reducing entirely to that duplicate are walked past. Returns the number
// of paragraphs added.
func (s *Synchronizer) extendBackward(ctx context.Context) (int, bool) {
	for {
		if err := s.r.Prev(ctx); err != nil {
			return 0, false
		}
		s.waitSettle(ctx)
		if ctx.Err() != nil {
			return 0, false
		}

		pt, err := s.r.PageText()
		if err != nil {
			return 0, false
		}
		prev := ExtractParagraphs(pt)
		loc := s.r.CurrentLocation().Start.Locator

		s.mu.Lock()
		if len(prev) > 0 && len(s.paras) > 0 &&
			NormalizeText(prev[len(prev)-1].Text) == NormalizeText(s.paras[0].Text) {
			prev = prev[:len(prev)-1]
		}
		if len(prev) > 0 {
			s.paras = append(prev, s.paras...)
			s.idx += len(prev)
			s.listLoc = loc
			s.mu.Unlock()
			return len(prev), true
		}
		s.mu.Unlock()
	}
}

// NextParagraph plays the following paragraph once, turning the page at
// the list boundary. It does not auto-continue.
func (s *Synchronizer) NextParagraph(ctx context.Context) error {
	return s.stepParagraph(ctx, 1)
}

// PrevParagraph plays the preceding paragraph once; at index 0 it turns
// back exactly one page and resumes at that page's last paragraph. A
// no-op at the document start.
func (s *Synchronizer) PrevParagraph(ctx context.Context) error {
	return s.stepParagraph(ctx, -1)
}

func (s *Synchronizer) stepParagraph(ctx context.Context, dir int) error {
	s.Stop()

	loc := s.r.CurrentLocation().Start.Locator

	s.mu.Lock()
	// A list built for a page the user has since navigated away from is
	// stale; discard it and step within the displayed page instead.
	if len(s.paras) > 0 && s.listLoc != loc {
		s.paras = nil
		s.idx = 0
	}
	if len(s.paras) == 0 {
		s.mu.Unlock()
		pt, err := s.r.PageText()
		if err != nil {
			return err
		}
		paras := ExtractParagraphs(pt)
		if len(paras) == 0 {
			return ErrNoText
		}
		s.mu.Lock()
		s.paras = paras
		s.listLoc = loc
		s.idx = 0
		dir = 0 // first step plays the first paragraph
	}
	target := s.idx + dir
	total := len(s.paras)
	s.mu.Unlock()

	switch {
	case target >= total:
		if !s.extendForward(ctx) {
			return nil // document end
		}
		// target now exists: extendForward appended at least one.
	case target < 0:
		added, ok := s.extendBackward(ctx)
		if !ok {
			return nil // document start
		}
		target = added - 1
	}

	release := s.slot.Acquire(s.id, s.Stop)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	if target >= len(s.paras) {
		target = len(s.paras) - 1
	}
	s.playing = true
	s.cancel = cancel
	s.release = release
	s.idx = target
	s.lastPlayed = "" // manual steps replay even recently-played text
	s.done = done
	p := s.paras[target]
	s.mu.Unlock()
	s.notifyCursor()

	go func() {
		defer close(done)
		if err := s.playOne(runCtx, p, target); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("manual paragraph playback failed", zap.Error(err))
		}
		s.finish()
	}()
	return nil
}

// finish transitions to Idle from inside the loop.
func (s *Synchronizer) finish() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	cancel, release := s.cancel, s.release
	s.cancel, s.release = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.r.ClearHighlight()
	if release != nil {
		release()
	}
	s.notifyCursor()
}

func (s *Synchronizer) current() (Paragraph, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx < 0 || s.idx >= len(s.paras) {
		return Paragraph{}, s.idx, false
	}
	return s.paras[s.idx], s.idx, true
}

func (s *Synchronizer) alive(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Synchronizer) waitSettle(ctx context.Context) {
	if s.settle <= 0 {
		return
	}
	t := time.NewTimer(s.settle)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Synchronizer) notifyCursor() {
	if s.onCursor == nil {
		return
	}
	s.onCursor(s.State())
}
