package position

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reflowkit/reflow/internal/render"
)

// ErrNoLocations is recorded when the engine lacks the chunk-index
// capability; consumers fall back to coarser progress estimation.
var ErrNoLocations = errors.New("position: engine has no locations capability")

const defaultBuildTimeout = 10 * time.Second

// Index wraps the engine's Locations capability with the build lifecycle
// the resolver depends on: not ready until generation succeeds, and
// permanently failed for the session after the first error.
type Index struct {
	loc     render.Locations
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	ready  bool
	failed bool
}

// NewIndex creates an Index over the engine capability. loc may be nil;
// the first Build then fails permanently, which is the documented
// degradation path. timeout <= 0 selects the default bound.
func NewIndex(loc render.Locations, timeout time.Duration, log *zap.Logger) *Index {
	if timeout <= 0 {
		timeout = defaultBuildTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{loc: loc, timeout: timeout, log: log}
}

// Build generates the chunk index once. It never blocks longer than the
// configured bound. Any failure latches: the index is never retried
// within a session.
func (x *Index) Build(ctx context.Context, chunkSizeHint int) error {
	x.mu.Lock()
	if x.ready || x.failed {
		x.mu.Unlock()
		return nil
	}
	x.mu.Unlock()

	var err error
	if x.loc == nil {
		err = ErrNoLocations
	} else {
		bctx, cancel := context.WithTimeout(ctx, x.timeout)
		err = x.loc.Generate(bctx, chunkSizeHint)
		cancel()
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err != nil {
		x.failed = true
		x.log.Warn("location index generation failed, using fallback progress",
			zap.Error(err))
		return err
	}
	x.ready = true
	x.log.Info("location index ready", zap.Int("chunks", x.loc.Length()))
	return nil
}

// Ready reports whether index-based progress is available.
func (x *Index) Ready() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ready
}

// Failed reports whether generation failed for this session.
func (x *Index) Failed() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.failed
}

// Length returns the chunk count, 0 when not ready.
func (x *Index) Length() int {
	if !x.Ready() {
		return 0
	}
	return x.loc.Length()
}

// ChunkFromLocator maps a locator to its chunk index when ready.
func (x *Index) ChunkFromLocator(locator string) (int, bool) {
	if !x.Ready() {
		return 0, false
	}
	return x.loc.ChunkFromLocator(locator)
}

// LocatorFromChunk maps a chunk index to its locator when ready.
func (x *Index) LocatorFromChunk(i int) (string, bool) {
	if !x.Ready() {
		return "", false
	}
	return x.loc.LocatorFromChunk(i)
}
