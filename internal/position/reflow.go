package position

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/reflowkit/reflow/internal/render"
)

// displayer is the slice of the renderer the coordinator needs.
type displayer interface {
	CurrentLocation() render.Location
	Display(ctx context.Context, target string) error
}

// Coordinator suspends progress persistence around layout changes. The
// renderer repaginates on font/theme/viewport changes and reports junk
// page numbers until the reading anchor is re-displayed; relocations
// arriving while Restoring() is true must be dropped by the caller.
type Coordinator struct {
	r         displayer
	settle    time.Duration
	log       *zap.Logger
	restoring atomic.Bool
}

// NewCoordinator creates a Coordinator. settle is the delay granted to
// the engine after re-display before persistence resumes.
func NewCoordinator(r displayer, settle time.Duration, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{r: r, settle: settle, log: log}
}

// Restoring reports whether a reflow is in flight.
func (c *Coordinator) Restoring() bool {
	return c.restoring.Load()
}

// Reflow captures the current locator as an anchor, runs mutate (the
// layout-changing operation) with persistence suppressed, re-displays the
// anchor, and waits for the engine to settle. The suppression flag is
// released on every path, including restore failure, so progress is never
// permanently frozen. Layout errors are logged, never propagated.
func (c *Coordinator) Reflow(ctx context.Context, mutate func()) {
	anchor := c.r.CurrentLocation().Start.Locator

	c.restoring.Store(true)
	defer c.restoring.Store(false)

	mutate()

	if anchor == "" {
		return
	}
	if err := c.r.Display(ctx, anchor); err != nil {
		c.log.Warn("reflow anchor restore failed",
			zap.String("anchor", anchor), zap.Error(err))
		return
	}
	c.waitSettle(ctx)
}

func (c *Coordinator) waitSettle(ctx context.Context) {
	if c.settle <= 0 {
		return
	}
	t := time.NewTimer(c.settle)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
