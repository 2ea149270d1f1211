package tts

import (
	"context"
	"sync"
	"time"
)

// Player plays one clip at a time. Play blocks until the clip completes,
// the context is cancelled, or Stop is called; Stop halts in-flight audio
// synchronously and is safe to call with nothing playing.
type Player interface {
	Play(ctx context.Context, clip Clip) error
	Stop()
}

// TimedPlayer tracks playback by the clip's reported duration. Hosts with
// a real audio output swap in their own Player; the synchronizer only
// requires the blocking/halting contract.
type TimedPlayer struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewTimedPlayer() *TimedPlayer {
	return &TimedPlayer{}
}

func (p *TimedPlayer) Play(ctx context.Context, clip Clip) error {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.mu.Unlock()
	}()

	d := clip.Duration
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *TimedPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
