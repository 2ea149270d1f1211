package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrParagraphFailed marks a paragraph whose audio could not be produced
// after the retry path. The playback loop isolates it: the session stops,
// the process does not.
var ErrParagraphFailed = errors.New("tts: paragraph audio failed")

const defaultProbeTimeout = 2 * time.Second

// ProbeFunc checks that a cached clip is still playable. A non-nil error
// evicts the entry and falls through to regeneration.
type ProbeFunc func(ctx context.Context, clip Clip) error

// Cache stores synthesized clips keyed by the content hash of their
// normalized paragraph text. Entries expire on a TTL and are
// liveness-checked before reuse because clip sources expire upstream.
type Cache struct {
	clips        *gocache.Cache
	synth        Synthesizer
	probe        ProbeFunc
	probeTimeout time.Duration
	group        singleflight.Group
	log          *zap.Logger
}

// NewCache creates a clip cache over a synthesizer. probe may be nil, in
// which case a bounded HTTP HEAD against the clip URL is used.
func NewCache(synth Synthesizer, ttl time.Duration, probe ProbeFunc, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Cache{
		clips:        gocache.New(ttl, 10*time.Minute),
		synth:        synth,
		probe:        probe,
		probeTimeout: defaultProbeTimeout,
		log:          log,
	}
	if c.probe == nil {
		c.probe = headProbe
	}
	return c
}

// Clip returns a playable clip for the paragraph text: a probed cache hit
// or a freshly synthesized entry. Regeneration for the same key is
// single-flighted so prefetch and playback never synthesize twice.
func (c *Cache) Clip(ctx context.Context, text, voice string) (Clip, error) {
	key := HashText(text)
	if v, found := c.clips.Get(key); found {
		clip := v.(Clip)
		pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		err := c.probe(pctx, clip)
		cancel()
		if err == nil {
			return clip, nil
		}
		c.clips.Delete(key)
		c.log.Debug("evicted dead clip", zap.String("key", key), zap.Error(err))
	}
	return c.regenerate(ctx, key, text, voice)
}

func (c *Cache) regenerate(ctx context.Context, key, text, voice string) (Clip, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		clip, err := c.synth.Synthesize(ctx, text, voice)
		if err != nil {
			return Clip{}, err
		}
		c.clips.Set(key, clip, gocache.DefaultExpiration)
		return clip, nil
	})
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrParagraphFailed, err)
	}
	return v.(Clip), nil
}

// Invalidate drops a cached clip, forcing the next lookup to regenerate.
func (c *Cache) Invalidate(key string) {
	c.clips.Delete(key)
}

// Warm synthesizes ahead of need; failures are logged and swallowed, the
// real lookup will retry.
func (c *Cache) Warm(ctx context.Context, text, voice string) {
	key := HashText(text)
	if _, found := c.clips.Get(key); found {
		return
	}
	if _, err := c.regenerate(ctx, key, text, voice); err != nil {
		c.log.Debug("prefetch failed", zap.String("key", key), zap.Error(err))
	}
}

func headProbe(ctx context.Context, clip Clip) error {
	if clip.URL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, clip.URL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("clip probe: status %d", resp.StatusCode)
	}
	return nil
}
