package tts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflowkit/reflow/internal/render"
)

type fakePageSource struct {
	pt     render.PageText
	err    error
	ranges map[string]render.Range
}

func (f fakePageSource) PageText() (render.PageText, error) { return f.pt, f.err }

func (f fakePageSource) ResolveRange(locator string) (render.Range, bool) {
	r, ok := f.ranges[locator]
	return r, ok
}

func TestPrefixMatcher(t *testing.T) {
	src := fakePageSource{
		pt: render.PageText{
			Blocks: []string{
				"The quiet harbor town woke slowly under the mist.",
				"Fishermen dragged their boats across the shingle.",
			},
			BlockLocators: []string{"0/0.0", "0/1.0"},
		},
		ranges: map[string]render.Range{
			"0/0.0": {Spine: 0, Block: 0},
			"0/1.0": {Spine: 0, Block: 1},
		},
	}
	m := NewPrefixMatcher(src)

	tests := []struct {
		name string
		text string
		want render.Range
		ok   bool
	}{
		{
			name: "exact second block",
			text: "Fishermen dragged their boats across the shingle.",
			want: render.Range{Spine: 0, Block: 1},
			ok:   true,
		},
		{
			name: "whitespace differences ignored",
			text: "The quiet   harbor\ntown woke slowly under the mist.",
			want: render.Range{Spine: 0, Block: 0},
			ok:   true,
		},
		{
			name: "longer paragraph matches truncated block prefix",
			text: "Fishermen dragged their boats across the shingle. And kept going past the point the page cut off.",
			want: render.Range{Spine: 0, Block: 1},
			ok:   true,
		},
		{
			name: "no match",
			text: "Completely unrelated sentence about something else entirely.",
			ok:   false,
		},
		{
			name: "empty text",
			text: "   ",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.MatchInDocument(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPrefixMatcherPageTextError(t *testing.T) {
	m := NewPrefixMatcher(fakePageSource{err: errors.New("no page")})
	_, ok := m.MatchInDocument("anything at all to look for")
	assert.False(t, ok)
}

func TestPrefixMatcherBlockSplitAcrossPages(t *testing.T) {
	// The displayed block is the tail half of the paragraph; only the
	// shortened prefix attempts can ever match, and they must not match
	// the wrong block.
	src := fakePageSource{
		pt: render.PageText{
			Blocks:        []string{"Fishermen dragged their boats across the shingle while gulls wheeled."},
			BlockLocators: []string{"0/1.0"},
		},
		ranges: map[string]render.Range{"0/1.0": {Spine: 0, Block: 1}},
	}
	m := NewPrefixMatcher(src)

	got, ok := m.MatchInDocument("Fishermen dragged their boats")
	assert.True(t, ok)
	assert.Equal(t, render.Range{Spine: 0, Block: 1}, got)
}
