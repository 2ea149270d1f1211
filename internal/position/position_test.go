package position

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reflowkit/reflow/internal/render"
)

type fakeIndex struct {
	ready  bool
	length int
	chunk  int
	ok     bool
}

func (f fakeIndex) Ready() bool { return f.ready }
func (f fakeIndex) Length() int { return f.length }
func (f fakeIndex) ChunkFromLocator(string) (int, bool) {
	return f.chunk, f.ok
}

func TestResolveProgressTiers(t *testing.T) {
	tests := []struct {
		name string
		ev   render.RelocationEvent
		idx  IndexView
		ch   ChapterState
		want float64
	}{
		{
			name: "index chunk wins",
			ev:   render.RelocationEvent{Locator: "1/0.0", Percentage: 0.9},
			idx:  fakeIndex{ready: true, length: 500, chunk: 249, ok: true},
			ch:   ChapterState{TotalChapters: 10},
			want: 0.5,
		},
		{
			name: "index miss falls to percentage",
			ev:   render.RelocationEvent{Percentage: 0.42},
			idx:  fakeIndex{ready: true, length: 500, ok: false},
			want: 0.42,
		},
		{
			name: "index not ready falls to percentage",
			ev:   render.RelocationEvent{Percentage: 0.42},
			idx:  fakeIndex{ready: false, length: 500, chunk: 10, ok: true},
			want: 0.42,
		},
		{
			name: "percentage zero is valid",
			ev:   render.RelocationEvent{Percentage: 0},
			want: 0,
		},
		{
			name: "chapter estimate when percentage unavailable",
			ev: render.RelocationEvent{
				ChapterIndex:   3,
				DisplayedPage:  2,
				DisplayedTotal: 4,
				Percentage:     -1,
			},
			ch:   ChapterState{TotalChapters: 10},
			want: 0.325, // (3 + 1/4) / 10
		},
		{
			name: "NaN percentage skipped",
			ev: render.RelocationEvent{
				ChapterIndex:   3,
				DisplayedPage:  2,
				DisplayedTotal: 4,
				Percentage:     math.NaN(),
			},
			ch:   ChapterState{TotalChapters: 10},
			want: 0.325,
		},
		{
			name: "inconsistent chapter count rederived",
			ev: render.RelocationEvent{
				ChapterIndex:   3,
				DisplayedPage:  1,
				DisplayedTotal: 2,
				Percentage:     -1,
			},
			ch: ChapterState{
				TotalChapters: 1,
				RederiveTotal: func() int { return 12 },
			},
			want: 0.25, // 3/12
		},
		{
			name: "chapterIndex+1 floor when rederive also fails",
			ev: render.RelocationEvent{
				ChapterIndex:   3,
				DisplayedPage:  2,
				DisplayedTotal: 4,
				Percentage:     -1,
			},
			ch:   ChapterState{TotalChapters: 0},
			want: 0.8125, // (3 + 1/4) / 4
		},
		{
			name: "zero displayed total ignored",
			ev: render.RelocationEvent{
				ChapterIndex: 2,
				Percentage:   -1,
			},
			ch:   ChapterState{TotalChapters: 8},
			want: 0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := ResolveProgress(tt.ev, tt.idx, tt.ch)
			assert.InDelta(t, tt.want, pos.Progress, 1e-9)
		})
	}
}

func TestResolveProgressCarriesEventFields(t *testing.T) {
	ev := render.RelocationEvent{
		Locator:        "2/5.0",
		ChapterIndex:   2,
		ChapterTitle:   "Winter",
		DisplayedPage:  3,
		DisplayedTotal: 7,
		Percentage:     0.6,
	}
	pos := ResolveProgress(ev, nil, ChapterState{TotalChapters: 3})

	assert.Equal(t, "2/5.0", pos.Locator)
	assert.Equal(t, 2, pos.ChapterIndex)
	assert.Equal(t, "Winter", pos.ChapterTitle)
	assert.Equal(t, 3, pos.CurrentPage)
	assert.Equal(t, 7, pos.TotalPages)
	assert.InDelta(t, 0.6, pos.Progress, 1e-9)
}

func TestResolveProgressClamped(t *testing.T) {
	over := ResolveProgress(render.RelocationEvent{Percentage: 1.7}, nil, ChapterState{})
	assert.Equal(t, 1.0, over.Progress)

	nan := ResolveProgress(render.RelocationEvent{Percentage: -1}, nil, ChapterState{})
	assert.GreaterOrEqual(t, nan.Progress, 0.0)
	assert.LessOrEqual(t, nan.Progress, 1.0)
}
