package tts

import "github.com/reflowkit/reflow/internal/render"

// minMatchPrefix is the shortest prefix worth trying before giving up.
const minMatchPrefix = 20

// TextLocator maps paragraph text back to an addressable range in the
// document, for highlighting and page-turn pre-emption. Implementations
// are best effort; a miss means the paragraph still plays but cannot be
// decorated or used to anchor navigation.
type TextLocator interface {
	MatchInDocument(text string) (render.Range, bool)
}

// pageSource is the slice of the renderer a matcher needs.
type pageSource interface {
	PageText() (render.PageText, error)
	ResolveRange(locator string) (render.Range, bool)
}

// PrefixMatcher matches whitespace-stripped paragraph text against the
// displayed page's blocks, trying progressively shorter prefixes down to
// minMatchPrefix characters.
type PrefixMatcher struct {
	src pageSource
}

// NewPrefixMatcher builds the default TextLocator over a renderer.
func NewPrefixMatcher(src pageSource) *PrefixMatcher {
	return &PrefixMatcher{src: src}
}

func (m *PrefixMatcher) MatchInDocument(text string) (render.Range, bool) {
	want := []rune(StripText(text))
	if len(want) == 0 {
		return render.Range{}, false
	}

	pt, err := m.src.PageText()
	if err != nil || len(pt.Blocks) == 0 {
		return render.Range{}, false
	}

	for i, blk := range pt.Blocks {
		have := StripText(blk)
		n := len(want)
		for {
			if matchesPrefix(have, string(want[:n])) {
				if i < len(pt.BlockLocators) {
					if r, ok := m.src.ResolveRange(pt.BlockLocators[i]); ok {
						return r, true
					}
				}
				return render.Range{}, false
			}
			if n <= minMatchPrefix {
				break
			}
			n /= 2
			if n < minMatchPrefix {
				n = minMatchPrefix
			}
		}
	}
	return render.Range{}, false
}

func matchesPrefix(have, prefix string) bool {
	if len(prefix) == 0 {
		return false
	}
	if len(have) >= len(prefix) {
		return have[:len(prefix)] == prefix
	}
	// Page block may be a truncated split of the paragraph.
	return prefix[:len(have)] == have
}
