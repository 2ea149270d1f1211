// Package tts drives sequential speech playback of page paragraphs,
// keeping the visible page, the highlight, and the audio stream in step.
package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/reflowkit/reflow/internal/render"
)

// Paragraph is one playback unit extracted from the displayed page. The
// locators are best effort: only the page's first and last paragraphs get
// them from the page boundaries; interior ones may stay empty.
type Paragraph struct {
	Text         string
	StartLocator string
	EndLocator   string
}

// shortLineMax is the length under which a lone line is treated as a
// probable title and merged into the following line.
const shortLineMax = 20

// ExtractParagraphs splits a page's text into ordered playback units and
// assigns boundary locators.
func ExtractParagraphs(pt render.PageText) []Paragraph {
	var texts []string
	if len(pt.Blocks) > 0 {
		for _, b := range pt.Blocks {
			if t := strings.TrimSpace(b); t != "" {
				texts = append(texts, t)
			}
		}
	} else {
		texts = SplitText(pt.Text)
	}
	if len(texts) == 0 {
		return nil
	}

	paras := make([]Paragraph, len(texts))
	for i, t := range texts {
		paras[i] = Paragraph{Text: t}
	}
	paras[0].StartLocator = pt.StartLocator
	paras[len(paras)-1].EndLocator = pt.EndLocator
	return paras
}

// SplitText splits plain page text into paragraph units: blank-line
// boundaries when present, otherwise line-based with short non-CJK lines
// merged into the line that follows them.
func SplitText(text string) []string {
	if strings.Contains(text, "\n\n") {
		var out []string
		for _, chunk := range strings.Split(text, "\n\n") {
			t := strings.Join(strings.Fields(chunk), " ")
			if t != "" {
				out = append(out, t)
			}
		}
		return out
	}

	var out []string
	var pending string
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if len([]rune(t)) < shortLineMax && !startsCJK(t) {
			if pending != "" {
				pending += " "
			}
			pending += t
			continue
		}
		if pending != "" {
			t = pending + " " + t
			pending = ""
		}
		out = append(out, t)
	}
	if pending != "" {
		out = append(out, pending)
	}
	return out
}

func startsCJK(s string) bool {
	for _, r := range s {
		return unicode.Is(unicode.Han, r) ||
			unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) ||
			unicode.Is(unicode.Hangul, r)
	}
	return false
}

// NormalizeText collapses whitespace; two paragraphs with equal normalized
// text are the same content unit regardless of how the renderer split them.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripText removes all whitespace, for locator-free prefix matching.
func StripText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HashText is the deterministic audio-cache key for a paragraph.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(NormalizeText(s)))
	return hex.EncodeToString(sum[:16])
}
