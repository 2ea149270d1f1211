package render

import (
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"sync"

	"github.com/taylorskalyo/goreader/epub"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// chapter is one spine item's extracted content. blocks holds the words of
// each block-level element in document order; wordStart is the chapter's
// offset into the whole-document word sequence.
type chapter struct {
	href      string
	title     string
	blocks    [][]string
	wordStart int
	wordCount int
	charCount int
}

// Book is an in-process EPUB renderer. It paginates extracted block text
// against a character-cell viewport and implements the Renderer contract.
type Book struct {
	mu sync.Mutex

	path     string
	chapters []chapter
	spine    []SpineItem
	toc      []TOCItem

	totalWords int
	totalChars int

	cols      int
	rows      int
	fontScale float64
	reportPct bool

	pages [][]page // per chapter, rebuilt on every layout change
	chIdx int
	pgIdx int

	highlight    Range
	hasHighlight bool

	locs *bookLocations // nil when the capability is disabled

	subs []func(RelocationEvent)
	log  *zap.Logger
}

// BookOption configures OpenBook.
type BookOption func(*Book)

// WithViewport sets the initial character-cell viewport.
func WithViewport(cols, rows int) BookOption {
	return func(b *Book) { b.cols, b.rows = cols, rows }
}

// WithFontScale sets the initial font scale (1.0 = default).
func WithFontScale(scale float64) BookOption {
	return func(b *Book) { b.fontScale = scale }
}

// WithoutPercentage disables engine-reported whole-document percentage.
func WithoutPercentage() BookOption {
	return func(b *Book) { b.reportPct = false }
}

// WithoutLocations disables the chunk-index capability.
func WithoutLocations() BookOption {
	return func(b *Book) { b.locs = nil }
}

// WithLogger attaches a logger for engine-internal diagnostics.
func WithLogger(log *zap.Logger) BookOption {
	return func(b *Book) { b.log = log }
}

// OpenBook opens an EPUB file and prepares it for display at the first
// page of the first non-empty spine item.
func OpenBook(filename string, opts ...BookOption) (*Book, error) {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, fmt.Errorf("no rootfiles found in epub")
	}
	book := rc.Rootfiles[0]

	b := &Book{
		path:      filename,
		cols:      80,
		rows:      24,
		fontScale: 1.0,
		reportPct: true,
		log:       zap.NewNop(),
	}
	b.locs = &bookLocations{book: b}
	for _, opt := range opts {
		opt(b)
	}

	tocByHref := buildTOCHrefMap(filename, book)

	for _, ref := range book.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		r, err := ref.Item.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			continue
		}

		blocks := extractBlocks(string(data))
		if len(blocks) == 0 {
			continue
		}

		title := fmt.Sprintf("Section %d", len(b.chapters)+1)
		if ref.Item.HREF != "" {
			if t, ok := tocByHref[ref.Item.HREF]; ok && t != "" {
				title = t
			} else if t, ok := tocByHref[path.Base(ref.Item.HREF)]; ok && t != "" {
				title = t
			}
		}

		ch := chapter{
			href:      ref.Item.HREF,
			title:     title,
			wordStart: b.totalWords,
		}
		for _, text := range blocks {
			words := strings.Fields(text)
			if len(words) == 0 {
				continue
			}
			ch.blocks = append(ch.blocks, words)
			ch.wordCount += len(words)
			ch.charCount += len(text)
		}
		if len(ch.blocks) == 0 {
			continue
		}
		b.totalWords += ch.wordCount
		b.totalChars += ch.charCount

		b.spine = append(b.spine, SpineItem{Index: len(b.chapters), Href: ch.href, Title: title})
		b.chapters = append(b.chapters, ch)
	}

	if len(b.chapters) == 0 {
		return nil, fmt.Errorf("epub %s has no extractable text", filename)
	}

	b.toc = parseTOC(filename, book, b.spine)
	b.relayout()
	return b, nil
}

// extractBlocks parses an XHTML document and returns the text of each
// block-level element, whitespace-normalized, in document order.
func extractBlocks(s string) []string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return nil
	}

	blockTags := map[string]bool{
		"p": true, "h1": true, "h2": true, "h3": true, "h4": true,
		"h5": true, "h6": true, "li": true, "blockquote": true,
		"pre": true, "figcaption": true, "dt": true, "dd": true,
		"tr": true, "div": true, "section": true, "body": true,
	}

	var blocks []string
	var cur strings.Builder
	flush := func() {
		t := strings.Join(strings.Fields(cur.String()), " ")
		if t != "" {
			blocks = append(blocks, t)
		}
		cur.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			}
			if blockTags[n.Data] {
				flush()
			}
		}
		if n.Type == html.TextNode {
			cur.WriteString(n.Data)
			cur.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			flush()
		}
	}
	walk(doc)
	flush()
	return blocks
}

// globalWordIndex flattens a content reference into a whole-document
// word offset.
func (b *Book) globalWordIndex(l loc) int {
	if l.spine < 0 || l.spine >= len(b.chapters) {
		return 0
	}
	ch := b.chapters[l.spine]
	n := ch.wordStart
	for i := 0; i < l.block && i < len(ch.blocks); i++ {
		n += len(ch.blocks[i])
	}
	return n + l.word
}

func (b *Book) percentageAt(l loc) float64 {
	if !b.reportPct || b.totalWords == 0 {
		return -1
	}
	p := float64(b.globalWordIndex(l)) / float64(b.totalWords)
	return math.Min(1, math.Max(0, p))
}

// Spine returns the reading-order sections of the document.
func (b *Book) Spine() []SpineItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SpineItem, len(b.spine))
	copy(out, b.spine)
	return out
}

// TOC returns the parsed table of contents.
func (b *Book) TOC() []TOCItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TOCItem, len(b.toc))
	copy(out, b.toc)
	return out
}

// Locations returns the chunk-index capability, nil when disabled.
func (b *Book) Locations() Locations {
	if b.locs == nil {
		return nil
	}
	return b.locs
}

// OnRelocated subscribes to relocation events. Handlers run synchronously
// on the goroutine that triggered the relocation.
func (b *Book) OnRelocated(fn func(RelocationEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

var _ Renderer = (*Book)(nil)
