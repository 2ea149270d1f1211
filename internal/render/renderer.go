// Package render defines the contract a content-rendering engine must
// provide to the reader, and ships an in-process EPUB implementation of it.
package render

import (
	"context"
	"errors"
)

var (
	// ErrEndOfDocument is returned by Next when there is no further page.
	ErrEndOfDocument = errors.New("render: end of document")
	// ErrStartOfDocument is returned by Prev on the first page.
	ErrStartOfDocument = errors.New("render: start of document")
	// ErrNoContent is returned when a display target resolves to nothing.
	ErrNoContent = errors.New("render: no content for target")
)

// Displayed is the page counter the engine reports for the current chapter.
// Page is 1-based. Both values drift after every reflow.
type Displayed struct {
	Page  int
	Total int
}

// LocationPoint describes one edge of the currently displayed content.
// Percentage is the engine's whole-document estimate, negative when the
// engine does not report one.
type LocationPoint struct {
	Locator      string
	ChapterIndex int
	Percentage   float64
	Displayed    Displayed
}

// Location is the engine's answer to "where am I".
type Location struct {
	Start LocationPoint
	End   LocationPoint
}

// RelocationEvent is emitted whenever the displayed content changes:
// navigation, page turns, and repagination after a layout change.
type RelocationEvent struct {
	Locator        string
	ChapterIndex   int
	ChapterTitle   string
	DisplayedPage  int
	DisplayedTotal int
	// Percentage is the engine-reported whole-document progress,
	// negative when unavailable.
	Percentage float64
}

// PageText is the plain text of the displayed page with block boundaries
// preserved, bracketed by the page's start and end locators.
// BlockLocators runs parallel to Blocks and addresses each block's first
// visible word; entries may be empty for engines without the capability.
type PageText struct {
	Text          string
	Blocks        []string
	BlockLocators []string
	StartLocator  string
	EndLocator    string
}

// Range addresses a run of words inside the document, used for
// highlighting. Engine-specific; callers treat it as opaque.
type Range struct {
	Spine     int
	Block     int
	WordStart int
	WordEnd   int
}

// TOCItem is one table-of-contents entry.
type TOCItem struct {
	ID           string
	Title        string
	Href         string
	Level        int
	ChapterIndex int
}

// SpineItem is one reading-order section of the document.
type SpineItem struct {
	Index int
	Href  string
	Title string
}

// Locations is the optional whole-document chunk index capability.
// Engines that cannot partition the document return nil from
// Renderer.Locations and callers degrade to coarser progress estimates.
type Locations interface {
	Generate(ctx context.Context, chunkSizeHint int) error
	Length() int
	LocatorFromChunk(i int) (string, bool)
	ChunkFromLocator(locator string) (int, bool)
}

// Renderer is the surface the reader consumes from a content-rendering
// engine. Display resolves once the requested content begins rendering.
// Relocation handlers are invoked synchronously, in emission order.
type Renderer interface {
	Display(ctx context.Context, target string) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	CurrentLocation() Location
	Resize(width, height int)
	SetFontScale(scale float64)
	OnRelocated(fn func(RelocationEvent))
	PageText() (PageText, error)
	PeekNextPageText() (PageText, error)
	ResolveRange(locator string) (Range, bool)
	Locations() Locations
	TOC() []TOCItem
	Spine() []SpineItem
	Highlight(r Range)
	ClearHighlight()
}
