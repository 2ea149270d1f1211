package render

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
)

// NCX structures for parsing toc.ncx.
type ncx struct {
	NavMap navMap `xml:"navMap"`
}

type navMap struct {
	NavPoints []navPoint `xml:"navPoint"`
}

type navPoint struct {
	ID        string     `xml:"id,attr"`
	PlayOrder int        `xml:"playOrder,attr"`
	Label     navLabel   `xml:"navLabel"`
	Content   navContent `xml:"content"`
	Children  []navPoint `xml:"navPoint"`
}

type navLabel struct {
	Text string `xml:"text"`
}

type navContent struct {
	Src string `xml:"src,attr"`
}

// parseTOC extracts the table of contents and resolves each entry to a
// chapter index via the spine. Documents without an NCX get a spine-derived
// fallback TOC so hosts always have something to show.
func parseTOC(filename string, book *epub.Rootfile, spine []SpineItem) []TOCItem {
	ncxData, err := findAndReadNCX(filename, book)
	if err != nil {
		return spineFallbackTOC(spine)
	}

	var toc ncx
	if err := xml.Unmarshal(ncxData, &toc); err != nil {
		return spineFallbackTOC(spine)
	}

	items := flattenNavPoints(toc.NavMap.NavPoints, spine, 0)
	if len(items) == 0 {
		return spineFallbackTOC(spine)
	}
	return items
}

func spineFallbackTOC(spine []SpineItem) []TOCItem {
	items := make([]TOCItem, 0, len(spine))
	for _, it := range spine {
		items = append(items, TOCItem{
			ID:           fmt.Sprintf("spine-%d", it.Index),
			Title:        it.Title,
			Href:         it.Href,
			ChapterIndex: it.Index,
		})
	}
	return items
}

func flattenNavPoints(points []navPoint, spine []SpineItem, level int) []TOCItem {
	var items []TOCItem
	for _, np := range points {
		href := np.Content.Src
		items = append(items, TOCItem{
			ID:           np.ID,
			Title:        strings.TrimSpace(np.Label.Text),
			Href:         href,
			Level:        level,
			ChapterIndex: chapterIndexForHref(href, spine),
		})
		if len(np.Children) > 0 {
			items = append(items, flattenNavPoints(np.Children, spine, level+1)...)
		}
	}
	return items
}

func chapterIndexForHref(href string, spine []SpineItem) int {
	base := href
	if i := strings.Index(base, "#"); i != -1 {
		base = base[:i]
	}
	for _, it := range spine {
		if it.Href == base || strings.HasSuffix(it.Href, "/"+base) || path.Base(it.Href) == path.Base(base) {
			return it.Index
		}
	}
	return 0
}

// buildTOCHrefMap parses the NCX and returns a map of href to title, used
// to name chapters during extraction.
func buildTOCHrefMap(filename string, book *epub.Rootfile) map[string]string {
	result := make(map[string]string)

	ncxData, err := findAndReadNCX(filename, book)
	if err != nil {
		return result
	}

	var toc ncx
	if err := xml.Unmarshal(ncxData, &toc); err != nil {
		return result
	}

	var extract func(points []navPoint)
	extract = func(points []navPoint) {
		for _, np := range points {
			href := np.Content.Src
			title := strings.TrimSpace(np.Label.Text)

			if _, exists := result[href]; !exists {
				result[href] = title
			}
			if idx := strings.Index(href, "#"); idx != -1 {
				baseHref := href[:idx]
				if _, exists := result[baseHref]; !exists {
					result[baseHref] = title
				}
			}
			baseHref := path.Base(href)
			if idx := strings.Index(baseHref, "#"); idx != -1 {
				baseHref = baseHref[:idx]
			}
			if _, exists := result[baseHref]; !exists {
				result[baseHref] = title
			}

			extract(np.Children)
		}
	}
	extract(toc.NavMap.NavPoints)

	return result
}

func findAndReadNCX(filename string, book *epub.Rootfile) ([]byte, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var ncxPath string
	for _, item := range book.Manifest.Items {
		if item.MediaType == "application/x-dtbncx+xml" {
			ncxPath = item.HREF
			break
		}
	}
	if ncxPath == "" {
		for _, f := range zr.File {
			if strings.HasSuffix(strings.ToLower(f.Name), ".ncx") {
				ncxPath = f.Name
				break
			}
		}
	}

	if ncxPath == "" {
		return nil, fmt.Errorf("no NCX file found in EPUB")
	}

	for _, f := range zr.File {
		if f.Name == ncxPath || strings.HasSuffix(f.Name, "/"+ncxPath) || path.Base(f.Name) == path.Base(ncxPath) {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}

	return nil, fmt.Errorf("NCX file %s not found in archive", ncxPath)
}
