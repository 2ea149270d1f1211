package render

import (
	"context"
	"sort"
	"sync"
)

// maxChunks bounds index size on very large documents.
const maxChunks = 2000

// bookLocations partitions the whole document into roughly equal-sized
// character chunks and maps chunk indices to locators and back.
type bookLocations struct {
	book *Book

	mu        sync.Mutex
	generated bool
	locators  []string
	starts    []int // global word offset of each chunk start
}

// Generate walks every chapter block accumulating characters and records
// a chunk boundary each time chunkSizeHint characters have passed.
func (bl *bookLocations) Generate(ctx context.Context, chunkSizeHint int) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.generated {
		return nil
	}

	b := bl.book
	chunkSize := chunkSizeHint
	if chunkSize <= 0 {
		chunkSize = 1024
	}
	if b.totalChars/chunkSize > maxChunks {
		chunkSize = b.totalChars/maxChunks + 1
	}

	var locators []string
	var starts []int
	acc := chunkSize // force a boundary at the first word
	global := 0
	for ci, ch := range b.chapters {
		if err := ctx.Err(); err != nil {
			return err
		}
		for bi, words := range ch.blocks {
			for wi, w := range words {
				if acc >= chunkSize {
					locators = append(locators, loc{spine: ci, block: bi, word: wi}.String())
					starts = append(starts, global)
					acc = 0
				}
				acc += len(w) + 1
				global++
			}
		}
	}
	if len(locators) == 0 {
		return ErrNoContent
	}

	bl.locators = locators
	bl.starts = starts
	bl.generated = true
	return nil
}

func (bl *bookLocations) Length() int {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return len(bl.locators)
}

func (bl *bookLocations) LocatorFromChunk(i int) (string, bool) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if i < 0 || i >= len(bl.locators) {
		return "", false
	}
	return bl.locators[i], true
}

func (bl *bookLocations) ChunkFromLocator(locator string) (int, bool) {
	l, ok := parseLocator(locator)
	if !ok {
		return 0, false
	}
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if !bl.generated || len(bl.starts) == 0 {
		return 0, false
	}
	global := bl.book.globalWordIndex(l)
	// Last chunk whose start is <= global.
	i := sort.Search(len(bl.starts), func(i int) bool { return bl.starts[i] > global })
	if i == 0 {
		return 0, true
	}
	return i - 1, true
}
