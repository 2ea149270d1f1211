package render

import (
	"fmt"
	"strconv"
	"strings"
)

// loc is the decoded form of this engine's locator strings:
// "<spine>/<block>.<word>". The encoding addresses content, not pages,
// so it survives repagination. Opaque outside this package.
type loc struct {
	spine int
	block int
	word  int
}

func (l loc) String() string {
	return fmt.Sprintf("%d/%d.%d", l.spine, l.block, l.word)
}

func parseLocator(s string) (loc, bool) {
	slash := strings.IndexByte(s, '/')
	dot := strings.LastIndexByte(s, '.')
	if slash <= 0 || dot <= slash {
		return loc{}, false
	}
	spine, err1 := strconv.Atoi(s[:slash])
	block, err2 := strconv.Atoi(s[slash+1 : dot])
	word, err3 := strconv.Atoi(s[dot+1:])
	if err1 != nil || err2 != nil || err3 != nil {
		return loc{}, false
	}
	if spine < 0 || block < 0 || word < 0 {
		return loc{}, false
	}
	return loc{spine: spine, block: block, word: word}, true
}
