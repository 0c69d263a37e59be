package toolchain

import (
	"fmt"
	"strings"

	"github.com/blackwell-systems/crucible/internal/errs"
)

// ParseDepfile reads a Makefile-style dependency file as emitted by
// gcc/clang -MD: "target: input input..." with backslash-newline
// continuations and backslash-escaped spaces in paths. It returns the
// inputs; the target is ignored (the caller already knows its object).
func ParseDepfile(content string) ([]string, error) {
	// Fold continuations first; the rest is a flat token stream.
	folded := strings.ReplaceAll(content, "\\\r\n", " ")
	folded = strings.ReplaceAll(folded, "\\\n", " ")

	colon := strings.Index(folded, ":")
	if colon < 0 {
		return nil, fmt.Errorf("%w: dependency file has no target separator", errs.ErrUser)
	}
	rest := folded[colon+1:]

	var (
		inputs []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			inputs = append(inputs, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case c == '\\' && i+1 < len(rest) && rest[i+1] == ' ':
			cur.WriteByte(' ')
			i++
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return inputs, nil
}
