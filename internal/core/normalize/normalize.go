// Package normalize cleans upstream title text
//
// Text keeps what a reader should see: valid UTF-8, NFC, no control or
// zero-width characters, single spaces, paragraph breaks kept as one newline
// Fold builds a matching key: NFKC, case folded, marks stripped, width
// folded and flattened to one line
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var (
	textPool = sync.Pool{
		New: func() any {
			return transform.Chain(
				norm.NFC,
				runes.Remove(runes.In(unicode.Cf)),
			)
		},
	}
	foldPool = sync.Pool{
		New: func() any {
			return transform.Chain(
				norm.NFKD,
				runes.Remove(runes.In(unicode.Mn)),
				norm.NFKC,
				cases.Fold(),
				runes.Remove(runes.In(unicode.Cf)),
				width.Fold,
			)
		},
	}
)

// Text returns display text with whitespace collapsed
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = Sanitize(s)
	s = run(&textPool, s)
	return collapseSpaces(s, true)
}

// Line is Text flattened to a single line
func Line(s string) string {
	if s == "" {
		return ""
	}
	return collapseSpaces(run(&textPool, Sanitize(s)), false)
}

// Fold returns the comparison key for s
func Fold(s string) string {
	if s == "" {
		return ""
	}
	return collapseSpaces(run(&foldPool, Sanitize(s)), false)
}

// Names cleans a list of names, dropping blanks and fold-equal repeats
// the first spelling of each name wins
func Names(in ...string) []string {
	out := lo.Filter(lo.Map(in, func(s string, _ int) string { return Line(s) }),
		func(s string, _ int) bool { return s != "" })
	return lo.UniqBy(out, Fold)
}

// Without drops names fold-equal to any of the excluded ones
func Without(names []string, exclude ...string) []string {
	skip := lo.SliceToMap(exclude, func(s string) (string, struct{}) { return Fold(s), struct{}{} })
	return lo.Reject(names, func(s string, _ int) bool {
		_, ok := skip[Fold(s)]
		return ok
	})
}

func run(p *sync.Pool, s string) string {
	tr := p.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	p.Put(tr)
	if err != nil {
		return s
	}
	return out
}

// collapseSpaces turns whitespace runs into one space, or one newline when
// the run held a line break and keepLines is set; edges are trimmed
func collapseSpaces(s string, keepLines bool) string {
	var b strings.Builder
	b.Grow(len(s))
	inWS, sawNL := false, false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inWS = true
			if r == '\n' || r == '\r' {
				sawNL = true
			}
			continue
		}
		if inWS && b.Len() > 0 {
			if sawNL && keepLines {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		inWS, sawNL = false, false
		b.WriteRune(r)
	}
	return b.String()
}
