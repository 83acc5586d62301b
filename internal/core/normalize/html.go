package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// markup like [character=123]Guts[/character] that some catalogues embed
var bracketTag = regexp.MustCompile(`(?i)\[/?(?:character|person|manga|anime|ranobe|url|spoiler|b|i|u|s|quote)(?:=[^\]]*)?\]`)

// StripTags returns the text of an HTML fragment, entities decoded,
// block level tags and <br> turned into line breaks, then cleaned with Text
func StripTags(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				skip++
			case atom.Br, atom.P, atom.Div, atom.Li:
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				if skip > 0 {
					skip--
				}
			case atom.P, atom.Div, atom.Li:
				b.WriteByte('\n')
			}
		}
	}
	out := bracketTag.ReplaceAllString(b.String(), "")
	return Text(out)
}
