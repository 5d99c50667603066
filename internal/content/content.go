// Package content turns rich post bodies into the plain text the matcher reads.
package content

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainText extracts the text of an HTML post body. Link subtrees (<a>) are
// dropped entirely so mentions, hashtags and URLs never reach the matcher,
// <br> becomes a newline and paragraph boundaries become newlines. The result
// is trimmed. Malformed markup is handled leniently by the HTML5 parser.
func PlainText(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	nodes, err := html.ParseFragment(strings.NewReader(body), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return strings.TrimSpace(body)
	}

	var b strings.Builder
	for i, n := range nodes {
		if i > 0 && isBlock(n) {
			b.WriteByte('\n')
		}
		writeText(&b, n)
	}
	return strings.TrimSpace(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.A:
			return
		case atom.Br:
			b.WriteByte('\n')
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.PrevSibling != nil && isBlock(c) {
			b.WriteByte('\n')
		}
		writeText(b, c)
	}
}

func isBlock(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.P, atom.Div, atom.Blockquote, atom.Li:
		return true
	}
	return false
}

// mentionRe matches @user and @user@instance handles.
var mentionRe = regexp.MustCompile(`@[\p{L}\p{N}_]+(?:@[\p{L}\p{N}_.\-]+)?`)

// urlRe matches bare http(s) links in plain-text bodies such as tweets.
var urlRe = regexp.MustCompile(`https?://\S+`)

// StripMentions removes @handles and bare links from plain text and collapses
// the leftover whitespace. Tweets carry mentions and t.co links inline, so the
// Twitter adapter uses this where Mastodon relies on [PlainText] dropping <a>.
func StripMentions(text string) string {
	text = mentionRe.ReplaceAllString(text, " ")
	text = urlRe.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
