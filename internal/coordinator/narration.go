// ABOUTME: Renders lesson markdown into plain narration text for the voice agent
// ABOUTME: Walks the goldmark AST and keeps readable text, dropping code and raw HTML

package coordinator

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// Narrate converts markdown to speakable plain text. Blocks become sentences
// joined by single spaces; headings get a closing period.
func Narrate(src string) string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var (
		sentences []string
		buf       strings.Builder
	)
	flush := func(terminate bool) {
		s := strings.Join(strings.Fields(buf.String()), " ")
		buf.Reset()
		if s == "" {
			return
		}
		if terminate && !endsSentence(s) {
			s += "."
		}
		sentences = append(sentences, s)
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.Heading:
			if !entering {
				flush(true)
			}
		case *ast.Paragraph, *ast.TextBlock:
			if !entering {
				flush(false)
			}
		}
		return ast.WalkContinue, nil
	})
	flush(false)

	return strings.Join(sentences, " ")
}

func endsSentence(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune(".!?:;", r)
}
