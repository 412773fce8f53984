package parser

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

type textParser struct{}

func (textParser) Name() string { return "text" }
func (textParser) Extensions() []string {
	return []string{"txt", "csv", "json", "xml", "html", "log"}
}

func (textParser) Parse(data []byte, _ string) (string, map[string]any, error) {
	s, enc, err := decode(data)
	if err != nil {
		return "", nil, err
	}
	return s, map[string]any{
		"encoding":   enc,
		"line_count": strings.Count(s, "\n") + 1,
		"char_count": utf8.RuneCountInString(s),
	}, nil
}

// decode tries UTF-8, then BOM-marked UTF-16, then Windows-1252.
func decode(data []byte) (string, string, error) {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		data = data[3:]
	}
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		s, err := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), data)
		if err == nil {
			return s, "utf-16", nil
		}
	}
	s, err := decodeWith(charmap.Windows1252, data)
	if err != nil {
		return "", "", err
	}
	return s, "cp1252", nil
}

func decodeWith(enc encoding.Encoding, data []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// markdownParser keeps the readable text of a markdown document and drops
// the markup.
type markdownParser struct{}

func (markdownParser) Name() string         { return "markdown" }
func (markdownParser) Extensions() []string { return []string{"md", "markdown"} }

func (markdownParser) Parse(data []byte, _ string) (string, map[string]any, error) {
	src, enc, err := decode(data)
	if err != nil {
		return "", nil, err
	}
	source := []byte(src)
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	headings := 0
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
			return ast.WalkContinue, nil
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
			return ast.WalkContinue, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
				}
				b.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.Heading:
			if entering {
				headings++
			}
		}
		if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
			b.WriteString("\n\n")
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", nil, err
	}

	out := strings.TrimSpace(blankRunRe.ReplaceAllString(b.String(), "\n\n"))
	return out, map[string]any{"encoding": enc, "heading_count": headings}, nil
}
