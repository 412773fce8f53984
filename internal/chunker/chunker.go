package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"spec-rag/internal/config"
	"spec-rag/internal/models"
)

// ContentTypeSpecification selects section-aware chunking.
const ContentTypeSpecification = "specification"

var (
	sectionRe   = regexp.MustCompile(models.SectionHeaderRegex)
	paragraphRe = regexp.MustCompile(models.ParagraphRegex)
)

// Chunker splits document text into overlapping, size-bounded chunks.
// Sizes are measured in characters (runes), not bytes.
type Chunker struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkSize   int
	SplitFactor    int
	SentenceWindow int
}

// New builds a Chunker from the rag section of the config. A nil config
// yields the defaults.
func New(cfg *config.RAGConfig) *Chunker {
	if cfg == nil {
		cfg = &config.Default().RAG
	}
	c := &Chunker{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		MinChunkSize:   cfg.MinChunkSize,
		SplitFactor:    cfg.SplitFactor,
		SentenceWindow: cfg.SentenceWindow,
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = config.Default().RAG.ChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 2
	}
	if c.SplitFactor <= 0 {
		c.SplitFactor = 2
	}
	return c
}

// ChunkDocument cuts text into chunks. Specification documents are split on
// section headers; everything else on blank-line paragraphs. Input shorter
// than the minimum chunk size yields no chunks.
func (c *Chunker) ChunkDocument(text string, sourceID int64, sourceFilename, contentType string) []models.Chunk {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < max(c.MinChunkSize, 1) {
		return nil
	}

	e := &emitter{sourceID: sourceID, filename: sourceFilename, minSize: c.MinChunkSize}
	if contentType == ContentTypeSpecification {
		c.chunkSpecification(text, e)
	} else {
		c.chunkGeneric(text, e)
	}

	log.Debug().
		Str("filename", sourceFilename).
		Str("content_type", contentType).
		Int("chunks", len(e.chunks)).
		Msg("Chunked document")
	return e.chunks
}

// emitter assigns ordinal indices in emission order and enforces the minimum size.
type emitter struct {
	sourceID int64
	filename string
	minSize  int
	chunks   []models.Chunk
}

func (e *emitter) emit(text, section string) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) < e.minSize {
		return
	}
	e.chunks = append(e.chunks, models.Chunk{
		Text:           text,
		SourceFileID:   e.sourceID,
		SourceFilename: e.filename,
		ChunkIndex:     len(e.chunks),
		SectionTitle:   section,
	})
}

func (c *Chunker) chunkSpecification(text string, e *emitter) {
	matches := sectionRe.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		c.chunkGeneric(text, e)
		return
	}

	// text ahead of the first header is kept untitled so it is not lost
	if preamble := text[:matches[0][0]]; strings.TrimSpace(preamble) != "" {
		c.chunkSection(preamble, "", e)
	}

	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		section := strings.TrimSpace(text[m[0]:end])
		c.chunkSection(section, headerLine(section), e)
	}
}

func (c *Chunker) chunkSection(section, title string, e *emitter) {
	if utf8.RuneCountInString(section) > c.ChunkSize*c.SplitFactor {
		for _, part := range c.splitBySize(section) {
			e.emit(part, title)
		}
		return
	}
	e.emit(section, title)
}

func (c *Chunker) chunkGeneric(text string, e *emitter) {
	var buf string
	for _, para := range paragraphRe.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		paraLen := utf8.RuneCountInString(para)
		if paraLen > c.ChunkSize*c.SplitFactor {
			// oversized paragraphs are windowed directly, pending text rides along
			pieces := c.splitBySize(strings.TrimSpace(buf + "\n\n" + para))
			for _, piece := range pieces[:len(pieces)-1] {
				e.emit(piece, "")
			}
			buf = pieces[len(pieces)-1]
			continue
		}
		bufLen := utf8.RuneCountInString(buf)
		if buf != "" && bufLen+paraLen > c.ChunkSize && bufLen >= c.MinChunkSize {
			e.emit(buf, "")
			buf = strings.TrimLeftFunc(tail(buf, c.ChunkOverlap), unicode.IsSpace) + "\n\n" + para
			continue
		}
		buf = strings.TrimSpace(buf + "\n\n" + para)
	}
	e.emit(buf, "")
}

// splitBySize cuts text into ChunkSize windows, preferring to break after a
// ". " found between the window midpoint and SentenceWindow chars past its end.
// Consecutive windows share ChunkOverlap chars.
func (c *Chunker) splitBySize(text string) []string {
	runes := []rune(text)
	n := len(runes)
	var parts []string
	start := 0
	for start < n {
		end := start + c.ChunkSize
		if end < n {
			if bp := lastSentenceBreak(runes, start+c.ChunkSize/2, min(end+c.SentenceWindow, n)); bp > start {
				end = bp + 1
			}
		} else {
			end = n
		}
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			parts = append(parts, part)
		}
		if end >= n {
			break
		}
		next := end - c.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return parts
}

// lastSentenceBreak returns the index of the last '.' followed by a space that
// lies entirely inside runes[from:to], or -1.
func lastSentenceBreak(runes []rune, from, to int) int {
	for i := to - 2; i >= from; i-- {
		if runes[i] == '.' && runes[i+1] == ' ' {
			return i
		}
	}
	return -1
}

func headerLine(section string) string {
	if i := strings.IndexByte(section, '\n'); i >= 0 {
		return strings.TrimSpace(section[:i])
	}
	return strings.TrimSpace(section)
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
