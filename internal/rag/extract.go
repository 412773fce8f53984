package rag

import (
	"regexp"
	"slices"
	"strings"

	"spec-rag/internal/models"
)

const (
	maxQuestionChars = 500
	minQuestionChars = 50
	maxMainChars     = 2000
	maxKeywords      = 15
	queryKeywords    = 5
	maxSpecSections  = 5
	maxDrawings      = 10
)

// Trade vocabulary searched for in the question, in priority order.
var tradeTerms = []string{
	"rebar", "reinforcement", "reinforcing", "concrete", "footing", "foundation",
	"slab", "column", "beam", "truss", "shear wall", "pile", "grade beam",
	"anchor", "dowel", "stirrup", "spacing", "cover", "lap",
	"waterproofing", "membrane", "vapor barrier", "dampproofing",
	"sealant", "caulking", "flashing", "drainage", "below grade", "hydrostatic",
	"epoxy", "cementitious", "polymer", "adhesive", "grout", "mortar", "aggregate", "admixture",
	"electrical", "mechanical", "plumbing", "hvac", "ductwork", "conduit",
	"piping", "sanitary", "fire protection", "sprinkler",
	"finish", "ceiling", "flooring", "partition", "glazing", "door", "window",
	"hardware", "paint", "coating", "insulation", "acoustic",
	"approval", "substitution", "submittal", "shop drawing", "mock-up", "sample",
}

var (
	questionRe = regexp.MustCompile(`(?is)question(?:\s+from[^:\n]+)?[:\s]*(.+?)(?:attachments|awaiting|response|official|$)`)
	requestRe  = regexp.MustCompile(`(?i)((?:please\s+)?(?:review|confirm|clarify|advise|provide)[^.]*\.[^.]*(?:\.[^.]*)?)`)
	numberRe   = regexp.MustCompile(`(?i)\b(RFI|submittal)\s*#?\s*(\d+)`)
	sectionRe  = regexp.MustCompile(models.SpecNumberRegex)
	drawingRe  = regexp.MustCompile(`\b[A-Z]-?\d{3}(?:\.\d)?\b`)
	productRe  = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
	pageRe     = regexp.MustCompile(`(?i)--\s*\d+\s*of\s*\d+\s*--|page\s*\d+\s*of\s*\d+`)
	printedRe  = regexp.MustCompile(`(?im)printed on:.*$`)
)

var (
	mainStartWords = []string{"question", "request", "please", "confirm", "review", "clarify"}
	mainEndWords   = []string{"attachment", "awaiting", "printed on", "page 1 of", "-- 1 of"}
)

// Extracted is what a construction document asks and what it points at.
type Extracted struct {
	Number       string   `json:"number,omitempty"`
	Question     string   `json:"question"`
	Keywords     []string `json:"keywords"`
	SpecSections []string `json:"spec_sections"`
	Drawings     []string `json:"drawings"`
}

// Queries turns the extraction into retrieval queries: the leading question,
// the top keywords, and one query per referenced section.
func (e Extracted) Queries() []string {
	var queries []string
	if e.Question != "" {
		queries = append(queries, truncateRunes(e.Question, maxQuestionChars))
	}
	if len(e.Keywords) > 0 {
		queries = append(queries, strings.Join(e.Keywords[:min(len(e.Keywords), queryKeywords)], " "))
	}
	for _, s := range e.SpecSections {
		queries = append(queries, "specification section "+s)
	}
	return queries
}

// Extract pulls the question, keywords and references out of a document.
func Extract(content, filename string) Extracted {
	question := questionSection(content)
	if len([]rune(question)) < minQuestionChars {
		question = mainContent(content)
	}
	return Extracted{
		Number:       documentNumber(filename, content),
		Question:     question,
		Keywords:     keywords(question),
		SpecSections: specSections(content),
		Drawings:     drawings(content),
	}
}

func questionSection(content string) string {
	for _, re := range []*regexp.Regexp{questionRe, requestRe} {
		m := re.FindStringSubmatch(content)
		if len(m) < 2 {
			continue
		}
		if q := clean(m[1]); len([]rune(q)) > minQuestionChars {
			return q
		}
	}
	return ""
}

// mainContent skips letterhead lines and stops at the attachment block.
func mainContent(content string) string {
	lines := strings.Split(content, "\n")
	start := 0
	for i, line := range lines {
		if containsAny(strings.ToLower(line), mainStartWords) {
			start = i
			break
		}
		if i > 30 {
			start = 10
			break
		}
	}
	end := len(lines)
	for i := start; i < len(lines); i++ {
		if containsAny(strings.ToLower(lines[i]), mainEndWords) {
			end = i
			break
		}
	}
	return truncateRunes(clean(strings.Join(lines[start:end], "\n")), maxMainChars)
}

func clean(text string) string {
	text = pageRe.ReplaceAllString(text, "")
	text = printedRe.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func keywords(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]struct{})
	var out []string
	add := func(k string) {
		key := strings.ToLower(k)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	for _, term := range tradeTerms {
		if strings.Contains(lower, term) {
			add(term)
		}
	}
	for _, product := range productRe.FindAllString(text, -1) {
		if len(product) > 5 {
			add(product)
		}
	}
	return out[:min(len(out), maxKeywords)]
}

func specSections(content string) []string {
	var out []string
	for _, m := range sectionRe.FindAllString(content, -1) {
		s := strings.ReplaceAll(m, " ", "")
		if len(s) >= 6 && !slices.Contains(out, s) {
			out = append(out, s)
		}
		if len(out) == maxSpecSections {
			break
		}
	}
	return out
}

func drawings(content string) []string {
	var out []string
	for _, m := range drawingRe.FindAllString(content, -1) {
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
		if len(out) == maxDrawings {
			break
		}
	}
	return out
}

func documentNumber(filename, content string) string {
	for _, s := range []string{filename, truncateRunes(content, 1000)} {
		if m := numberRe.FindStringSubmatch(s); m != nil {
			label := "Submittal"
			if strings.EqualFold(m[1], "rfi") {
				label = "RFI"
			}
			return label + " #" + m[2]
		}
	}
	return ""
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
