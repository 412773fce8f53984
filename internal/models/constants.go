package models

const (
	// SectionHeaderRegex matches CSI-style headers at line start: "PART 1 GENERAL",
	// "1.1 SECTION INCLUDES", "2.3.4.A PRODUCTS".
	SectionHeaderRegex = `(?m)^(?:PART\s+\d+[A-Z ]*|\d+\.\d+(?:\.\d+)?(?:\.[A-Z])?\.?[ \t]+[A-Z])`
	ParagraphRegex     = `\n\s*\n`
	KeywordRegex       = `\b[a-zA-Z]+\b`
	SpecNumberRegex    = `\b\d{2}\s?\d{2}\s?\d{2}(?:\.\d{2})?\b`
	ThinkTag           = `(?s)<think>.*?</think>`
	Ellipsis           = "..."
)

// Stopwords are dropped when keywords are derived from a query.
var Stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {},
	"would": {}, "could": {}, "should": {}, "may": {}, "might": {}, "must": {}, "can": {},
	"for": {}, "and": {}, "nor": {}, "but": {}, "or": {}, "yet": {}, "so": {}, "of": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "from": {}, "by": {}, "with": {}, "what": {}, "which": {},
	"who": {}, "whom": {}, "this": {}, "that": {}, "these": {}, "those": {}, "it": {},
}

var (
	ResponsePromptTemplate = `You are a construction administration assistant drafting a response to a %s.
Use only the specification excerpts below. Cite the source and section you rely on.
If the excerpts do not answer the question, say so.

Specification excerpts (average relevance %d%%):
%s

Document:
%s

Draft response:`
)
