package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrUnsupported marks a file no registered parser handles.
var ErrUnsupported = errors.New("unsupported file format")

// Result is the outcome of parsing one file. A failed parse has Success
// false and a message in Error; it is never reported as a Go error.
type Result struct {
	Success  bool           `json:"success"`
	Text     string         `json:"text_content"`
	Metadata map[string]any `json:"metadata"`
	Error    string         `json:"error,omitempty"`
	Err      error          `json:"-"`
}

func succeeded(text string, metadata map[string]any) Result {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Result{Success: true, Text: text, Metadata: metadata}
}

func failed(err error) Result {
	return Result{Metadata: map[string]any{}, Error: err.Error(), Err: err}
}

// Parser extracts text from one family of formats.
type Parser interface {
	Name() string
	// Extensions are lowercase and without the dot.
	Extensions() []string
	Parse(data []byte, filename string) (string, map[string]any, error)
}

// Registry dispatches files to parsers by extension.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns a registry with every built-in parser.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{
		pdfParser{},
		docxParser{},
		pptxParser{},
		xlsxParser{},
		excelizeParser{},
		odsParser{},
		textParser{},
		markdownParser{},
	} {
		r.Register(p)
	}
	return r
}

// Register maps p's extensions to it, replacing earlier registrations.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

func (r *Registry) lookup(filename string) (Parser, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[ext]
	return p, ok
}

func (r *Registry) CanParse(path string) bool {
	_, ok := r.lookup(path)
	return ok
}

func (r *Registry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse reads and parses the file at path.
func (r *Registry) Parse(path string) Result {
	if !r.CanParse(path) {
		return failed(fmt.Errorf("%w: %s", ErrUnsupported, path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return failed(fmt.Errorf("failed to read file: %w", err))
	}
	return r.ParseBytes(data, path)
}

// ParseBytes parses data as if it were the named file. Parser panics on
// malformed input are turned into a failed Result.
func (r *Registry) ParseBytes(data []byte, filename string) (res Result) {
	p, ok := r.lookup(filename)
	if !ok {
		return failed(fmt.Errorf("%w: %s", ErrUnsupported, filename))
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("file", filename).Str("parser", p.Name()).Msg("Parser panicked")
			res = failed(fmt.Errorf("%s parser failed: %v", p.Name(), rec))
		}
	}()

	text, metadata, err := p.Parse(data, filename)
	if err != nil {
		log.Debug().Err(err).Str("file", filename).Str("parser", p.Name()).Msg("Parse failed")
		return failed(fmt.Errorf("%s parser failed: %w", p.Name(), err))
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["parser"] = p.Name()
	return succeeded(text, metadata)
}
