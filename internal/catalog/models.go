package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// File types assigned by Classify.
const (
	TypeRFI           = "rfi"
	TypeSubmittal     = "submittal"
	TypeSpecification = "specification"
	TypeDocument      = "document"
	TypeSpreadsheet   = "spreadsheet"
	TypeText          = "text"
	TypeDrawing       = "drawing"
	TypeModel         = "model"
	TypeImage         = "image"
	TypeOther         = "other"
)

// Scan statuses.
const (
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
)

var extensionTypes = map[string]string{
	"pdf":  TypeDocument,
	"docx": TypeDocument,
	"doc":  TypeDocument,
	"xlsx": TypeSpreadsheet,
	"xls":  TypeSpreadsheet,
	"txt":  TypeText,
	"md":   TypeText,
	"dwg":  TypeDrawing,
	"dxf":  TypeDrawing,
	"rvt":  TypeModel,
	"rfa":  TypeModel,
	"png":  TypeImage,
	"jpg":  TypeImage,
	"jpeg": TypeImage,
	"gif":  TypeImage,
	"tif":  TypeImage,
	"tiff": TypeImage,
}

// File is one catalog entry. Path is unique.
type File struct {
	bun.BaseModel `bun:"table:files,alias:f"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	Path        string    `bun:"path,unique,notnull" json:"path"`
	Filename    string    `bun:"filename,notnull" json:"filename"`
	Extension   string    `bun:"extension" json:"extension"`
	FileType    string    `bun:"file_type" json:"file_type"`
	SizeBytes   int64     `bun:"size_bytes" json:"size_bytes"`
	ModifiedAt  time.Time `bun:"modified_at" json:"modified_at"`
	CreatedAt   time.Time `bun:"created_at" json:"created_at"`
	ProjectID   *int64    `bun:"project_id" json:"project_id,omitempty"`
	ProjectName *string   `bun:"project_name" json:"project_name,omitempty"`
	IndexedAt   time.Time `bun:"indexed_at" json:"indexed_at"`
}

// ScanRecord brackets one ScanDirectory run.
type ScanRecord struct {
	bun.BaseModel `bun:"table:scan_history,alias:s"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	RootPath     string    `bun:"root_path,notnull" json:"root_path"`
	StartedAt    time.Time `bun:"started_at" json:"started_at"`
	CompletedAt  time.Time `bun:"completed_at,nullzero" json:"completed_at"`
	FilesFound   int       `bun:"files_found" json:"files_found"`
	FilesIndexed int       `bun:"files_indexed" json:"files_indexed"`
	FilesSkipped int       `bun:"files_skipped" json:"files_skipped"`
	Errors       int       `bun:"errors" json:"errors"`
	Status       string    `bun:"status" json:"status"`
}

// Project optionally tags indexed files.
type Project struct {
	ID   int64
	Name string
}

// Classify derives a coarse type. Filename hints win over the extension.
func Classify(path string) string {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, "rfi"):
		return TypeRFI
	case strings.Contains(name, "submittal"):
		return TypeSubmittal
	case strings.Contains(name, "spec"):
		return TypeSpecification
	}
	if t, ok := extensionTypes[Extension(path)]; ok {
		return t
	}
	return TypeOther
}

// Extension is the lowercase extension without the dot.
func Extension(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// timestamp normalizes times so stored values compare correctly as text.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
