package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type pdfParser struct{}

func (pdfParser) Name() string         { return "pdf" }
func (pdfParser) Extensions() []string { return []string{"pdf"} }

func (pdfParser) Parse(data []byte, _ string) (string, map[string]any, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, err
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", nil, fmt.Errorf("page %d: %w", i, err)
		}
		if s := strings.TrimSpace(pageText); s != "" {
			pages = append(pages, s)
		}
	}
	return strings.Join(pages, "\n\n"), map[string]any{"page_count": numPages}, nil
}

type docxParser struct{}

func (docxParser) Name() string         { return "docx" }
func (docxParser) Extensions() []string { return []string{"docx"} }

func (docxParser) Parse(data []byte, _ string) (string, map[string]any, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, err
	}
	defer r.Close()

	// GetContent is the raw document.xml body
	text, err := extractXMLText(strings.NewReader(r.Editable().GetContent()), wordML)
	if err != nil {
		return "", nil, err
	}
	return text, map[string]any{"paragraph_count": strings.Count(text, "\n") + 1}, nil
}

type pptxParser struct{}

func (pptxParser) Name() string         { return "pptx" }
func (pptxParser) Extensions() []string { return []string{"pptx"} }

func (pptxParser) Parse(data []byte, _ string) (string, map[string]any, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, err
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{num: n, file: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var parts []string
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", nil, err
		}
		text, err := extractXMLText(rc, drawingML)
		rc.Close()
		if err != nil {
			return "", nil, fmt.Errorf("slide %d: %w", s.num, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, fmt.Sprintf("## Slide %d\n%s", s.num, text))
		}
	}
	return strings.Join(parts, "\n\n"), map[string]any{"slide_count": len(slides)}, nil
}

type xlsxParser struct{}

func (xlsxParser) Name() string         { return "xlsx" }
func (xlsxParser) Extensions() []string { return []string{"xlsx"} }

func (xlsxParser) Parse(data []byte, _ string) (string, map[string]any, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", nil, err
	}

	var sheets []string
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, renderSheet(sheet.Name, rows))
	}
	return strings.Join(sheets, "\n\n"), map[string]any{"sheet_count": len(f.Sheets)}, nil
}

// excelizeParser covers the macro and template workbook variants.
type excelizeParser struct{}

func (excelizeParser) Name() string         { return "excelize" }
func (excelizeParser) Extensions() []string { return []string{"xlsm", "xltx", "xltm"} }

func (excelizeParser) Parse(data []byte, _ string) (string, map[string]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	names := f.GetSheetList()
	var sheets []string
	for _, name := range names {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", nil, fmt.Errorf("sheet %s: %w", name, err)
		}
		sheets = append(sheets, renderSheet(name, rows))
	}
	return strings.Join(sheets, "\n\n"), map[string]any{"sheet_count": len(names)}, nil
}

type odsParser struct{}

func (odsParser) Name() string         { return "ods" }
func (odsParser) Extensions() []string { return []string{"ods", "odt"} }

func (odsParser) Parse(data []byte, _ string) (string, map[string]any, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, err
	}
	for _, f := range zr.File {
		if f.Name != "content.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", nil, err
		}
		defer rc.Close()
		text, err := extractXMLText(rc, openDocument)
		if err != nil {
			return "", nil, err
		}
		return text, nil, nil
	}
	return "", nil, errors.New("content.xml not found")
}

func renderSheet(name string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("## Sheet: " + name + "\n")
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// xmlText describes where text lives in an office XML dialect. Elements in
// text hold character data; starts and ends emit separators.
type xmlText struct {
	text   map[string]bool
	starts map[string]string
	ends   map[string]string
}

var (
	wordML = xmlText{
		text:   map[string]bool{"t": true},
		starts: map[string]string{"tab": "\t", "br": "\n"},
		ends:   map[string]string{"p": "\n"},
	}
	drawingML = xmlText{
		text:   map[string]bool{"t": true},
		starts: map[string]string{"br": "\n"},
		ends:   map[string]string{"p": "\n"},
	}
	openDocument = xmlText{
		text:   map[string]bool{"p": true, "h": true},
		starts: map[string]string{"tab": "\t", "line-break": "\n", "s": " "},
		ends:   map[string]string{"p": "\n", "h": "\n", "table-cell": "\t", "table-row": "\n"},
	}
)

func extractXMLText(r io.Reader, spec xmlText) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if spec.text[t.Name.Local] {
				depth++
			}
			b.WriteString(spec.starts[t.Name.Local])
		case xml.EndElement:
			if spec.text[t.Name.Local] && depth > 0 {
				depth--
			}
			b.WriteString(spec.ends[t.Name.Local])
		case xml.CharData:
			if depth > 0 {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
