package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const pageWidth = 190.0

// Field is a labelled value printed in the sheet header block.
type Field struct {
	Label string
	Value string
}

// Sheet is a printable document: a header block, a free text body and an optional table.
type Sheet struct {
	Title      string
	Fields     []Field
	Body       string
	TableTitle string
	Table      Dataset
	Footer     string
}

// PDFExporter renders sheets into A4 PDFs.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render writes the sheet as a single PDF document.
func (e *PDFExporter) Render(sheet Sheet) ([]byte, error) {
	if strings.TrimSpace(sheet.Title) == "" {
		return nil, fmt.Errorf("pdf requires a title")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	if sheet.Footer != "" {
		pdf.SetFooterFunc(func() {
			pdf.SetY(-12)
			pdf.SetFont("Arial", "I", 8)
			pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s - page %d", sheet.Footer, pdf.PageNo())), "", 0, "C", false, 0, "")
		})
	}
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.MultiCell(0, 8, tr(sheet.Title), "", "C", false)
	pdf.Ln(4)

	if len(sheet.Fields) > 0 {
		for _, f := range sheet.Fields {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(45, 6, tr(f.Label), "", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.CellFormat(0, 6, tr(f.Value), "", 1, "", false, 0, "")
		}
		pdf.Ln(4)
	}

	if sheet.Body != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, tr(sheet.Body), "", "L", false)
		pdf.Ln(4)
	}

	if len(sheet.Table.Headers) > 0 {
		if sheet.TableTitle != "" {
			pdf.SetFont("Arial", "B", 11)
			pdf.CellFormat(0, 8, tr(sheet.TableTitle), "", 1, "", false, 0, "")
		}
		writeTable(pdf, tr, sheet.Table)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTable(pdf *gofpdf.Fpdf, tr func(string) string, data Dataset) {
	colWidth := pageWidth / float64(len(data.Headers))
	pdf.SetFont("Arial", "B", 9)
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 7, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 6, tr(truncate(row[header], 40)), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
