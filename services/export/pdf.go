package export

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

const (
	fontFamily = "Helvetica"
	lineHeight = 6.0
	margin     = 10.0
)

// PDFExporter renders a table on landscape A4 pages, repeating the header on each page.
type PDFExporter struct {
	Author string
}

var _ core.TableExporter = PDFExporter{}

func (PDFExporter) ContentType() string { return "application/pdf" }
func (PDFExporter) Extension() string   { return ".pdf" }

func (e PDFExporter) Export(w io.Writer, t core.Table) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.SetTitle(t.Title, true)
	if e.Author != "" {
		pdf.SetAuthor(e.Author, true)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("") // cp1252

	pageW, pageH := pdf.GetPageSize()
	widths := columnWidths(pdf, t, pageW-2*margin)

	header := func() {
		pdf.SetFont(fontFamily, "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, h := range t.Header {
			pdf.CellFormat(widths[i], lineHeight, tr(h), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont(fontFamily, "", 8)
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-margin)
		pdf.SetFont(fontFamily, "I", 7)
		pdf.CellFormat(0, 4, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	if t.Title != "" {
		pdf.SetFont(fontFamily, "B", 13)
		pdf.CellFormat(0, 10, tr(t.Title), "", 1, "L", false, 0, "")
	}
	header()
	for _, row := range t.Rows {
		if pdf.GetY()+lineHeight > pageH-2*margin {
			pdf.AddPage()
			header()
		}
		for i := range t.Header {
			var v string
			if i < len(row) {
				v = row[i]
			}
			pdf.CellFormat(widths[i], lineHeight, truncate(pdf, tr(v), widths[i]), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "rendering pdf")
	}
	return nil
}

// columnWidths shares the page width in proportion to the widest cell of each column.
func columnWidths(pdf *gofpdf.Fpdf, t core.Table, total float64) []float64 {
	pdf.SetFont(fontFamily, "", 8)
	widths := make([]float64, len(t.Header))
	var sum float64
	for i, h := range t.Header {
		w := pdf.GetStringWidth(h) + 4
		for _, row := range t.Rows {
			if i < len(row) {
				if cw := pdf.GetStringWidth(row[i]) + 4; cw > w {
					w = cw
				}
			}
		}
		widths[i] = w
		sum += w
	}
	if sum == 0 {
		return widths
	}
	for i := range widths {
		widths[i] = widths[i] * total / sum
	}
	return widths
}

func truncate(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s)+2 <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...")+2 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
