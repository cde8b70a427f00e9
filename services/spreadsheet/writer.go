package spreadsheet

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

const sheetName = "Sheet1"

// XLSXExporter renders a table on the first sheet of a workbook, header in bold.
type XLSXExporter struct{}

var _ core.TableExporter = XLSXExporter{}

func (XLSXExporter) ContentType() string { return ContentTypeXLSX }
func (XLSXExporter) Extension() string   { return ".xlsx" }

func (XLSXExporter) Export(w io.Writer, t core.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return errors.Wrap(err, "creating stream writer")
	}
	if err = sw.SetRow("A1", cells(t.Header, bold)); err != nil {
		return errors.Wrap(err, "writing header")
	}
	for i, row := range t.Rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err = sw.SetRow(cell, cells(row, 0)); err != nil {
			return errors.Wrapf(err, "writing row %d", i+2)
		}
	}
	if err = sw.Flush(); err != nil {
		return errors.Wrap(err, "flushing sheet")
	}
	if t.Title != "" {
		_ = f.SetDocProps(&excelize.DocProperties{Title: t.Title})
	}

	_, err = f.WriteTo(w)
	return errors.Wrap(err, "writing workbook")
}

func cells(values []string, style int) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		if style != 0 {
			out[i] = excelize.Cell{StyleID: style, Value: v}
			continue
		}
		out[i] = v
	}
	return out
}
