package spreadsheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decoder reads .csv and .xlsx (first sheet) files.
type Decoder struct{}

var _ core.SheetDecoder = Decoder{}

func NewDecoder() Decoder {
	return Decoder{}
}

func (d Decoder) Decode(filename string, r io.Reader) (core.Sheet, error) {
	var records [][]string
	var lines []int
	var err error

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".csv":
		records, lines, err = readCSV(r)
	case ".xlsx":
		records, err = readXLSX(r)
	default:
		return core.Sheet{}, fileError("unsupported file type %q: upload a .csv or .xlsx file", ext)
	}
	if err != nil {
		return core.Sheet{}, err
	}
	return toSheet(records, lines), nil
}

// readCSV also returns the file line of each record: blank lines are skipped by the csv reader.
func readCSV(r io.Reader) ([][]string, []int, error) {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(lead, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var records [][]string
	var lines []int
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fileError("could not read CSV: %v", err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
	return records, lines, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fileError("could not open spreadsheet: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fileError("could not read sheet %q: %v", sheets[0], err)
	}
	return rows, nil
}

// toSheet drops leading blank lines. lines may be nil when record i sits on line i+1.
func toSheet(records [][]string, lines []int) core.Sheet {
	var sheet core.Sheet
	for i, rec := range records {
		line := i + 1
		if lines != nil {
			line = lines[i]
		}
		if sheet.Header == nil {
			if blank(rec) {
				continue
			}
			sheet.Header = rec
			continue
		}
		sheet.Rows = append(sheet.Rows, core.SheetRow{Line: line, Cells: rec})
	}
	return sheet
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func fileError(format string, args ...interface{}) error {
	return core.NewValidationError(nil, core.FieldError{Field: "file", Error: fmt.Sprintf(format, args...)})
}
