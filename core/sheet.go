package core

import "io"

// Sheet is a decoded tabular upload: a header and its data rows.
type Sheet struct {
	Header []string
	Rows   []SheetRow
}

// SheetRow keeps the line number of the row in the uploaded file (the header is line 1).
type SheetRow struct {
	Line  int
	Cells []string
}

// SheetDecoder decodes an uploaded file. The format is chosen from the file name.
type SheetDecoder interface {
	Decode(filename string, r io.Reader) (Sheet, error)
}
