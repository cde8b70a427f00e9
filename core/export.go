package core

import "io"

// Table is a titled grid of strings, rendered by a TableExporter (CSV, PDF).
type Table struct {
	Title  string
	Header []string
	Rows   [][]string
}

type TableExporter interface {
	Export(w io.Writer, t Table) error
	ContentType() string
	Extension() string
}
