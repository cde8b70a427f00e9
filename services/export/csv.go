package export

import (
	"encoding/csv"
	"io"

	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

// CSVExporter writes the header then the rows. The title is not rendered.
type CSVExporter struct{}

var _ core.TableExporter = CSVExporter{}

func (CSVExporter) ContentType() string { return "text/csv" }
func (CSVExporter) Extension() string   { return ".csv" }

func (CSVExporter) Export(w io.Writer, t core.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return errors.Wrap(err, "writing header")
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return errors.Wrap(err, "writing rows")
	}
	return nil
}
