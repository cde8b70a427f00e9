package export

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

var table = core.Table{
	Title:  "Promotion history",
	Header: []string{"Promoted At", "Admission No", "Student"},
	Rows: [][]string{
		{"2024-09-01 10:00", "ADM/001", "Ada Obi"},
		{"2024-09-01 10:00", "ADM/002", `Bola "B" Ade, Jr`},
	},
}

func TestCSVExporter(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, CSVExporter{}.Export(buf, table))

	want := "Promoted At,Admission No,Student\n" +
		"2024-09-01 10:00,ADM/001,Ada Obi\n" +
		"2024-09-01 10:00,ADM/002,\"Bola \"\"B\"\" Ade, Jr\"\n"
	assert.Equal(t, want, buf.String())
}

func TestPDFExporter(t *testing.T) {
	tests := []struct {
		name string
		rows int
	}{
		{"empty", 0},
		{"one page", 2},
		{"several pages", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := core.Table{Title: table.Title, Header: table.Header}
			for i := 0; i < tt.rows; i++ {
				tbl.Rows = append(tbl.Rows, []string{"2024-09-01 10:00", fmt.Sprintf("ADM/%03d", i), "Student Name"})
			}

			buf := new(bytes.Buffer)
			require.NoError(t, PDFExporter{Author: "School Admin"}.Export(buf, tbl))
			assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
		})
	}
}
