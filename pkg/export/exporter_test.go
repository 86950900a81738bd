package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTable() Table {
	return Table{
		Columns: []Column{{Key: "number", Title: "Request #"}, {Key: "status", Title: "Status", Width: 2}},
		Rows: []map[string]string{
			{"number": "INQ-20261016-0a1b2c", "status": "RECEIVED"},
			{"number": "CMP-20261016-ffee00", "status": "CLOSED", "ignored": "x"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleTable())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("\ufeff")))

	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(string(out), "\ufeff")), "\n")
	require.Equal(t, []string{"Request #,Status", "INQ-20261016-0a1b2c,RECEIVED", "CMP-20261016-ffee00,CLOSED"}, lines)

	_, err = (&CSVExporter{}).Render(Table{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleTable(), "Requests")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Table{}, "")
	require.Error(t, err)
}

func TestColumnWidthsAreProportional(t *testing.T) {
	widths := columnWidths(sampleTable().Columns)
	require.InDelta(t, pdfUsableWidth/3, widths[0], 0.001)
	require.InDelta(t, 2*pdfUsableWidth/3, widths[1], 0.001)
	require.Equal(t, "abcdefghi...", truncate("abcdefghijklmnop", 20))
}
