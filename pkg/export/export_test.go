package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvalTrail() Dataset {
	return Dataset{
		Headers: []string{"approver", "status", "comment"},
		Rows: []map[string]string{
			{"approver": "A", "status": "REJECTED", "comment": "missing signature, see page 2"},
			{"approver": "B", "status": "PENDING"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(approvalTrail())
	require.NoError(t, err)
	text := string(out)
	assert.True(t, strings.HasPrefix(text, "\ufeffapprover,status,comment\n"))
	assert.Contains(t, text, `A,REJECTED,"missing signature, see page 2"`)
	assert.Contains(t, text, "B,PENDING,\n")

	_, err = (&CSVExporter{}).Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(Sheet{
		Title:      "Leave request",
		Fields:     []Field{{Label: "Number", Value: "EDO-2026-00ab12cd"}, {Label: "Status", Value: "REJECTED"}},
		Body:       "Ich beantrage Urlaub.",
		TableTitle: "Approvals",
		Table:      approvalTrail(),
		Footer:     "EDO",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	_, err = NewPDFExporter().Render(Sheet{})
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, ok := ParseFormat("")
	assert.True(t, ok)
	assert.Equal(t, FormatPDF, f)
	f, ok = ParseFormat(" CSV ")
	assert.True(t, ok)
	assert.Equal(t, "text/csv; charset=utf-8", f.ContentType())
	_, ok = ParseFormat("docx")
	assert.False(t, ok)
}
