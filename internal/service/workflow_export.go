package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/noah-isme/sma-edo-api/internal/dto"
	"github.com/noah-isme/sma-edo-api/internal/models"
	appErrors "github.com/noah-isme/sma-edo-api/pkg/errors"
	"github.com/noah-isme/sma-edo-api/pkg/export"
)

var approvalTrailHeaders = []string{"sequence", "approver", "status", "comment", "resolved_at"}

// ExportFile is a rendered document ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Export renders the document sheet with its approval trail as PDF, or the approval
// trail alone as CSV.
func (s *WorkflowService) Export(ctx context.Context, actorID, id string, format export.Format) (*ExportFile, error) {
	detail, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	trail := approvalTrail(detail.Approvals)

	var data []byte
	switch format {
	case export.FormatCSV:
		data, err = export.NewCSVExporter().Render(trail)
	case export.FormatPDF:
		data, err = export.NewPDFExporter().Render(documentSheet(detail, trail))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render document")
	}
	name := detail.ID
	if detail.Number != nil {
		name = *detail.Number
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("%s.%s", name, format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

func documentSheet(detail *dto.DocumentDetail, trail export.Dataset) export.Sheet {
	fields := []export.Field{
		{Label: "Number", Value: deref(detail.Number, "not assigned")},
		{Label: "Type", Value: string(detail.Type)},
		{Label: "Status", Value: string(detail.Status)},
		{Label: "Created by", Value: detail.CreatedBy},
		{Label: "Created at", Value: detail.CreatedAt.Format(time.RFC3339)},
	}
	if detail.Responsible != nil {
		fields = append(fields, export.Field{Label: "Responsible", Value: *detail.Responsible})
	}
	if detail.Deadline != nil {
		fields = append(fields, export.Field{Label: "Deadline", Value: detail.Deadline.Format("2006-01-02")})
	}
	sheet := export.Sheet{
		Title:  detail.Title,
		Fields: fields,
		Body:   detail.Content,
		Footer: fmt.Sprintf("Version %d", detail.Version),
	}
	if len(trail.Rows) > 0 {
		sheet.TableTitle = "Approvals"
		sheet.Table = trail
	}
	return sheet
}

func approvalTrail(approvals []models.Approval) export.Dataset {
	rows := make([]map[string]string, 0, len(approvals))
	for _, a := range approvals {
		row := map[string]string{
			"sequence": strconv.Itoa(a.Sequence),
			"approver": a.ApproverID,
			"status":   string(a.Status),
			"comment":  deref(a.Comment, ""),
		}
		if a.ResolvedAt != nil {
			row["resolved_at"] = a.ResolvedAt.Format(time.RFC3339)
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: approvalTrailHeaders, Rows: rows}
}

func deref(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
