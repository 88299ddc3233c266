package dto

import (
	"time"

	"github.com/noah-isme/sma-edo-api/internal/models"
)

// CreateDocumentRequest describes the payload for creating a DRAFT document. Content may
// be left empty when a template supplies it.
type CreateDocumentRequest struct {
	Title         string     `json:"title" validate:"omitempty,max=500"`
	Type          string     `json:"type" validate:"omitempty,doctype"`
	Content       string     `json:"content"`
	TemplateID    *string    `json:"templateId" validate:"omitempty,min=1"`
	ResponsibleID *string    `json:"responsibleId"`
	StudentRef    *string    `json:"studentRef"`
	Deadline      *time.Time `json:"deadline"`
	FileIDs       []string   `json:"fileIds" validate:"omitempty,max=50,unique,dive,required"`
}

// UpdateDocumentRequest patches DRAFT fields. A non-nil ApproverIDs sends the document
// for approval in the same transaction.
type UpdateDocumentRequest struct {
	Title         *string    `json:"title" validate:"omitempty,max=500"`
	Type          *string    `json:"type" validate:"omitempty,doctype"`
	Content       *string    `json:"content"`
	ResponsibleID *string    `json:"responsibleId"`
	StudentRef    *string    `json:"studentRef"`
	Deadline      *time.Time `json:"deadline"`
	ApproverIDs   *[]string  `json:"approverIds"`
}

// HasFieldChanges reports whether any DRAFT field is being patched.
func (r UpdateDocumentRequest) HasFieldChanges() bool {
	return r.Title != nil || r.Type != nil || r.Content != nil || r.ResponsibleID != nil || r.StudentRef != nil || r.Deadline != nil
}

// SendForApprovalRequest lists the approvers for a DRAFT document.
type SendForApprovalRequest struct {
	ApproverIDs []string `json:"approverIds"`
}

// DecisionRequest is the body of POST /documents/{id}/approve.
type DecisionRequest struct {
	Status  string  `json:"status" validate:"required,oneof=APPROVED REJECTED"`
	Comment *string `json:"comment" validate:"omitempty,max=4000"`
}

// CommentRequest is the body of POST /documents/{id}/comments.
type CommentRequest struct {
	Content string `json:"content" validate:"max=4000"`
}

// DocumentQuery captures listing query parameters.
type DocumentQuery struct {
	Search     string `form:"search"`
	Status     string `form:"status"`
	Type       string `form:"type"`
	CreatedBy  string `form:"createdBy"`
	PendingFor string `form:"pendingFor"`
	Page       int    `form:"page"`
	Limit      int    `form:"limit"`
}

// DocumentDetail is the full aggregate view returned by GET /documents/{id}.
type DocumentDetail struct {
	models.Document
	Approvals []models.Approval `json:"approvals"`
	Comments  []models.Comment  `json:"comments"`
}
