package models

import (
	"strings"
	"time"
)

// DocumentType enumerates the closed catalog of document kinds.
type DocumentType string

const (
	DocumentTypeCertificate DocumentType = "CERTIFICATE"
	DocumentTypeOrder       DocumentType = "ORDER"
	DocumentTypeContract    DocumentType = "CONTRACT"
	DocumentTypeStatement   DocumentType = "STATEMENT"
	DocumentTypeReport      DocumentType = "REPORT"
	DocumentTypeMemo        DocumentType = "MEMO"
)

// DocumentTypes lists every catalog entry.
var DocumentTypes = []DocumentType{
	DocumentTypeCertificate,
	DocumentTypeOrder,
	DocumentTypeContract,
	DocumentTypeStatement,
	DocumentTypeReport,
	DocumentTypeMemo,
}

// Valid reports whether t belongs to the catalog.
func (t DocumentType) Valid() bool {
	for _, known := range DocumentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseDocumentType normalises raw input into a catalog type.
func ParseDocumentType(raw string) (DocumentType, bool) {
	t := DocumentType(strings.ToUpper(strings.TrimSpace(raw)))
	return t, t.Valid()
}

// DocumentStatus captures the approval lifecycle of a document.
type DocumentStatus string

const (
	DocumentStatusDraft      DocumentStatus = "DRAFT"
	DocumentStatusInProgress DocumentStatus = "IN_PROGRESS"
	DocumentStatusApproved   DocumentStatus = "APPROVED"
	DocumentStatusRejected   DocumentStatus = "REJECTED"
	DocumentStatusCompleted  DocumentStatus = "COMPLETED"
)

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusDraft, DocumentStatusInProgress, DocumentStatusApproved, DocumentStatusRejected, DocumentStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether content edits are frozen in s.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocumentStatusApproved, DocumentStatusRejected, DocumentStatusCompleted:
		return true
	}
	return false
}

// ParseDocumentStatus normalises raw input into a status.
func ParseDocumentStatus(raw string) (DocumentStatus, bool) {
	s := DocumentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// ApprovalStatus captures a single approver's decision.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// Valid reports whether s is a known approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return true
	}
	return false
}

// Document is the root of the approval aggregate.
type Document struct {
	ID          string         `db:"id" json:"id"`
	Title       string         `db:"title" json:"title"`
	Number      *string        `db:"number" json:"number,omitempty"`
	Type        DocumentType   `db:"type" json:"type"`
	Status      DocumentStatus `db:"status" json:"status"`
	Content     string         `db:"content" json:"content"`
	CreatedBy   string         `db:"created_by" json:"createdBy"`
	Responsible *string        `db:"responsible" json:"responsibleId,omitempty"`
	StudentRef  *string        `db:"student_ref" json:"studentRef,omitempty"`
	Deadline    *time.Time     `db:"deadline" json:"deadline,omitempty"`
	FileRefs    []string       `db:"-" json:"fileIds"`
	Version     int64          `db:"version" json:"version"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// Approval records one approver's decision on a document.
type Approval struct {
	ID         string         `db:"id" json:"id"`
	DocumentID string         `db:"document_id" json:"documentId"`
	ApproverID string         `db:"approver_id" json:"approverId"`
	Sequence   int            `db:"sequence" json:"sequence"`
	Status     ApprovalStatus `db:"status" json:"status"`
	Comment    *string        `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
	ResolvedAt *time.Time     `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// DocumentAggregate is the consistency boundary: a document with all its approvals.
type DocumentAggregate struct {
	Document  Document   `json:"document"`
	Approvals []Approval `json:"approvals"`
}

// Clone returns a deep copy safe to mutate independently.
func (a *DocumentAggregate) Clone() *DocumentAggregate {
	if a == nil {
		return nil
	}
	out := &DocumentAggregate{Document: a.Document}
	if a.Document.FileRefs != nil {
		out.Document.FileRefs = append([]string(nil), a.Document.FileRefs...)
	}
	out.Approvals = make([]Approval, len(a.Approvals))
	copy(out.Approvals, a.Approvals)
	return out
}

// ApprovalFor returns the approval assigned to approverID, if present.
func (a *DocumentAggregate) ApprovalFor(approverID string) (*Approval, bool) {
	for i := range a.Approvals {
		if a.Approvals[i].ApproverID == approverID {
			return &a.Approvals[i], true
		}
	}
	return nil, false
}

// Comment is an append-only note attached to a document.
type Comment struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"documentId"`
	AuthorID   string    `db:"author_id" json:"authorId"`
	Content    string    `db:"content" json:"content"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// DocumentFilter constrains listing queries.
type DocumentFilter struct {
	Search     string
	Status     []DocumentStatus
	Type       DocumentType
	CreatedBy  string
	PendingFor string
	Page       int
	PageSize   int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
