// Package workflow holds the approval state machine. It performs no IO: callers load
// a document aggregate, apply one of the transitions below and persist the result
// inside the same transaction.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/sma-edo-api/internal/models"
	appErrors "github.com/noah-isme/sma-edo-api/pkg/errors"
)

// Action names an operation that may be attempted on a document.
type Action string

const (
	ActionEdit     Action = "EDIT"
	ActionDelete   Action = "DELETE"
	ActionSend     Action = "SEND_FOR_APPROVAL"
	ActionApprove  Action = "APPROVE"
	ActionReject   Action = "REJECT"
	ActionComplete Action = "COMPLETE"
	ActionComment  Action = "COMMENT"

	// ActionCreate and ActionView never change status; they exist for permission checks.
	ActionCreate Action = "CREATE"
	ActionView   Action = "VIEW"
)

// transitions lists, per source status, the actions it accepts. Comments are accepted
// everywhere and never move the status, so they are checked separately.
var transitions = map[models.DocumentStatus]map[Action]struct{}{
	models.DocumentStatusDraft: {
		ActionEdit:   {},
		ActionDelete: {},
		ActionSend:   {},
	},
	models.DocumentStatusInProgress: {
		ActionApprove: {},
		ActionReject:  {},
	},
	models.DocumentStatusApproved: {
		ActionComplete: {},
	},
	models.DocumentStatusRejected:  {},
	models.DocumentStatusCompleted: {},
}

// Allowed returns an InvalidState error unless action may run from status.
func Allowed(status models.DocumentStatus, action Action) error {
	switch action {
	case ActionComment, ActionView:
		return nil
	}
	accepted, known := transitions[status]
	if !known {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("unknown document status %q", status))
	}
	if _, ok := accepted[action]; !ok {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot %s a document in status %s", strings.ToLower(string(action)), status))
	}
	return nil
}

// Outcome describes the effect of a transition on the aggregate.
type Outcome struct {
	From     models.DocumentStatus
	To       models.DocumentStatus
	Approval *models.Approval
}

// Transitioned reports whether the document status changed.
func (o Outcome) Transitioned() bool {
	return o.From != o.To
}

// Consensus computes the document status implied by an approval set: any rejection
// wins, unanimous approval approves, anything else stays in progress.
func Consensus(approvals []models.Approval) models.DocumentStatus {
	if len(approvals) == 0 {
		return models.DocumentStatusInProgress
	}
	approved := 0
	for _, a := range approvals {
		switch a.Status {
		case models.ApprovalStatusRejected:
			return models.DocumentStatusRejected
		case models.ApprovalStatusApproved:
			approved++
		}
	}
	if approved == len(approvals) {
		return models.DocumentStatusApproved
	}
	return models.DocumentStatusInProgress
}

// NormalizeApprovers trims ids and enforces the send-time approver policy: at least one,
// no blanks, no duplicates and never the document creator.
func NormalizeApprovers(approverIDs []string, creatorID string) ([]string, error) {
	if len(approverIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one approver is required")
	}
	seen := make(map[string]struct{}, len(approverIDs))
	out := make([]string, 0, len(approverIDs))
	for _, raw := range approverIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "approver ids must not be blank")
		}
		if id == creatorID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "the document creator cannot approve their own document")
		}
		if _, dup := seen[id]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("approver %s listed more than once", id))
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Send moves a DRAFT document to IN_PROGRESS and creates one PENDING approval per
// approver in a single batch.
func Send(agg *models.DocumentAggregate, approverIDs []string, now time.Time, newID func() string) (Outcome, error) {
	from := agg.Document.Status
	if err := Allowed(from, ActionSend); err != nil {
		return Outcome{}, err
	}
	if len(agg.Approvals) != 0 {
		return Outcome{}, appErrors.Clone(appErrors.ErrInvalidState, "draft document already has approvals")
	}
	ids, err := NormalizeApprovers(approverIDs, agg.Document.CreatedBy)
	if err != nil {
		return Outcome{}, err
	}
	approvals := make([]models.Approval, 0, len(ids))
	for i, id := range ids {
		approvals = append(approvals, models.Approval{
			ID:         newID(),
			DocumentID: agg.Document.ID,
			ApproverID: id,
			Sequence:   i + 1,
			Status:     models.ApprovalStatusPending,
			CreatedAt:  now,
		})
	}
	agg.Approvals = approvals
	agg.Document.Status = models.DocumentStatusInProgress
	agg.Document.UpdatedAt = now
	return Outcome{From: from, To: agg.Document.Status}, nil
}

// Approve resolves the approver's pending approval and promotes the document to
// APPROVED once every approval is approved.
func Approve(agg *models.DocumentAggregate, approverID string, comment *string, now time.Time) (Outcome, error) {
	approval, from, err := pendingApproval(agg, approverID, ActionApprove)
	if err != nil {
		return Outcome{}, err
	}
	approval.Status = models.ApprovalStatusApproved
	approval.Comment = normalizeComment(comment)
	approval.ResolvedAt = &now

	agg.Document.Status = Consensus(agg.Approvals)
	agg.Document.UpdatedAt = now
	resolved := *approval
	return Outcome{From: from, To: agg.Document.Status, Approval: &resolved}, nil
}

// Reject resolves the approver's pending approval as rejected and terminates the
// document regardless of the remaining approvals, which are left untouched.
func Reject(agg *models.DocumentAggregate, approverID, comment string, now time.Time) (Outcome, error) {
	reason := strings.TrimSpace(comment)
	if reason == "" {
		return Outcome{}, appErrors.Clone(appErrors.ErrValidation, "a comment is required when rejecting")
	}
	approval, from, err := pendingApproval(agg, approverID, ActionReject)
	if err != nil {
		return Outcome{}, err
	}
	approval.Status = models.ApprovalStatusRejected
	approval.Comment = &reason
	approval.ResolvedAt = &now

	agg.Document.Status = models.DocumentStatusRejected
	agg.Document.UpdatedAt = now
	resolved := *approval
	return Outcome{From: from, To: agg.Document.Status, Approval: &resolved}, nil
}

// Complete records the out-of-band finalization of an APPROVED document.
func Complete(agg *models.DocumentAggregate, now time.Time) (Outcome, error) {
	from := agg.Document.Status
	if err := Allowed(from, ActionComplete); err != nil {
		return Outcome{}, err
	}
	agg.Document.Status = models.DocumentStatusCompleted
	agg.Document.UpdatedAt = now
	return Outcome{From: from, To: agg.Document.Status}, nil
}

// Validate checks the structural invariants of an aggregate.
func Validate(agg *models.DocumentAggregate) error {
	doc := agg.Document
	if doc.Status == models.DocumentStatusDraft {
		if len(agg.Approvals) != 0 {
			return fmt.Errorf("draft document %s has %d approvals", doc.ID, len(agg.Approvals))
		}
		return nil
	}
	if len(agg.Approvals) == 0 {
		return fmt.Errorf("document %s in %s has no approvals", doc.ID, doc.Status)
	}
	seen := make(map[string]struct{}, len(agg.Approvals))
	for _, a := range agg.Approvals {
		if a.DocumentID != doc.ID {
			return fmt.Errorf("approval %s belongs to document %s", a.ID, a.DocumentID)
		}
		if _, dup := seen[a.ApproverID]; dup {
			return fmt.Errorf("document %s has duplicate approver %s", doc.ID, a.ApproverID)
		}
		seen[a.ApproverID] = struct{}{}
		if (a.Status == models.ApprovalStatusPending) != (a.ResolvedAt == nil) {
			return fmt.Errorf("approval %s resolvedAt inconsistent with status %s", a.ID, a.Status)
		}
	}
	if doc.Status == models.DocumentStatusApproved && Consensus(agg.Approvals) != models.DocumentStatusApproved {
		return fmt.Errorf("document %s approved without full consensus", doc.ID)
	}
	return nil
}

func pendingApproval(agg *models.DocumentAggregate, approverID string, action Action) (*models.Approval, models.DocumentStatus, error) {
	from := agg.Document.Status
	if err := Allowed(from, action); err != nil {
		return nil, from, err
	}
	approval, ok := agg.ApprovalFor(approverID)
	if !ok || approval.Status != models.ApprovalStatusPending {
		return nil, from, appErrors.Clone(appErrors.ErrNotAnApprover, fmt.Sprintf("no pending approval for %s", approverID))
	}
	return approval, from, nil
}

func normalizeComment(comment *string) *string {
	if comment == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*comment)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
