package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-edo-api/internal/models"
	"github.com/noah-isme/sma-edo-api/pkg/jobs"
)

const (
	auditResourceDocument = "document"
	auditEnqueueTimeout   = 2 * time.Second
)

var auditActions = map[string]string{
	TopicDocumentCreated:   models.AuditActionDocumentCreate,
	TopicDocumentUpdated:   models.AuditActionDocumentUpdate,
	TopicDocumentDeleted:   models.AuditActionDocumentDelete,
	TopicSentForApproval:   models.AuditActionDocumentSend,
	TopicApprovalApproved:  models.AuditActionApprovalApprove,
	TopicDocumentApproved:  models.AuditActionDocumentApprove,
	TopicDocumentRejected:  models.AuditActionDocumentReject,
	TopicDocumentCompleted: models.AuditActionDocumentComplete,
	TopicCommentAdded:      models.AuditActionCommentAdd,
}

// AuditStore persists audit entries.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Enqueuer accepts background jobs, waiting for buffer space until ctx is done.
type Enqueuer interface {
	EnqueueWait(ctx context.Context, job jobs.Job) error
}

// AuditRecorder turns events into audit_logs rows off the request path.
type AuditRecorder struct {
	store  AuditStore
	logger *zap.Logger
	wait   time.Duration
}

// NewAuditRecorder constructs the recorder.
func NewAuditRecorder(store AuditStore, logger *zap.Logger) *AuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRecorder{store: store, logger: logger, wait: auditEnqueueTimeout}
}

// Attach subscribes the recorder to every topic, forwarding events to queue. A full
// buffer is waited on for up to the enqueue timeout before the event is dropped.
func (r *AuditRecorder) Attach(hub *Hub, queue Enqueuer) func() {
	return hub.SubscribeAll(func(evt Event) {
		ctx, cancel := context.WithTimeout(context.Background(), r.wait)
		defer cancel()
		if err := queue.EnqueueWait(ctx, jobs.Job{ID: evt.ID, Type: evt.Topic, Payload: evt}); err != nil {
			r.logger.Warn("audit event not queued", zap.String("topic", evt.Topic), zap.String("document_id", evt.DocumentID), zap.Error(err))
		}
	})
}

// Handle is the jobs.Handler persisting one event.
func (r *AuditRecorder) Handle(ctx context.Context, job jobs.Job) error {
	evt, ok := job.Payload.(Event)
	if !ok {
		r.logger.Error("audit job without event payload", zap.String("job_id", job.ID))
		return nil
	}
	entry, err := ToAuditLog(evt)
	if err != nil {
		r.logger.Error("audit event not encodable", zap.String("topic", evt.Topic), zap.Error(err))
		return nil
	}
	if err := r.store.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("record audit %s: %w", evt.Topic, err)
	}
	return nil
}

// ToAuditLog maps an event onto an audit row. The event id doubles as the row id so a
// retried job cannot insert twice.
func ToAuditLog(evt Event) (*models.AuditLog, error) {
	action, ok := auditActions[evt.Topic]
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", evt.Topic)
	}
	entry := &models.AuditLog{
		ID:         evt.ID,
		Action:     action,
		Resource:   auditResourceDocument,
		ResourceID: stringPtr(evt.DocumentID),
		UserID:     stringPtr(evt.ActorID),
		CreatedAt:  evt.OccurredAt,
	}
	if evt.From != "" {
		old, err := json.Marshal(map[string]interface{}{"status": evt.From})
		if err != nil {
			return nil, err
		}
		entry.OldValues = old
	}
	payload := map[string]interface{}{}
	if evt.To != "" {
		payload["status"] = evt.To
	}
	if evt.Approval != nil {
		payload["approval"] = evt.Approval
	}
	if evt.Comment != nil {
		payload["comment"] = evt.Comment
	}
	if evt.Document != nil && evt.Document.Number != nil {
		payload["number"] = *evt.Document.Number
	}
	if evt.RequestID != "" {
		payload["requestId"] = evt.RequestID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	entry.NewValues = data
	return entry, nil
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
