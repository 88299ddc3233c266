// Package events carries workflow domain events from the workflow service to side
// effects such as the audit trail and metrics. Events are published only after the
// owning transaction commits.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/pubsub/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-edo-api/internal/models"
	"github.com/noah-isme/sma-edo-api/pkg/middleware/requestid"
)

// Topics published by the workflow service.
const (
	TopicDocumentCreated   = "document.created"
	TopicDocumentUpdated   = "document.updated"
	TopicDocumentDeleted   = "document.deleted"
	TopicSentForApproval   = "document.sent_for_approval"
	TopicApprovalApproved  = "approval.approved"
	TopicDocumentApproved  = "document.approved"
	TopicDocumentRejected  = "document.rejected"
	TopicDocumentCompleted = "document.completed"
	TopicCommentAdded      = "comment.added"
)

// Topics lists every topic in publication order of a typical lifecycle.
var Topics = []string{
	TopicDocumentCreated,
	TopicDocumentUpdated,
	TopicDocumentDeleted,
	TopicSentForApproval,
	TopicApprovalApproved,
	TopicDocumentApproved,
	TopicDocumentRejected,
	TopicDocumentCompleted,
	TopicCommentAdded,
}

// Event is a committed workflow fact.
type Event struct {
	ID         string                `json:"id"`
	Topic      string                `json:"topic"`
	DocumentID string                `json:"documentId"`
	ActorID    string                `json:"actorId"`
	From       models.DocumentStatus `json:"from,omitempty"`
	To         models.DocumentStatus `json:"to,omitempty"`
	Document   *models.Document      `json:"document,omitempty"`
	Approval   *models.Approval      `json:"approval,omitempty"`
	Comment    *models.Comment       `json:"comment,omitempty"`
	RequestID  string                `json:"requestId,omitempty"`
	OccurredAt time.Time             `json:"occurredAt"`
}

// Publisher is the side the workflow service depends on.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Hub fans events out to subscribers through an in-process pubsub hub. Each
// subscriber receives events in publication order on its own goroutine.
type Hub struct {
	hub    *pubsub.SimpleHub
	logger *zap.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		hub:    pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{}),
		logger: logger,
	}
}

// Publish stamps and delivers evt. It never blocks on subscribers.
func (h *Hub) Publish(ctx context.Context, evt Event) {
	if h == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if evt.RequestID == "" {
		evt.RequestID = requestid.FromContext(ctx)
	}
	h.logger.Debug("event published", zap.String("topic", evt.Topic), zap.String("event_id", evt.ID), zap.String("document_id", evt.DocumentID))
	_ = h.hub.Publish(evt.Topic, evt)
}

// Subscribe registers fn for one topic and returns the unsubscribe func.
func (h *Hub) Subscribe(topic string, fn func(Event)) func() {
	return h.hub.Subscribe(topic, func(_ string, data interface{}) {
		evt, ok := data.(Event)
		if !ok {
			h.logger.Warn("unexpected event payload", zap.String("topic", topic))
			return
		}
		fn(evt)
	})
}

// SubscribeAll registers fn for every known topic.
func (h *Hub) SubscribeAll(fn func(Event)) func() {
	unsubs := make([]func(), 0, len(Topics))
	for _, topic := range Topics {
		unsubs = append(unsubs, h.Subscribe(topic, fn))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
