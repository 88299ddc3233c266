package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-edo-api/internal/dto"
	"github.com/noah-isme/sma-edo-api/internal/events"
	"github.com/noah-isme/sma-edo-api/internal/models"
	"github.com/noah-isme/sma-edo-api/internal/workflow"
	"github.com/noah-isme/sma-edo-api/pkg/config"
	appErrors "github.com/noah-isme/sma-edo-api/pkg/errors"
	applog "github.com/noah-isme/sma-edo-api/pkg/logger"
)

const (
	defaultDocumentPageSize = 20
	maxDocumentPageSize     = 100
	historyLimit            = 200
	pendingForMe            = "me"
	auditResourceDocument   = "document"
)

type documentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	FindByID(ctx context.Context, id string) (*models.DocumentAggregate, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error)
	ListApprovals(ctx context.Context, documentID string) ([]models.Approval, error)
	Update(ctx context.Context, id string, mutate func(*models.DocumentAggregate) error) (*models.DocumentAggregate, error)
	Delete(ctx context.Context, id string, guard func(*models.DocumentAggregate) error) error
}

type commentStore interface {
	Create(ctx context.Context, comment *models.Comment) error
	ListByDocument(ctx context.Context, documentID string) ([]models.Comment, error)
}

type templateSource interface {
	Get(ctx context.Context, id string) (*models.Template, error)
	ResolveDefault(ctx context.Context, docType models.DocumentType) (*models.Template, error)
}

type auditReader interface {
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// WorkflowOption customises a WorkflowService.
type WorkflowOption func(*WorkflowService)

// WithPublisher routes committed domain events to p.
func WithPublisher(p events.Publisher) WorkflowOption {
	return func(s *WorkflowService) { s.publisher = p }
}

// WithNumberAssigner overrides document numbering.
func WithNumberAssigner(a NumberAssigner) WorkflowOption {
	return func(s *WorkflowService) { s.numbers = a }
}

// WithPermissionChecker installs the external authorization decision.
func WithPermissionChecker(p PermissionChecker) WorkflowOption {
	return func(s *WorkflowService) { s.permissions = p }
}

// WithMetrics enables workflow instrumentation.
func WithMetrics(m *MetricsService) WorkflowOption {
	return func(s *WorkflowService) { s.metrics = m }
}

// WithClock replaces the wall clock, which also drives retry delays.
func WithClock(c clock.Clock) WorkflowOption {
	return func(s *WorkflowService) { s.clock = c }
}

// WithIDGenerator replaces uuid generation for documents and approvals.
func WithIDGenerator(fn func() string) WorkflowOption {
	return func(s *WorkflowService) { s.newID = fn }
}

// WithAuditReader exposes the audit trail through History.
func WithAuditReader(r auditReader) WorkflowOption {
	return func(s *WorkflowService) { s.audit = r }
}

// WorkflowService orchestrates the document lifecycle. Every mutation runs as one
// load-mutate-save cycle against the document store and is retried on
// ConcurrencyConflict up to the configured number of attempts.
type WorkflowService struct {
	store       documentStore
	comments    commentStore
	templates   templateSource
	audit       auditReader
	publisher   events.Publisher
	numbers     NumberAssigner
	permissions PermissionChecker
	metrics     *MetricsService
	clock       clock.Clock
	newID       func() string
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         config.WorkflowConfig
}

// NewWorkflowService wires the workflow service. templates may be nil, in which case
// every document must carry its own content.
func NewWorkflowService(store documentStore, comments commentStore, templates templateSource, cfg config.WorkflowConfig, validate *validator.Validate, logger *zap.Logger, opts ...WorkflowOption) *WorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	mustRegisterDocumentValidations(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 25 * time.Millisecond
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = 8 * cfg.RetryDelay
	}
	s := &WorkflowService{
		store:       store,
		comments:    comments,
		templates:   templates,
		permissions: AllowAll,
		clock:       clock.WallClock,
		newID:       uuid.NewString,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.numbers == nil {
		s.numbers = NewPrefixNumberAssigner(cfg.NumberPrefix, s.clock)
	}
	return s
}

// Create stores a new DRAFT document authored by actorID.
func (s *WorkflowService) Create(ctx context.Context, actorID string, req dto.CreateDocumentRequest) (doc *models.Document, err error) {
	defer s.observe("create", time.Now(), &err)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if err := s.authorize(ctx, actorID, workflow.ActionCreate, ""); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	content := req.Content
	docType, _ := models.ParseDocumentType(req.Type)
	if req.TemplateID != nil {
		tpl, err := s.template(ctx, *req.TemplateID)
		if err != nil {
			return nil, err
		}
		if req.Type == "" {
			docType = tpl.Type
		} else if docType != tpl.Type {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("template %s is for %s documents", tpl.ID, tpl.Type))
		}
		if strings.TrimSpace(content) == "" {
			content = tpl.Content
		}
		if title == "" {
			title = strings.TrimSpace(tpl.Name)
		}
	} else if strings.TrimSpace(content) == "" && docType != "" && s.templates != nil {
		tpl, err := s.templates.ResolveDefault(ctx, docType)
		if err != nil {
			return nil, err
		}
		content = tpl.Content
	}

	switch {
	case title == "":
		return nil, appErrors.Clone(appErrors.ErrValidation, "title is required")
	case docType == "":
		return nil, appErrors.Clone(appErrors.ErrValidation, "type is required")
	case strings.TrimSpace(content) == "":
		return nil, appErrors.Clone(appErrors.ErrValidation, "content is required")
	}

	now := s.now()
	doc = &models.Document{
		ID:          s.newID(),
		Title:       title,
		Type:        docType,
		Status:      models.DocumentStatusDraft,
		Content:     content,
		CreatedBy:   actorID,
		Responsible: trimmedOrNil(req.ResponsibleID),
		StudentRef:  trimmedOrNil(req.StudentRef),
		Deadline:    req.Deadline,
		FileRefs:    append([]string{}, req.FileIDs...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, doc); err != nil {
		return nil, appErrors.Internal(err, "failed to create document")
	}
	s.log(ctx).Info("document created", zap.String("document_id", doc.ID), zap.String("actor_id", actorID), zap.String("type", string(doc.Type)))
	s.publish(ctx, events.Event{Topic: events.TopicDocumentCreated, DocumentID: doc.ID, ActorID: actorID, To: doc.Status, Document: doc})
	return doc, nil
}

// Get returns the full aggregate with its comments.
func (s *WorkflowService) Get(ctx context.Context, actorID, id string) (*dto.DocumentDetail, error) {
	agg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actorID, workflow.ActionView, id); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByDocument(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load comments")
	}
	return &dto.DocumentDetail{Document: agg.Document, Approvals: agg.Approvals, Comments: comments}, nil
}

// List returns a filtered page of documents.
func (s *WorkflowService) List(ctx context.Context, actorID string, query dto.DocumentQuery) ([]models.Document, *models.Pagination, error) {
	filter := models.DocumentFilter{
		Search:    strings.TrimSpace(query.Search),
		CreatedBy: strings.TrimSpace(query.CreatedBy),
		Page:      query.Page,
		PageSize:  query.Limit,
	}
	if query.Status != "" {
		for _, raw := range strings.Split(query.Status, ",") {
			status, ok := models.ParseDocumentStatus(raw)
			if !ok {
				return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", strings.TrimSpace(raw)))
			}
			filter.Status = append(filter.Status, status)
		}
	}
	if query.Type != "" {
		docType, ok := models.ParseDocumentType(query.Type)
		if !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown document type %q", query.Type))
		}
		filter.Type = docType
	}
	if pending := strings.TrimSpace(query.PendingFor); pending != "" {
		if strings.EqualFold(pending, pendingForMe) {
			pending = actorID
		}
		filter.PendingFor = pending
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultDocumentPageSize
	}
	if filter.PageSize > maxDocumentPageSize {
		filter.PageSize = maxDocumentPageSize
	}

	docs, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list documents")
	}
	return docs, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ListApprovals returns the approvals of a document in sequence order.
func (s *WorkflowService) ListApprovals(ctx context.Context, actorID, id string) ([]models.Approval, error) {
	if !validID(id) {
		return nil, documentNotFound()
	}
	if err := s.authorize(ctx, actorID, workflow.ActionView, id); err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, documentNotFound()
		}
		return nil, appErrors.Internal(err, "failed to list approvals")
	}
	return approvals, nil
}

// UpdateDraft patches DRAFT fields and, when approver ids are supplied, sends the
// document for approval in the same transaction. A non-nil expectedVersion pins the
// update to that aggregate version and disables conflict retries.
func (s *WorkflowService) UpdateDraft(ctx context.Context, actorID, id string, req dto.UpdateDocumentRequest, expectedVersion *int64) (agg *models.DocumentAggregate, err error) {
	defer s.observe("update", time.Now(), &err)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	patching := req.HasFieldChanges()
	sending := req.ApproverIDs != nil
	if !patching && !sending {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}
	if sending && len(*req.ApproverIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one approver is required")
	}
	if !validID(id) {
		return nil, documentNotFound()
	}
	if patching {
		if err := s.authorize(ctx, actorID, workflow.ActionEdit, id); err != nil {
			return nil, err
		}
	}
	if sending {
		if err := s.authorize(ctx, actorID, workflow.ActionSend, id); err != nil {
			return nil, err
		}
	}

	agg, outcome, err := s.mutate(ctx, "update", actorID, id, expectedVersion, func(current *models.DocumentAggregate) (workflow.Outcome, error) {
		outcome := workflow.Outcome{From: current.Document.Status, To: current.Document.Status}
		if patching {
			if err := workflow.Allowed(current.Document.Status, workflow.ActionEdit); err != nil {
				return workflow.Outcome{}, err
			}
			if err := applyDraftPatch(&current.Document, req); err != nil {
				return workflow.Outcome{}, err
			}
			current.Document.UpdatedAt = s.now()
		}
		if sending {
			return s.send(ctx, current, *req.ApproverIDs)
		}
		return outcome, nil
	})
	if err != nil {
		return nil, err
	}
	if patching {
		s.publish(ctx, events.Event{Topic: events.TopicDocumentUpdated, DocumentID: id, ActorID: actorID, Document: &agg.Document})
	}
	if sending {
		s.publishTransition(ctx, actorID, agg, outcome)
	}
	return agg, nil
}

// SendForApproval moves a DRAFT document to IN_PROGRESS with one pending approval per
// approver.
func (s *WorkflowService) SendForApproval(ctx context.Context, actorID, id string, approverIDs []string) (agg *models.DocumentAggregate, err error) {
	defer s.observe("send", time.Now(), &err)
	if len(approverIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one approver is required")
	}
	if !validID(id) {
		return nil, documentNotFound()
	}
	if err := s.authorize(ctx, actorID, workflow.ActionSend, id); err != nil {
		return nil, err
	}
	agg, outcome, err := s.mutate(ctx, "send", actorID, id, nil, func(current *models.DocumentAggregate) (workflow.Outcome, error) {
		return s.send(ctx, current, approverIDs)
	})
	if err != nil {
		return nil, err
	}
	s.publishTransition(ctx, actorID, agg, outcome)
	return agg, nil
}

// Approve records actorID's approval.
func (s *WorkflowService) Approve(ctx context.Context, actorID, id string, comment *string) (agg *models.DocumentAggregate, err error) {
	defer s.observe("approve", time.Now(), &err)
	if !validID(id) {
		return nil, documentNotFound()
	}
	if err := s.authorize(ctx, actorID, workflow.ActionApprove, id); err != nil {
		return nil, err
	}
	agg, outcome, err := s.mutate(ctx, "approve", actorID, id, nil, func(current *models.DocumentAggregate) (workflow.Outcome, error) {
		return workflow.Approve(current, actorID, comment, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{Topic: events.TopicApprovalApproved, DocumentID: id, ActorID: actorID, Approval: outcome.Approval})
	s.publishTransition(ctx, actorID, agg, outcome)
	return agg, nil
}

// Reject records actorID's rejection and terminates the document.
func (s *WorkflowService) Reject(ctx context.Context, actorID, id, comment string) (agg *models.DocumentAggregate, err error) {
	defer s.observe("reject", time.Now(), &err)
	if strings.TrimSpace(comment) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a comment is required when rejecting")
	}
	if !validID(id) {
		return nil, documentNotFound()
	}
	if err := s.authorize(ctx, actorID, workflow.ActionReject, id); err != nil {
		return nil, err
	}
	agg, outcome, err := s.mutate(ctx, "reject", actorID, id, nil, func(current *models.DocumentAggregate) (workflow.Outcome, error) {
		return workflow.Reject(current, actorID, comment, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.publishTransition(ctx, actorID, agg, outcome)
	return agg, nil
}

// Decide dispatches an approve endpoint body to Approve or Reject.
func (s *WorkflowService) Decide(ctx context.Context, actorID, id string, req dto.DecisionRequest) (*models.DocumentAggregate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if models.ApprovalStatus(req.Status) == models.ApprovalStatusRejected {
		comment := ""
		if req.Comment != nil {
			comment = *req.Comment
		}
		return s.Reject(ctx, actorID, id, comment)
	}
	return s.Approve(ctx, actorID, id, req.Comment)
}

// Complete marks an APPROVED document as COMPLETED.
func (s *WorkflowService) Complete(ctx context.Context, actorID, id string) (agg *models.DocumentAggregate, err error) {
	defer s.observe("complete", time.Now(), &err)
	if !validID(id) {
		return nil, documentNotFound()
	}
	if err := s.authorize(ctx, actorID, workflow.ActionComplete, id); err != nil {
		return nil, err
	}
	agg, outcome, err := s.mutate(ctx, "complete", actorID, id, nil, func(current *models.DocumentAggregate) (workflow.Outcome, error) {
		return workflow.Complete(current, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.publishTransition(ctx, actorID, agg, outcome)
	return agg, nil
}

// Delete removes a DRAFT document. Only its creator may delete it.
func (s *WorkflowService) Delete(ctx context.Context, actorID, id string) (err error) {
	defer s.observe("delete", time.Now(), &err)
	if !validID(id) {
		return documentNotFound()
	}
	if err := s.authorize(ctx, actorID, workflow.ActionDelete, id); err != nil {
		return err
	}
	var deleted models.Document
	err = s.store.Delete(ctx, id, func(current *models.DocumentAggregate) error {
		if current.Document.CreatedBy != actorID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the creator may delete a document")
		}
		if err := workflow.Allowed(current.Document.Status, workflow.ActionDelete); err != nil {
			return err
		}
		deleted = current.Document
		return nil
	})
	if err != nil {
		return s.translate(err, "failed to delete document")
	}
	s.log(ctx).Info("document deleted", zap.String("document_id", id), zap.String("actor_id", actorID))
	s.publish(ctx, events.Event{Topic: events.TopicDocumentDeleted, DocumentID: id, ActorID: actorID, From: deleted.Status, Document: &deleted})
	return nil
}

// AddComment appends a comment. It is accepted in every status and never takes the
// aggregate lock.
func (s *WorkflowService) AddComment(ctx context.Context, actorID, id string, req dto.CommentRequest) (comment *models.Comment, err error) {
	defer s.observe("comment", time.Now(), &err)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "comment content is required")
	}
	if !validID(id) {
		return nil, documentNotFound()
	}
	if err := s.authorize(ctx, actorID, workflow.ActionComment, id); err != nil {
		return nil, err
	}
	comment = &models.Comment{
		ID:         s.newID(),
		DocumentID: id,
		AuthorID:   actorID,
		Content:    content,
		CreatedAt:  s.now(),
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, s.translate(err, "failed to add comment")
	}
	s.publish(ctx, events.Event{Topic: events.TopicCommentAdded, DocumentID: id, ActorID: actorID, Comment: comment})
	return comment, nil
}

// ListComments returns the comment thread in creation order.
func (s *WorkflowService) ListComments(ctx context.Context, actorID, id string) ([]models.Comment, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actorID, workflow.ActionView, id); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByDocument(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list comments")
	}
	return comments, nil
}

// History returns the audit trail recorded for a document, newest first.
func (s *WorkflowService) History(ctx context.Context, actorID, id string) ([]models.AuditLog, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actorID, workflow.ActionView, id); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []models.AuditLog{}, nil
	}
	logs, err := s.audit.ListByResource(ctx, auditResourceDocument, id, historyLimit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load document history")
	}
	return logs, nil
}

func (s *WorkflowService) send(ctx context.Context, current *models.DocumentAggregate, approverIDs []string) (workflow.Outcome, error) {
	if err := workflow.Allowed(current.Document.Status, workflow.ActionSend); err != nil {
		return workflow.Outcome{}, err
	}
	outcome, err := workflow.Send(current, approverIDs, s.now(), s.newID)
	if err != nil {
		return workflow.Outcome{}, err
	}
	if current.Document.Number == nil {
		number, err := s.numbers.Assign(ctx, &current.Document)
		if err != nil {
			return workflow.Outcome{}, appErrors.Internal(err, "failed to assign document number")
		}
		current.Document.Number = &number
	}
	return outcome, nil
}

// mutate runs fn inside a store update, retrying the whole cycle on
// ConcurrencyConflict. Only the outcome of the committed attempt is returned.
func (s *WorkflowService) mutate(ctx context.Context, op, actorID, id string, pinned *int64, fn func(*models.DocumentAggregate) (workflow.Outcome, error)) (*models.DocumentAggregate, workflow.Outcome, error) {
	var (
		agg     *models.DocumentAggregate
		outcome workflow.Outcome
		lastErr error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var attempt workflow.Outcome
			updated, err := s.store.Update(ctx, id, func(current *models.DocumentAggregate) error {
				if pinned != nil && current.Document.Version != *pinned {
					return appErrors.Clone(appErrors.ErrConcurrencyConflict, fmt.Sprintf("document is at version %d, not %d", current.Document.Version, *pinned))
				}
				o, err := fn(current)
				if err != nil {
					return err
				}
				attempt = o
				return nil
			})
			if err != nil {
				if errors.Is(err, appErrors.ErrConcurrencyConflict) {
					s.metrics.RecordConflict(op)
				}
				return err
			}
			agg, outcome = updated, attempt
			return nil
		},
		IsFatalError: func(err error) bool {
			return pinned != nil || !errors.Is(err, appErrors.ErrConcurrencyConflict)
		},
		NotifyFunc: func(err error, attempt int) {
			lastErr = err
			s.log(ctx).Warn("document update conflict, retrying",
				zap.String("operation", op),
				zap.String("document_id", id),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
		Attempts:    s.cfg.MaxAttempts,
		Delay:       s.cfg.RetryDelay,
		MaxDelay:    s.cfg.MaxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       s.clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) {
			s.log(ctx).Warn("document update gave up after conflicts", zap.String("operation", op), zap.String("document_id", id), zap.Int("attempts", s.cfg.MaxAttempts))
			return nil, workflow.Outcome{}, appErrors.Clone(appErrors.ErrConcurrencyConflict, fmt.Sprintf("document modified concurrently, gave up after %d attempts", s.cfg.MaxAttempts))
		}
		if retry.IsRetryStopped(err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, workflow.Outcome{}, appErrors.Wrap(ctxErr, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, "retry cancelled")
			}
			err = lastErr
		}
		return nil, workflow.Outcome{}, s.translate(err, "failed to update document")
	}

	if outcome.Transitioned() {
		s.metrics.RecordTransition(string(outcome.From), string(outcome.To))
		s.log(ctx).Info("document transition",
			zap.String("document_id", id),
			zap.String("actor_id", actorID),
			zap.String("from", string(outcome.From)),
			zap.String("to", string(outcome.To)),
			zap.Int64("version", agg.Document.Version),
		)
	}
	return agg, outcome, nil
}

func (s *WorkflowService) publishTransition(ctx context.Context, actorID string, agg *models.DocumentAggregate, outcome workflow.Outcome) {
	if !outcome.Transitioned() {
		return
	}
	var topic string
	switch outcome.To {
	case models.DocumentStatusInProgress:
		topic = events.TopicSentForApproval
	case models.DocumentStatusApproved:
		topic = events.TopicDocumentApproved
	case models.DocumentStatusRejected:
		topic = events.TopicDocumentRejected
	case models.DocumentStatusCompleted:
		topic = events.TopicDocumentCompleted
	default:
		return
	}
	doc := agg.Document
	s.publish(ctx, events.Event{
		Topic:      topic,
		DocumentID: doc.ID,
		ActorID:    actorID,
		From:       outcome.From,
		To:         outcome.To,
		Document:   &doc,
		Approval:   outcome.Approval,
	})
}

func (s *WorkflowService) publish(ctx context.Context, evt events.Event) {
	if s.publisher == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = s.now()
	}
	s.publisher.Publish(ctx, evt)
}

func (s *WorkflowService) authorize(ctx context.Context, actorID string, action workflow.Action, documentID string) error {
	if strings.TrimSpace(actorID) == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "actor identity required")
	}
	ok, err := s.permissions.MayAct(ctx, actorID, action, documentID)
	if err != nil {
		return appErrors.Internal(err, "permission check failed")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("not permitted to %s this document", strings.ToLower(string(action))))
	}
	return nil
}

func (s *WorkflowService) load(ctx context.Context, id string) (*models.DocumentAggregate, error) {
	if !validID(id) {
		return nil, documentNotFound()
	}
	agg, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, "failed to load document")
	}
	return agg, nil
}

// log decorates the service logger with the caller's request id.
func (s *WorkflowService) log(ctx context.Context) *zap.Logger {
	return applog.FromContext(ctx, s.logger)
}

func (s *WorkflowService) template(ctx context.Context, id string) (*models.Template, error) {
	if s.templates == nil || !validID(id) {
		return nil, templateNotFound()
	}
	return s.templates.Get(ctx, id)
}

func (s *WorkflowService) translate(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return documentNotFound()
	default:
		return appErrors.Internal(err, message)
	}
}

func (s *WorkflowService) observe(op string, start time.Time, err *error) {
	s.metrics.ObserveWorkflowOperation(op, *err, time.Since(start))
}

func (s *WorkflowService) now() time.Time {
	return s.clock.Now().UTC()
}

func applyDraftPatch(doc *models.Document, req dto.UpdateDocumentRequest) error {
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return appErrors.Clone(appErrors.ErrValidation, "title must not be blank")
		}
		doc.Title = title
	}
	if req.Type != nil {
		docType, ok := models.ParseDocumentType(*req.Type)
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown document type %q", *req.Type))
		}
		doc.Type = docType
	}
	if req.Content != nil {
		if strings.TrimSpace(*req.Content) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "content must not be blank")
		}
		doc.Content = *req.Content
	}
	if req.ResponsibleID != nil {
		doc.Responsible = trimmedOrNil(req.ResponsibleID)
	}
	if req.StudentRef != nil {
		doc.StudentRef = trimmedOrNil(req.StudentRef)
	}
	if req.Deadline != nil {
		deadline := *req.Deadline
		doc.Deadline = &deadline
	}
	return nil
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func documentNotFound() error {
	return appErrors.Clone(appErrors.ErrNotFound, "document not found")
}
