package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/sma-edo-api/internal/dto"
	"github.com/noah-isme/sma-edo-api/internal/events"
	"github.com/noah-isme/sma-edo-api/internal/models"
	"github.com/noah-isme/sma-edo-api/internal/workflow"
	"github.com/noah-isme/sma-edo-api/pkg/config"
	appErrors "github.com/noah-isme/sma-edo-api/pkg/errors"
	"github.com/noah-isme/sma-edo-api/pkg/export"
	"github.com/noah-isme/sma-edo-api/pkg/middleware/requestid"
)

const (
	creator = "creator-1"
	alice   = "approver-a"
	bob     = "approver-b"
)

// memoryDocumentStore versions aggregates optimistically: Update loads a copy without
// holding the lock and refuses to save when another writer committed in between.
type memoryDocumentStore struct {
	mu        sync.Mutex
	docs      map[string]*models.DocumentAggregate
	afterLoad func()
	forced    int
	updates   atomic.Int64
	conflicts atomic.Int64
	lastList  models.DocumentFilter
}

func newMemoryDocumentStore() *memoryDocumentStore {
	return &memoryDocumentStore{docs: map[string]*models.DocumentAggregate{}}
}

func (s *memoryDocumentStore) Create(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.Version = 1
	s.docs[doc.ID] = &models.DocumentAggregate{Document: *doc, Approvals: []models.Approval{}}
	return nil
}

func (s *memoryDocumentStore) FindByID(ctx context.Context, id string) (*models.DocumentAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return agg.Clone(), nil
}

func (s *memoryDocumentStore) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastList = filter
	out := []models.Document{}
	for _, agg := range s.docs {
		out = append(out, agg.Document)
	}
	return out, len(out), nil
}

func (s *memoryDocumentStore) ListApprovals(ctx context.Context, id string) ([]models.Approval, error) {
	agg, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return agg.Approvals, nil
}

func (s *memoryDocumentStore) Update(ctx context.Context, id string, mutate func(*models.DocumentAggregate) error) (*models.DocumentAggregate, error) {
	s.updates.Add(1)
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.afterLoad != nil {
		s.afterLoad()
	}
	base := current.Document.Version
	if err := mutate(current); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forced > 0 {
		s.forced--
		s.conflicts.Add(1)
		return nil, appErrors.ErrConcurrencyConflict
	}
	if s.docs[id].Document.Version != base {
		s.conflicts.Add(1)
		return nil, appErrors.ErrConcurrencyConflict
	}
	current.Document.Version = base + 1
	s.docs[id] = current.Clone()
	return current, nil
}

func (s *memoryDocumentStore) Delete(ctx context.Context, id string, guard func(*models.DocumentAggregate) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.docs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if err := guard(agg.Clone()); err != nil {
		return err
	}
	delete(s.docs, id)
	return nil
}

func (s *memoryDocumentStore) status(id string) models.DocumentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id].Document.Status
}

type memoryCommentStore struct {
	mu       sync.Mutex
	docs     *memoryDocumentStore
	comments []models.Comment
}

func (s *memoryCommentStore) Create(ctx context.Context, comment *models.Comment) error {
	if _, err := s.docs.FindByID(ctx, comment.DocumentID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, *comment)
	return nil
}

func (s *memoryCommentStore) ListByDocument(ctx context.Context, id string) ([]models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Comment{}
	for _, c := range s.comments {
		if c.DocumentID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, evt := range p.events {
		if evt.Topic == topic {
			n++
		}
	}
	return n
}

type auditReaderStub struct {
	logs []models.AuditLog
}

func (a *auditReaderStub) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	return a.logs, nil
}

type workflowFixture struct {
	svc       *WorkflowService
	store     *memoryDocumentStore
	comments  *memoryCommentStore
	publisher *recordingPublisher
}

func newWorkflowFixture(t *testing.T, templates templateSource, opts ...WorkflowOption) *workflowFixture {
	t.Helper()
	store := newMemoryDocumentStore()
	comments := &memoryCommentStore{docs: store}
	publisher := &recordingPublisher{}
	cfg := config.WorkflowConfig{MaxAttempts: 3, RetryDelay: time.Millisecond, MaxRetryDelay: 4 * time.Millisecond, NumberPrefix: "edo"}
	opts = append([]WorkflowOption{WithPublisher(publisher)}, opts...)
	svc := NewWorkflowService(store, comments, templates, cfg, nil, nil, opts...)
	return &workflowFixture{svc: svc, store: store, comments: comments, publisher: publisher}
}

func (f *workflowFixture) draft(t *testing.T) *models.Document {
	t.Helper()
	doc, err := f.svc.Create(context.Background(), creator, dto.CreateDocumentRequest{
		Title:   "Leave request",
		Type:    "CERTIFICATE",
		Content: "Please grant leave.",
	})
	require.NoError(t, err)
	return doc
}

func (f *workflowFixture) sent(t *testing.T, approvers ...string) *models.Document {
	t.Helper()
	doc := f.draft(t)
	_, err := f.svc.SendForApproval(context.Background(), creator, doc.ID, approvers)
	require.NoError(t, err)
	return doc
}

func TestWorkflowCreateDraft(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	doc := f.draft(t)

	assert.Equal(t, models.DocumentStatusDraft, doc.Status)
	assert.Equal(t, creator, doc.CreatedBy)
	assert.Nil(t, doc.Number)

	agg, err := f.svc.Get(context.Background(), creator, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, agg.Approvals)
	assert.Equal(t, 1, f.publisher.count(events.TopicDocumentCreated))
}

func TestWorkflowLogsCarryRequestID(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	core, logs := observer.New(zap.InfoLevel)
	f.svc.logger = zap.New(core)
	ctx := requestid.WithValue(context.Background(), "req-42")

	doc, err := f.svc.Create(ctx, creator, dto.CreateDocumentRequest{Title: "Leave request", Type: "CERTIFICATE", Content: "..."})
	require.NoError(t, err)
	_, err = f.svc.SendForApproval(ctx, creator, doc.ID, []string{alice})
	require.NoError(t, err)

	for _, msg := range []string{"document created", "document transition"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	}
}

func TestWorkflowCreateValidation(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()

	cases := map[string]dto.CreateDocumentRequest{
		"blank title":   {Title: "  ", Type: "MEMO", Content: "x"},
		"missing type":  {Title: "Memo", Content: "x"},
		"blank content": {Title: "Memo", Type: "MEMO", Content: "   "},
		"unknown type":  {Title: "Memo", Type: "POSTCARD", Content: "x"},
		"duplicate ref": {Title: "Memo", Type: "MEMO", Content: "x", FileIDs: []string{"f1", "f1"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, creator, req)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
	assert.Equal(t, 0, f.publisher.count(events.TopicDocumentCreated))
}

func TestWorkflowCreateUsesTemplates(t *testing.T) {
	tplID := uuid.NewString()
	repo := newTemplateRepoStub(
		models.Template{ID: uuid.NewString(), Name: "Standard memo", Type: models.DocumentTypeMemo, Content: "memo body", IsDefault: true},
		models.Template{ID: tplID, Name: "Order", Type: models.DocumentTypeOrder, Content: "order body"},
	)
	f := newWorkflowFixture(t, NewTemplateService(repo, nil, 0, nil, nil))
	ctx := context.Background()

	doc, err := f.svc.Create(ctx, creator, dto.CreateDocumentRequest{Title: "Memo", Type: "MEMO"})
	require.NoError(t, err)
	assert.Equal(t, "memo body", doc.Content)

	doc, err = f.svc.Create(ctx, creator, dto.CreateDocumentRequest{TemplateID: &tplID, FileIDs: []string{"f2", "f1"}})
	require.NoError(t, err)
	assert.Equal(t, "Order", doc.Title)
	assert.Equal(t, models.DocumentTypeOrder, doc.Type)
	assert.Equal(t, []string{"f2", "f1"}, doc.FileRefs)

	_, err = f.svc.Create(ctx, creator, dto.CreateDocumentRequest{TemplateID: &tplID, Type: "MEMO"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Create(ctx, creator, dto.CreateDocumentRequest{Title: "Order", Type: "ORDER"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	malformed := "abc"
	_, err = f.svc.Create(ctx, creator, dto.CreateDocumentRequest{Title: "Memo", TemplateID: &malformed})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestWorkflowSendForApproval(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	doc := f.draft(t)

	agg, err := f.svc.SendForApproval(context.Background(), creator, doc.ID, []string{alice, bob})
	require.NoError(t, err)

	assert.Equal(t, models.DocumentStatusInProgress, agg.Document.Status)
	require.Len(t, agg.Approvals, 2)
	assert.Equal(t, alice, agg.Approvals[0].ApproverID)
	assert.Equal(t, bob, agg.Approvals[1].ApproverID)
	for _, a := range agg.Approvals {
		assert.Equal(t, models.ApprovalStatusPending, a.Status)
		assert.Nil(t, a.ResolvedAt)
	}
	require.NotNil(t, agg.Document.Number)
	assert.True(t, strings.HasPrefix(*agg.Document.Number, "EDO-"))
	assert.Equal(t, int64(2), agg.Document.Version)
	assert.Equal(t, 1, f.publisher.count(events.TopicSentForApproval))
	assert.NoError(t, workflow.Validate(agg))
}

func TestWorkflowSendForApprovalRejectsBadInput(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.draft(t)

	_, err := f.svc.SendForApproval(ctx, creator, doc.ID, nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, int64(0), f.store.updates.Load())

	_, err = f.svc.SendForApproval(ctx, creator, doc.ID, []string{alice, alice})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.SendForApproval(ctx, creator, doc.ID, []string{creator})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.SendForApproval(ctx, creator, doc.ID, []string{alice})
	require.NoError(t, err)
	_, err = f.svc.SendForApproval(ctx, creator, doc.ID, []string{bob})
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
	assert.Equal(t, models.DocumentStatusInProgress, f.store.status(doc.ID))
}

func TestWorkflowUnanimousApproval(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.sent(t, alice, bob)

	agg, err := f.svc.Approve(ctx, alice, doc.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusInProgress, agg.Document.Status)
	first, _ := agg.ApprovalFor(alice)
	second, _ := agg.ApprovalFor(bob)
	assert.Equal(t, models.ApprovalStatusApproved, first.Status)
	assert.NotNil(t, first.ResolvedAt)
	assert.Equal(t, models.ApprovalStatusPending, second.Status)
	assert.Equal(t, 0, f.publisher.count(events.TopicDocumentApproved))

	note := "looks good"
	agg, err = f.svc.Approve(ctx, bob, doc.ID, &note)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusApproved, agg.Document.Status)
	second, _ = agg.ApprovalFor(bob)
	require.NotNil(t, second.Comment)
	assert.Equal(t, note, *second.Comment)

	assert.Equal(t, 2, f.publisher.count(events.TopicApprovalApproved))
	assert.Equal(t, 1, f.publisher.count(events.TopicDocumentApproved))
	assert.NoError(t, workflow.Validate(agg))
}

func TestWorkflowApproveIsNotRepeatable(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.sent(t, alice, bob)

	_, err := f.svc.Approve(ctx, alice, doc.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, alice, doc.ID, nil)
	assert.ErrorIs(t, err, appErrors.ErrNotAnApprover)
	_, err = f.svc.Approve(ctx, "stranger", doc.ID, nil)
	assert.ErrorIs(t, err, appErrors.ErrNotAnApprover)
	assert.Equal(t, models.DocumentStatusInProgress, f.store.status(doc.ID))

	draft := f.draft(t)
	_, err = f.svc.Approve(ctx, alice, draft.ID, nil)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestWorkflowRejectShortCircuits(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.sent(t, alice, bob)

	agg, err := f.svc.Reject(ctx, alice, doc.ID, "missing signature")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusRejected, agg.Document.Status)
	rejected, _ := agg.ApprovalFor(alice)
	pending, _ := agg.ApprovalFor(bob)
	assert.Equal(t, models.ApprovalStatusRejected, rejected.Status)
	assert.Equal(t, "missing signature", *rejected.Comment)
	assert.Equal(t, models.ApprovalStatusPending, pending.Status)
	assert.Equal(t, 1, f.publisher.count(events.TopicDocumentRejected))

	_, err = f.svc.Approve(ctx, bob, doc.ID, nil)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
	assert.Equal(t, models.DocumentStatusRejected, f.store.status(doc.ID))
}

func TestWorkflowRejectRequiresComment(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.sent(t, alice)
	before := f.store.updates.Load()

	_, err := f.svc.Reject(ctx, alice, doc.ID, " \t ")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Decide(ctx, alice, doc.ID, dto.DecisionRequest{Status: "REJECTED"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	assert.Equal(t, before, f.store.updates.Load())
	assert.Equal(t, models.DocumentStatusInProgress, f.store.status(doc.ID))
}

func TestWorkflowDecideDispatches(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.sent(t, alice)

	_, err := f.svc.Decide(ctx, alice, doc.ID, dto.DecisionRequest{Status: "MAYBE"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	agg, err := f.svc.Decide(ctx, alice, doc.ID, dto.DecisionRequest{Status: "APPROVED"})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusApproved, agg.Document.Status)
}

func TestWorkflowCommentOnRejectedDocument(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.sent(t, alice)
	_, err := f.svc.Reject(ctx, alice, doc.ID, "no")
	require.NoError(t, err)

	comment, err := f.svc.AddComment(ctx, creator, doc.ID, dto.CommentRequest{Content: "  will redo  "})
	require.NoError(t, err)
	assert.Equal(t, "will redo", comment.Content)
	assert.Equal(t, models.DocumentStatusRejected, f.store.status(doc.ID))

	comments, err := f.svc.ListComments(ctx, creator, doc.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, 1, f.publisher.count(events.TopicCommentAdded))

	_, err = f.svc.AddComment(ctx, creator, doc.ID, dto.CommentRequest{Content: " "})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.AddComment(ctx, creator, uuid.NewString(), dto.CommentRequest{Content: "hello"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestWorkflowConcurrentFinalApprovals(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	doc := f.sent(t, alice, bob)

	var loaded sync.WaitGroup
	loaded.Add(2)
	var calls atomic.Int32
	f.store.afterLoad = func() {
		if calls.Add(1) <= 2 {
			loaded.Done()
			loaded.Wait()
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, approver := range []string{alice, bob} {
		wg.Add(1)
		go func(i int, approver string) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(context.Background(), approver, doc.ID, nil)
		}(i, approver)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, models.DocumentStatusApproved, f.store.status(doc.ID))
	assert.Equal(t, int64(1), f.store.conflicts.Load())
	assert.Equal(t, 1, f.publisher.count(events.TopicDocumentApproved))
	assert.Equal(t, 2, f.publisher.count(events.TopicApprovalApproved))
}

func TestWorkflowManyConcurrentApprovers(t *testing.T) {
	approvers := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}
	f := newWorkflowFixture(t, nil)
	f.svc.cfg.MaxAttempts = len(approvers) + 2
	doc := f.sent(t, approvers...)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for _, approver := range approvers {
		wg.Add(1)
		go func(approver string) {
			defer wg.Done()
			if _, err := f.svc.Approve(context.Background(), approver, doc.ID, nil); err != nil {
				failures.Add(1)
			}
		}(approver)
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, models.DocumentStatusApproved, f.store.status(doc.ID))
	assert.Equal(t, 1, f.publisher.count(events.TopicDocumentApproved))
}

func TestWorkflowRetriesConflicts(t *testing.T) {
	metrics := NewMetricsService()
	f := newWorkflowFixture(t, nil, WithMetrics(metrics))
	doc := f.sent(t, alice)
	before := f.store.updates.Load()

	f.store.forced = 2
	agg, err := f.svc.Approve(context.Background(), alice, doc.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusApproved, agg.Document.Status)
	assert.Equal(t, before+3, f.store.updates.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.conflicts.WithLabelValues("approve")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("IN_PROGRESS", "APPROVED")))
	assert.Equal(t, 1, f.publisher.count(events.TopicDocumentApproved))
}

func TestWorkflowSurfacesConflictAfterAttempts(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	doc := f.sent(t, alice)
	before := f.store.updates.Load()

	f.store.forced = 10
	_, err := f.svc.Approve(context.Background(), alice, doc.ID, nil)
	assert.ErrorIs(t, err, appErrors.ErrConcurrencyConflict)
	assert.Equal(t, before+3, f.store.updates.Load())
	assert.Equal(t, models.DocumentStatusInProgress, f.store.status(doc.ID))
	assert.Equal(t, 0, f.publisher.count(events.TopicApprovalApproved))
}

func TestWorkflowUpdateDraft(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.draft(t)

	title := "Annual leave request"
	agg, err := f.svc.UpdateDraft(ctx, creator, doc.ID, dto.UpdateDocumentRequest{Title: &title}, nil)
	require.NoError(t, err)
	assert.Equal(t, title, agg.Document.Title)
	assert.Equal(t, models.DocumentStatusDraft, agg.Document.Status)
	assert.Equal(t, 1, f.publisher.count(events.TopicDocumentUpdated))

	stale := int64(1)
	_, err = f.svc.UpdateDraft(ctx, creator, doc.ID, dto.UpdateDocumentRequest{Title: &title}, &stale)
	assert.ErrorIs(t, err, appErrors.ErrConcurrencyConflict)

	_, err = f.svc.UpdateDraft(ctx, creator, doc.ID, dto.UpdateDocumentRequest{}, nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	empty := []string{}
	_, err = f.svc.UpdateDraft(ctx, creator, doc.ID, dto.UpdateDocumentRequest{ApproverIDs: &empty}, nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	current := agg.Document.Version
	content := "Revised text"
	approvers := []string{alice, bob}
	agg, err = f.svc.UpdateDraft(ctx, creator, doc.ID, dto.UpdateDocumentRequest{Content: &content, ApproverIDs: &approvers}, &current)
	require.NoError(t, err)
	assert.Equal(t, content, agg.Document.Content)
	assert.Equal(t, models.DocumentStatusInProgress, agg.Document.Status)
	assert.Len(t, agg.Approvals, 2)
	assert.Equal(t, 1, f.publisher.count(events.TopicSentForApproval))

	_, err = f.svc.UpdateDraft(ctx, creator, doc.ID, dto.UpdateDocumentRequest{Title: &title}, nil)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestWorkflowComplete(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.sent(t, alice)

	_, err := f.svc.Complete(ctx, "registry", doc.ID)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = f.svc.Approve(ctx, alice, doc.ID, nil)
	require.NoError(t, err)
	agg, err := f.svc.Complete(ctx, "registry", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusCompleted, agg.Document.Status)
	assert.Equal(t, 1, f.publisher.count(events.TopicDocumentCompleted))

	_, err = f.svc.AddComment(ctx, alice, doc.ID, dto.CommentRequest{Content: "archived"})
	assert.NoError(t, err)
}

func TestWorkflowDelete(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.draft(t)

	err := f.svc.Delete(ctx, alice, doc.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	sent := f.sent(t, alice)
	err = f.svc.Delete(ctx, creator, sent.ID)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	require.NoError(t, f.svc.Delete(ctx, creator, doc.ID))
	_, err = f.svc.Get(ctx, creator, doc.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, 1, f.publisher.count(events.TopicDocumentDeleted))
}

func TestWorkflowNotFound(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, creator, uuid.NewString())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = f.svc.Approve(ctx, alice, uuid.NewString(), nil)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = f.svc.ListApprovals(ctx, creator, "not-a-uuid")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = f.svc.History(ctx, creator, uuid.NewString())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestWorkflowPermissionDenied(t *testing.T) {
	deny := PermissionFunc(func(ctx context.Context, actorID string, action workflow.Action, documentID string) (bool, error) {
		return action != workflow.ActionApprove, nil
	})
	f := newWorkflowFixture(t, nil, WithPermissionChecker(deny))
	doc := f.sent(t, alice)

	_, err := f.svc.Approve(context.Background(), alice, doc.ID, nil)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Equal(t, models.DocumentStatusInProgress, f.store.status(doc.ID))

	_, err = f.svc.Create(context.Background(), "", dto.CreateDocumentRequest{Title: "x", Type: "MEMO", Content: "x"})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestWorkflowListFilters(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	f.draft(t)

	docs, page, err := f.svc.List(context.Background(), alice, dto.DocumentQuery{Status: "draft,in_progress", PendingFor: "me", Limit: 500})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PageSize)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, alice, f.store.lastList.PendingFor)
	assert.Equal(t, []models.DocumentStatus{models.DocumentStatusDraft, models.DocumentStatusInProgress}, f.store.lastList.Status)

	_, _, err = f.svc.List(context.Background(), alice, dto.DocumentQuery{Status: "ARCHIVED"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestWorkflowHistory(t *testing.T) {
	reader := &auditReaderStub{logs: []models.AuditLog{{ID: "log-1", Action: models.AuditActionDocumentCreate}}}
	f := newWorkflowFixture(t, nil, WithAuditReader(reader))
	doc := f.draft(t)

	logs, err := f.svc.History(context.Background(), creator, doc.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestPrefixNumberAssigner(t *testing.T) {
	assigner := NewPrefixNumberAssigner(" ord ", nil)
	number, err := assigner.Assign(context.Background(), &models.Document{})
	require.NoError(t, err)
	parts := strings.Split(number, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "ORD", parts[0])
	assert.Len(t, parts[1], 4)
	assert.Len(t, parts[2], 8)
}

func TestWorkflowExport(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	doc := f.sent(t, alice, bob)
	_, err := f.svc.Approve(ctx, alice, doc.ID, nil)
	require.NoError(t, err)

	csvFile, err := f.svc.Export(ctx, creator, doc.ID, export.FormatCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(csvFile.Filename, ".csv"))
	assert.Equal(t, "text/csv; charset=utf-8", csvFile.ContentType)
	body := string(csvFile.Data)
	assert.Contains(t, body, "sequence,approver,status,comment,resolved_at")
	assert.Contains(t, body, "1,approver-a,APPROVED,,")
	assert.Contains(t, body, "2,approver-b,PENDING,,")

	pdfFile, err := f.svc.Export(ctx, creator, doc.ID, export.FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfFile.ContentType)
	assert.True(t, strings.HasPrefix(string(pdfFile.Data), "%PDF"))

	_, err = f.svc.Export(ctx, creator, doc.ID, export.Format("docx"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
