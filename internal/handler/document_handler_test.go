package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-edo-api/internal/dto"
	"github.com/noah-isme/sma-edo-api/internal/middleware"
	"github.com/noah-isme/sma-edo-api/internal/models"
	"github.com/noah-isme/sma-edo-api/internal/service"
	"github.com/noah-isme/sma-edo-api/pkg/config"
	appErrors "github.com/noah-isme/sma-edo-api/pkg/errors"
	"github.com/noah-isme/sma-edo-api/pkg/export"
)

type documentServiceMock struct {
	actor    string
	expected *int64
	decision dto.DecisionRequest
	query    dto.DocumentQuery
	format   export.Format
	err      error
	agg      *models.DocumentAggregate
}

func (m *documentServiceMock) Create(ctx context.Context, actorID string, req dto.CreateDocumentRequest) (*models.Document, error) {
	m.actor = actorID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Document{ID: "doc-1", Title: req.Title, Status: models.DocumentStatusDraft, Version: 1}, nil
}

func (m *documentServiceMock) Get(ctx context.Context, actorID, id string) (*dto.DocumentDetail, error) {
	m.actor = actorID
	if m.err != nil {
		return nil, m.err
	}
	return &dto.DocumentDetail{Document: models.Document{ID: id, Version: 4}}, nil
}

func (m *documentServiceMock) List(ctx context.Context, actorID string, query dto.DocumentQuery) ([]models.Document, *models.Pagination, error) {
	m.actor, m.query = actorID, query
	return []models.Document{{ID: "doc-1"}}, &models.Pagination{Page: query.Page, PageSize: 20, TotalCount: 1}, m.err
}

func (m *documentServiceMock) ListApprovals(ctx context.Context, actorID, id string) ([]models.Approval, error) {
	return []models.Approval{}, m.err
}

func (m *documentServiceMock) UpdateDraft(ctx context.Context, actorID, id string, req dto.UpdateDocumentRequest, expectedVersion *int64) (*models.DocumentAggregate, error) {
	m.actor, m.expected = actorID, expectedVersion
	return m.aggregate(id)
}

func (m *documentServiceMock) Decide(ctx context.Context, actorID, id string, req dto.DecisionRequest) (*models.DocumentAggregate, error) {
	m.actor, m.decision = actorID, req
	return m.aggregate(id)
}

func (m *documentServiceMock) Complete(ctx context.Context, actorID, id string) (*models.DocumentAggregate, error) {
	return m.aggregate(id)
}

func (m *documentServiceMock) Delete(ctx context.Context, actorID, id string) error {
	m.actor = actorID
	return m.err
}

func (m *documentServiceMock) AddComment(ctx context.Context, actorID, id string, req dto.CommentRequest) (*models.Comment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Comment{ID: "c-1", DocumentID: id, AuthorID: actorID, Content: req.Content}, nil
}

func (m *documentServiceMock) ListComments(ctx context.Context, actorID, id string) ([]models.Comment, error) {
	return []models.Comment{}, m.err
}

func (m *documentServiceMock) History(ctx context.Context, actorID, id string) ([]models.AuditLog, error) {
	return []models.AuditLog{}, m.err
}

func (m *documentServiceMock) Export(ctx context.Context, actorID, id string, format export.Format) (*service.ExportFile, error) {
	m.format = format
	if m.err != nil {
		return nil, m.err
	}
	return &service.ExportFile{Filename: "EDO-2026-0001." + string(format), ContentType: format.ContentType(), Data: []byte("data")}, nil
}

func (m *documentServiceMock) aggregate(id string) (*models.DocumentAggregate, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.agg != nil {
		return m.agg, nil
	}
	return &models.DocumentAggregate{Document: models.Document{ID: id, Status: models.DocumentStatusInProgress, Version: 3}}, nil
}

func newDocumentRouter(svc documentService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewDocumentHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStaff})
		c.Next()
	})
	docs := r.Group("/documents")
	docs.GET("", h.List)
	docs.POST("", h.Create)
	docs.GET("/:id", h.Get)
	docs.PATCH("/:id", h.Update)
	docs.DELETE("/:id", h.Delete)
	docs.POST("/:id/approve", h.Decide)
	docs.POST("/:id/complete", h.Complete)
	docs.GET("/:id/approvals", h.Approvals)
	docs.POST("/:id/comments", h.AddComment)
	docs.GET("/:id/comments", h.Comments)
	docs.GET("/:id/history", h.History)
	docs.GET("/:id/export", h.Export)
	return r
}

func serve(r *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, _ := json.Marshal(v)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDocumentHandlerCreate(t *testing.T) {
	svc := &documentServiceMock{}
	w := serve(newDocumentRouter(svc), http.MethodPost, "/documents", dto.CreateDocumentRequest{Title: "Leave request", Type: "CERTIFICATE", Content: "..."}, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "user-1", svc.actor)
	assert.Equal(t, "/documents/doc-1", w.Header().Get("Location"))
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))
}

func TestDocumentHandlerCreateWithMalformedTemplateID(t *testing.T) {
	templates := service.NewTemplateService(nil, nil, 0, nil, nil)
	workflow := service.NewWorkflowService(nil, nil, templates, config.WorkflowConfig{}, nil, nil)
	w := serve(newDocumentRouter(workflow), http.MethodPost, "/documents", map[string]string{"title": "Memo", "templateId": "abc"}, nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	var env struct {
		Error appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestDocumentHandlerCreateInvalidBody(t *testing.T) {
	w := serve(newDocumentRouter(&documentServiceMock{}), http.MethodPost, "/documents", "{", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandlerGetSetsETag(t *testing.T) {
	w := serve(newDocumentRouter(&documentServiceMock{}), http.MethodGet, "/documents/doc-9", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"4"`, w.Header().Get("ETag"))
}

func TestDocumentHandlerUpdateIfMatch(t *testing.T) {
	svc := &documentServiceMock{}
	r := newDocumentRouter(svc)
	title := "New"

	w := serve(r, http.MethodPatch, "/documents/doc-1", dto.UpdateDocumentRequest{Title: &title}, map[string]string{"If-Match": `"2"`})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.expected)
	assert.Equal(t, int64(2), *svc.expected)
	assert.Equal(t, `"3"`, w.Header().Get("ETag"))

	w = serve(r, http.MethodPatch, "/documents/doc-1", dto.UpdateDocumentRequest{Title: &title}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, svc.expected)

	w = serve(r, http.MethodPatch, "/documents/doc-1", dto.UpdateDocumentRequest{Title: &title}, map[string]string{"If-Match": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandlerMapsTaxonomy(t *testing.T) {
	cases := map[error]int{
		appErrors.Clone(appErrors.ErrValidation, "a comment is required when rejecting"): http.StatusBadRequest,
		appErrors.Clone(appErrors.ErrNotFound, "document not found"):                     http.StatusNotFound,
		appErrors.Clone(appErrors.ErrInvalidState, "cannot approve a document in DRAFT"):  http.StatusConflict,
		appErrors.Clone(appErrors.ErrNotAnApprover, "no pending approval"):               http.StatusForbidden,
		appErrors.Clone(appErrors.ErrConcurrencyConflict, "gave up"):                     http.StatusConflict,
		errors.New("boom"): http.StatusInternalServerError,
	}
	for err, status := range cases {
		svc := &documentServiceMock{err: err}
		w := serve(newDocumentRouter(svc), http.MethodPost, "/documents/doc-1/approve", dto.DecisionRequest{Status: "REJECTED"}, nil)
		require.Equal(t, status, w.Code, err.Error())

		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		assert.Equal(t, appErrors.FromError(err).Code, envelope.Error.Code)
	}
}

func TestDocumentHandlerDecidePassesBody(t *testing.T) {
	svc := &documentServiceMock{}
	comment := "missing signature"
	w := serve(newDocumentRouter(svc), http.MethodPost, "/documents/doc-1/approve", dto.DecisionRequest{Status: "REJECTED", Comment: &comment}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "REJECTED", svc.decision.Status)
	require.NotNil(t, svc.decision.Comment)
	assert.Equal(t, comment, *svc.decision.Comment)
}

func TestDocumentHandlerListBindsQuery(t *testing.T) {
	svc := &documentServiceMock{}
	w := serve(newDocumentRouter(svc), http.MethodGet, "/documents?search=leave&status=DRAFT&pendingFor=me&page=2&limit=5", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "leave", svc.query.Search)
	assert.Equal(t, "me", svc.query.PendingFor)
	assert.Equal(t, 2, svc.query.Page)
	assert.Equal(t, 5, svc.query.Limit)
	assert.Contains(t, w.Body.String(), `"total_count":1`)
}

func TestDocumentHandlerDelete(t *testing.T) {
	w := serve(newDocumentRouter(&documentServiceMock{}), http.MethodDelete, "/documents/doc-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(newDocumentRouter(&documentServiceMock{err: appErrors.Clone(appErrors.ErrForbidden, "only the creator may delete a document")}), http.MethodDelete, "/documents/doc-1", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDocumentHandlerComments(t *testing.T) {
	r := newDocumentRouter(&documentServiceMock{})
	w := serve(r, http.MethodPost, "/documents/doc-1/comments", dto.CommentRequest{Content: "hello"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"authorId":"user-1"`)

	w = serve(r, http.MethodGet, "/documents/doc-1/comments", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDocumentHandlerExport(t *testing.T) {
	svc := &documentServiceMock{}
	r := newDocumentRouter(svc)

	w := serve(r, http.MethodGet, "/documents/doc-1/export?format=csv", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.FormatCSV, svc.format)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "EDO-2026-0001.csv")

	w = serve(r, http.MethodGet, "/documents/doc-1/export", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.FormatPDF, svc.format)

	w = serve(r, http.MethodGet, "/documents/doc-1/export?format=xlsx", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIfMatchVersion(t *testing.T) {
	v, err := ifMatchVersion(`W/"7"`)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *v)

	v, err = ifMatchVersion("*")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ifMatchVersion(`"0"`)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
