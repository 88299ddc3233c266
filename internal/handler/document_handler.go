package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-edo-api/internal/dto"
	"github.com/noah-isme/sma-edo-api/internal/models"
	"github.com/noah-isme/sma-edo-api/internal/service"
	appErrors "github.com/noah-isme/sma-edo-api/pkg/errors"
	"github.com/noah-isme/sma-edo-api/pkg/export"
	"github.com/noah-isme/sma-edo-api/pkg/response"
)

type documentService interface {
	Create(ctx context.Context, actorID string, req dto.CreateDocumentRequest) (*models.Document, error)
	Get(ctx context.Context, actorID, id string) (*dto.DocumentDetail, error)
	List(ctx context.Context, actorID string, query dto.DocumentQuery) ([]models.Document, *models.Pagination, error)
	ListApprovals(ctx context.Context, actorID, id string) ([]models.Approval, error)
	UpdateDraft(ctx context.Context, actorID, id string, req dto.UpdateDocumentRequest, expectedVersion *int64) (*models.DocumentAggregate, error)
	Decide(ctx context.Context, actorID, id string, req dto.DecisionRequest) (*models.DocumentAggregate, error)
	Complete(ctx context.Context, actorID, id string) (*models.DocumentAggregate, error)
	Delete(ctx context.Context, actorID, id string) error
	AddComment(ctx context.Context, actorID, id string, req dto.CommentRequest) (*models.Comment, error)
	ListComments(ctx context.Context, actorID, id string) ([]models.Comment, error)
	History(ctx context.Context, actorID, id string) ([]models.AuditLog, error)
	Export(ctx context.Context, actorID, id string, format export.Format) (*service.ExportFile, error)
}

// DocumentHandler exposes the document workflow endpoints.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(service documentService) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// List godoc
// @Summary List documents
// @Tags Documents
// @Produce json
// @Param search query string false "Title or number fragment"
// @Param status query string false "Comma separated statuses"
// @Param type query string false "Document type"
// @Param createdBy query string false "Creator id"
// @Param pendingFor query string false "Approver id with a pending approval, or me"
// @Param page query int false "Page"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	var query dto.DocumentQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	docs, pagination, err := h.service.List(c.Request.Context(), actorID(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, pagination)
}

// Get godoc
// @Summary Get document with approvals and comments
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, detail.Version)
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create a DRAFT document
// @Tags Documents
// @Accept json
// @Produce json
// @Param payload body dto.CreateDocumentRequest true "Document payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	var req dto.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid document payload"))
		return
	}
	doc, err := h.service.Create(c.Request.Context(), actorID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, doc.Version)
	c.Header("Location", fmt.Sprintf("%s/%s", strings.TrimSuffix(c.Request.URL.Path, "/"), doc.ID))
	response.Created(c, doc)
}

// Update godoc
// @Summary Update DRAFT fields or send for approval
// @Description Supplying approverIds sends the document for approval. If-Match pins the aggregate version.
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param If-Match header string false "Expected version"
// @Param payload body dto.UpdateDocumentRequest true "Patch payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{id} [patch]
func (h *DocumentHandler) Update(c *gin.Context) {
	var req dto.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid document payload"))
		return
	}
	expected, err := ifMatchVersion(c.GetHeader("If-Match"))
	if err != nil {
		response.Error(c, err)
		return
	}
	agg, err := h.service.UpdateDraft(c.Request.Context(), actorID(c), c.Param("id"), req, expected)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondAggregate(c, agg)
}

// Delete godoc
// @Summary Delete a DRAFT document
// @Tags Documents
// @Param id path string true "Document ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), actorID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Decide godoc
// @Summary Approve or reject as the current approver
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{id}/approve [post]
func (h *DocumentHandler) Decide(c *gin.Context) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	agg, err := h.service.Decide(c.Request.Context(), actorID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondAggregate(c, agg)
}

// Complete godoc
// @Summary Mark an APPROVED document as COMPLETED
// @Tags Approvals
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{id}/complete [post]
func (h *DocumentHandler) Complete(c *gin.Context) {
	agg, err := h.service.Complete(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondAggregate(c, agg)
}

// Approvals godoc
// @Summary List approvals of a document
// @Tags Approvals
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/approvals [get]
func (h *DocumentHandler) Approvals(c *gin.Context) {
	approvals, err := h.service.ListApprovals(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approvals, nil)
}

// AddComment godoc
// @Summary Add a comment
// @Tags Comments
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.CommentRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Router /documents/{id}/comments [post]
func (h *DocumentHandler) AddComment(c *gin.Context) {
	var req dto.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}
	comment, err := h.service.AddComment(c.Request.Context(), actorID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// Comments godoc
// @Summary List comments in creation order
// @Tags Comments
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/comments [get]
func (h *DocumentHandler) Comments(c *gin.Context) {
	comments, err := h.service.ListComments(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// History godoc
// @Summary Audit trail of a document
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/history [get]
func (h *DocumentHandler) History(c *gin.Context) {
	logs, err := h.service.History(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// Export godoc
// @Summary Export a document
// @Tags Documents
// @Produce application/pdf
// @Produce text/csv
// @Param id path string true "Document ID"
// @Param format query string false "pdf (default) or csv"
// @Success 200 {file} binary
// @Router /documents/{id}/export [get]
func (h *DocumentHandler) Export(c *gin.Context) {
	format, ok := export.ParseFormat(c.Query("format"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be pdf or csv"))
		return
	}
	file, err := h.service.Export(c.Request.Context(), actorID(c), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

func (h *DocumentHandler) respondAggregate(c *gin.Context, agg *models.DocumentAggregate) {
	setETag(c, agg.Document.Version)
	response.JSON(c, http.StatusOK, agg, nil)
}

func setETag(c *gin.Context, version int64) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

func ifMatchVersion(header string) (*int64, error) {
	header = strings.TrimSpace(header)
	if header == "" || header == "*" {
		return nil, nil
	}
	header = strings.TrimPrefix(header, "W/")
	if unquoted, err := strconv.Unquote(header); err == nil {
		header = unquoted
	}
	version, err := strconv.ParseInt(header, 10, 64)
	if err != nil || version <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "If-Match must carry a document version")
	}
	return &version, nil
}
