package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-edo-api/internal/models"
	appErrors "github.com/noah-isme/sma-edo-api/pkg/errors"
)

// likeEscaper makes user input match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

const (
	documentColumns = "id, title, number, type, status, content, created_by, responsible, student_ref, deadline, version, created_at, updated_at"
	approvalColumns = "id, document_id, approver_id, sequence, status, comment, created_at, resolved_at"
)

// DocumentRepository is the PostgreSQL document store. Each document together with its
// approvals is mutated only through Update or Delete, which lock the document row.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a DRAFT document and its ordered file references.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) (err error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt
	if doc.Version == 0 {
		doc.Version = 1
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertDocument = `INSERT INTO documents (id, title, number, type, status, content, created_by, responsible, student_ref, deadline, version, created_at, updated_at)
VALUES (:id, :title, :number, :type, :status, :content, :created_by, :responsible, :student_ref, :deadline, :version, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertDocument, doc); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	for i, ref := range doc.FileRefs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO document_files (document_id, position, file_ref) VALUES ($1, $2, $3)`, doc.ID, i, ref); err != nil {
			return fmt.Errorf("insert document file: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create document: %w", err)
	}
	return nil
}

// FindByID loads the aggregate without locking. sql.ErrNoRows is returned for unknown ids.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.DocumentAggregate, error) {
	return loadAggregate(ctx, r.db, id, false)
}

// ListApprovals returns the approvals of a document ordered by sequence.
func (r *DocumentRepository) ListApprovals(ctx context.Context, documentID string) ([]models.Approval, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, documentID); err != nil {
		return nil, fmt.Errorf("check document: %w", err)
	}
	if !exists {
		return nil, sql.ErrNoRows
	}
	return selectApprovals(ctx, r.db, documentID)
}

// List returns documents matching the filter plus the total match count.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.Search != "" {
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(filter.Search))+"%")
		conditions = append(conditions, fmt.Sprintf(`(LOWER(d.title) LIKE $%d ESCAPE '\' OR LOWER(COALESCE(d.number, '')) LIKE $%d ESCAPE '\')`, len(args), len(args)))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("d.status = ANY($%d)", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conditions = append(conditions, fmt.Sprintf("d.type = $%d", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conditions = append(conditions, fmt.Sprintf("d.created_by = $%d", len(args)))
	}
	if filter.PendingFor != "" {
		args = append(args, filter.PendingFor)
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM approvals a WHERE a.document_id = d.id AND a.approver_id = $%d AND a.status = 'PENDING')", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT d.id, d.title, d.number, d.type, d.status, d.content, d.created_by, d.responsible, d.student_ref, d.deadline, d.version, d.created_at, d.updated_at
FROM documents d WHERE %s ORDER BY d.created_at DESC, d.id LIMIT %d OFFSET %d`, where, size, offset)

	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) FROM documents d WHERE %s", where), args...); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	if len(docs) > 0 {
		if err := r.attachFiles(ctx, docs); err != nil {
			return nil, 0, err
		}
	}
	return docs, total, nil
}

func (r *DocumentRepository) attachFiles(ctx context.Context, docs []models.Document) error {
	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
		docs[i].FileRefs = []string{}
	}
	var rows []struct {
		DocumentID string `db:"document_id"`
		FileRef    string `db:"file_ref"`
	}
	const query = `SELECT document_id, file_ref FROM document_files WHERE document_id = ANY($1) ORDER BY document_id, position`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list document files: %w", err)
	}
	index := make(map[string]int, len(docs))
	for i := range docs {
		index[docs[i].ID] = i
	}
	for _, row := range rows {
		if i, ok := index[row.DocumentID]; ok {
			docs[i].FileRefs = append(docs[i].FileRefs, row.FileRef)
		}
	}
	return nil
}

// Update runs mutate against the locked aggregate and persists the result in the same
// transaction. The document version is compared and bumped; a mismatch yields
// ErrConcurrencyConflict. Errors returned by mutate abort the transaction unchanged.
func (r *DocumentRepository) Update(ctx context.Context, id string, mutate func(*models.DocumentAggregate) error) (agg *models.DocumentAggregate, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin document update: %w", conflictOr(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := loadAggregate(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	before := current.Clone()
	if err = mutate(current); err != nil {
		return nil, err
	}

	current.Document.ID = before.Document.ID
	current.Document.Version = before.Document.Version
	if current.Document.UpdatedAt.IsZero() || !current.Document.UpdatedAt.After(before.Document.UpdatedAt) {
		current.Document.UpdatedAt = time.Now().UTC()
	}

	const updateDocument = `UPDATE documents SET title = :title, number = :number, type = :type, status = :status, content = :content,
responsible = :responsible, student_ref = :student_ref, deadline = :deadline, updated_at = :updated_at, version = version + 1
WHERE id = :id AND version = :version`
	res, err := tx.NamedExecContext(ctx, updateDocument, &current.Document)
	if err != nil {
		return nil, fmt.Errorf("update document: %w", conflictOr(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update document rows: %w", err)
	}
	if affected == 0 {
		err = appErrors.ErrConcurrencyConflict
		return nil, err
	}

	if err = saveApprovals(ctx, tx, before.Approvals, current.Approvals); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit document update: %w", conflictOr(err))
	}
	current.Document.Version++
	return current, nil
}

// Delete removes the document after guard approves the locked aggregate.
func (r *DocumentRepository) Delete(ctx context.Context, id string, guard func(*models.DocumentAggregate) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin document delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := loadAggregate(ctx, tx, id, true)
	if err != nil {
		return err
	}
	if guard != nil {
		if err = guard(current); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit document delete: %w", err)
	}
	return nil
}

func loadAggregate(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (*models.DocumentAggregate, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	var doc models.Document
	if err := sqlx.GetContext(ctx, q, &doc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("load document: %w", conflictOr(err))
	}

	refs := []string{}
	if err := sqlx.SelectContext(ctx, q, &refs, `SELECT file_ref FROM document_files WHERE document_id = $1 ORDER BY position`, id); err != nil {
		return nil, fmt.Errorf("load document files: %w", err)
	}
	doc.FileRefs = refs

	approvals, err := selectApprovals(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &models.DocumentAggregate{Document: doc, Approvals: approvals}, nil
}

func selectApprovals(ctx context.Context, q sqlx.QueryerContext, documentID string) ([]models.Approval, error) {
	approvals := []models.Approval{}
	query := "SELECT " + approvalColumns + " FROM approvals WHERE document_id = $1 ORDER BY sequence, created_at"
	if err := sqlx.SelectContext(ctx, q, &approvals, query, documentID); err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	return approvals, nil
}

func saveApprovals(ctx context.Context, tx *sqlx.Tx, before, after []models.Approval) error {
	previous := make(map[string]models.Approval, len(before))
	for _, a := range before {
		previous[a.ID] = a
	}
	const insertApproval = `INSERT INTO approvals (id, document_id, approver_id, sequence, status, comment, created_at, resolved_at)
VALUES (:id, :document_id, :approver_id, :sequence, :status, :comment, :created_at, :resolved_at)`
	const updateApproval = `UPDATE approvals SET status = :status, comment = :comment, resolved_at = :resolved_at WHERE id = :id`

	for i := range after {
		a := &after[i]
		old, known := previous[a.ID]
		switch {
		case !known:
			if a.CreatedAt.IsZero() {
				a.CreatedAt = time.Now().UTC()
			}
			if _, err := tx.NamedExecContext(ctx, insertApproval, a); err != nil {
				return fmt.Errorf("insert approval: %w", conflictOr(err))
			}
		case approvalChanged(old, *a):
			if _, err := tx.NamedExecContext(ctx, updateApproval, a); err != nil {
				return fmt.Errorf("update approval: %w", conflictOr(err))
			}
		}
	}
	return nil
}

func approvalChanged(a, b models.Approval) bool {
	if a.Status != b.Status {
		return true
	}
	if (a.Comment == nil) != (b.Comment == nil) || (a.Comment != nil && *a.Comment != *b.Comment) {
		return true
	}
	if (a.ResolvedAt == nil) != (b.ResolvedAt == nil) || (a.ResolvedAt != nil && !a.ResolvedAt.Equal(*b.ResolvedAt)) {
		return true
	}
	return false
}

// conflictOr maps PostgreSQL serialization and deadlock failures to ErrConcurrencyConflict
// so the workflow service can retry them.
func conflictOr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return appErrors.Wrap(err, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message)
		}
	}
	return err
}
