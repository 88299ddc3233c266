package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-edo-api/internal/models"
)

// CommentRepository appends and lists document comments. It never takes the document lock.
type CommentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository constructs the repository.
func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts the comment only when its document exists; sql.ErrNoRows otherwise.
func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO comments (id, document_id, author_id, content, created_at)
SELECT $1::uuid, $2::uuid, $3, $4, $5::timestamptz
WHERE EXISTS (SELECT 1 FROM documents WHERE id = $2::uuid)`
	res, err := r.db.ExecContext(ctx, query, comment.ID, comment.DocumentID, comment.AuthorID, comment.Content, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create comment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByDocument returns comments in creation order.
func (r *CommentRepository) ListByDocument(ctx context.Context, documentID string) ([]models.Comment, error) {
	comments := []models.Comment{}
	const query = `SELECT id, document_id, author_id, content, created_at FROM comments WHERE document_id = $1 ORDER BY created_at ASC, id ASC`
	if err := r.db.SelectContext(ctx, &comments, query, documentID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
