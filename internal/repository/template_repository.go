package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-edo-api/internal/models"
)

// TemplateRepository manages persistence for document templates.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs the repository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// List returns templates matching the filter ordered by name.
func (r *TemplateRepository) List(ctx context.Context, filter models.TemplateFilter) ([]models.Template, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.DefaultOnly {
		conditions = append(conditions, "is_default = TRUE")
	}
	query := fmt.Sprintf(`SELECT id, name, type, content, is_default, created_at, updated_at FROM templates WHERE %s ORDER BY name ASC, id ASC`, strings.Join(conditions, " AND "))

	templates := []models.Template{}
	if err := r.db.SelectContext(ctx, &templates, query, args...); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// FindByID fetches a template; sql.ErrNoRows when absent.
func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*models.Template, error) {
	const query = `SELECT id, name, type, content, is_default, created_at, updated_at FROM templates WHERE id = $1`
	var tpl models.Template
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Create inserts a template.
func (r *TemplateRepository) Create(ctx context.Context, tpl *models.Template) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	const query = `INSERT INTO templates (id, name, type, content, is_default, created_at, updated_at)
VALUES (:id, :name, :type, :content, :is_default, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tpl); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// Update overwrites a template; sql.ErrNoRows when absent.
func (r *TemplateRepository) Update(ctx context.Context, tpl *models.Template) error {
	tpl.UpdatedAt = time.Now().UTC()
	const query = `UPDATE templates SET name = :name, type = :type, content = :content, is_default = :is_default, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, tpl)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return requireAffected(res, "update template")
}

// Delete removes a template; sql.ErrNoRows when absent.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireAffected(res, "delete template")
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
