package models

import "time"

// Template is a reusable (type, content) pair offered at document creation.
type Template struct {
	ID        string       `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Type      DocumentType `db:"type" json:"type"`
	Content   string       `db:"content" json:"content"`
	IsDefault bool         `db:"is_default" json:"isDefault"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time    `db:"updated_at" json:"updatedAt"`
}

// TemplateFilter narrows template listings.
type TemplateFilter struct {
	Type        DocumentType
	DefaultOnly bool
}
