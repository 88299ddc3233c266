package dto

// TemplateRequest is the body for creating a template.
type TemplateRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	Type      string `json:"type" validate:"required,doctype"`
	Content   string `json:"content" validate:"required"`
	IsDefault bool   `json:"isDefault"`
}

// UpdateTemplateRequest patches a template.
type UpdateTemplateRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=200"`
	Type      *string `json:"type" validate:"omitempty,doctype"`
	Content   *string `json:"content" validate:"omitempty,min=1"`
	IsDefault *bool   `json:"isDefault"`
}

// TemplateQuery filters template listings.
type TemplateQuery struct {
	Type string `form:"type"`
}
