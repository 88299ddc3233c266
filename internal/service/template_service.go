package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-edo-api/internal/dto"
	"github.com/noah-isme/sma-edo-api/internal/models"
	appErrors "github.com/noah-isme/sma-edo-api/pkg/errors"
	applog "github.com/noah-isme/sma-edo-api/pkg/logger"
)

const templateCachePattern = "templates:*"

type templateRepository interface {
	List(ctx context.Context, filter models.TemplateFilter) ([]models.Template, error)
	FindByID(ctx context.Context, id string) (*models.Template, error)
	Create(ctx context.Context, tpl *models.Template) error
	Update(ctx context.Context, tpl *models.Template) error
	Delete(ctx context.Context, id string) error
}

// TemplateService is the template registry. Listings are cached and invalidated on
// every write.
type TemplateService struct {
	repo      templateRepository
	cache     *CacheService
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTemplateService constructs the service. cache may be nil.
func NewTemplateService(repo templateRepository, cache *CacheService, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *TemplateService {
	if validate == nil {
		validate = validator.New()
	}
	mustRegisterDocumentValidations(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns templates, optionally filtered by type. The flag reports a cache hit.
func (s *TemplateService) List(ctx context.Context, query dto.TemplateQuery) ([]models.Template, bool, error) {
	filter, err := templateFilter(query)
	if err != nil {
		return nil, false, err
	}
	return s.list(ctx, filter)
}

// Defaults returns exactly the templates flagged isDefault, optionally for one type.
func (s *TemplateService) Defaults(ctx context.Context, query dto.TemplateQuery) ([]models.Template, bool, error) {
	filter, err := templateFilter(query)
	if err != nil {
		return nil, false, err
	}
	filter.DefaultOnly = true
	return s.list(ctx, filter)
}

// ResolveDefault returns the single default template for docType.
func (s *TemplateService) ResolveDefault(ctx context.Context, docType models.DocumentType) (*models.Template, error) {
	defaults, _, err := s.list(ctx, models.TemplateFilter{Type: docType, DefaultOnly: true})
	if err != nil {
		return nil, err
	}
	switch len(defaults) {
	case 1:
		return &defaults[0], nil
	case 0:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content is required: no default template for %s", docType))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content is required: %d default templates for %s, choose one", len(defaults), docType))
	}
}

func (s *TemplateService) list(ctx context.Context, filter models.TemplateFilter) ([]models.Template, bool, error) {
	return Remember(ctx, s.cache, templateCacheKey(filter), s.cacheTTL, func(ctx context.Context) ([]models.Template, error) {
		items, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list templates")
		}
		return items, nil
	})
}

// Get returns a template by id.
func (s *TemplateService) Get(ctx context.Context, id string) (*models.Template, error) {
	if !validID(id) {
		return nil, templateNotFound()
	}
	tpl, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, templateNotFound()
		}
		return nil, appErrors.Internal(err, "failed to get template")
	}
	return tpl, nil
}

// Create registers a template.
func (s *TemplateService) Create(ctx context.Context, req dto.TemplateRequest) (*models.Template, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	t, _ := models.ParseDocumentType(req.Type)
	tpl := &models.Template{
		Name:      strings.TrimSpace(req.Name),
		Type:      t,
		Content:   req.Content,
		IsDefault: req.IsDefault,
	}
	if tpl.Name == "" || strings.TrimSpace(tpl.Content) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "name and content are required")
	}
	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, appErrors.Internal(err, "failed to create template")
	}
	s.invalidate(ctx)
	applog.FromContext(ctx, s.logger).Info("template created", zap.String("template_id", tpl.ID), zap.String("type", string(tpl.Type)), zap.Bool("default", tpl.IsDefault))
	return tpl, nil
}

// Update patches a template.
func (s *TemplateService) Update(ctx context.Context, id string, req dto.UpdateTemplateRequest) (*models.Template, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		tpl.Name = strings.TrimSpace(*req.Name)
	}
	if req.Type != nil {
		tpl.Type, _ = models.ParseDocumentType(*req.Type)
	}
	if req.Content != nil {
		tpl.Content = *req.Content
	}
	if req.IsDefault != nil {
		tpl.IsDefault = *req.IsDefault
	}
	if tpl.Name == "" || strings.TrimSpace(tpl.Content) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "name and content must not be blank")
	}
	if err := s.repo.Update(ctx, tpl); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, templateNotFound()
		}
		return nil, appErrors.Internal(err, "failed to update template")
	}
	s.invalidate(ctx)
	return tpl, nil
}

// Delete removes a template. Documents created from it are unaffected.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return templateNotFound()
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return templateNotFound()
		}
		return appErrors.Internal(err, "failed to delete template")
	}
	s.invalidate(ctx)
	return nil
}

func (s *TemplateService) invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, templateCachePattern)
}

func templateFilter(query dto.TemplateQuery) (models.TemplateFilter, error) {
	filter := models.TemplateFilter{}
	if query.Type != "" {
		t, ok := models.ParseDocumentType(query.Type)
		if !ok {
			return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown document type %q", query.Type))
		}
		filter.Type = t
	}
	return filter, nil
}

func templateCacheKey(filter models.TemplateFilter) string {
	scope := "all"
	if filter.Type != "" {
		scope = strings.ToLower(string(filter.Type))
	}
	if filter.DefaultOnly {
		return "templates:defaults:" + scope
	}
	return "templates:list:" + scope
}

func templateNotFound() error {
	return appErrors.Clone(appErrors.ErrNotFound, "template not found")
}
