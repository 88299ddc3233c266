package service

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-edo-api/internal/models"
	appErrors "github.com/noah-isme/sma-edo-api/pkg/errors"
)

// NewValidator returns a validator with the document catalog tags registered.
func NewValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := registerDocumentValidations(v); err != nil {
		return nil, err
	}
	return v, nil
}

func registerDocumentValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("doctype", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseDocumentType(fl.Field().String())
		return ok
	}); err != nil {
		return fmt.Errorf("register doctype validation: %w", err)
	}
	return nil
}

// mustRegisterDocumentValidations panics when the tags cannot be registered, since every
// payload carrying them would otherwise panic at validation time.
func mustRegisterDocumentValidations(v *validator.Validate) {
	if err := registerDocumentValidations(v); err != nil {
		panic(err)
	}
}

func validationError(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}
