package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/univ-portal-api/internal/models"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

// NewValidator returns a validator that knows the portal enumerations and reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("request_type", func(fl validator.FieldLevel) bool {
		return models.RequestType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("request_status", func(fl validator.FieldLevel) bool {
		return models.RequestStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("visit_status", func(fl validator.FieldLevel) bool {
		return models.VisitStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("attachment_type", func(fl validator.FieldLevel) bool {
		return models.AttachmentType(fl.Field().String()).Valid()
	})
	return v
}

// validatePayload runs struct validation and converts failures into per-field details.
func validatePayload(v *validator.Validate, payload interface{}) error {
	err := v.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return appErrors.FieldErrors("invalid payload", fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "uuid":
		return "must be a valid identifier"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "request_type", "request_status", "visit_status", "attachment_type":
		return "has an unsupported value"
	}
	return "is invalid"
}
