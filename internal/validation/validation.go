package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"delivery-backend/internal/apperr"
)

var validate = validator.New()

// Struct validates s against its `validate` tags and reports failures as a
// single validation error listing each offending field.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Validation("invalid payload: %v", err)
	}

	fields := make(map[string]string, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := describe(fe)
		fields[fe.Namespace()] = msg
		msgs = append(msgs, fmt.Sprintf("%s %s", fe.Namespace(), msg))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; ")).With("fields", fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s entries", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "email":
		return "must be a valid email"
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}
