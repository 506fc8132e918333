package tables

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks v against its validate struct tags.
func Validate(v any) error { return validate.Struct(v) }

// FailedFields names the struct fields a Validate error complained about.
func FailedFields(err error) map[string]bool {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make(map[string]bool, len(ve))
	for _, fe := range ve {
		out[fe.StructField()] = true
	}
	return out
}
