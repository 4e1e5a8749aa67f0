package utils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs struct-tag validation and folds the first failure into
// the ValidationError taxonomy so callers never see validator internals.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
		return &ValidationError{Field: ve[0].Field(), Reason: "failed '" + ve[0].Tag() + "' check"}
	}
	return err
}
