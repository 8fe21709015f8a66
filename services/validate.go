package services

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator"
)

var validate = validator.New()

// validateStruct runs the struct's `validate` tags and reports failures as ErrInvalidInput.
func validateStruct(input interface{}) error {
	if err := validate.Struct(input); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
