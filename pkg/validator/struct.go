package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ContactPhoneTag is the struct tag that checks a field with PhoneValidator
const ContactPhoneTag = "contact_phone"

var (
	once     sync.Once
	instance *validator.Validate
)

// Struct returns the shared struct validator with the custom tags registered.
// Field names in errors are taken from json tags.
func Struct() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		phones := NewPhoneValidator()
		_ = v.RegisterValidation(ContactPhoneTag, func(fl validator.FieldLevel) bool {
			return phones.IsValid(fl.Field().String())
		})
		instance = v
	})
	return instance
}

// FieldError is one failed field check
type FieldError struct {
	Field string
	Tag   string
}

// ValidateStruct validates s and flattens validation failures into FieldErrors,
// in struct field order. Any other error is returned as is.
func ValidateStruct(s interface{}) ([]FieldError, error) {
	err := Struct().Struct(s)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Tag: fe.Tag()})
	}
	return out, nil
}

// Describe renders a failed tag as a short message
func (f FieldError) Describe() string {
	switch f.Tag {
	case "required":
		return f.Field + " is required"
	case "email":
		return f.Field + " must be a valid e-mail address"
	case ContactPhoneTag:
		return f.Field + " must be a valid phone number"
	case "max":
		return f.Field + " is too long"
	default:
		return f.Field + " is invalid"
	}
}
