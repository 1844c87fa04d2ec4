// Package validation checks request and config structs and reports failures as field errors.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Aidin1998/amlscreen/pkg/errors"
)

// Validator wraps go-playground/validator with JSON field names
type Validator struct {
	validate *validator.Validate
}

// New creates a validator reading rules from the given struct tag ("binding" or "validate").
func New(tagName string) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName(tagName)
	v.RegisterTagNameFunc(fieldName)
	return &Validator{validate: v}
}

// Struct validates s. Failures come back as a Validation error listing every field.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	return FromValidator(err)
}

// FromValidator converts validator errors, including those surfaced by gin binding.
func FromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Validation.Explain("invalid request: %s", err.Error())
	}

	fields := make([]errors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, errors.NewFieldError(fe.Tag(), fieldPath(fe), message(fe)))
	}
	return errors.Validation.Explain("request validation failed").WithFields(fields)
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "mapstructure"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// fieldPath drops the root struct name: "ScreeningRequest.personal_info.country" becomes "personal_info.country".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "iso3166_1_alpha2":
		return "must be an ISO 3166-1 alpha-2 country code"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// StructValidator adapts v to gin's binding.StructValidator so bound requests report the
// same field errors as direct validation.
func (v *Validator) StructValidator() *GinValidator {
	return &GinValidator{v: v}
}

type GinValidator struct {
	v *Validator
}

// ValidateStruct validates structs, pointers to structs and slices of them. Other values pass.
func (g *GinValidator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	val := reflect.ValueOf(obj)
	for val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}
	switch val.Kind() {
	case reflect.Struct:
		return g.v.Struct(val.Interface())
	case reflect.Slice, reflect.Array:
		for i := 0; i < val.Len(); i++ {
			if err := g.ValidateStruct(val.Index(i).Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *GinValidator) Engine() any {
	return g.v.validate
}
