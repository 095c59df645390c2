package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput is the sentinel every ValidationError unwraps to.
var ErrInvalidInput = errors.New("invalid input")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Invalid builds a ValidationError for checks the struct tags cannot express.
func Invalid(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// Validate runs the struct tag rules on an input struct and reports the first
// failing field.
func Validate(input any) error {
	err := instance().Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	return &ValidationError{Field: fieldPath(fe.Namespace()), Message: describe(fe)}
}

// MoneyScale is the number of decimal places money columns store.
const MoneyScale = 2

// RequireMoneyScale rejects amounts that would be rounded when stored.
func RequireMoneyScale(field string, value decimal.Decimal) error {
	if !value.Equal(value.Round(MoneyScale)) {
		return Invalid(field, "must have at most 2 decimal places")
	}
	return nil
}

// RequirePositive rejects zero, negative and over-precise money amounts.
func RequirePositive(field string, value decimal.Decimal) error {
	if !value.IsPositive() {
		return Invalid(field, "must be greater than 0")
	}
	return RequireMoneyScale(field, value)
}

// RequireNonNegative rejects negative and over-precise money amounts.
func RequireNonNegative(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return Invalid(field, "must not be negative")
	}
	return RequireMoneyScale(field, value)
}

func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "datetime":
		return "must be a date in " + fe.Param() + " format"
	default:
		return "is invalid"
	}
}
