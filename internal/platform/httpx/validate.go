package httpx

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/money"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("money", validateMoney)
	_ = validate.RegisterValidation("iana_tz", validateTimezone)
}

// validateMoney accepts an empty string or a non-negative decimal amount.
func validateMoney(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" {
		return true
	}
	_, err := money.Parse(s)
	return err == nil
}

func validateTimezone(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" {
		return true
	}
	_, err := time.LoadLocation(s)
	return err == nil
}

// Validate checks v's struct tags and reports the offending fields as an invalid error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if stderrors.As(err, &invalid) {
		// not a struct; nothing to validate.
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.Wrap("httpx.Validate", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldMessage(fe))
	}
	return errors.New(errors.EInvalid, "invalid fields: "+strings.Join(fields, ", "))
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	case "money":
		return name + " must be a non-negative amount"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}
