package http

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/chetannagda/payswift-backend/internal/domain"
)

var (
	upiPattern  = regexp.MustCompile(`^[a-zA-Z0-9._-]{2,256}@[a-zA-Z][a-zA-Z0-9]{1,63}$`)
	ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json field names so errors line up with the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Numeric tags (gt, lte) compare decimals as floats; exact checks happen in the services.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("upi", func(fl validator.FieldLevel) bool {
		return upiPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("ifsc", func(fl validator.FieldLevel) bool {
		return ifscPattern.MatchString(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
	})
	return v
}

// fieldErrors carries per-field messages and reads as a validation failure.
type fieldErrors struct {
	fields map[string]string
}

func (e *fieldErrors) Error() string {
	names := make([]string, 0, len(e.fields))
	for name := range e.fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.fields[name])
	}
	return strings.Join(parts, "; ")
}

func (e *fieldErrors) Unwrap() error { return domain.ErrValidation }

// bind parses the JSON body into dst and runs its validate tags.
// normalizer lets a request canonicalise fields (case, whitespace) before
// the validate tags run.
type normalizer interface {
	normalize()
}

func bind(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return domain.Invalid("body", "invalid request format")
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	return check(dst)
}

func check(dst interface{}) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.Invalid("body", err.Error())
	}

	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = message(fe)
	}
	return &fieldErrors{fields: fields}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "numeric":
		return "must contain only digits"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be an E.164 phone number like +919876543210"
	case "upi":
		return "must look like name@bank"
	case "ifsc":
		return "must be an 11 character IFSC code like HDFC0001234"
	case "eth_addr":
		return "must be a 0x-prefixed 40 hex digit address"
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "alphanum":
		return "must contain only letters and digits"
	default:
		return "is invalid"
	}
}
