package polymarketapi

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// SchemaError reports a payload that decoded as JSON but does not match the
// expected shape. Index is -1 for envelope level problems.
type SchemaError struct {
	Kind   string // "markets" or "trades"
	Index  int
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid %s payload: %s %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s payload: item %d: %s %s", e.Kind, e.Index, e.Field, e.Reason)
}

// payloadValidator checks decoded venue responses against their validate
// tags. Field names in errors are the JSON names.
var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	}); err != nil {
		panic(err)
	}
	return v
}

var indexSuffix = regexp.MustCompile(`\[\d+\]`)

// schemaErrorFrom turns the first validation failure into a SchemaError,
// e.g. "gammaMarketsResponse.data[3].outcomes[0].token_id" becomes item 3,
// field "outcomes.token_id".
func schemaErrorFrom(kind string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate %s: %w", kind, err)
	}
	fe := verrs[0]

	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}

	index := -1
	if rest, ok := strings.CutPrefix(path, "data["); ok {
		if n, tail, ok := strings.Cut(rest, "]"); ok {
			if i, err := strconv.Atoi(n); err == nil {
				index = i
			}
			path = strings.TrimPrefix(tail, ".")
		}
	}

	return &SchemaError{
		Kind:   kind,
		Index:  index,
		Field:  indexSuffix.ReplaceAllString(path, ""),
		Reason: validationReason(fe.Tag(), index),
	}
}

func validationReason(tag string, index int) string {
	switch tag {
	case "required", "notblank":
		if index < 0 {
			return "is missing"
		}
		return "is empty"
	case "gte", "finite":
		return "must be a non-negative number"
	default:
		return "failed " + tag
	}
}
