package governance

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their serialized name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"koanf", "json"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ValidationError lists the fields of a request or configuration that failed
// validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, len(keys))
	for i, k := range keys {
		msgs[i] = e.Fields[k]
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ValidateStruct checks s against its validate tags.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, fe.Param())
		case "datetime":
			fields[field] = fmt.Sprintf("%s must match %s", field, fe.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be at least %s", field, fe.Param())
		case "hostname_port":
			fields[field] = fmt.Sprintf("%s must be host:port", field)
		default:
			fields[field] = fmt.Sprintf("%s failed on the '%s' rule", field, fe.Tag())
		}
	}
	return &ValidationError{Fields: fields}
}
