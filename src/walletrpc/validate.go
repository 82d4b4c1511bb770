package walletrpc

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	addressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hexPattern      = regexp.MustCompile(`^0x[0-9a-fA-F]*$`)
	quantityPattern = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)
	indexPattern    = regexp.MustCompile(`\[([^\]]*)\]`)
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the validator used for RPC params, with the address, hex
// and quantity tags registered. Field names in errors are JSON names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
		if err := RegisterTags(v); err != nil {
			panic(err)
		}
		validate = v
	})
	return validate
}

// RegisterTags adds the address, hex and quantity tags to v. The HTTP layer
// uses it on gin's binding validator.
func RegisterTags(v *validator.Validate) error {
	tags := map[string]*regexp.Regexp{
		"address":  addressPattern,
		"hex":      hexPattern,
		"quantity": quantityPattern,
	}
	for tag, pattern := range tags {
		if err := v.RegisterValidation(tag, matchString(pattern)); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

func matchString(pattern *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.String {
			return false
		}
		return pattern.MatchString(field.String())
	}
}

// fieldPath turns a validator namespace such as
// "sendCallsParams.0.calls[1].to" into "params.0.calls.1.to".
func fieldPath(namespace string) string {
	path := indexPattern.ReplaceAllString(namespace, ".$1")
	if i := strings.Index(path, "."); i >= 0 {
		return "params" + path[i:]
	}
	return "params"
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Expected required property"
	case "address":
		return "Expected address"
	case "hex":
		return "Expected hex string"
	case "quantity":
		return "Expected hex quantity"
	case "oneof":
		return fmt.Sprintf("Expected one of [%s]", fe.Param())
	case "min":
		return fmt.Sprintf("Expected at least %s items", fe.Param())
	case "max":
		return fmt.Sprintf("Expected at most %s", fe.Param())
	default:
		return fmt.Sprintf("Failed %q validation", fe.Tag())
	}
}

// invalidParamsMessage formats a params failure for wallet clients. The
// Value line is left out when there is nothing to show.
func invalidParamsMessage(reason, path string, value interface{}) string {
	lines := []string{reason, "", "Path: " + path}
	if v := valueJSON(value); v != "" {
		lines = append(lines, "Value: "+v)
	}
	return strings.Join(lines, "\n")
}

func valueJSON(value interface{}) string {
	if value == nil {
		return ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return ""
		}
	}
	if rv.IsZero() {
		return ""
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		if rv.Len() == 0 {
			return ""
		}
	}
	out, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(out)
}
