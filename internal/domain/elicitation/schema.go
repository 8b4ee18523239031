package elicitation

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"unicode/utf8"
)

// Schema is the subset of JSON Schema accepted for structured answers.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	MinLength   *int               `json:"minLength,omitempty"`
	MaxLength   *int               `json:"maxLength,omitempty"`
	Pattern     string             `json:"pattern,omitempty"`
}

// ValidateResponse checks value against schema and returns one message per
// violation. A nil schema accepts anything.
func ValidateResponse(value any, schema *Schema) []string {
	if schema == nil {
		return nil
	}
	var errs []string
	validate(value, schema, "response", &errs)
	return errs
}

func validate(v any, s *Schema, path string, errs *[]string) {
	add := func(format string, args ...any) {
		*errs = append(*errs, path+": "+fmt.Sprintf(format, args...))
	}

	switch s.Type {
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			add("expected object")
			return
		}
		for _, name := range s.Required {
			if val, present := obj[name]; !present || val == nil {
				*errs = append(*errs, path+"."+name+": is required")
			}
		}
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if val, present := obj[name]; present && val != nil {
				validate(val, s.Properties[name], path+"."+name, errs)
			}
		}
	case "array":
		arr, ok := v.([]any)
		if !ok {
			add("expected array")
			return
		}
		if s.Items != nil {
			for i, item := range arr {
				validate(item, s.Items, fmt.Sprintf("%s[%d]", path, i), errs)
			}
		}
	case "string":
		str, ok := v.(string)
		if !ok {
			add("expected string")
			return
		}
		n := utf8.RuneCountInString(str)
		if s.MinLength != nil && n < *s.MinLength {
			add("length %d is shorter than %d", n, *s.MinLength)
		}
		if s.MaxLength != nil && n > *s.MaxLength {
			add("length %d is longer than %d", n, *s.MaxLength)
		}
		if s.Pattern != "" {
			re, err := regexp.Compile(s.Pattern)
			if err != nil {
				add("invalid pattern %q", s.Pattern)
			} else if !re.MatchString(str) {
				add("does not match pattern %q", s.Pattern)
			}
		}
	case "number", "integer":
		f, ok := toFloat(v)
		if !ok {
			add("expected %s", s.Type)
			return
		}
		if s.Type == "integer" && f != math.Trunc(f) {
			add("expected integer")
		}
		if s.Minimum != nil && f < *s.Minimum {
			add("%v is less than minimum %v", f, *s.Minimum)
		}
		if s.Maximum != nil && f > *s.Maximum {
			add("%v is greater than maximum %v", f, *s.Maximum)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			add("expected boolean")
			return
		}
	}

	if len(s.Enum) > 0 && !slices.ContainsFunc(s.Enum, func(e any) bool { return enumEqual(e, v) }) {
		add("value %v is not one of %v", v, s.Enum)
	}
}

func enumEqual(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// ValidateAnswer checks an accepted answer against the request's explicit
// schema, or the implicit shape of its question type when none is set.
func ValidateAnswer(r *Request, answer any) []string {
	if r.ResponseSchema != nil {
		return ValidateResponse(answer, r.ResponseSchema)
	}
	switch r.QuestionType {
	case TypeYesNo, TypeConfirmation:
		return ValidateResponse(answer, &Schema{Type: "boolean"})
	case TypeNumeric:
		return ValidateResponse(answer, &Schema{Type: "number"})
	case TypeMultipleChoice:
		enum := make([]any, 0, len(r.Options))
		for _, o := range r.Options {
			enum = append(enum, o.ID)
		}
		if _, isList := answer.([]any); isList {
			return ValidateResponse(answer, &Schema{Type: "array", Items: &Schema{Type: "string", Enum: enum}})
		}
		return ValidateResponse(answer, &Schema{Type: "string", Enum: enum})
	}
	return nil
}
