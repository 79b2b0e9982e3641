package knmt

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"porky.com/knmt/internal/envelope"
)

//go:embed record.schema.json
var recordSchema string

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
	})
	return schema, schemaErr
}

// FieldError annotates one record field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks a prepared payload. Missing key fields are reported with
// the same message the form uses; every other rule comes from the schema.
func Validate(r Record) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile record schema: %w", err)
	}
	doc := make(map[string]any, len(fields))
	for _, f := range fields {
		v := *f.get(&r)
		if v == "" && !isKeyField(f.name) {
			continue
		}
		doc[f.name] = v
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate record: %w", err)
	}

	seen := make(map[string]bool)
	var out []FieldError
	add := func(name, msg string) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, FieldError{Field: name, Message: msg})
	}
	for _, name := range []string{"kunnr", "vkorg", "kdmat"} {
		v, _ := r.Value(name)
		if strings.TrimSpace(v) == "" {
			add(name, "is required")
		}
	}
	for _, re := range result.Errors() {
		add(re.Field(), re.Description())
	}
	if len(out) == 0 {
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool { return fieldIndex(out[i].Field) < fieldIndex(out[j].Field) })
	return &ValidationError{Fields: out}
}

func isKeyField(name string) bool {
	switch name {
	case "kunnr", "vkorg", "kdmat":
		return true
	}
	return false
}

func fieldIndex(name string) int {
	for i, f := range fields {
		if f.name == name {
			return i
		}
	}
	return len(fields)
}

// MapFieldErrors turns backend error details into field annotations.
// Targets that are not record fields are reported under "" so the caller
// can show them as a general message.
func MapFieldErrors(be *envelope.BackendError) []FieldError {
	if be == nil {
		return nil
	}
	var out []FieldError
	for _, d := range be.Details {
		name := ""
		target := strings.TrimSpace(d.Target)
		// Targets may be qualified, e.g. "ZCSD_ZKNMTRequest/zzean11".
		if i := strings.LastIndexAny(target, "/."); i >= 0 {
			target = target[i+1:]
		}
		if f, ok := lookupField(target); ok {
			name = f.name
		}
		out = append(out, FieldError{Field: name, Message: d.Message})
	}
	if len(out) == 0 && be.Message != "" {
		out = append(out, FieldError{Message: be.Message})
	}
	return out
}
