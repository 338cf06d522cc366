// Package schema builds and evaluates JSON schemas for hardware properties.
//
// Drivers declare their fields as small schema fragments; the service layer
// composes those fragments into one object schema per hardware type and
// validates enrollment and update payloads against it.
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/chameleoncloud/doni/models"
)

// Fragment is a JSON schema document or sub-schema.
type Fragment = map[string]any

// String is a plain string schema.
func String() Fragment {
	return Fragment{"type": "string"}
}

// Integer is a plain integer schema.
func Integer() Fragment {
	return Fragment{"type": "integer"}
}

// Number is a plain number schema.
func Number() Fragment {
	return Fragment{"type": "number"}
}

// Boolean is a plain boolean schema.
func Boolean() Fragment {
	return Fragment{"type": "boolean"}
}

// UUID matches the canonical 8-4-4-4-12 form.
func UUID() Fragment {
	return Fragment{
		"type":    "string",
		"pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$",
	}
}

// Enum restricts a value to the given set.
func Enum(values ...any) Fragment {
	return Fragment{"enum": values}
}

// Array matches a list whose items all satisfy the given fragment.
func Array(items Fragment) Fragment {
	return Fragment{"type": "array", "items": items}
}

// ArrayMin is Array with a minimum item count.
func ArrayMin(items Fragment, minItems int) Fragment {
	return Fragment{"type": "array", "items": items, "minItems": minItems}
}

// HostOrIP matches a hostname, an IPv4 address, or an IPv6 address.
func HostOrIP() Fragment {
	return Fragment{
		"type": "string",
		"anyOf": []any{
			Fragment{"format": "hostname"},
			Fragment{"format": "ipv4"},
			Fragment{"format": "ipv6"},
		},
	}
}

// Email matches an email address.
func Email() Fragment {
	return Fragment{"type": "string", "format": "email"}
}

// PortRange matches a TCP/UDP port number within [min, max].
func PortRange(min, max int) Fragment {
	return Fragment{"type": "integer", "minimum": min, "maximum": max}
}

// Object composes an object schema from named property fragments and a list
// of required property names. Unknown properties are allowed so that worker
// drivers can stash extra data without tripping validation.
func Object(properties map[string]Fragment, required []string) Fragment {
	doc := Fragment{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, name := range required {
			req[i] = name
		}
		doc["required"] = req
	}
	return doc
}

// Validator evaluates payloads against a compiled schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the given schema document.
func NewValidator(doc Fragment) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks payload against the schema. Violations are reported as a
// single error wrapping models.ErrInvalidParameter, with every failing path
// listed.
func (v *Validator) Validate(payload any) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("failed to evaluate schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		msgs = append(msgs, resultErr.String())
	}
	return fmt.Errorf("%w: %s", models.ErrInvalidParameter, strings.Join(msgs, "; "))
}
