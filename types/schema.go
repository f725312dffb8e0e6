package types

import (
	"encoding/json"
	"fmt"
)

// SchemaType enumerates the JSON Schema types tool parameters may use.
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeInteger SchemaType = "integer"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// StringFormat annotates string parameters. Backends treat formats as hints;
// only date-time is produced by reflection (time.Time fields).
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatURI      StringFormat = "uri"
	FormatUUID     StringFormat = "uuid"
)

// JSONSchema is the subset of JSON Schema the chat backends accept for tool
// parameter declarations. Richer validation keywords are deliberately left
// out: the tool function unmarshals and checks its own arguments, and the
// backends ignore most of them anyway.
type JSONSchema struct {
	Type        SchemaType `json:"type,omitempty"`
	Description string     `json:"description,omitempty"`

	// Object shape.
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`

	// Array element shape.
	Items *JSONSchema `json:"items,omitempty"`

	// Value constraints.
	Enum    []any        `json:"enum,omitempty"`
	Format  StringFormat `json:"format,omitempty"`
	Default any          `json:"default,omitempty"`
}

// NewObjectSchema creates an object schema ready for AddProperty calls.
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{
		Type:       SchemaTypeObject,
		Properties: make(map[string]*JSONSchema),
	}
}

// NewArraySchema creates an array schema with the given element schema.
func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: SchemaTypeArray, Items: items}
}

// NewStringSchema creates a string schema.
func NewStringSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeString}
}

// NewNumberSchema creates a number schema.
func NewNumberSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeNumber}
}

// NewIntegerSchema creates an integer schema.
func NewIntegerSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeInteger}
}

// NewBooleanSchema creates a boolean schema.
func NewBooleanSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeBoolean}
}

// NewEnumSchema creates a schema constrained to the given values.
func NewEnumSchema(values ...any) *JSONSchema {
	return &JSONSchema{Enum: values}
}

// AddProperty adds a named property to an object schema.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	return s
}

// AddRequired marks property names as required.
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

// WithDescription sets the description shown to the model.
func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// WithFormat sets a string format hint.
func (s *JSONSchema) WithFormat(f StringFormat) *JSONSchema {
	s.Format = f
	return s
}

// WithDefault records the value the tool assumes when the argument is
// omitted.
func (s *JSONSchema) WithDefault(v any) *JSONSchema {
	s.Default = v
	return s
}

// Strict converts an object schema tree to the strict function-calling form:
// every property becomes required and additional properties are rejected, on
// this object and recursively on nested ones. Backends running in strict
// mode demand exactly this shape.
func (s *JSONSchema) Strict() *JSONSchema {
	if s.Type != SchemaTypeObject {
		return s
	}
	f := false
	s.AdditionalProperties = &f
	s.Required = s.Required[:0]
	for name, prop := range s.Properties {
		s.Required = append(s.Required, name)
		prop.Strict()
		if prop.Items != nil {
			prop.Items.Strict()
		}
	}
	return s
}

// ToJSON serializes the schema.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON parses a schema previously produced by ToJSON (or written by
// hand in a tool manifest).
func FromJSON(data []byte) (*JSONSchema, error) {
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &schema, nil
}
