package types

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// SchemaFromStruct builds a JSONSchema for a Go struct using reflection.
// Field names come from the `json` tag (falling back to the Go name),
// descriptions from the `description` tag, and required fields from
// `required:"true"`. Fields with a json:"-" tag are skipped.
//
// Tool parameter schemas are typically derived from the argument struct a
// tool function unmarshals into, so the schema sent to the model and the
// shape the tool accepts can never drift apart.
func SchemaFromStruct(v any) (*JSONSchema, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, fmt.Errorf("cannot derive schema from nil")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot derive schema from %s, want struct", t.Kind())
	}
	return structSchema(t, map[reflect.Type]bool{})
}

func structSchema(t reflect.Type, seen map[reflect.Type]bool) (*JSONSchema, error) {
	if seen[t] {
		return nil, fmt.Errorf("recursive type %s not supported", t)
	}
	seen[t] = true
	defer delete(seen, t)

	schema := NewObjectSchema()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Tag.Get("json") == "" {
			// Embedded struct without a tag flattens into the parent, as
			// encoding/json promotes its fields. This applies to embedded
			// structs of unexported types too.
			ft := field.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded, err := structSchema(ft, seen)
				if err != nil {
					return nil, err
				}
				for pname, prop := range embedded.Properties {
					schema.AddProperty(pname, prop)
				}
				schema.Required = append(schema.Required, embedded.Required...)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		name, omitempty := jsonFieldName(field)
		if name == "" {
			continue
		}

		prop, err := fieldSchema(field.Type, seen)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if desc := field.Tag.Get("description"); desc != "" {
			prop.Description = desc
		}
		schema.AddProperty(name, prop)

		if field.Tag.Get("required") == "true" || (!omitempty && field.Type.Kind() != reflect.Pointer) {
			schema.AddRequired(name)
		}
	}
	return schema, nil
}

func fieldSchema(t reflect.Type, seen map[reflect.Type]bool) (*JSONSchema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == reflect.TypeOf(time.Time{}) {
		s := NewStringSchema()
		s.Format = FormatDateTime
		return s, nil
	}

	switch t.Kind() {
	case reflect.String:
		return NewStringSchema(), nil
	case reflect.Bool:
		return NewBooleanSchema(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NewIntegerSchema(), nil
	case reflect.Float32, reflect.Float64:
		return NewNumberSchema(), nil
	case reflect.Slice, reflect.Array:
		items, err := fieldSchema(t.Elem(), seen)
		if err != nil {
			return nil, err
		}
		return NewArraySchema(items), nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key must be string, got %s", t.Key().Kind())
		}
		s := NewObjectSchema()
		s.Properties = nil
		return s, nil
	case reflect.Struct:
		return structSchema(t, seen)
	case reflect.Interface:
		// No constraint; accepts any JSON value.
		return &JSONSchema{}, nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", t.Kind())
	}
}

func jsonFieldName(field reflect.StructField) (name string, omitempty bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = field.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty
}
