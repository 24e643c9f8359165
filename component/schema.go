package component

import (
	"reflect"
	"strings"
)

// FieldSchema documents one configurable field.
type FieldSchema struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Default     string `json:"default,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ConfigSchema documents a component's configuration surface for admin
// tooling and the validate subcommand.
type ConfigSchema struct {
	Fields []FieldSchema `json:"fields"`
}

// GenerateConfigSchema reads `schema:` struct tags off a config type.
// Tags are comma-separated key:value pairs, e.g.
//
//	`schema:"type:string,description:Listen address,category:basic,default::8080"`
//
// Fields without a schema tag are skipped. The field name comes from the
// json tag when present.
func GenerateConfigSchema(t reflect.Type) ConfigSchema {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var schema ConfigSchema
	if t.Kind() != reflect.Struct {
		return schema
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("schema")
		if !ok {
			continue
		}

		fs := FieldSchema{Name: fieldName(field)}
		for _, part := range strings.Split(tag, ",") {
			key, value, found := strings.Cut(part, ":")
			if !found {
				if strings.TrimSpace(part) == "required" {
					fs.Required = true
				}
				continue
			}
			switch strings.TrimSpace(key) {
			case "type":
				fs.Type = value
			case "description":
				fs.Description = value
			case "category":
				fs.Category = value
			case "default":
				fs.Default = value
			case "required":
				fs.Required = value == "true"
			}
		}
		schema.Fields = append(schema.Fields, fs)
	}
	return schema
}

func fieldName(field reflect.StructField) string {
	if tag, ok := field.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return field.Name
}
