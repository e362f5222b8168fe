// Package schema describes JSON Schema documents used for tool parameters.
package schema

const URL = "http://json-schema.org/draft-07/schema#"

type Type string

const (
	String  Type = "string"
	Number  Type = "number"
	Integer Type = "integer"
	Boolean Type = "boolean"
	Array   Type = "array"
	Object  Type = "object"
)

// JSON is a way to describe a JSON Schema
type JSON struct {
	Type                 interface{}      `json:"type,omitzero"` // Can be Type or []interface{} for union types like ["string", "null"]
	Description          string           `json:"description,omitzero"`
	Properties           map[string]*JSON `json:"properties,omitzero"`
	Items                *JSON            `json:"items,omitzero"`
	Enum                 []string         `json:"enum,omitzero"`
	Required             []string         `json:"required,omitzero"`
	AdditionalProperties *bool            `json:"additionalProperties,omitzero"`
	Schema               string           `json:"$schema,omitzero"`
	Ref                  string           `json:"$ref,omitzero"`
	Defs                 map[string]*JSON `json:"$defs,omitzero"`
	OneOf                []*JSON          `json:"oneOf,omitzero"`
	AnyOf                []*JSON          `json:"anyOf,omitzero"`
	AllOf                []*JSON          `json:"allOf,omitzero"`
}

// Clone returns a deep copy of the schema.
func (j *JSON) Clone() *JSON {
	if j == nil {
		return nil
	}
	out := *j
	if j.Properties != nil {
		out.Properties = make(map[string]*JSON, len(j.Properties))
		for k, v := range j.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	if j.Defs != nil {
		out.Defs = make(map[string]*JSON, len(j.Defs))
		for k, v := range j.Defs {
			out.Defs[k] = v.Clone()
		}
	}
	out.Items = j.Items.Clone()
	out.Enum = append([]string(nil), j.Enum...)
	out.Required = append([]string(nil), j.Required...)
	out.OneOf = cloneSlice(j.OneOf)
	out.AnyOf = cloneSlice(j.AnyOf)
	out.AllOf = cloneSlice(j.AllOf)
	return &out
}

func cloneSlice(in []*JSON) []*JSON {
	if in == nil {
		return nil
	}
	out := make([]*JSON, len(in))
	for i, v := range in {
		out[i] = v.Clone()
	}
	return out
}

// ObjectOf returns an object schema with the given properties and required
// names, the common shape for tool parameter declarations.
func ObjectOf(props map[string]*JSON, required ...string) *JSON {
	return &JSON{
		Type:       Object,
		Properties: props,
		Required:   required,
	}
}

// StringOf returns a string schema with a description.
func StringOf(description string) *JSON {
	return &JSON{Type: String, Description: description}
}
