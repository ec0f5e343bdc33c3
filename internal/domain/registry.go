package domain

import (
	"fmt"
	"sort"
)

// ValueType represents the declared type of a record field value.
type ValueType string

const (
	ValueTypeString    ValueType = "string"
	ValueTypeInteger   ValueType = "integer"
	ValueTypeFloat     ValueType = "float"
	ValueTypeBoolean   ValueType = "boolean"
	ValueTypeTimestamp ValueType = "timestamp"
)

// Field describes one field of a record type. A field with a non-empty
// Relation holds a reference to another record type; its stored value is the
// referenced record's id.
type Field struct {
	Name       string    `json:"name"`
	Type       ValueType `json:"type"`
	Required   bool      `json:"required"`
	Relation   string    `json:"relation,omitempty"`
	NaturalKey bool      `json:"naturalKey,omitempty"`
}

// TypeDef describes one record type: its name and ordered field definitions.
type TypeDef struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Field returns the definition of the named field.
func (td TypeDef) Field(name string) (Field, bool) {
	for _, f := range td.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// NaturalKeyField returns the field declared as the type's natural key.
func (td TypeDef) NaturalKeyField() (Field, bool) {
	for _, f := range td.Fields {
		if f.NaturalKey {
			return f, true
		}
	}
	return Field{}, false
}

// Registry is the statically declared schema catalog: a fixed table of
// record types and their fields, built once at startup and consulted by the
// column mapper, row processor, and natural-key service. It replaces any
// runtime reflection over a live schema store.
type Registry struct {
	defs  map[string]TypeDef
	names []string
}

// NewRegistry builds a registry from the given type definitions. Every
// relation target must itself be a registered type, and at most one field
// per type may be the natural key.
func NewRegistry(defs []TypeDef) (*Registry, error) {
	reg := &Registry{defs: make(map[string]TypeDef, len(defs))}

	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("record type with empty name")
		}
		if _, exists := reg.defs[def.Name]; exists {
			return nil, fmt.Errorf("duplicate record type %q", def.Name)
		}
		seen := make(map[string]bool, len(def.Fields))
		naturalKeys := 0
		for _, f := range def.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("record type %q has a field with empty name", def.Name)
			}
			if seen[f.Name] {
				return nil, fmt.Errorf("record type %q declares field %q twice", def.Name, f.Name)
			}
			seen[f.Name] = true
			if f.NaturalKey {
				naturalKeys++
			}
		}
		if naturalKeys > 1 {
			return nil, fmt.Errorf("record type %q declares more than one natural key", def.Name)
		}
		reg.defs[def.Name] = def
		reg.names = append(reg.names, def.Name)
	}

	for _, def := range defs {
		for _, f := range def.Fields {
			if f.Relation == "" {
				continue
			}
			if _, ok := reg.defs[f.Relation]; !ok {
				return nil, fmt.Errorf("record type %q field %q references unregistered type %q", def.Name, f.Name, f.Relation)
			}
		}
	}

	sort.Strings(reg.names)
	return reg, nil
}

// Type returns the definition of the named record type.
func (r *Registry) Type(name string) (TypeDef, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Defs returns the registered type definitions in sorted name order.
func (r *Registry) Defs() []TypeDef {
	defs := make([]TypeDef, 0, len(r.names))
	for _, name := range r.names {
		defs = append(defs, r.defs[name])
	}
	return defs
}
