package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// maxNestingDepth bounds nested selections for self-referencing types.
const maxNestingDepth = 4

var (
	timeType      = reflect.TypeFor[time.Time]()
	marshalerType = reflect.TypeFor[json.Marshaler]()
)

// ModelField describes one serialized field of a model
type ModelField struct {
	Name       string
	IsArray    bool
	IsRequired bool
	// Fields is set for object-typed fields and lists the nested selection.
	Fields []ModelField
}

// IsObject reports whether the field needs a nested selection
func (f ModelField) IsObject() bool {
	return len(f.Fields) > 0
}

// ModelSchema is the wire description of a model type
type ModelSchema struct {
	Name       string
	PluralName string
	Fields     []ModelField
}

// Field looks up a top-level field by its serialized name
func (s *ModelSchema) Field(name string) (ModelField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return ModelField{}, false
}

// SchemaOf derives the schema of the model type T.
func SchemaOf[T Model]() *ModelSchema {
	return schemaOfType(reflect.TypeFor[T]())
}

// SchemaFor derives the schema from a model instance.
func SchemaFor(item Model) *ModelSchema {
	return schemaOfType(reflect.TypeOf(item))
}

func schemaOfType(t reflect.Type) *ModelSchema {
	st := t
	for st.Kind() == reflect.Pointer {
		st = st.Elem()
	}

	name, plural := modelNames(t)
	return &ModelSchema{
		Name:       name,
		PluralName: plural,
		Fields:     fieldsOf(st, 0),
	}
}

// modelNames calls ModelName on a fresh value of t so pointer models never
// see a nil receiver.
func modelNames(t reflect.Type) (string, string) {
	var v reflect.Value
	if t.Kind() == reflect.Pointer {
		v = reflect.New(t.Elem())
	} else {
		v = reflect.New(t).Elem()
	}

	name := ""
	plural := ""
	if m, ok := v.Interface().(Model); ok {
		name = m.ModelName()
	}
	if p, ok := v.Interface().(PluralNamer); ok {
		plural = p.ModelPluralName()
	}

	if name == "" {
		base := t
		for base.Kind() == reflect.Pointer {
			base = base.Elem()
		}
		name = base.Name()
	}
	if plural == "" {
		plural = Pluralize(name)
	}
	return name, plural
}

func fieldsOf(t reflect.Type, depth int) []ModelField {
	if t.Kind() != reflect.Struct {
		return nil
	}

	var fields []ModelField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		ft := sf.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		// Untagged embedded structs are flattened, as encoding/json does.
		if sf.Anonymous && name == "" && ft.Kind() == reflect.Struct {
			fields = append(fields, fieldsOf(ft, depth)...)
			continue
		}
		if !sf.IsExported() {
			continue
		}

		if name == "" {
			name = sf.Name
		}

		field := ModelField{
			Name:       name,
			IsRequired: !strings.Contains(opts, "omitempty") && sf.Type.Kind() != reflect.Pointer,
		}

		if ft.Kind() == reflect.Slice || ft.Kind() == reflect.Array {
			if ft.Elem().Kind() != reflect.Uint8 {
				field.IsArray = true
				ft = ft.Elem()
				for ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
			}
		}

		if isObjectType(ft) && depth < maxNestingDepth {
			field.Fields = fieldsOf(ft, depth+1)
		}

		fields = append(fields, field)
	}
	return fields
}

// isObjectType reports whether t is serialized as a JSON object with its own
// field list. Types with custom marshaling are treated as scalars.
func isObjectType(t reflect.Type) bool {
	if t.Kind() != reflect.Struct || t == timeType {
		return false
	}
	if t.Implements(marshalerType) || reflect.PointerTo(t).Implements(marshalerType) {
		return false
	}
	return true
}

// Pluralize applies the default English plural rules to a model name.
func Pluralize(name string) string {
	if name == "" {
		return name
	}

	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !strings.ContainsRune("aeiou", rune(lower[len(lower)-2])):
		return name[:len(name)-1] + "ies"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return name + "es"
	default:
		return name + "s"
	}
}
