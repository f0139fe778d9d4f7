// Package model describes the domain entities exchanged with a remote sync
// backend: the Model constraint, schema derivation, sync metadata and pages.
package model

// Model is implemented by every domain entity that can be synchronized.
//
// ModelName must not depend on field values: it is called on zero values
// when deriving a schema from a type.
type Model interface {
	PrimaryKey() string
	ModelName() string
}

// PluralNamer can be implemented by a Model whose plural name is not formed
// by the default English rules.
type PluralNamer interface {
	ModelPluralName() string
}
