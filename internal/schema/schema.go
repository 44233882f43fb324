// Package schema defines the canonical entity model the import pipeline
// reasons about: which entity types exist, what fields each one carries,
// how entity types depend on each other, and the order they must be
// imported in.
//
// The business application owns far more schema than this; the import
// pipeline only needs enough to parse, validate, and sequence writes.
package schema

// EntityType identifies one category of importable record.
type EntityType string

const (
	EntityCases          EntityType = "cases"
	EntityContacts       EntityType = "contacts"
	EntitySubjects       EntityType = "subjects"
	EntityCaseUpdates    EntityType = "case_updates"
	EntityFinanceEntries EntityType = "finance_entries"
)

// ImportOrder is the canonical dependency ordering: parents before
// children. Execution and dry-run both walk this slice; rollback walks it
// in reverse.
var ImportOrder = []EntityType{
	EntityCases,
	EntityContacts,
	EntitySubjects,
	EntityCaseUpdates,
	EntityFinanceEntries,
}

// FieldType represents the canonical data type for a destination field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
	FieldPhone
)

// FieldSpec defines one destination field of an entity type.
type FieldSpec struct {
	Name       string   // Destination field name
	Column     string   // Default source CSV column header
	Type       FieldType
	Required   bool     // Must resolve to a source column or a mapping default
	EnumValues []string // Valid canonical values for FieldEnum
}

// EntityDefinition contains everything the pipeline needs to know about
// one entity type.
type EntityDefinition struct {
	Type       EntityType
	Label      string
	Table      string   // Destination table name
	FileHints  []string // Filename substrings used for entity detection
	Fields     []FieldSpec
	NaturalKey string // Field holding the external-system identifier

	// ParentType and ParentKeyField are set for dependent entity types.
	// ParentKeyField names the field that carries the parent's external id.
	ParentType     EntityType
	ParentKeyField string
}

// Field returns the definition of a destination field by name.
func (d EntityDefinition) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// RequiredFields returns the destination fields marked required.
func (d EntityDefinition) RequiredFields() []FieldSpec {
	var out []FieldSpec
	for _, f := range d.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// Columns returns the default source column headers in field order.
func (d EntityDefinition) Columns() []string {
	cols := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		cols[i] = f.Column
	}
	return cols
}

// Get returns the definition for an entity type.
func Get(t EntityType) (EntityDefinition, bool) {
	for _, d := range definitions {
		if d.Type == t {
			return d, true
		}
	}
	return EntityDefinition{}, false
}

// All returns every entity definition in canonical import order.
func All() []EntityDefinition {
	out := make([]EntityDefinition, 0, len(definitions))
	for _, t := range ImportOrder {
		for _, d := range definitions {
			if d.Type == t {
				out = append(out, d)
			}
		}
	}
	return out
}

// Dependents returns the entity types whose ParentType equals t, in
// canonical import order.
func Dependents(t EntityType) []EntityType {
	var out []EntityType
	for _, d := range All() {
		if d.ParentType == t {
			out = append(out, d.Type)
		}
	}
	return out
}

// OrderIndex returns the position of t in ImportOrder, or -1.
func OrderIndex(t EntityType) int {
	for i, o := range ImportOrder {
		if o == t {
			return i
		}
	}
	return -1
}
