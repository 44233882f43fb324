package importer

// mapping.go holds the operator-editable mapping configuration: how
// source columns and values map onto destination fields and enumerations.
//
// A system-wide default configuration exists so an operator can proceed
// with zero configuration for well-formed exports. The configuration is
// mutable between parse and dry-run; the serialized form is snapshotted
// onto the ImportBatch for audit replay.

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/hashicorp/go-multierror"
)

// FieldMapping binds one destination field to its source.
type FieldMapping struct {
	// Field is the destination field name.
	Field string `json:"field"`

	// SourceColumn overrides the schema's default source column header.
	SourceColumn string `json:"sourceColumn,omitempty"`

	// Translations maps source values to canonical enum values.
	Translations map[string]string `json:"translations,omitempty"`

	// Default is used when the source cell is blank, or when an enum
	// value has no translation entry.
	Default string `json:"default,omitempty"`
}

// EntityMapping is the mapping for one entity type.
type EntityMapping struct {
	EntityType schema.EntityType `json:"entityType"`
	Fields     []FieldMapping    `json:"fields"`
}

// FieldFor returns the mapping for a destination field, or nil.
func (em *EntityMapping) FieldFor(name string) *FieldMapping {
	if em == nil {
		return nil
	}
	for i := range em.Fields {
		if em.Fields[i].Field == name {
			return &em.Fields[i]
		}
	}
	return nil
}

// SourceColumnFor resolves the source column header for a field spec:
// the operator's override when set, else the schema default.
func (em *EntityMapping) SourceColumnFor(spec schema.FieldSpec) string {
	if fm := em.FieldFor(spec.Name); fm != nil && fm.SourceColumn != "" {
		return strings.ToLower(fm.SourceColumn)
	}
	return strings.ToLower(spec.Column)
}

// MappingConfig is the full per-import mapping configuration.
type MappingConfig struct {
	SourceSystem string                                `json:"sourceSystem"`
	Entities     map[schema.EntityType]*EntityMapping `json:"entities"`
}

// DefaultMappingConfig builds the system-wide default: every destination
// field bound to its schema column, no translations, no defaults.
func DefaultMappingConfig(sourceSystem string) *MappingConfig {
	cfg := &MappingConfig{
		SourceSystem: sourceSystem,
		Entities:     make(map[schema.EntityType]*EntityMapping),
	}
	for _, def := range schema.All() {
		em := &EntityMapping{EntityType: def.Type}
		for _, f := range def.Fields {
			em.Fields = append(em.Fields, FieldMapping{Field: f.Name})
		}
		cfg.Entities[def.Type] = em
	}
	return cfg
}

// Entity returns the mapping for an entity type, or nil.
func (c *MappingConfig) Entity(t schema.EntityType) *EntityMapping {
	if c == nil {
		return nil
	}
	return c.Entities[t]
}

// Validate checks that, for every uploaded table, each required
// destination field resolves to a column actually present in that
// table's header or to a default value. An incomplete configuration
// blocks dry-run and execution. All gaps are reported, not just the
// first. Entity types with no uploaded table need nothing resolved.
func (c *MappingConfig) Validate(tables []ParsedTable) error {
	var errs *multierror.Error

	for _, t := range tables {
		def, ok := schema.Get(t.EntityType)
		if !ok {
			continue
		}
		em := c.Entity(def.Type)

		present := make(map[string]bool, len(t.Headers))
		for _, h := range t.Headers {
			present[h] = true
		}

		var unresolved []string
		for _, spec := range def.RequiredFields() {
			fm := em.FieldFor(spec.Name)
			hasColumn := present[em.SourceColumnFor(spec)]
			hasDefault := fm != nil && fm.Default != ""
			if !hasColumn && !hasDefault {
				unresolved = append(unresolved, spec.Name)
			}
		}
		if len(unresolved) > 0 {
			errs = multierror.Append(errs, &MappingIncompleteError{
				EntityType: def.Type,
				Fields:     unresolved,
			})
		}
	}

	return errs.ErrorOrNil()
}

// Translate resolves an enum value: explicit translation first, then a
// case-insensitive match against the canonical values, then the default.
// translated reports whether a rule rewrote the value; usedDefault
// reports a fallback that should be logged as a warning.
func (fm *FieldMapping) Translate(spec schema.FieldSpec, raw string) (value string, translated, usedDefault bool) {
	raw = CleanCell(raw)

	if fm != nil && len(fm.Translations) > 0 {
		for src, dst := range fm.Translations {
			if strings.EqualFold(src, raw) {
				return dst, !strings.EqualFold(src, dst), false
			}
		}
	}

	for _, canon := range spec.EnumValues {
		if strings.EqualFold(canon, raw) {
			return canon, canon != raw, false
		}
	}

	def := ""
	if fm != nil {
		def = fm.Default
	}
	return def, false, true
}

// InverseTranslate recovers the source value that maps to a canonical
// enum value, where the translation table is invertible. Returns false
// when no entry maps to it.
func (fm *FieldMapping) InverseTranslate(canonical string) (string, bool) {
	if fm == nil {
		return "", false
	}
	var keys []string
	for src := range fm.Translations {
		keys = append(keys, src)
	}
	sort.Strings(keys)
	for _, src := range keys {
		if strings.EqualFold(fm.Translations[src], canonical) {
			return src, true
		}
	}
	return "", false
}

// ToJSON serializes the configuration for the batch audit snapshot.
func (c *MappingConfig) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// MappingConfigFromJSON restores a configuration from its snapshot.
func MappingConfigFromJSON(data []byte) (*MappingConfig, error) {
	var c MappingConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode mapping config: %w", err)
	}
	return &c, nil
}

// Fingerprint hashes the configuration together with the parsed tables.
// A dry-run result is only valid for the exact (tables, mapping) pair
// that produced it; comparing fingerprints enforces that.
func (c *MappingConfig) Fingerprint(tables []ParsedTable) string {
	h := sha256.New()

	if data, err := c.ToJSON(); err == nil {
		h.Write(data)
	}

	for _, t := range tables {
		fmt.Fprintf(h, "%s|%s|%d\n", t.EntityType, t.FileName, t.RowCount)
		for _, hd := range t.Headers {
			fmt.Fprintf(h, "%s,", hd)
		}
		for _, row := range t.Rows {
			cols := make([]string, 0, len(row))
			for k := range row {
				cols = append(cols, k)
			}
			sort.Strings(cols)
			for _, k := range cols {
				fmt.Fprintf(h, "%s=%s;", k, row[k])
			}
			h.Write([]byte{'\n'})
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
