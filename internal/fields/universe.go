package fields

import (
	"strings"

	"notechart/domain/chart"
	"notechart/domain/note"
)

// Universe is the deduplicated field catalog for one analysis
type Universe struct {
	byName map[string]chart.FieldDefinition
	order  []string
}

// SystemFields returns the fixed fields every note carries
func SystemFields() []chart.FieldDefinition {
	return []chart.FieldDefinition{
		{Name: note.FieldCreatedAt, Role: chart.RoleDimension, DataType: chart.TypeDate, Source: chart.SourceSystem},
		{Name: note.FieldUpdatedAt, Role: chart.RoleDimension, DataType: chart.TypeDate, Source: chart.SourceSystem},
		{Name: note.FieldSource, Role: chart.RoleDimension, DataType: chart.TypeCategory, Source: chart.SourceSystem},
		{Name: note.FieldAuthor, Role: chart.RoleDimension, DataType: chart.TypeCategory, Source: chart.SourceSystem},
	}
}

// FromTemplate converts notebook template declarations into field definitions
func FromTemplate(template []note.TemplateField) []chart.FieldDefinition {
	out := make([]chart.FieldDefinition, 0, len(template))
	for _, tf := range template {
		name := strings.TrimSpace(tf.Name)
		if name == "" {
			continue
		}
		dt := chart.NormalizeDataType(tf.DataType)
		out = append(out, chart.FieldDefinition{
			Name:     name,
			Role:     roleFor(tf.Role, dt),
			DataType: dt,
			Source:   chart.SourceNotebook,
			Example:  tf.Example,
		})
	}
	return out
}

func roleFor(declared string, dt chart.DataType) chart.FieldRole {
	switch chart.FieldRole(strings.ToLower(strings.TrimSpace(declared))) {
	case chart.RoleMetric:
		return chart.RoleMetric
	case chart.RoleDimension:
		return chart.RoleDimension
	}
	if dt == chart.TypeNumber {
		return chart.RoleMetric
	}
	return chart.RoleDimension
}

// Build merges notebook, system and ai-declared fields. Later sources replace
// earlier ones of the same name, except that an ai field only replaces a
// notebook or system field when it is flagged as an override.
func Build(notebook, system, missing []chart.FieldDefinition) *Universe {
	u := &Universe{byName: make(map[string]chart.FieldDefinition)}
	for _, f := range notebook {
		f.Source = chart.SourceNotebook
		u.put(f)
	}
	for _, f := range system {
		f.Source = chart.SourceSystem
		u.put(f)
	}
	for _, f := range missing {
		f.Source = chart.SourceAI
		f.DataType = chart.NormalizeDataType(string(f.DataType))
		f.Role = roleFor(string(f.Role), f.DataType)
		if existing, ok := u.byName[f.Name]; ok && existing.Source != chart.SourceAI && !f.Override {
			continue
		}
		u.put(f)
	}
	return u
}

// BuildFromSnapshot is Build with the snapshot template and the stock system fields
func BuildFromSnapshot(snap *note.Snapshot, missing []chart.FieldDefinition) *Universe {
	var template []note.TemplateField
	if snap != nil {
		template = snap.Template
	}
	return Build(FromTemplate(template), SystemFields(), missing)
}

func (u *Universe) put(f chart.FieldDefinition) {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return
	}
	if _, exists := u.byName[f.Name]; !exists {
		u.order = append(u.order, f.Name)
	}
	u.byName[f.Name] = f
}

// Get returns the definition for name
func (u *Universe) Get(name string) (chart.FieldDefinition, bool) {
	f, ok := u.byName[name]
	return f, ok
}

// Has reports whether name is in the universe
func (u *Universe) Has(name string) bool {
	_, ok := u.byName[name]
	return ok
}

// Len returns the number of fields
func (u *Universe) Len() int { return len(u.order) }

// Fields returns all definitions in insertion order
func (u *Universe) Fields() []chart.FieldDefinition {
	out := make([]chart.FieldDefinition, 0, len(u.order))
	for _, name := range u.order {
		out = append(out, u.byName[name])
	}
	return out
}

// OfType returns the fields with the given data type, in insertion order
func (u *Universe) OfType(dt chart.DataType) []chart.FieldDefinition {
	var out []chart.FieldDefinition
	for _, name := range u.order {
		if f := u.byName[name]; f.DataType == dt {
			out = append(out, f)
		}
	}
	return out
}

// FromSource returns the fields contributed by one source
func (u *Universe) FromSource(src chart.FieldSource) []chart.FieldDefinition {
	var out []chart.FieldDefinition
	for _, name := range u.order {
		if f := u.byName[name]; f.Source == src {
			out = append(out, f)
		}
	}
	return out
}
