package eval

import (
	"encoding/json"
	"sort"
)

// SchemaDoc is the documentation form of a Schema.
type SchemaDoc struct {
	Kind    string     `json:"kind"`
	Type    string     `json:"type,omitempty"`
	Fields  []FieldDoc `json:"fields,omitempty"`
	Options []string   `json:"options,omitempty"`
	VarName string     `json:"var_name,omitempty"`
	Value   *SchemaDoc `json:"value,omitempty"`
}

// FieldDoc documents one field of a map schema. Default is nil when the
// field has none.
type FieldDoc struct {
	VarName  string    `json:"var_name"`
	Optional bool      `json:"optional"`
	Default  *string   `json:"default"`
	Value    SchemaDoc `json:"value"`
}

// FunctionDoc documents a registered function.
type FunctionDoc struct {
	Name           string    `json:"name"`
	Module         string    `json:"module"`
	Doc            string    `json:"doc"`
	TargetTypeName string    `json:"target_type_name"`
	Arg            SchemaDoc `json:"arg"`
}

// ModuleDoc groups the functions of one module.
type ModuleDoc struct {
	Name      string        `json:"name"`
	Functions []FunctionDoc `json:"functions"`
}

func (NilSchema) Doc() SchemaDoc      { return SchemaDoc{Kind: "nil"} }
func (s ValueSchema) Doc() SchemaDoc  { return SchemaDoc{Kind: "value", Type: s.Type} }
func (s ArraySchema) Doc() SchemaDoc  { return SchemaDoc{Kind: "array", Type: s.Elem} }
func (s ObjectSchema) Doc() SchemaDoc { return SchemaDoc{Kind: "object", Type: s.Elem} }
func (RawSchema) Doc() SchemaDoc      { return SchemaDoc{Kind: "raw"} }

func (s MapSchema) Doc() SchemaDoc {
	d := SchemaDoc{Kind: "map", Fields: make([]FieldDoc, len(s.Fields))}
	for i, f := range s.Fields {
		fd := FieldDoc{VarName: f.Name, Optional: f.Optional, Value: f.Schema.Doc()}
		if f.Default != "" {
			def := f.Default
			fd.Default = &def
		}
		d.Fields[i] = fd
	}
	return d
}

func (s EnumSchema) Doc() SchemaDoc {
	d := SchemaDoc{Kind: "enum", Options: make([]string, len(s.Options))}
	for i, o := range s.Options {
		d.Options[i] = o.Name
	}
	return d
}

func (s CaptureSchema) Doc() SchemaDoc {
	inner := s.Schema.Doc()
	return SchemaDoc{Kind: "capture", VarName: s.Name, Value: &inner}
}

// Docs returns the documentation of every registered function, grouped
// by module. Modules and functions are sorted by name.
func (r *Registry) Docs() []ModuleDoc {
	byModule := map[string][]FunctionDoc{}
	for _, name := range r.Names() {
		f := r.functions[name]
		byModule[f.Module] = append(byModule[f.Module], FunctionDoc{
			Name:           f.Name,
			Module:         f.Module,
			Doc:            f.Doc,
			TargetTypeName: f.Returns,
			Arg:            f.Arg.Doc(),
		})
	}

	modules := make([]ModuleDoc, 0, len(byModule))
	for name, fns := range byModule {
		modules = append(modules, ModuleDoc{Name: name, Functions: fns})
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })
	return modules
}

// GenerateJSONDocs renders Docs as indented JSON.
func (r *Registry) GenerateJSONDocs() ([]byte, error) {
	return json.MarshalIndent(r.Docs(), "", "  ")
}
