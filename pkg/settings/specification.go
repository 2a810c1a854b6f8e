// Package settings implements reusable settings units: their JSON
// specification, the ordered JSON object they produce, the builder that merges
// parameters with override JSON, and the derived combine, split and get-names
// executors.
//
// # Override algebra
//
// A builder first produces one entry per control from parameters, defaults or
// empty values. Every top-level key of the override JSON then replaces the
// corresponding entry. Nested objects are never merged.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wehubfusion/Daedalus/internal/schema"
	"github.com/wehubfusion/Daedalus/pkg/executor"
)

// App is the "app" discriminator of a settings document.
type App string

// Supported settings document kinds
const (
	AppSettings     App = "settings"
	AppMainSettings App = "main-settings"
	AppMapping      App = "mapping"
)

// IsSettingsApp reports whether app names a settings document kind.
func IsSettingsApp(app string) bool {
	switch App(app) {
	case AppSettings, AppMainSettings, AppMapping:
		return true
	}
	return false
}

// DefaultCategory is used when neither the document nor its location give a category.
const DefaultCategory = "settings"

// Reserved control names and prefixes
const (
	SettingsControlName = "settings"
	ChainParameterPrefix = "_cs___"
	SystemPortPrefix     = "_sys___"
	HiddenPrefix         = "___"
)

// Specification is a named bag of controls loaded from a settings document.
// Control order is significant: it determines the order of fields and ports.
type Specification struct {
	App             App
	Version         string
	ID              string
	Name            string
	Category        string
	Description     string
	Tags            []string
	SplitID         string
	GetNamesID      string
	Controls        []*executor.ControlSpecification
	Keys            []string
	IgnoredKeys     []string
	EnumItems       []executor.EnumItem
	ControlTemplate *executor.ControlSpecification

	path                  string
	autogeneratedName     bool
	autogeneratedCategory bool
}

type specificationJSON struct {
	App             App                              `json:"app,omitempty"`
	Version         string                           `json:"version,omitempty"`
	ID              string                           `json:"id"`
	Name            string                           `json:"name,omitempty"`
	Category        string                           `json:"category,omitempty"`
	Description     string                           `json:"description,omitempty"`
	Tags            []string                         `json:"tags,omitempty"`
	SplitID         string                           `json:"split_id,omitempty"`
	GetNamesID      string                           `json:"get_names_id,omitempty"`
	Controls        []*executor.ControlSpecification `json:"controls,omitempty"`
	Keys            []json.RawMessage                `json:"keys,omitempty"`
	KeysFile        string                           `json:"keys_file,omitempty"`
	IgnoredKeys     []json.RawMessage                `json:"ignored_keys,omitempty"`
	EnumItems       []json.RawMessage                `json:"enum_items,omitempty"`
	EnumItemsFile   string                           `json:"enum_items_file,omitempty"`
	ControlTemplate *executor.ControlSpecification   `json:"control_template,omitempty"`
}

// ParseFile reads and parses a settings document.
func ParseFile(path string) (*Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SpecificationError{Path: path, Err: err}
	}
	return Parse(data, path)
}

// Parse parses a settings document. path is the document location; it may be
// empty for inline documents and is used for name/category autogeneration and
// for resolving key and enum item files.
func Parse(data []byte, path string) (*Specification, error) {
	if !gjson.ValidBytes(data) {
		return nil, &SpecificationError{Path: path, Err: fmt.Errorf("%w: malformed JSON", ErrInvalidSettingsJSON)}
	}
	if id := gjson.GetBytes(data, "id"); !id.Exists() || id.String() == "" {
		return nil, &SpecificationError{Path: path, Field: "id", Err: ErrMissingID}
	}
	if err := specificationValidator.Validate(data); err != nil {
		var verr *schema.ValidationError
		field := ""
		if errors.As(err, &verr) {
			field = verr.Location
		}
		return nil, &SpecificationError{Path: path, Field: field, Err: err}
	}

	var doc specificationJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &SpecificationError{Path: path, Err: err}
	}

	spec := &Specification{
		App:         doc.App,
		Version:     doc.Version,
		ID:          doc.ID,
		Name:        doc.Name,
		Category:    doc.Category,
		Description: doc.Description,
		Tags:        nilIfEmpty(doc.Tags),
		SplitID:     doc.SplitID,
		GetNamesID:  doc.GetNamesID,
		Controls:    doc.Controls,
		path:        path,
	}
	if spec.App == "" {
		spec.App = AppSettings
	}
	spec.autogenerate()

	for i, c := range spec.Controls {
		if err := c.Normalize(); err != nil {
			return nil, &SpecificationError{Path: path, Field: fmt.Sprintf("controls/%d", i), Err: err}
		}
	}

	if spec.App == AppMapping {
		if err := spec.resolveMapping(&doc); err != nil {
			return nil, err
		}
	} else if len(doc.Keys) > 0 || doc.KeysFile != "" || doc.ControlTemplate != nil {
		return nil, &SpecificationError{Path: path, Field: "keys", Err: errors.New("keys are allowed only in mapping specifications")}
	}

	if len(spec.Controls) == 0 {
		spec.Controls = nil
	}
	if err := spec.checkControls(true); err != nil {
		return nil, err
	}
	return spec, nil
}

// NewSpecification creates a specification that does not come from a document,
// for example the synthesized settings of a multichain. Reserved names are allowed.
func NewSpecification(app App, id, name, category, description string, controls []*executor.ControlSpecification) (*Specification, error) {
	if id == "" {
		return nil, &SpecificationError{Field: "id", Err: ErrMissingID}
	}
	spec := &Specification{
		App:         app,
		ID:          id,
		Name:        name,
		Category:    category,
		Description: description,
		Controls:    executor.CloneControls(controls),
	}
	spec.autogenerate()
	for i, c := range spec.Controls {
		if err := c.Normalize(); err != nil {
			return nil, &SpecificationError{Field: fmt.Sprintf("controls/%d", i), Err: err}
		}
	}
	if err := spec.checkControls(false); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *Specification) autogenerate() {
	if s.Name == "" {
		if s.path != "" {
			s.Name = baseName(s.path)
			s.autogeneratedName = true
		} else {
			s.Name = s.ID
		}
	}
	if s.Category == "" {
		s.Category = DefaultCategory
		if s.path != "" {
			if dir := filepath.Base(filepath.Dir(s.path)); dir != "." && dir != string(filepath.Separator) {
				s.Category = dir
			}
		}
		s.autogeneratedCategory = true
	}
}

// baseName strips the directory and the settings file extensions.
func baseName(path string) string {
	name := filepath.Base(path)
	for _, suffix := range []string{".settings.json", ".mapping.json", ".json"} {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (s *Specification) resolveMapping(doc *specificationJSON) error {
	fail := func(field string, err error) error {
		return &SpecificationError{Path: s.path, Field: field, Err: err}
	}
	if len(doc.Controls) > 0 {
		return fail("controls", errors.New("mapping controls are generated from keys"))
	}

	rawKeys := rawList(doc.Keys)
	if doc.KeysFile != "" {
		fileKeys, err := readList(s.resolve(doc.KeysFile))
		if err != nil {
			return fail("keys_file", err)
		}
		rawKeys = append(rawKeys, fileKeys...)
	}
	ignoredRaw := rawList(doc.IgnoredKeys)
	ignored, err := ExpandKeys(ignoredRaw, nil)
	if err != nil {
		return fail("ignored_keys", err)
	}
	ignoredSet := make(map[string]struct{}, len(ignored))
	for _, k := range ignored {
		ignoredSet[k] = struct{}{}
	}
	keys, err := ExpandKeys(rawKeys, ignoredSet)
	if err != nil {
		return fail("keys", err)
	}
	if len(rawKeys) > 0 && len(keys) == 0 {
		return fail("keys", ErrEmptyMapping)
	}
	s.Keys = nilIfEmpty(keys)
	s.IgnoredKeys = nilIfEmpty(ignored)

	for _, raw := range doc.EnumItems {
		s.EnumItems = append(s.EnumItems, enumItem(raw))
	}
	if doc.EnumItemsFile != "" {
		values, err := readList(s.resolve(doc.EnumItemsFile))
		if err != nil {
			return fail("enum_items_file", err)
		}
		for _, v := range values {
			s.EnumItems = append(s.EnumItems, executor.EnumItem{Value: v})
		}
	}

	template := doc.ControlTemplate
	if template == nil {
		template = &executor.ControlSpecification{ValueType: executor.ValueString}
	}
	if template.ValueType == "" {
		template.ValueType = executor.ValueString
	}
	template.Name = ""
	s.ControlTemplate = template

	for _, key := range s.Keys {
		c := template.Clone()
		c.Name = key
		if len(s.EnumItems) > 0 {
			c.EditionType = executor.EditionEnum
			c.Items = append([]executor.EnumItem(nil), s.EnumItems...)
		}
		if err := c.Normalize(); err != nil {
			return fail("control_template", err)
		}
		s.Controls = append(s.Controls, c)
	}
	return nil
}

func (s *Specification) resolve(ref string) string {
	if filepath.IsAbs(ref) || s.path == "" {
		return ref
	}
	return filepath.Join(filepath.Dir(s.path), ref)
}

func rawList(items []json.RawMessage) []string {
	result := make([]string, 0, len(items))
	for _, raw := range items {
		result = append(result, listItem(gjson.ParseBytes(raw)))
	}
	return result
}

func enumItem(raw json.RawMessage) executor.EnumItem {
	v := gjson.ParseBytes(raw)
	if v.IsObject() {
		return executor.EnumItem{Value: v.Get("value").String(), Caption: v.Get("caption").String()}
	}
	return executor.EnumItem{Value: listItem(v)}
}

func (s *Specification) checkControls(rejectReserved bool) error {
	seen := make(map[string]struct{}, len(s.Controls))
	for _, c := range s.Controls {
		if rejectReserved && IsReservedName(c.Name) {
			return &SpecificationError{Path: s.path, Field: c.Name, Err: ErrReservedControlName}
		}
		if _, dup := seen[c.Name]; dup {
			return &SpecificationError{Path: s.path, Field: c.Name, Err: ErrDuplicateControl}
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// IsReservedName reports whether a control name collides with system parameters or ports.
func IsReservedName(name string) bool {
	return name == SettingsControlName ||
		strings.HasPrefix(name, ChainParameterPrefix) ||
		strings.HasPrefix(name, SystemPortPrefix) ||
		strings.HasPrefix(name, HiddenPrefix)
}

// Path returns the document location, or "" for inline specifications.
func (s *Specification) Path() string { return s.path }

// AutogeneratedName reports whether the name was derived from the file name.
func (s *Specification) AutogeneratedName() bool { return s.autogeneratedName }

// AutogeneratedCategory reports whether the category was derived from the location.
func (s *Specification) AutogeneratedCategory() bool { return s.autogeneratedCategory }

// Main reports whether this is the main settings unit of a chain.
func (s *Specification) Main() bool { return s.App == AppMainSettings }

// Control returns the control with the given name.
func (s *Specification) Control(name string) (*executor.ControlSpecification, bool) {
	for _, c := range s.Controls {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Names returns the control names in order.
func (s *Specification) Names() []string {
	names := make([]string, len(s.Controls))
	for i, c := range s.Controls {
		names[i] = c.Name
	}
	return names
}

// ImportantNames returns the names of the controls that are not advanced.
func (s *Specification) ImportantNames() []string {
	names := make([]string, 0, len(s.Controls))
	for _, c := range s.Controls {
		if !c.Advanced {
			names = append(names, c.Name)
		}
	}
	return names
}

// KeySet returns the control names as a set.
func (s *Specification) KeySet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Controls))
	for _, c := range s.Controls {
		set[c.Name] = struct{}{}
	}
	return set
}

// IgnoredKeySet returns the ignored mapping keys as a set.
func (s *Specification) IgnoredKeySet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.IgnoredKeys))
	for _, k := range s.IgnoredKeys {
		set[k] = struct{}{}
	}
	return set
}

// Marshal serializes the specification. Autogenerated name and category are
// omitted, mapping controls are written as their expanded keys.
func (s *Specification) Marshal() ([]byte, error) {
	doc := specificationJSON{
		App:         s.App,
		Version:     s.Version,
		ID:          s.ID,
		Description: s.Description,
		Tags:        s.Tags,
		SplitID:     s.SplitID,
		GetNamesID:  s.GetNamesID,
	}
	if !s.autogeneratedName {
		doc.Name = s.Name
	}
	if !s.autogeneratedCategory {
		doc.Category = s.Category
	}
	if s.App == AppMapping {
		for _, k := range s.Keys {
			doc.Keys = append(doc.Keys, mustQuote(k))
		}
		for _, k := range s.IgnoredKeys {
			doc.IgnoredKeys = append(doc.IgnoredKeys, mustQuote(k))
		}
		for _, item := range s.EnumItems {
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, err
			}
			doc.EnumItems = append(doc.EnumItems, raw)
		}
		doc.ControlTemplate = s.ControlTemplate
	} else {
		doc.Controls = s.Controls
	}
	return json.MarshalIndent(doc, "", "  ")
}

func mustQuote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func nilIfEmpty[T any](items []T) []T {
	if len(items) == 0 {
		return nil
	}
	return items
}
