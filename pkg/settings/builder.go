package settings

import (
	"encoding/json"
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/executor"
)

// SubSettingsPrefix marks an override entry that carries the complete value of
// a settings-typed control: "@name" replaces the value of control "name".
const SubSettingsPrefix = "@"

// Resolver finds the builder registered under a settings id.
type Resolver func(id string) (*Builder, bool)

// Decorator post-processes the compact JSON produced by Combine.
type Decorator func(compact []byte) ([]byte, error)

// Options controls one resolution.
type Options struct {
	AbsolutePaths      bool
	ExtractSubSettings bool
	Environment        Environment
}

// Builder binds a specification at run time and resolves final settings from
// parameters and override JSON. It holds no state between calls.
type Builder struct {
	spec      *Specification
	sub       map[string]*Builder
	decorator Decorator
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithDecorator installs a decorator applied to every combined result.
func WithDecorator(d Decorator) BuilderOption {
	return func(b *Builder) {
		b.decorator = d
	}
}

// NewBuilder creates a builder. Every settings control that names a builder_id
// must be resolvable.
func NewBuilder(spec *Specification, resolve Resolver, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{spec: spec, sub: make(map[string]*Builder)}
	for _, c := range spec.Controls {
		if !c.IsSettings() || c.BuilderID == "" {
			continue
		}
		var sub *Builder
		ok := false
		if resolve != nil {
			sub, ok = resolve(c.BuilderID)
		}
		if !ok {
			return nil, fmt.Errorf("%w: settings %s control %q references %q", ErrUnresolvedSubSettings, spec.ID, c.Name, c.BuilderID)
		}
		b.sub[c.Name] = sub
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// SubSettingsIDs returns the builder ids referenced by settings controls, in control order.
func (s *Specification) SubSettingsIDs() []string {
	var ids []string
	for _, c := range s.Controls {
		if c.IsSettings() && c.BuilderID != "" {
			ids = append(ids, c.BuilderID)
		}
	}
	return ids
}

// Specification returns the bound specification.
func (b *Builder) Specification() *Specification { return b.spec }

// ID returns the settings id.
func (b *Builder) ID() string { return b.spec.ID }

// Names returns the control names in order.
func (b *Builder) Names() []string { return b.spec.Names() }

// ImportantNames returns the non-advanced control names in order.
func (b *Builder) ImportantNames() []string { return b.spec.ImportantNames() }

// SubBuilder returns the builder bound to a settings control.
func (b *Builder) SubBuilder(control string) (*Builder, bool) {
	sub, ok := b.sub[control]
	return sub, ok
}

// FromParameters builds one entry per control: the parameter value when
// present, else the default, else the empty value of the type.
func (b *Builder) FromParameters(params executor.Parameters, opts Options) (*Object, error) {
	obj := NewObject()
	for _, c := range b.spec.Controls {
		v, err := b.controlValue(c, params, opts)
		if err != nil {
			return nil, err
		}
		if err := obj.SetValue(c.Name, v); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (b *Builder) controlValue(c *executor.ControlSpecification, params executor.Parameters, opts Options) (any, error) {
	if raw, ok := params.Get(c.Name); ok && raw != nil {
		v, err := executor.Coerce(c.ValueType, raw)
		if err != nil {
			return nil, &executor.ParameterError{Name: c.Name, Value: raw, Cause: err}
		}
		return b.absolutize(c, v, opts)
	}
	if c.Default != nil {
		return b.absolutize(c, c.Default, opts)
	}
	if sub, ok := b.sub[c.Name]; ok {
		defaults, err := sub.DefaultSettings(Options{AbsolutePaths: opts.AbsolutePaths, Environment: opts.Environment})
		if err != nil {
			return nil, fmt.Errorf("sub-settings %q: %w", c.Name, err)
		}
		return defaults, nil
	}
	return c.EmptyValue(), nil
}

func (b *Builder) absolutize(c *executor.ControlSpecification, v any, opts Options) (any, error) {
	if !opts.AbsolutePaths || !c.IsPath() {
		return v, nil
	}
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	abs, err := opts.Environment.AbsolutePath(s)
	if err != nil {
		return nil, &executor.ParameterError{Name: c.Name, Value: s, Cause: err}
	}
	return abs, nil
}

// Combine resolves the final settings: parameter-derived entries overridden
// key by key by override, then settings controls replaced by their "@name"
// sections when ExtractSubSettings is set.
func (b *Builder) Combine(params executor.Parameters, override *Object, opts Options) (*Object, error) {
	fromParameters, err := b.FromParameters(params, opts)
	if err != nil {
		return nil, err
	}
	if override == nil {
		override = NewObject()
	}
	merged := fromParameters.OverrideEntries(override)

	if opts.ExtractSubSettings {
		for _, c := range b.spec.Controls {
			if !c.IsSettings() {
				continue
			}
			key := SubSettingsPrefix + c.Name
			section := override.Value(key)
			if !section.Exists() {
				continue
			}
			if !section.IsObject() {
				return nil, fmt.Errorf("%w: %q must be a JSON object", ErrInvalidSettingsJSON, key)
			}
			merged.Set(c.Name, json.RawMessage(section.Raw))
			merged.Delete(key)
		}
	}

	if b.decorator == nil {
		return merged, nil
	}
	compact, err := merged.MarshalJSON()
	if err != nil {
		return nil, err
	}
	decorated, err := b.decorator(compact)
	if err != nil {
		return nil, fmt.Errorf("settings %s: %w", b.spec.ID, err)
	}
	return ParseObject(decorated)
}

// CombineJSON is Combine with override JSON text; blank text means no override.
func (b *Builder) CombineJSON(params executor.Parameters, overrideJSON string, opts Options) (*Object, error) {
	override, err := ParseObjectString(overrideJSON)
	if err != nil {
		return nil, err
	}
	return b.Combine(params, override, opts)
}

// DefaultSettings resolves the settings without parameters or override.
func (b *Builder) DefaultSettings(opts Options) (*Object, error) {
	return b.Combine(nil, nil, opts)
}

// Complete fills the controls missing from already finalized settings with
// their defaults. Entries of settings keep priority and extra keys are kept.
func (b *Builder) Complete(settings *Object) (*Object, error) {
	defaults, err := b.FromParameters(nil, Options{})
	if err != nil {
		return nil, err
	}
	return defaults.OverrideEntries(settings), nil
}
