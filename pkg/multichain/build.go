package multichain

import (
	"context"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/chain"
	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/loader"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

// Reserved names of multichain settings and parameters.
const (
	SelectedChainIDParam = settings.HiddenPrefix + "selectedChainId"
	SelectedChainNameKey = settings.HiddenPrefix + "selectedChainName"
	SkipParam            = "_mc___skip"
)

// Platform is the platform tag of multichain implementation specifications.
const Platform = "multichain"

// State is the load state of a chain variant.
type State int

// Variant states
const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateBlocked:
		return "blocked"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Variant is one chain of a multichain.
type Variant struct {
	Model      *chain.Model
	State      State
	Definition *chain.Definition
}

// ID returns the chain id of the variant.
func (v *Variant) ID() string { return v.Model.ID }

// Name returns the chain name of the variant.
func (v *Variant) Name() string { return v.Model.Name }

func (v *Variant) describe() string {
	if v.Model.Path() == "" {
		return fmt.Sprintf("%q", v.Model.Name)
	}
	return fmt.Sprintf("%q (%s)", v.Model.Name, v.Model.Path())
}

// VariantLoader loads chain variants on behalf of a multichain. It carries the
// recursion state of the load operation that builds the multichain.
type VariantLoader interface {
	// IsRecursive reports whether loading the chain would re-enter a load in progress.
	IsRecursive(model *chain.Model) (bool, error)

	// UseChain loads the chain into the session and returns its definition.
	UseChain(ctx context.Context, model *chain.Model) (*chain.Definition, error)
}

// BuildOptions configures Build.
type BuildOptions struct {
	SessionID string
	Resolve   settings.Resolver
	Logger    *zap.Logger
}

// Definition is a multichain loaded into a session. It is immutable; runnable
// instances are created with New.
type Definition struct {
	Model            *Model
	SessionID        string
	Variants         []*Variant
	DefaultVariantID string

	// CommonBuilder resolves the selector and the declared controls only.
	CommonBuilder *settings.Builder

	// FullBuilder adds one settings control per variant. It is the public
	// settings combiner of the multichain.
	FullBuilder *settings.Builder

	Implementation *executor.Specification
}

// Build loads the variants of a multichain and synthesizes its settings.
// Variants whose load would re-enter a load in progress are blocked, not fatal.
func Build(ctx context.Context, model *Model, vl VariantLoader, opts BuildOptions) (*Definition, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if model.SettingsID == model.ID {
		return nil, &loader.DuplicateIDError{
			ID:     model.ID,
			First:  fmt.Sprintf("multichain %q", model.Name),
			Second: fmt.Sprintf("settings of multichain %q", model.Name),
		}
	}

	files, err := model.VariantFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVariants, model.ID)
	}
	variants := make([]*Variant, 0, len(files))
	for _, f := range files {
		cm, err := chain.ParseFile(f)
		if err != nil {
			return nil, fmt.Errorf("multichain %s: %w", model.ID, err)
		}
		variants = append(variants, &Variant{Model: cm, State: StateUnloaded})
	}
	if err := checkVariants(model, variants); err != nil {
		return nil, err
	}
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Name() < variants[j].Name()
	})

	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v.State = StateLoading
		recursive, err := vl.IsRecursive(v.Model)
		if err != nil {
			return nil, fmt.Errorf("multichain %s variant %s: %w", model.ID, v.ID(), err)
		}
		if recursive {
			v.State = StateBlocked
			logger.Warn("Chain variant blocked by recursive reference",
				zap.String("multichain", model.Name),
				zap.String("variant", v.Name()))
			continue
		}
		def, err := vl.UseChain(ctx, v.Model)
		if err != nil {
			return nil, fmt.Errorf("multichain %s variant %s: %w", model.ID, v.ID(), err)
		}
		v.Definition = def
		v.State = StateLoaded
	}

	d := &Definition{Model: model, SessionID: opts.SessionID, Variants: variants}
	if d.DefaultVariantID, err = defaultVariantID(model, variants); err != nil {
		return nil, err
	}
	for _, v := range variants {
		if v.State != StateLoaded {
			continue
		}
		if err := CheckImplementationCompatibility(model, v.Definition.Implementation); err != nil {
			return nil, err
		}
	}

	decorate := WithSelectedChainName(variants)
	common, err := d.newBuilder(d.controls(false), opts.Resolve, decorate)
	if err != nil {
		return nil, err
	}
	full, err := d.newBuilder(d.controls(true), opts.Resolve, decorate)
	if err != nil {
		return nil, err
	}
	d.CommonBuilder, d.FullBuilder = common, full
	d.Implementation = d.implementationSpecification()

	logger.Info("Multichain built",
		zap.String("multichain_id", model.ID),
		zap.String("default_variant", d.DefaultVariantID),
		zap.Int("variants", len(variants)),
		zap.Strings("blocked", d.BlockedVariantNames()))
	return d, nil
}

func checkVariants(model *Model, variants []*Variant) error {
	ids := make(map[string]*Variant, len(variants))
	names := make(map[string]*Variant, len(variants))
	declared := make(map[string]struct{}, len(model.Controls))
	for _, c := range model.Controls {
		declared[c.Name] = struct{}{}
	}
	for _, v := range variants {
		if first, dup := ids[v.ID()]; dup {
			return &loader.DuplicateIDError{ID: v.ID(), First: first.describe(), Second: v.describe()}
		}
		ids[v.ID()] = v
		if first, dup := names[v.Name()]; dup {
			return &DuplicateNameError{Name: v.Name(), First: first.describe(), Second: v.describe()}
		}
		names[v.Name()] = v

		if !settings.IsIdentifier(v.Name()) || settings.IsReservedName(v.Name()) {
			return fmt.Errorf("%w: multichain %s variant %s", ErrInvalidVariantName, model.ID, v.describe())
		}
		if _, clash := declared[v.Name()]; clash {
			return fmt.Errorf("%w: multichain %s control %q", ErrControlCollision, model.ID, v.Name())
		}
	}
	return nil
}

func defaultVariantID(model *Model, variants []*Variant) (string, error) {
	if model.DefaultVariantID == "" {
		return variants[0].ID(), nil
	}
	for _, v := range variants {
		if v.ID() == model.DefaultVariantID {
			return v.ID(), nil
		}
	}
	return "", fmt.Errorf("%w: multichain %s default_variant_id %q", ErrUnknownVariant, model.ID, model.DefaultVariantID)
}

// CheckImplementationCompatibility checks a variant implementation against the
// ports declared by the multichain. A declared input the variant does not use
// is accepted; every declared output must be provided with a compatible type.
func CheckImplementationCompatibility(model *Model, impl *executor.Specification) error {
	fail := func(port, direction, reason string) error {
		return &IncompatibleChainError{
			MultiChain:     model.Name,
			Implementation: impl.ID,
			Port:           port,
			Direction:      direction,
			Reason:         reason,
		}
	}
	for _, p := range model.InPorts {
		ip, ok := impl.InPort(p.Name)
		if !ok {
			continue
		}
		if !p.CompatibleWith(ip) {
			return fail(p.Name, "input", fmt.Sprintf("type %s is not compatible with %s", ip.ValueType, p.ValueType))
		}
	}
	for _, p := range model.OutPorts {
		op, ok := impl.OutPort(p.Name)
		if !ok {
			return fail(p.Name, "output", "port is missing")
		}
		if !op.CompatibleWith(p) {
			return fail(p.Name, "output", fmt.Sprintf("type %s is not compatible with %s", op.ValueType, p.ValueType))
		}
	}
	return nil
}

func (d *Definition) selectorControl() *executor.ControlSpecification {
	items := make([]executor.EnumItem, len(d.Variants))
	for i, v := range d.Variants {
		items[i] = executor.EnumItem{Value: v.ID(), Caption: v.Name()}
	}
	return &executor.ControlSpecification{
		Name:        SelectedChainIDParam,
		Caption:     "Selected chain",
		ValueType:   executor.ValueEnumString,
		EditionType: executor.EditionEnum,
		Default:     d.DefaultVariantID,
		Items:       items,
	}
}

// controls lists the selector, the declared controls and, for the full
// settings, one settings control per variant.
func (d *Definition) controls(full bool) []*executor.ControlSpecification {
	controls := []*executor.ControlSpecification{d.selectorControl()}
	controls = append(controls, executor.CloneControls(d.Model.Controls)...)
	if !full {
		return controls
	}
	for _, v := range d.Variants {
		c := &executor.ControlSpecification{
			Name:        v.Name(),
			Caption:     v.Name(),
			Description: v.Model.Description,
			ValueType:   executor.ValueSettings,
			EditionType: executor.EditionValue,
			Advanced:    true,
			Multiline:   true,
		}
		if v.State == StateLoaded && v.Definition.MainSettings != nil {
			c.GroupID = v.Definition.MainSettings.ID
			c.BuilderID = v.Definition.MainSettings.ID
		}
		controls = append(controls, c)
	}
	return controls
}

func (d *Definition) newBuilder(controls []*executor.ControlSpecification, resolve settings.Resolver, decorate settings.Decorator) (*settings.Builder, error) {
	m := d.Model
	spec, err := settings.NewSpecification(settings.AppSettings, m.SettingsID, m.Name, m.Category, m.Description, controls)
	if err != nil {
		return nil, fmt.Errorf("multichain %s: %w", m.ID, err)
	}
	spec.Version = m.Version
	b, err := settings.NewBuilder(spec, resolve, settings.WithDecorator(decorate))
	if err != nil {
		return nil, fmt.Errorf("multichain %s: %w", m.ID, err)
	}
	return b, nil
}

// WithSelectedChainName returns a decorator writing the name of the selected
// variant under the informational ___selectedChainName key.
func WithSelectedChainName(variants []*Variant) settings.Decorator {
	names := make(map[string]string, len(variants))
	for _, v := range variants {
		names[v.ID()] = v.Name()
	}
	return func(compact []byte) ([]byte, error) {
		name, ok := names[gjson.GetBytes(compact, SelectedChainIDParam).String()]
		if !ok {
			return compact, nil
		}
		return sjson.SetBytes(compact, SelectedChainNameKey, name)
	}
}

func (d *Definition) implementationSpecification() *executor.Specification {
	m := d.Model
	spec := &executor.Specification{
		App:         executor.AppName,
		Version:     m.Version,
		ID:          m.ID,
		Name:        m.Name,
		Category:    m.Category,
		Description: m.Description,
		Language:    settings.Language,
		Platform:    Platform,
		InPorts:     append([]executor.Port(nil), m.InPorts...),
		OutPorts:    append([]executor.Port(nil), m.OutPorts...),
		Controls:    executor.CloneControls(d.FullBuilder.Specification().Controls),
		Role:        executor.RoleNone,
		SettingsID:  m.SettingsID,
	}
	if _, ok := spec.InPort(settings.PortSettings); !ok {
		spec.InPorts = append(spec.InPorts, executor.Port{Name: settings.PortSettings, ValueType: executor.PortSettings, Advanced: true})
	}
	if m.Options != nil {
		opts := *m.Options
		if m.Options.Behavior != nil {
			behavior := *m.Options.Behavior
			opts.Behavior = &behavior
		}
		spec.Options = &opts
	}
	if m.IsSkippable() {
		spec.Controls = append(spec.Controls, &executor.ControlSpecification{
			Name:        SkipParam,
			Caption:     "Skip",
			ValueType:   executor.ValueBoolean,
			EditionType: executor.EditionValue,
			Default:     false,
			Advanced:    true,
		})
	}
	return spec
}

// Variant returns the variant with the given chain id.
func (d *Definition) Variant(id string) (*Variant, bool) {
	for _, v := range d.Variants {
		if v.ID() == id {
			return v, true
		}
	}
	return nil, false
}

// LoadedVariants returns the variants that were loaded, in name order.
func (d *Definition) LoadedVariants() []*Variant {
	var loaded []*Variant
	for _, v := range d.Variants {
		if v.State == StateLoaded {
			loaded = append(loaded, v)
		}
	}
	return loaded
}

// BlockedVariantNames returns the names of the blocked variants, in name order.
func (d *Definition) BlockedVariantNames() []string {
	var names []string
	for _, v := range d.Variants {
		if v.State == StateBlocked {
			names = append(names, v.Name())
		}
	}
	return names
}
