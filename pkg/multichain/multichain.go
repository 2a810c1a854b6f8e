package multichain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/chain"
	"github.com/wehubfusion/Daedalus/pkg/contextid"
	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

// MultiChain is a runnable instance of a multichain definition. Its chain map
// is built on first use and owned by the instance.
type MultiChain struct {
	def       *Definition
	env       chain.Env
	contextID int64

	mu       sync.Mutex
	chains   map[string]*chain.Chain
	buildErr error
	built    bool
	closed   bool
}

// New creates an instance with a fresh context id. Nothing is shared with
// other instances of the same definition. The registered full settings
// combiner is owned by the most recently created instance.
func New(def *Definition, env chain.Env) *MultiChain {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.IDs == nil {
		env.IDs = contextid.New(0)
	}
	m := &MultiChain{def: def, env: env, contextID: env.IDs.Next()}
	if env.Registry != nil && def.FullBuilder != nil {
		env.Registry.BindOwner(def.SessionID, def.FullBuilder, m.contextID)
	}
	return m
}

// Clone creates an independent instance of the same definition.
func (m *MultiChain) Clone() *MultiChain {
	return New(m.def, m.env)
}

// ContextID returns the id of this instance.
func (m *MultiChain) ContextID() int64 { return m.contextID }

// Definition returns the definition of the instance.
func (m *MultiChain) Definition() *Definition { return m.def }

// ID returns the multichain id.
func (m *MultiChain) ID() string { return m.def.Model.ID }

// Name returns the multichain name.
func (m *MultiChain) Name() string { return m.def.Model.Name }

// BlockedChainModelNames returns the names of the variants excluded by a recursive reference.
func (m *MultiChain) BlockedChainModelNames() []string {
	return m.def.BlockedVariantNames()
}

// ChainMap returns the chain instances of the loaded variants by chain id.
// The map is built once; every variant must expose main settings.
func (m *MultiChain) ChainMap() (map[string]*chain.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if !m.built {
		m.chains, m.buildErr = m.buildChains()
		m.built = true
	}
	if m.buildErr != nil {
		return nil, m.buildErr
	}
	result := make(map[string]*chain.Chain, len(m.chains))
	for id, c := range m.chains {
		result[id] = c
	}
	return result, nil
}

func (m *MultiChain) buildChains() (map[string]*chain.Chain, error) {
	chains := make(map[string]*chain.Chain)
	closeAll := func() {
		for _, c := range chains {
			_ = c.Close()
		}
	}
	for _, v := range m.def.LoadedVariants() {
		if _, ok := v.Definition.MainSettingsInformation(); !ok {
			closeAll()
			return nil, fmt.Errorf("%w: multichain %s variant %s", chain.ErrNoMainSettings, m.ID(), v.describe())
		}
		c, err := chain.New(v.Definition, m.env)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("multichain %s: %w", m.ID(), err)
		}
		chains[v.ID()] = c
	}
	m.env.Logger.Debug("Multichain chain map built",
		zap.String("multichain_id", m.ID()),
		zap.Int64("context_id", m.contextID),
		zap.Int("chains", len(chains)))
	return chains, nil
}

// FindSelectedChainID returns the selected variant id for parent settings.
func (m *MultiChain) FindSelectedChainID(parent *settings.Object) string {
	return m.findSelectedChainID(parent, m.def.DefaultVariantID)
}

// findSelectedChainID applies, in increasing priority, def, the selector of
// the section named after the multichain and the top-level selector.
func (m *MultiChain) findSelectedChainID(parent *settings.Object, def string) string {
	id := def
	if parent == nil {
		return id
	}
	if section, ok := parent.Object(m.Name()); ok {
		if v := section.Value(SelectedChainIDParam); v.Exists() && v.String() != "" {
			id = v.String()
		}
	}
	if v := parent.Value(SelectedChainIDParam); v.Exists() && v.String() != "" {
		id = v.String()
	}
	return id
}

// FindSelectedChainSettings produces the settings of the selected variant:
// its own settings, overridden by the variant section (when extracting
// sub-settings), then by the multichain section restricted to the variant
// keys, then by the parent without the multichain and variant sections.
//
// The variant section is looked up inside the multichain section, or
// directly under parent when the multichain section is absent or empty.
func (m *MultiChain) FindSelectedChainSettings(parent *settings.Object, selectedID string, extractSubSettings bool) (*settings.Object, error) {
	c, err := m.selectedChain(selectedID)
	if err != nil {
		return nil, err
	}
	info, _ := c.MainSettingsInformation()
	result, err := c.DefaultSettings()
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return result, nil
	}

	mcSection, ok := parent.Object(m.Name())
	if !ok || mcSection.IsEmpty() {
		mcSection = nil
	}
	if extractSubSettings {
		source := parent
		if mcSection != nil {
			source = mcSection
		}
		if section, ok := source.Object(c.Name()); ok {
			result = result.OverrideEntries(section.Only(info.Keys))
		}
	}
	if mcSection != nil {
		result = result.OverrideEntries(mcSection.Only(info.Keys))
	}
	return result.OverrideEntries(parent.Without(m.Name(), c.Name(), SelectedChainIDParam, SelectedChainNameKey)), nil
}

func (m *MultiChain) selectedChain(id string) (*chain.Chain, error) {
	chains, err := m.ChainMap()
	if err != nil {
		return nil, err
	}
	if c, ok := chains[id]; ok {
		return c, nil
	}
	if v, ok := m.def.Variant(id); ok && v.State == StateBlocked {
		return nil, fmt.Errorf("%w: multichain %s variant %s", ErrBlockedVariant, m.ID(), v.describe())
	}
	return nil, fmt.Errorf("%w: multichain %s variant %q", ErrUnknownVariant, m.ID(), id)
}

// Execute resolves the multichain settings through the common combiner,
// selects a variant and runs it with the cascaded settings.
func (m *MultiChain) Execute(ctx context.Context, in executor.Input) (executor.Output, error) {
	if err := ctx.Err(); err != nil {
		return executor.Output{}, err
	}
	if m.def.Model.IsSkippable() {
		skip, err := in.Parameters.Bool(SkipParam, false)
		if err != nil {
			return executor.Output{}, err
		}
		if skip {
			m.env.Logger.Debug("Multichain skipped", zap.String("multichain_id", m.ID()))
			return executor.NewOutput(), nil
		}
	}

	overrideJSON, _ := in.Port(settings.PortSettings)
	override, err := settings.ParseObjectString(overrideJSON)
	if err != nil {
		return executor.Output{}, fmt.Errorf("multichain %s: %w", m.ID(), err)
	}
	extract, err := in.Parameters.Bool(settings.ParamExtractSubSettings, true)
	if err != nil {
		return executor.Output{}, err
	}
	parent, err := m.def.CommonBuilder.Combine(in.Parameters, override, settings.Options{ExtractSubSettings: extract})
	if err != nil {
		return executor.Output{}, fmt.Errorf("multichain %s: %w", m.ID(), err)
	}

	selected := m.findSelectedChainID(override, in.Parameters.String(SelectedChainIDParam, m.def.DefaultVariantID))
	chainSettings, err := m.FindSelectedChainSettings(parent, selected, extract)
	if err != nil {
		return executor.Output{}, err
	}
	c, err := m.selectedChain(selected)
	if err != nil {
		return executor.Output{}, err
	}
	m.env.Logger.Debug("Multichain variant selected",
		zap.String("multichain_id", m.ID()),
		zap.Int64("context_id", m.contextID),
		zap.String("variant_id", selected))
	return c.Execute(ctx, executor.Input{
		Ports: map[string]string{settings.PortSettings: chainSettings.String()},
	})
}

// Close closes the chain instances. It is idempotent.
func (m *MultiChain) Close() error {
	m.mu.Lock()
	chains := m.chains
	m.chains = nil
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, c := range chains {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ executor.Executor = (*MultiChain)(nil)
