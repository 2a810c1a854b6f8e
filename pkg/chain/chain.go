package chain

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/contextid"
	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/registry"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

// Platform is the platform tag of chain implementation specifications.
const Platform = "chain"

// MainSettingsInformation describes the block that holds the main settings of
// a chain and the settings keys it accepts.
type MainSettingsInformation struct {
	BlockID    string
	SettingsID string
	Keys       map[string]struct{}
}

// Definition is a chain loaded into a session: its model, main settings and
// the implementation specification it is registered under. It is immutable.
type Definition struct {
	Model          *Model
	SessionID      string
	MainSettings   *settings.Specification
	Implementation *executor.Specification
}

// NewDefinition builds the definition of a loaded chain. main may be nil.
func NewDefinition(model *Model, sessionID string, main *settings.Specification) *Definition {
	d := &Definition{Model: model, SessionID: sessionID, MainSettings: main}
	d.Implementation = d.implementationSpecification()
	return d
}

// ImplementationSpecification returns a copy of the executor specification of the chain.
func (d *Definition) ImplementationSpecification() *executor.Specification {
	return d.Implementation.Clone()
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
		Role:        executor.RoleNone,
	}
	if d.MainSettings != nil {
		spec.SettingsID = d.MainSettings.ID
		spec.Controls = executor.CloneControls(d.MainSettings.Controls)
		if _, ok := spec.InPort(settings.PortSettings); !ok {
			spec.InPorts = append(spec.InPorts, executor.Port{Name: settings.PortSettings, ValueType: executor.PortSettings, Advanced: true})
		}
		if _, ok := spec.OutPort(settings.PortSettings); !ok {
			spec.OutPorts = append(spec.OutPorts, executor.Port{Name: settings.PortSettings, ValueType: executor.PortSettings, Advanced: true})
		}
	}
	return spec
}

// MainSettingsInformation returns the main settings block and keys of the chain.
func (d *Definition) MainSettingsInformation() (*MainSettingsInformation, bool) {
	if d.MainSettings == nil {
		return nil, false
	}
	info := &MainSettingsInformation{
		SettingsID: d.MainSettings.ID,
		Keys:       d.MainSettings.KeySet(),
	}
	if b, ok := d.Model.BlockFor(d.MainSettings.ID); ok {
		info.BlockID = b.ID
	}
	return info, true
}

// Environment returns the path environment of the chain.
func (d *Definition) Environment() settings.Environment {
	return settings.Environment{ChainFile: d.Model.Path(), ChainName: d.Model.Name}
}

// Env carries the runtime collaborators shared by chain and multichain instances.
type Env struct {
	Registry *registry.Registry
	IDs      *contextid.Allocator
	Logger   *zap.Logger
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.IDs == nil {
		e.IDs = contextid.New(0)
	}
	if e.Registry == nil {
		e.Registry = registry.New()
	}
	return e
}

// Chain is a runnable instance of a chain definition.
type Chain struct {
	def       *Definition
	env       Env
	contextID int64
	main      *settings.Builder
	closed    atomic.Bool
}

// New creates a chain instance with a fresh context id. Every block executor
// and the main settings builder must be registered in the definition's session.
// The owner of the registered main settings executors becomes the new instance.
func New(def *Definition, env Env) (*Chain, error) {
	env = env.withDefaults()
	for _, b := range def.Model.Blocks {
		if _, ok := env.Registry.Lookup(def.SessionID, b.ExecutorID); !ok {
			return nil, fmt.Errorf("%w: chain %s block %s references %q", ErrUnknownExecutor, def.Model.ID, b.ID, b.ExecutorID)
		}
	}
	c := &Chain{def: def, env: env, contextID: env.IDs.Next()}
	if def.MainSettings != nil {
		b, ok := env.Registry.Builder(def.SessionID, def.MainSettings.ID)
		if !ok {
			return nil, fmt.Errorf("%w: chain %s main settings %q", ErrUnknownExecutor, def.Model.ID, def.MainSettings.ID)
		}
		c.main = b
		env.Registry.BindOwner(def.SessionID, b, c.contextID)
	}
	env.Logger.Debug("Chain instance created",
		zap.String("chain_id", def.Model.ID),
		zap.Int64("context_id", c.contextID))
	return c, nil
}

// ContextID returns the id of this instance.
func (c *Chain) ContextID() int64 { return c.contextID }

// Definition returns the definition of the instance.
func (c *Chain) Definition() *Definition { return c.def }

// ID returns the chain id.
func (c *Chain) ID() string { return c.def.Model.ID }

// Name returns the chain name.
func (c *Chain) Name() string { return c.def.Model.Name }

// MainSettingsInformation returns the main settings block and keys of the chain.
func (c *Chain) MainSettingsInformation() (*MainSettingsInformation, bool) {
	return c.def.MainSettingsInformation()
}

func (c *Chain) mainParameters() executor.Parameters {
	if b, ok := c.def.Model.BlockFor(c.def.MainSettings.ID); ok {
		return b.Parameters.Clone()
	}
	return executor.Parameters{}
}

// DefaultSettings resolves the main settings of the chain from the parameters
// of its main settings block.
func (c *Chain) DefaultSettings() (*settings.Object, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.main == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMainSettings, c.def.Model.ID)
	}
	params := c.mainParameters()
	absolute, err := params.Bool(settings.ParamAbsolutePaths, false)
	if err != nil {
		return nil, err
	}
	return c.main.Combine(params, nil, settings.Options{
		AbsolutePaths:      absolute,
		ExtractSubSettings: true,
		Environment:        c.def.Environment(),
	})
}

// Execute resolves the chain settings through its main settings block. The
// "settings" input carries override JSON; parameters of the call override the
// block parameters. Running the remaining blocks belongs to the graph runtime.
func (c *Chain) Execute(ctx context.Context, in executor.Input) (executor.Output, error) {
	if c.closed.Load() {
		return executor.Output{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return executor.Output{}, err
	}
	if c.main == nil {
		return executor.Output{}, fmt.Errorf("%w: %s", ErrNoMainSettings, c.def.Model.ID)
	}

	exec, err := c.env.Registry.Create(c.def.SessionID, c.def.MainSettings.ID)
	if err != nil {
		return executor.Output{}, fmt.Errorf("chain %s: %w", c.def.Model.ID, err)
	}
	params := c.mainParameters()
	for k, v := range in.Parameters {
		params[k] = v
	}
	ports := map[string]string{}
	if v, ok := in.Port(settings.PortSettings); ok {
		ports[settings.PortSettings] = v
	}
	out, err := exec.Execute(ctx, executor.Input{Parameters: params, Ports: ports})
	if err != nil {
		return executor.Output{}, fmt.Errorf("chain %s: %w", c.def.Model.ID, err)
	}

	result := executor.NewOutput()
	if v, ok := out.Port(settings.PortSettings); ok {
		result.Set(settings.PortSettings, v)
	}
	for _, p := range c.def.Model.OutPorts {
		if v, ok := out.Port(p.Name); ok {
			result.Set(p.Name, v)
		}
	}
	c.env.Logger.Debug("Chain executed",
		zap.String("chain_id", c.def.Model.ID),
		zap.Int64("context_id", c.contextID))
	return result, nil
}

// Close releases the instance. It is idempotent.
func (c *Chain) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.env.Logger.Debug("Chain instance closed",
		zap.String("chain_id", c.def.Model.ID),
		zap.Int64("context_id", c.contextID))
	return nil
}

var _ executor.Executor = (*Chain)(nil)
