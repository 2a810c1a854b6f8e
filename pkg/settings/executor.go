package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/executor"
)

// Kind selects one of the executors derived from a settings unit.
type Kind int

// Derived executor kinds
const (
	KindCombine Kind = iota
	KindSplit
	KindGetNames
)

func (k Kind) String() string {
	switch k {
	case KindCombine:
		return "combine"
	case KindSplit:
		return "split"
	case KindGetNames:
		return "get_names"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Role selects whether derived executors act as the main settings of a chain.
type Role int

// Roles
const (
	RoleOrdinary Role = iota
	RoleMain
)

// Reserved parameter names of combine executors.
const (
	ParamAbsolutePaths        = ChainParameterPrefix + "absolutePaths"
	ParamExtractSubSettings   = ChainParameterPrefix + "extractSubSettings"
	ParamIgnoreInputParameter = ChainParameterPrefix + "ignoreInputParameter"
	ParamLogSettings          = ChainParameterPrefix + "logSettings"
)

// Port names of derived executors.
const (
	PortSettings       = "settings"
	PortNames          = "names"
	PortImportantNames = "important_names"
	PortExecutorID     = SystemPortPrefix + "executorId"
	PortSettingsID     = SystemPortPrefix + "settingsId"
	PortSettingsName   = SystemPortPrefix + "settingsName"

	ParentFolderSuffix = "__parent_folder"
	FileNameSuffix     = "__file_name"
)

// Platform tags of executor specifications produced by this package.
const (
	Language = "go"
	Platform = "settings"
)

type flags struct {
	absolutePaths        bool
	extractSubSettings   bool
	ignoreInputParameter bool
	logSettings          bool
}

// behavior is the role strategy shared by all derived executor kinds.
type behavior interface {
	parameters() []*executor.ControlSpecification
	flags(params executor.Parameters) (flags, error)
	role() executor.Role
	owns() bool
}

type ordinaryBehavior struct{}

func (ordinaryBehavior) parameters() []*executor.ControlSpecification {
	return []*executor.ControlSpecification{absolutePathsControl()}
}

func (ordinaryBehavior) flags(params executor.Parameters) (flags, error) {
	abs, err := params.Bool(ParamAbsolutePaths, true)
	return flags{absolutePaths: abs}, err
}

func (ordinaryBehavior) role() executor.Role { return executor.RoleNone }
func (ordinaryBehavior) owns() bool          { return false }

type mainBehavior struct{}

func (mainBehavior) parameters() []*executor.ControlSpecification {
	return []*executor.ControlSpecification{
		absolutePathsControl(),
		booleanControl(ParamExtractSubSettings, "extract sub-settings", true),
		booleanControl(ParamIgnoreInputParameter, "ignore \"settings (all)\" parameter", false),
		booleanControl(ParamLogSettings, "log settings", false),
	}
}

func (mainBehavior) flags(params executor.Parameters) (flags, error) {
	var f flags
	var err error
	if f.absolutePaths, err = params.Bool(ParamAbsolutePaths, true); err != nil {
		return f, err
	}
	if f.extractSubSettings, err = params.Bool(ParamExtractSubSettings, true); err != nil {
		return f, err
	}
	if f.ignoreInputParameter, err = params.Bool(ParamIgnoreInputParameter, false); err != nil {
		return f, err
	}
	f.logSettings, err = params.Bool(ParamLogSettings, false)
	return f, err
}

func (mainBehavior) role() executor.Role { return executor.RoleMain }
func (mainBehavior) owns() bool          { return true }

func behaviorFor(r Role) behavior {
	if r == RoleMain {
		return mainBehavior{}
	}
	return ordinaryBehavior{}
}

func absolutePathsControl() *executor.ControlSpecification {
	return booleanControl(ParamAbsolutePaths, "absolute paths", true)
}

func booleanControl(name, caption string, def bool) *executor.ControlSpecification {
	return &executor.ControlSpecification{
		Name:        name,
		Caption:     caption,
		ValueType:   executor.ValueBoolean,
		EditionType: executor.EditionValue,
		Default:     def,
		Advanced:    true,
	}
}

func settingsAllControl() *executor.ControlSpecification {
	return &executor.ControlSpecification{
		Name:        SettingsControlName,
		Caption:     "settings (all)",
		ValueType:   executor.ValueString,
		EditionType: executor.EditionValue,
		Default:     "",
		Multiline:   true,
		Advanced:    true,
	}
}

// Kinds returns the derived executor kinds this builder provides: combine
// always, split and get-names only when their ids are configured.
func (b *Builder) Kinds() []Kind {
	kinds := []Kind{KindCombine}
	if b.spec.SplitID != "" {
		kinds = append(kinds, KindSplit)
	}
	if b.spec.GetNamesID != "" {
		kinds = append(kinds, KindGetNames)
	}
	return kinds
}

// ExecutorID returns the id under which a derived executor is registered.
func (b *Builder) ExecutorID(kind Kind) string {
	switch kind {
	case KindSplit:
		return b.spec.SplitID
	case KindGetNames:
		return b.spec.GetNamesID
	}
	return b.spec.ID
}

func (b *Builder) executorName(kind Kind) string {
	switch kind {
	case KindSplit:
		return "split_" + b.spec.Name
	case KindGetNames:
		return "get_names_" + b.spec.Name
	}
	return b.spec.Name
}

// ExecutorSpecification generates the specification of one derived executor.
// Controls are cloned, never shared with the settings specification.
func (b *Builder) ExecutorSpecification(kind Kind, role Role, owner *executor.Owner) *executor.Specification {
	bh := behaviorFor(role)
	spec := &executor.Specification{
		App:         executor.AppName,
		Version:     b.spec.Version,
		ID:          b.ExecutorID(kind),
		Name:        b.executorName(kind),
		Category:    b.spec.Category,
		Description: b.spec.Description,
		Language:    Language,
		Platform:    Platform,
		Tags:        append([]string(nil), b.spec.Tags...),
		Role:        executor.RoleNone,
		SettingsID:  b.spec.ID,
	}
	switch kind {
	case KindCombine:
		spec.InPorts = []executor.Port{{Name: PortSettings, ValueType: executor.PortScalar, Hint: "override JSON"}}
		spec.OutPorts = b.fieldPorts()
		spec.Controls = append(executor.CloneControls(b.spec.Controls), settingsAllControl())
		spec.Controls = append(spec.Controls, bh.parameters()...)
	case KindSplit:
		spec.InPorts = []executor.Port{{Name: PortSettings, ValueType: executor.PortScalar}}
		spec.OutPorts = b.fieldPorts()
	case KindGetNames:
		spec.OutPorts = []executor.Port{
			executor.ScalarPort(PortNames),
			executor.ScalarPort(PortImportantNames),
		}
	}
	if kind != KindGetNames && bh.owns() {
		spec.Role = bh.role()
		if owner != nil {
			o := *owner
			spec.Owner = &o
		}
	}
	return spec
}

// ExecutorSpecifications generates the specifications of all provided kinds.
func (b *Builder) ExecutorSpecifications(role Role, owner *executor.Owner) []*executor.Specification {
	kinds := b.Kinds()
	specs := make([]*executor.Specification, 0, len(kinds))
	for _, k := range kinds {
		specs = append(specs, b.ExecutorSpecification(k, role, owner))
	}
	return specs
}

func (b *Builder) fieldPorts() []executor.Port {
	ports := []executor.Port{{Name: PortSettings, ValueType: executor.PortScalar, Hint: "final settings JSON"}}
	for _, c := range b.spec.Controls {
		pt := executor.PortScalar
		if c.IsSettings() {
			pt = executor.PortSettings
		}
		ports = append(ports, executor.Port{Name: c.Name, ValueType: pt, Caption: c.Caption, Advanced: true})
		if c.IsPath() {
			ports = append(ports,
				executor.Port{Name: c.Name + ParentFolderSuffix, ValueType: executor.PortScalar, Advanced: true},
				executor.Port{Name: c.Name + FileNameSuffix, ValueType: executor.PortScalar, Advanced: true},
			)
		}
	}
	return append(ports,
		executor.Port{Name: PortExecutorID, ValueType: executor.PortScalar, Advanced: true},
		executor.Port{Name: PortSettingsID, ValueType: executor.PortScalar, Advanced: true},
		executor.Port{Name: PortSettingsName, ValueType: executor.PortScalar, Advanced: true},
	)
}

// Executor is a derived combine, split or get-names executor. Its behavior
// for main and ordinary settings is selected by its role.
type Executor struct {
	builder  *Builder
	kind     Kind
	behavior behavior
	env      Environment
	logger   *zap.Logger
}

// ExecutorOption configures a derived executor.
type ExecutorOption func(*Executor)

// WithEnvironment sets the chain environment used for path rewriting.
func WithEnvironment(env Environment) ExecutorOption {
	return func(e *Executor) {
		e.env = env
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates a derived executor.
func NewExecutor(b *Builder, kind Kind, role Role, opts ...ExecutorOption) *Executor {
	e := &Executor{
		builder:  b,
		kind:     kind,
		behavior: behaviorFor(role),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Factory returns a factory creating derived executors of one kind.
func (b *Builder) Factory(kind Kind, role Role, opts ...ExecutorOption) executor.Factory {
	return func() (executor.Executor, error) {
		return NewExecutor(b, kind, role, opts...), nil
	}
}

// ID returns the registered id of the executor.
func (e *Executor) ID() string {
	return e.builder.ExecutorID(e.kind)
}

// Execute implements executor.Executor.
func (e *Executor) Execute(ctx context.Context, in executor.Input) (executor.Output, error) {
	if err := ctx.Err(); err != nil {
		return executor.Output{}, err
	}
	var (
		out executor.Output
		err error
	)
	switch e.kind {
	case KindCombine:
		out, err = e.combine(in)
	case KindSplit:
		out, err = e.split(in)
	case KindGetNames:
		out, err = e.names()
	default:
		err = fmt.Errorf("unsupported executor kind %s", e.kind)
	}
	if err != nil {
		return executor.Output{}, fmt.Errorf("executor %s: %w", e.ID(), err)
	}
	return out, nil
}

func (e *Executor) combine(in executor.Input) (executor.Output, error) {
	f, err := e.behavior.flags(in.Parameters)
	if err != nil {
		return executor.Output{}, err
	}
	overrideJSON := ""
	if v, ok := in.Port(PortSettings); ok && strings.TrimSpace(v) != "" {
		overrideJSON = v
	} else if !f.ignoreInputParameter {
		overrideJSON = in.Parameters.String(SettingsControlName, "")
	}
	result, err := e.builder.CombineJSON(in.Parameters, overrideJSON, Options{
		AbsolutePaths:      f.absolutePaths,
		ExtractSubSettings: f.extractSubSettings,
		Environment:        e.env,
	})
	if err != nil {
		return executor.Output{}, err
	}
	if f.logSettings {
		e.logger.Info("Combined settings",
			zap.String("executor_id", e.ID()),
			zap.String("settings_name", e.builder.spec.Name),
			zap.String("settings", result.String()))
	}
	return e.fieldOutput(result), nil
}

func (e *Executor) split(in executor.Input) (executor.Output, error) {
	v, ok := in.Port(PortSettings)
	if !ok {
		return executor.Output{}, ErrMissingSettingsInput
	}
	parsed, err := ParseObjectString(v)
	if err != nil {
		return executor.Output{}, err
	}
	completed, err := e.builder.Complete(parsed)
	if err != nil {
		return executor.Output{}, err
	}
	return e.fieldOutput(completed), nil
}

func (e *Executor) names() (executor.Output, error) {
	out := executor.NewOutput()
	names, err := json.Marshal(e.builder.Names())
	if err != nil {
		return executor.Output{}, err
	}
	important, err := json.Marshal(e.builder.ImportantNames())
	if err != nil {
		return executor.Output{}, err
	}
	out.Set(PortNames, string(names))
	out.Set(PortImportantNames, string(important))
	return out, nil
}

func (e *Executor) fieldOutput(result *Object) executor.Output {
	out := executor.NewOutput()
	out.Set(PortSettings, result.Pretty())
	for _, c := range e.builder.spec.Controls {
		value := result.Value(c.Name).String()
		out.Set(c.Name, value)
		if c.IsPath() {
			parent, name := SplitPath(value)
			out.Set(c.Name+ParentFolderSuffix, parent)
			out.Set(c.Name+FileNameSuffix, name)
		}
	}
	out.Set(PortExecutorID, e.ID())
	out.Set(PortSettingsID, e.builder.spec.ID)
	out.Set(PortSettingsName, e.builder.spec.Name)
	return out
}

var _ executor.Executor = (*Executor)(nil)
