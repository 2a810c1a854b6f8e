package executor

import (
	"encoding/json"
	"fmt"
)

// AppName is the "app" discriminator of serialized executor specifications.
const AppName = "executor"

// Role distinguishes executors that act as the authoritative settings source
// of a chain from ordinary executors.
type Role string

// Supported roles
const (
	RoleNone Role = "none"
	RoleMain Role = "main"
)

// Owner is a non-owning back-reference to the chain instance that created an
// executor. It is only used for diagnostics and to identify the main settings
// block of a chain.
type Owner struct {
	ContextID   int64  `json:"context_id"`
	ContextName string `json:"context_name,omitempty"`
	ContextPath string `json:"context_path,omitempty"`
}

// Behavior holds optional runtime behavior flags.
type Behavior struct {
	Skippable bool `json:"skippable,omitempty"`
}

// Options groups optional executor options.
type Options struct {
	Behavior *Behavior `json:"behavior,omitempty"`
}

// Specification is the unit of registration: ports, controls and metadata
// from which the runtime instantiates an executor by id.
type Specification struct {
	App         string                  `json:"app"`
	Version     string                  `json:"version,omitempty"`
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Category    string                  `json:"category,omitempty"`
	Description string                  `json:"description,omitempty"`
	Language    string                  `json:"language,omitempty"`
	Platform    string                  `json:"platform,omitempty"`
	Tags        []string                `json:"tags,omitempty"`
	InPorts     []Port                  `json:"in_ports,omitempty"`
	OutPorts    []Port                  `json:"out_ports,omitempty"`
	Controls    []*ControlSpecification `json:"controls,omitempty"`
	Owner       *Owner                  `json:"owner,omitempty"`
	Role        Role                    `json:"role,omitempty"`
	SettingsID  string                  `json:"settings_id,omitempty"`
	Options     *Options                `json:"options,omitempty"`
}

// Validate checks required fields and the uniqueness of port and control names.
func (s *Specification) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSpecification)
	}
	if s.Name == "" {
		return fmt.Errorf("%w: executor %s has no name", ErrInvalidSpecification, s.ID)
	}
	if err := uniquePorts(s.InPorts, "input"); err != nil {
		return fmt.Errorf("executor %s: %w", s.ID, err)
	}
	if err := uniquePorts(s.OutPorts, "output"); err != nil {
		return fmt.Errorf("executor %s: %w", s.ID, err)
	}
	seen := make(map[string]struct{}, len(s.Controls))
	for _, c := range s.Controls {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: executor %s has duplicate control %q", ErrInvalidSpecification, s.ID, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

func uniquePorts(ports []Port, direction string) error {
	seen := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate %s port %q", ErrInvalidSpecification, direction, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// InPort returns the input port with the given name.
func (s *Specification) InPort(name string) (Port, bool) {
	return findPort(s.InPorts, name)
}

// OutPort returns the output port with the given name.
func (s *Specification) OutPort(name string) (Port, bool) {
	return findPort(s.OutPorts, name)
}

func findPort(ports []Port, name string) (Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Control returns the control with the given name.
func (s *Specification) Control(name string) (*ControlSpecification, bool) {
	for _, c := range s.Controls {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// IsSkippable reports whether the executor declares the skippable behavior.
func (s *Specification) IsSkippable() bool {
	return s.Options != nil && s.Options.Behavior != nil && s.Options.Behavior.Skippable
}

// Clone returns a deep copy of the specification.
func (s *Specification) Clone() *Specification {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Tags = append([]string(nil), s.Tags...)
	clone.InPorts = append([]Port(nil), s.InPorts...)
	clone.OutPorts = append([]Port(nil), s.OutPorts...)
	clone.Controls = CloneControls(s.Controls)
	if s.Owner != nil {
		owner := *s.Owner
		clone.Owner = &owner
	}
	if s.Options != nil {
		opts := *s.Options
		if s.Options.Behavior != nil {
			b := *s.Options.Behavior
			opts.Behavior = &b
		}
		clone.Options = &opts
	}
	return &clone
}

// CloneControls deep-copies a list of controls.
func CloneControls(controls []*ControlSpecification) []*ControlSpecification {
	if controls == nil {
		return nil
	}
	result := make([]*ControlSpecification, len(controls))
	for i, c := range controls {
		result[i] = c.Clone()
	}
	return result
}

// Marshal serializes the specification as indented JSON.
func (s *Specification) Marshal() ([]byte, error) {
	if s.App == "" {
		s.App = AppName
	}
	return json.MarshalIndent(s, "", "  ")
}

// ParseSpecification decodes and validates an executor specification.
func ParseSpecification(data []byte) (*Specification, error) {
	var spec Specification
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse executor specification: %w", err)
	}
	if spec.App != "" && spec.App != AppName {
		return nil, fmt.Errorf("%w: unexpected app %q", ErrInvalidSpecification, spec.App)
	}
	for i := range spec.InPorts {
		if err := spec.InPorts[i].Normalize(); err != nil {
			return nil, err
		}
	}
	for i := range spec.OutPorts {
		if err := spec.OutPorts[i].Normalize(); err != nil {
			return nil, err
		}
	}
	for _, c := range spec.Controls {
		if err := c.Normalize(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpecification, err)
		}
	}
	if spec.Role == "" {
		spec.Role = RoleNone
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}
