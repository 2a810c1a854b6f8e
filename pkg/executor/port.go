package executor

import (
	"fmt"
	"strings"
)

// PortType is the kind of data carried by a port at run time.
type PortType string

// Supported port types
const (
	PortScalar   PortType = "scalar"
	PortNumbers  PortType = "numbers"
	PortMatrix   PortType = "matrix"
	PortSettings PortType = "settings"
)

// ParsePortType converts a case-insensitive name into a PortType.
// "mat" is accepted as an alias of "matrix".
func ParsePortType(name string) (PortType, error) {
	pt := PortType(strings.ToLower(strings.TrimSpace(name)))
	switch pt {
	case PortScalar, PortNumbers, PortMatrix, PortSettings:
		return pt, nil
	case "mat":
		return PortMatrix, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPortType, name)
}

// Port describes one input or output of an executor.
type Port struct {
	Name      string   `json:"name"`
	ValueType PortType `json:"value_type"`
	Caption   string   `json:"caption,omitempty"`
	Hint      string   `json:"hint,omitempty"`
	Advanced  bool     `json:"advanced,omitempty"`
}

// Normalize validates the port and canonicalizes its type.
func (p *Port) Normalize() error {
	if p.Name == "" {
		return fmt.Errorf("%w: port name is required", ErrInvalidSpecification)
	}
	if p.ValueType == "" {
		p.ValueType = PortScalar
		return nil
	}
	pt, err := ParsePortType(string(p.ValueType))
	if err != nil {
		return fmt.Errorf("port %q: %w", p.Name, err)
	}
	p.ValueType = pt
	return nil
}

// CompatibleWith reports whether data of this port can be exchanged with other.
// Settings travel as scalar JSON strings, so scalar and settings ports match.
func (p Port) CompatibleWith(other Port) bool {
	if p.ValueType == other.ValueType {
		return true
	}
	return isScalarLike(p.ValueType) && isScalarLike(other.ValueType)
}

func isScalarLike(t PortType) bool {
	return t == PortScalar || t == PortSettings
}

// ScalarPort is a shorthand for a scalar port with the given name.
func ScalarPort(name string) Port {
	return Port{Name: name, ValueType: PortScalar}
}
