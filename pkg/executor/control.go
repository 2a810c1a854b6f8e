package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mohae/deepcopy"
)

// ValueType is the type of the value stored by a control.
type ValueType string

// Supported value types
const (
	ValueBoolean    ValueType = "boolean"
	ValueInt        ValueType = "int"
	ValueLong       ValueType = "long"
	ValueDouble     ValueType = "double"
	ValueString     ValueType = "string"
	ValueEnumString ValueType = "enum_string"
	ValueSettings   ValueType = "settings"
)

// EditionType describes how a control is edited by a user interface.
type EditionType string

// Supported edition types
const (
	EditionValue       EditionType = "value"
	EditionEnum        EditionType = "enum"
	EditionFile        EditionType = "file"
	EditionFolder      EditionType = "folder"
	EditionFileToWrite EditionType = "file_to_write"
	EditionColor       EditionType = "color"
	EditionRange       EditionType = "range"
)

// ParseValueType converts a case-insensitive name into a ValueType.
func ParseValueType(name string) (ValueType, error) {
	vt := ValueType(strings.ToLower(strings.TrimSpace(name)))
	switch vt {
	case ValueBoolean, ValueInt, ValueLong, ValueDouble, ValueString, ValueEnumString, ValueSettings:
		return vt, nil
	case "float":
		return ValueDouble, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownValueType, name)
}

// ParseEditionType converts a case-insensitive name into an EditionType.
func ParseEditionType(name string) (EditionType, error) {
	et := EditionType(strings.ToLower(strings.TrimSpace(name)))
	switch et {
	case EditionValue, EditionEnum, EditionFile, EditionFolder, EditionFileToWrite, EditionColor, EditionRange:
		return et, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEditionType, name)
}

// IsPath reports whether controls of this edition type hold file system paths.
func (e EditionType) IsPath() bool {
	return e == EditionFile || e == EditionFolder || e == EditionFileToWrite
}

// EnumItem is one allowed value of an enum control.
type EnumItem struct {
	Value   string `json:"value"`
	Caption string `json:"caption,omitempty"`
}

// ControlSpecification describes one configuration field of an executor.
type ControlSpecification struct {
	Name        string      `json:"name"`
	Caption     string      `json:"caption,omitempty"`
	Description string      `json:"description,omitempty"`
	ValueType   ValueType   `json:"value_type"`
	EditionType EditionType `json:"edition_type,omitempty"`
	Default     any         `json:"default,omitempty"`
	Advanced    bool        `json:"advanced,omitempty"`
	Multiline   bool        `json:"multiline,omitempty"`
	Items       []EnumItem  `json:"items,omitempty"`
	GroupID     string      `json:"group_id,omitempty"`
	BuilderID   string      `json:"builder_id,omitempty"`
}

// UnmarshalJSON decodes a control keeping object defaults as raw JSON so that
// their key order survives.
func (c *ControlSpecification) UnmarshalJSON(data []byte) error {
	type controlAlias ControlSpecification
	w := struct {
		*controlAlias
		Default json.RawMessage `json:"default,omitempty"`
	}{controlAlias: (*controlAlias)(c)}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Default = nil
	raw := bytes.TrimSpace(w.Default)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '{' {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return err
		}
		c.Default = json.RawMessage(buf.Bytes())
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	c.Default = v
	return nil
}

// Normalize validates the value and edition types and converts the default value
// to the canonical Go representation of the value type.
func (c *ControlSpecification) Normalize() error {
	if c.Name == "" {
		return fmt.Errorf("control name is required")
	}
	vt, err := ParseValueType(string(c.ValueType))
	if err != nil {
		return fmt.Errorf("control %q: %w", c.Name, err)
	}
	c.ValueType = vt

	if c.EditionType == "" {
		if vt == ValueEnumString || len(c.Items) > 0 {
			c.EditionType = EditionEnum
		} else {
			c.EditionType = EditionValue
		}
	} else {
		et, err := ParseEditionType(string(c.EditionType))
		if err != nil {
			return fmt.Errorf("control %q: %w", c.Name, err)
		}
		c.EditionType = et
	}

	if vt != ValueSettings && (c.GroupID != "" || c.BuilderID != "") {
		return fmt.Errorf("control %q: group_id/builder_id are allowed only for settings controls", c.Name)
	}

	if c.Default != nil {
		v, err := Coerce(vt, c.Default)
		if err != nil {
			return fmt.Errorf("control %q: default: %w", c.Name, err)
		}
		c.Default = v
	}
	return nil
}

// IsPath reports whether the control holds a file system path.
func (c *ControlSpecification) IsPath() bool {
	return c.EditionType.IsPath()
}

// IsSettings reports whether the control holds a nested settings object.
func (c *ControlSpecification) IsSettings() bool {
	return c.ValueType == ValueSettings
}

// EmptyValue returns the value used when neither a parameter nor a default exists.
func (c *ControlSpecification) EmptyValue() any {
	switch c.ValueType {
	case ValueBoolean:
		return false
	case ValueInt, ValueLong:
		return int64(0)
	case ValueDouble:
		return float64(0)
	case ValueSettings:
		return json.RawMessage("{}")
	default:
		if len(c.Items) > 0 {
			return c.Items[0].Value
		}
		return ""
	}
}

// DefaultOrEmpty returns the default value, or the empty value of the type.
func (c *ControlSpecification) DefaultOrEmpty() any {
	if c.Default != nil {
		return c.Default
	}
	return c.EmptyValue()
}

// Clone returns a deep copy; derived specifications never share controls.
func (c *ControlSpecification) Clone() *ControlSpecification {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Default != nil {
		clone.Default = deepcopy.Copy(c.Default)
	}
	if c.Items != nil {
		clone.Items = append([]EnumItem(nil), c.Items...)
	}
	return &clone
}

// Coerce converts a raw value (parameter or JSON-decoded default) to the
// canonical representation of the value type: bool, int64, float64, string or
// compact json.RawMessage.
func Coerce(vt ValueType, v any) (any, error) {
	switch vt {
	case ValueBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, x)
			}
			return b, nil
		}
	case ValueInt, ValueLong:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			if !isInt64(x) {
				return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, x)
			}
			return int64(x), nil
		case json.Number:
			return parseInteger(string(x))
		case string:
			return parseInteger(x)
		}
	case ValueDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case json.Number:
			return parseDouble(string(x))
		case string:
			return parseDouble(x)
		}
	case ValueString, ValueEnumString:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return string(x), nil
		case bool, int, int64, float64:
			return fmt.Sprint(x), nil
		}
	case ValueSettings:
		return coerceObject(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownValueType, vt)
	}
	return nil, fmt.Errorf("%w: %T cannot hold %s", ErrInvalidValue, v, vt)
}

func parseInteger(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !isInt64(f) {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
	}
	return int64(f), nil
}

// isInt64 reports whether f is a whole number representable as an int64.
func isInt64(f float64) bool {
	return f == math.Trunc(f) && f >= math.MinInt64 && f < -math.MinInt64
}

func parseDouble(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
	}
	return f, nil
}

func coerceObject(v any) (json.RawMessage, error) {
	var raw []byte
	switch x := v.(type) {
	case json.RawMessage:
		raw = x
	case []byte:
		raw = x
	case string:
		if strings.TrimSpace(x) == "" {
			return json.RawMessage("{}"), nil
		}
		raw = []byte(x)
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("%w: %T cannot hold settings", ErrInvalidValue, v)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: settings value must be a JSON object", ErrInvalidValue)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
