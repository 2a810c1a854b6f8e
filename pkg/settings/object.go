package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// Object is a JSON object that keeps the insertion order of its top-level keys.
// Values are stored as compact raw JSON.
type Object struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{values: make(map[string]json.RawMessage)}
}

// ParseObject parses a JSON object. A blank input yields an empty object.
func ParseObject(data []byte) (*Object, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewObject(), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidSettingsJSON)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected a JSON object, got %s", ErrInvalidSettingsJSON, root.Type)
	}
	obj := NewObject()
	root.ForEach(func(key, value gjson.Result) bool {
		obj.Set(key.String(), json.RawMessage(value.Raw))
		return true
	})
	return obj, nil
}

// ParseObjectString is ParseObject for strings.
func ParseObjectString(s string) (*Object, error) {
	return ParseObject([]byte(s))
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of keys.
func (o *Object) Len() int {
	return len(o.keys)
}

// IsEmpty reports whether the object has no keys.
func (o *Object) IsEmpty() bool {
	return o == nil || len(o.keys) == 0
}

// Has reports whether the key exists.
func (o *Object) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

// Get returns the raw JSON value of a key.
func (o *Object) Get(key string) (json.RawMessage, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Value returns the value of a key as a gjson result; a missing key yields a
// result that does not exist.
func (o *Object) Value(key string) gjson.Result {
	v, ok := o.values[key]
	if !ok {
		return gjson.Result{}
	}
	return gjson.ParseBytes(v)
}

// Object returns the value of key when it is a JSON object.
func (o *Object) Object(key string) (*Object, bool) {
	v := o.Value(key)
	if !v.IsObject() {
		return nil, false
	}
	sub, err := ParseObject([]byte(v.Raw))
	if err != nil {
		return nil, false
	}
	return sub, true
}

// Set stores a raw JSON value. Existing keys keep their position.
func (o *Object) Set(key string, raw json.RawMessage) {
	if o.values == nil {
		o.values = make(map[string]json.RawMessage)
	}
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = json.RawMessage(pretty.Ugly(raw))
}

// SetValue marshals v and stores it under key.
func (o *Object) SetValue(key string, v any) error {
	var raw []byte
	switch x := v.(type) {
	case json.RawMessage:
		raw = x
	case *Object:
		b, err := x.MarshalJSON()
		if err != nil {
			return err
		}
		raw = b
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode value of %q: %w", key, err)
		}
		raw = b
	}
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%w: value of %q", ErrInvalidSettingsJSON, key)
	}
	o.Set(key, raw)
	return nil
}

// Delete removes a key.
func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
}

// Clone returns an independent copy.
func (o *Object) Clone() *Object {
	clone := &Object{
		keys:   append([]string(nil), o.keys...),
		values: make(map[string]json.RawMessage, len(o.values)),
	}
	for k, v := range o.values {
		clone.values[k] = v
	}
	return clone
}

// OverrideEntries returns a copy of o in which every top-level key of override
// replaces the value of o. Keys that exist only in override are appended.
// The replacement is shallow: nested objects are never merged.
func (o *Object) OverrideEntries(override *Object) *Object {
	result := o.Clone()
	if override == nil {
		return result
	}
	for _, k := range override.keys {
		result.Set(k, override.values[k])
	}
	return result
}

// Filter returns a copy containing only the keys accepted by keep.
func (o *Object) Filter(keep func(key string) bool) *Object {
	result := NewObject()
	for _, k := range o.keys {
		if keep(k) {
			result.Set(k, o.values[k])
		}
	}
	return result
}

// Only returns a copy restricted to the given key set.
func (o *Object) Only(keys map[string]struct{}) *Object {
	return o.Filter(func(k string) bool {
		_, ok := keys[k]
		return ok
	})
}

// Without returns a copy without the given keys.
func (o *Object) Without(keys ...string) *Object {
	excluded := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		excluded[k] = struct{}{}
	}
	return o.Filter(func(k string) bool {
		_, ok := excluded[k]
		return !ok
	})
}

// MarshalJSON writes the compact object in key order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(o.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Object) UnmarshalJSON(data []byte) error {
	parsed, err := ParseObject(data)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}

// String returns the compact JSON text.
func (o *Object) String() string {
	b, _ := o.MarshalJSON()
	return string(b)
}

// Pretty returns the indented JSON text. The output is deterministic for
// equal objects.
func (o *Object) Pretty() string {
	b, _ := o.MarshalJSON()
	return strings.TrimRight(string(pretty.Pretty(b)), "\n")
}

// Equal reports whether both objects have the same keys in the same order with
// the same compact values.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	for i, k := range o.keys {
		if other.keys[i] != k || !bytes.Equal(o.values[k], other.values[k]) {
			return false
		}
	}
	return true
}
