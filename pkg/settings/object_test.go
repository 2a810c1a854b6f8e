package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObject_KeepsKeyOrder(t *testing.T) {
	obj, err := ParseObjectString(`{"zeta": 1, "alpha": {"b": 2,  "a": 1}, "mid": "x"}`)
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, obj.Keys())
	assert.Equal(t, `{"zeta":1,"alpha":{"b":2,"a":1},"mid":"x"}`, obj.String())
}

func TestParseObject_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "malformed", input: `{"a": }`},
		{name: "array", input: `[1, 2]`},
		{name: "scalar", input: `"text"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseObjectString(tt.input)
			assert.ErrorIs(t, err, ErrInvalidSettingsJSON)
		})
	}
}

func TestParseObject_BlankIsEmpty(t *testing.T) {
	obj, err := ParseObjectString("  \n")
	require.NoError(t, err)
	assert.True(t, obj.IsEmpty())
}

func TestObject_OverrideEntries_IsShallow(t *testing.T) {
	base, err := ParseObjectString(`{"a": 1, "nested": {"x": 1, "y": 2}, "b": true}`)
	require.NoError(t, err)
	override, err := ParseObjectString(`{"nested": {"x": 10}, "extra": "e", "a": 5}`)
	require.NoError(t, err)

	merged := base.OverrideEntries(override)

	assert.Equal(t, `{"a":5,"nested":{"x":10},"b":true,"extra":"e"}`, merged.String())
	assert.Equal(t, `{"a":1,"nested":{"x":1,"y":2},"b":true}`, base.String(), "source must not change")
}

func TestObject_FilterAndWithout(t *testing.T) {
	obj, err := ParseObjectString(`{"a": 1, "b": 2, "c": 3}`)
	require.NoError(t, err)

	assert.Equal(t, `{"a":1,"c":3}`, obj.Only(map[string]struct{}{"a": {}, "c": {}, "z": {}}).String())
	assert.Equal(t, `{"b":2}`, obj.Without("a", "c").String())
}

func TestObject_DeleteAndSet(t *testing.T) {
	obj := NewObject()
	require.NoError(t, obj.SetValue("a", 1))
	require.NoError(t, obj.SetValue("b", "two"))
	require.NoError(t, obj.SetValue("c", false))
	obj.Delete("b")
	require.NoError(t, obj.SetValue("a", 3))

	assert.Equal(t, `{"a":3,"c":false}`, obj.String())
	assert.False(t, obj.Has("b"))
}

func TestObject_Pretty_IsDeterministic(t *testing.T) {
	obj, err := ParseObjectString(`{"b": [1, 2], "a": {"z": null}}`)
	require.NoError(t, err)

	first := obj.Pretty()
	second := obj.Clone().Pretty()
	assert.Equal(t, first, second)

	reparsed, err := ParseObjectString(first)
	require.NoError(t, err)
	assert.True(t, obj.Equal(reparsed))
}
