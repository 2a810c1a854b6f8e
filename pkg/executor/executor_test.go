package executor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		vt      ValueType
		in      any
		want    any
		wantErr bool
	}{
		{name: "bool from string", vt: ValueBoolean, in: "TRUE", want: true},
		{name: "bool from garbage", vt: ValueBoolean, in: "yes please", wantErr: true},
		{name: "int from number", vt: ValueInt, in: json.Number("12"), want: int64(12)},
		{name: "int from integral float text", vt: ValueLong, in: "3.0", want: int64(3)},
		{name: "int from fraction", vt: ValueInt, in: 1.5, wantErr: true},
		{name: "int from huge float", vt: ValueLong, in: 1e300, wantErr: true},
		{name: "int from huge negative float", vt: ValueLong, in: -1e300, wantErr: true},
		{name: "int from huge text", vt: ValueInt, in: "1e300", wantErr: true},
		{name: "int from two to the 63", vt: ValueLong, in: 9223372036854775808.0, wantErr: true},
		{name: "int from minimum", vt: ValueLong, in: -9223372036854775808.0, want: int64(-9223372036854775808)},
		{name: "double from int", vt: ValueDouble, in: 4, want: float64(4)},
		{name: "double from text", vt: ValueDouble, in: " 2.25 ", want: 2.25},
		{name: "string from number", vt: ValueString, in: json.Number("7"), want: "7"},
		{name: "settings from text", vt: ValueSettings, in: `{ "a" : 1 }`, want: json.RawMessage(`{"a":1}`)},
		{name: "settings from blank", vt: ValueSettings, in: "", want: json.RawMessage(`{}`)},
		{name: "settings from array", vt: ValueSettings, in: `[1]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.vt, tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestControlSpecification_Normalize(t *testing.T) {
	var c ControlSpecification
	require.NoError(t, json.Unmarshal([]byte(`{"name": "level", "value_type": "Float", "default": 3}`), &c))
	require.NoError(t, c.Normalize())

	assert.Equal(t, ValueDouble, c.ValueType)
	assert.Equal(t, EditionValue, c.EditionType)
	assert.Equal(t, float64(3), c.Default)

	bad := ControlSpecification{Name: "x", ValueType: ValueInt, BuilderID: "other"}
	assert.Error(t, bad.Normalize())
}

func TestControlSpecification_CloneIsDeep(t *testing.T) {
	c := &ControlSpecification{
		Name:      "nested",
		ValueType: ValueSettings,
		Default:   json.RawMessage(`{"a":1}`),
		Items:     []EnumItem{{Value: "v"}},
	}
	clone := c.Clone()
	clone.Default.(json.RawMessage)[2] = 'b'
	clone.Items[0].Value = "changed"

	assert.Equal(t, json.RawMessage(`{"a":1}`), c.Default)
	assert.Equal(t, "v", c.Items[0].Value)
}

func TestPort_CompatibleWith(t *testing.T) {
	tests := []struct {
		a, b PortType
		want bool
	}{
		{PortScalar, PortScalar, true},
		{PortScalar, PortSettings, true},
		{PortSettings, PortScalar, true},
		{PortMatrix, PortMatrix, true},
		{PortMatrix, PortNumbers, false},
		{PortScalar, PortMatrix, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.a)+"_"+string(tt.b), func(t *testing.T) {
			assert.Equal(t, tt.want, Port{Name: "p", ValueType: tt.a}.CompatibleWith(Port{Name: "p", ValueType: tt.b}))
		})
	}
}

func TestParseSpecification(t *testing.T) {
	spec, err := ParseSpecification([]byte(`{
		"app": "executor",
		"id": "blur",
		"name": "Blur",
		"in_ports": [{"name": "input", "value_type": "MAT"}],
		"out_ports": [{"name": "output", "value_type": "matrix"}],
		"controls": [{"name": "radius", "value_type": "double", "default": 1}],
		"options": {"behavior": {"skippable": true}}
	}`))
	require.NoError(t, err)

	in, ok := spec.InPort("input")
	require.True(t, ok)
	assert.Equal(t, PortMatrix, in.ValueType)
	assert.True(t, spec.IsSkippable())
	assert.Equal(t, RoleNone, spec.Role)

	clone := spec.Clone()
	clone.Controls[0].Name = "changed"
	clone.Options.Behavior.Skippable = false
	assert.Equal(t, "radius", spec.Controls[0].Name)
	assert.True(t, spec.IsSkippable())

	_, err = ParseSpecification([]byte(`{"id": "x", "name": "x", "in_ports": [{"name": "a"}, {"name": "a"}]}`))
	assert.ErrorIs(t, err, ErrInvalidSpecification)

	_, err = ParseSpecification([]byte(`{"id": "x", "name": "x", "out_ports": [{"name": "a", "value_type": "tensor"}]}`))
	assert.ErrorIs(t, err, ErrUnknownPortType)
}

func TestParameters(t *testing.T) {
	p := Parameters{"flag": "false", "n": 3, "bad": "x"}

	b, err := p.Bool("flag", true)
	require.NoError(t, err)
	assert.False(t, b)

	b, err = p.Bool("missing", true)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = p.Bool("bad", false)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	assert.Equal(t, "3", p.String("n", ""))
	assert.Equal(t, "def", p.String("missing", "def"))
}
