package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/executor"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const blurSettings = `{
  "app": "settings",
  "version": "1.0",
  "id": "blur-settings",
  "description": "Blur parameters",
  "controls": [
    {"name": "radius", "value_type": "DOUBLE", "default": 2.5},
    {"name": "iterations", "value_type": "int", "default": "3"},
    {"name": "mode", "value_type": "enum_string", "items": [{"value": "fast"}, {"value": "exact"}]},
    {"name": "output", "value_type": "string", "edition_type": "file_to_write", "advanced": true},
    {"name": "extra", "value_type": "settings", "default": {"b": 1, "a": 2}}
  ]
}`

func TestParse_Basic(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "filters", "blur.settings.json"), blurSettings)

	spec, err := ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, AppSettings, spec.App)
	assert.Equal(t, "blur-settings", spec.ID)
	assert.Equal(t, "blur", spec.Name)
	assert.Equal(t, "filters", spec.Category)
	assert.True(t, spec.AutogeneratedName())
	assert.True(t, spec.AutogeneratedCategory())
	assert.False(t, spec.Main())
	assert.Equal(t, []string{"radius", "iterations", "mode", "output", "extra"}, spec.Names())
	assert.Equal(t, []string{"radius", "iterations", "mode", "extra"}, spec.ImportantNames())

	radius, ok := spec.Control("radius")
	require.True(t, ok)
	assert.Equal(t, executor.ValueDouble, radius.ValueType)
	assert.Equal(t, 2.5, radius.Default)

	iterations, _ := spec.Control("iterations")
	assert.Equal(t, int64(3), iterations.Default)

	mode, _ := spec.Control("mode")
	assert.Equal(t, executor.EditionEnum, mode.EditionType)
	assert.Equal(t, "fast", mode.DefaultOrEmpty())

	output, _ := spec.Control("output")
	assert.True(t, output.IsPath())

	extra, _ := spec.Control("extra")
	assert.Equal(t, `{"b":1,"a":2}`, string(extra.Default.(json.RawMessage)))
}

func TestParse_ExplicitNameAndCategory(t *testing.T) {
	spec, err := Parse([]byte(`{"id": "x", "name": "Named", "category": "cat"}`), "/tmp/other/file.json")
	require.NoError(t, err)

	assert.Equal(t, "Named", spec.Name)
	assert.Equal(t, "cat", spec.Category)
	assert.False(t, spec.AutogeneratedName())
	assert.False(t, spec.AutogeneratedCategory())
}

func TestParse_InlineDefaults(t *testing.T) {
	spec, err := Parse([]byte(`{"id": "inline"}`), "")
	require.NoError(t, err)

	assert.Equal(t, "inline", spec.Name)
	assert.Equal(t, DefaultCategory, spec.Category)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		field   string
		wantErr error
	}{
		{name: "malformed json", doc: `{"id": "x",`, wantErr: ErrInvalidSettingsJSON},
		{name: "missing id", doc: `{"name": "x"}`, field: "id", wantErr: ErrMissingID},
		{name: "unknown value type", doc: `{"id": "x", "controls": [{"name": "a", "value_type": "complex"}]}`, field: "controls/0", wantErr: executor.ErrUnknownValueType},
		{name: "unknown edition type", doc: `{"id": "x", "controls": [{"name": "a", "value_type": "string", "edition_type": "slider"}]}`, field: "controls/0", wantErr: executor.ErrUnknownEditionType},
		{name: "reserved name", doc: `{"id": "x", "controls": [{"name": "_cs___debug", "value_type": "boolean"}]}`, field: "_cs___debug", wantErr: ErrReservedControlName},
		{name: "settings name", doc: `{"id": "x", "controls": [{"name": "settings", "value_type": "string"}]}`, field: "settings", wantErr: ErrReservedControlName},
		{name: "duplicate control", doc: `{"id": "x", "controls": [{"name": "a", "value_type": "int"}, {"name": "a", "value_type": "int"}]}`, field: "a", wantErr: ErrDuplicateControl},
		{name: "bad default", doc: `{"id": "x", "controls": [{"name": "a", "value_type": "int", "default": "abc"}]}`, field: "controls/0", wantErr: executor.ErrInvalidValue},
		{name: "invalid key", doc: `{"id": "x", "app": "mapping", "keys": ["a-b"]}`, field: "keys", wantErr: ErrInvalidKey},
		{name: "reversed range", doc: `{"id": "x", "app": "mapping", "keys": ["5..2"]}`, field: "keys", wantErr: ErrInvalidKey},
		{name: "all keys ignored", doc: `{"id": "x", "app": "mapping", "keys": ["a"], "ignored_keys": ["a"]}`, field: "keys", wantErr: ErrEmptyMapping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "/specs/test.json")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidSpecification)

			var specErr *SpecificationError
			require.True(t, errors.As(err, &specErr))
			assert.Equal(t, "/specs/test.json", specErr.Path)
			assert.Equal(t, tt.field, specErr.Field)
		})
	}
}

func TestParse_SchemaViolationNamesField(t *testing.T) {
	_, err := Parse([]byte(`{"id": "x", "controls": [{"name": "a", "value_type": "int", "advanced": "yes"}]}`), "")
	require.Error(t, err)

	var specErr *SpecificationError
	require.True(t, errors.As(err, &specErr))
	assert.Equal(t, "controls/0/advanced", specErr.Field)
}

func TestParse_Mapping(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keys.txt"), "# channel keys\nred\n\ngreen\n")
	writeFile(t, filepath.Join(dir, "items.json"), `["low", "high", 3]`)
	path := writeFile(t, filepath.Join(dir, "channels.mapping.json"), `{
  "app": "mapping",
  "id": "channels",
  "keys": ["alpha", 3, "5..7"],
  "keys_file": "keys.txt",
  "ignored_keys": ["6", "green"],
  "enum_items_file": "items.json"
}`)

	spec, err := ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, "channels", spec.Name)
	assert.Equal(t, []string{"alpha", "3", "5", "7", "red"}, spec.Keys)
	assert.Equal(t, []string{"6", "green"}, spec.IgnoredKeys)
	assert.Equal(t, spec.Keys, spec.Names())
	assert.Equal(t, []executor.EnumItem{{Value: "low"}, {Value: "high"}, {Value: "3"}}, spec.EnumItems)

	red, ok := spec.Control("red")
	require.True(t, ok)
	assert.Equal(t, executor.EditionEnum, red.EditionType)
	assert.Equal(t, "low", red.DefaultOrEmpty())
}

func TestParse_MappingRangeLimit(t *testing.T) {
	_, err := Parse([]byte(`{"id": "x", "app": "mapping", "keys": ["0..100000"]}`), "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	spec, err := Parse([]byte(`{"id": "x", "app": "mapping", "keys": ["1..100000"]}`), "")
	require.NoError(t, err)
	assert.Len(t, spec.Controls, MaxRangeKeys)
}

func TestSpecification_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
		doc  string
	}{
		{name: "settings", path: filepath.Join(dir, "filters", "blur.settings.json"), doc: blurSettings},
		{name: "main settings", path: filepath.Join(dir, "main.json"), doc: `{"app": "main-settings", "id": "m", "name": "Main", "category": "chains", "split_id": "m.split", "get_names_id": "m.names", "tags": ["a"], "controls": [{"name": "flag", "value_type": "boolean", "default": true}]}`},
		{name: "mapping", path: filepath.Join(dir, "map.json"), doc: `{"app": "mapping", "id": "map", "keys": ["a", "1..3"], "ignored_keys": ["2"], "enum_items": ["x", {"value": "y", "caption": "Y"}], "control_template": {"value_type": "enum_string", "advanced": true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original, err := Parse([]byte(tt.doc), tt.path)
			require.NoError(t, err)

			data, err := original.Marshal()
			require.NoError(t, err)

			reparsed, err := Parse(data, tt.path)
			require.NoError(t, err)
			assert.Equal(t, original, reparsed)
		})
	}
}

func TestSpecification_MarshalOmitsAutogeneratedFields(t *testing.T) {
	spec, err := Parse([]byte(`{"id": "x"}`), "/specs/cat/name.json")
	require.NoError(t, err)

	data, err := spec.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"name"`)
	assert.NotContains(t, string(data), `"category"`)

	moved, err := Parse(data, "/specs/other/renamed.json")
	require.NoError(t, err)
	assert.Equal(t, "renamed", moved.Name)
	assert.Equal(t, "other", moved.Category)
}

func TestExpandKey(t *testing.T) {
	tests := []struct {
		key     string
		want    []string
		wantErr bool
	}{
		{key: "alpha_1", want: []string{"alpha_1"}},
		{key: "42", want: []string{"42"}},
		{key: "-1..1", want: []string{"-1", "0", "1"}},
		{key: "3 .. 4", want: []string{"3", "4"}},
		{key: "9223372036854775806..9223372036854775807", want: []string{"9223372036854775806", "9223372036854775807"}},
		{key: "-9223372036854775807..9223372036854775807", wantErr: true},
		{key: "0..100000", wantErr: true},
		{key: "2..1", wantErr: true},
		{key: "1a", wantErr: true},
		{key: "a.b", wantErr: true},
		{key: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := ExpandKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
