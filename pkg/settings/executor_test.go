package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/Daedalus/pkg/executor"
)

const pathSettings = `{
  "id": "io",
  "name": "io",
  "split_id": "io.split",
  "get_names_id": "io.names",
  "controls": [
    {"name": "threshold", "value_type": "double", "default": 0.5},
    {"name": "target", "value_type": "string", "edition_type": "file_to_write", "default": "/out/result.csv"},
    {"name": "debug", "value_type": "boolean", "advanced": true}
  ]
}`

func TestBuilder_ExecutorSpecifications(t *testing.T) {
	b := mustBuilder(t, pathSettings, nil)
	owner := &executor.Owner{ContextID: 42, ContextName: "chain"}

	specs := b.ExecutorSpecifications(RoleMain, owner)
	require.Len(t, specs, 3)

	combine, split, names := specs[0], specs[1], specs[2]
	assert.Equal(t, "io", combine.ID)
	assert.Equal(t, "io", combine.Name)
	assert.Equal(t, "io.split", split.ID)
	assert.Equal(t, "split_io", split.Name)
	assert.Equal(t, "io.names", names.ID)
	assert.Equal(t, "get_names_io", names.Name)

	assert.Equal(t, executor.RoleMain, combine.Role)
	assert.Equal(t, int64(42), combine.Owner.ContextID)
	assert.Equal(t, executor.RoleMain, split.Role)
	assert.Nil(t, names.Owner)
	assert.NoError(t, combine.Validate())
	assert.NoError(t, split.Validate())

	var ports []string
	for _, p := range combine.OutPorts {
		ports = append(ports, p.Name)
	}
	assert.Equal(t, []string{
		"settings", "threshold", "target", "target__parent_folder", "target__file_name", "debug",
		"_sys___executorId", "_sys___settingsId", "_sys___settingsName",
	}, ports)

	for _, name := range []string{"threshold", "settings", ParamAbsolutePaths, ParamExtractSubSettings, ParamIgnoreInputParameter, ParamLogSettings} {
		_, ok := combine.Control(name)
		assert.True(t, ok, "combine should expose %s", name)
	}

	threshold, _ := combine.Control("threshold")
	original, _ := b.Specification().Control("threshold")
	assert.NotSame(t, original, threshold, "controls must be cloned")
}

func TestBuilder_ExecutorSpecifications_Ordinary(t *testing.T) {
	b := mustBuilder(t, `{"id": "plain", "controls": [{"name": "x", "value_type": "int"}]}`, nil)

	specs := b.ExecutorSpecifications(RoleOrdinary, &executor.Owner{ContextID: 1})
	require.Len(t, specs, 1)
	assert.Equal(t, executor.RoleNone, specs[0].Role)
	assert.Nil(t, specs[0].Owner)

	_, ok := specs[0].Control(ParamExtractSubSettings)
	assert.False(t, ok)
	_, ok = specs[0].Control(ParamAbsolutePaths)
	assert.True(t, ok)
}

func TestExecutor_Combine(t *testing.T) {
	b := mustBuilder(t, pathSettings, nil)
	exec := NewExecutor(b, KindCombine, RoleOrdinary)

	out, err := exec.Execute(context.Background(), executor.Input{
		Parameters: executor.Parameters{"threshold": "0.75", "settings": `{"debug": true}`},
	})
	require.NoError(t, err)

	assert.Equal(t, "0.75", out.Ports["threshold"])
	assert.Equal(t, "true", out.Ports["debug"])
	assert.Equal(t, "/out/result.csv", out.Ports["target"])
	assert.Equal(t, filepath.Dir("/out/result.csv"), out.Ports["target__parent_folder"])
	assert.Equal(t, "result.csv", out.Ports["target__file_name"])
	assert.Equal(t, "io", out.Ports[PortExecutorID])
	assert.Equal(t, "io", out.Ports[PortSettingsID])
	assert.Equal(t, "io", out.Ports[PortSettingsName])

	final, err := ParseObjectString(out.Ports["settings"])
	require.NoError(t, err)
	assert.Equal(t, `{"threshold":0.75,"target":"/out/result.csv","debug":true}`, final.String())
}

func TestExecutor_Combine_InputPortWinsOverParameter(t *testing.T) {
	b := mustBuilder(t, pathSettings, nil)
	exec := NewExecutor(b, KindCombine, RoleOrdinary)

	out, err := exec.Execute(context.Background(), executor.Input{
		Parameters: executor.Parameters{"settings": `{"threshold": 1}`},
		Ports:      map[string]string{"settings": `{"threshold": 2}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "2", out.Ports["threshold"])
}

func TestExecutor_Combine_MainRoleFlags(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sub := subSettingsResolver(t)
	b := mustBuilder(t, `{"id": "m", "app": "main-settings", "controls": [
		{"name": "child", "value_type": "settings", "builder_id": "sub"}
	]}`, sub)
	exec := NewExecutor(b, KindCombine, RoleMain, WithLogger(zap.New(core)))

	out, err := exec.Execute(context.Background(), executor.Input{
		Parameters: executor.Parameters{
			"settings":       `{"@child": {"a": 3}}`,
			ParamLogSettings: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":3}`, out.Ports["child"])
	assert.Equal(t, 1, logs.FilterMessage("Combined settings").Len())

	out, err = exec.Execute(context.Background(), executor.Input{
		Parameters: executor.Parameters{
			"settings":                `{"@child": {"a": 3}}`,
			ParamIgnoreInputParameter: "true",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":7}`, out.Ports["child"])

	_, err = exec.Execute(context.Background(), executor.Input{
		Parameters: executor.Parameters{ParamExtractSubSettings: "maybe"},
	})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestExecutor_Combine_OrdinaryRoleDoesNotExtract(t *testing.T) {
	b := mustBuilder(t, `{"id": "o", "controls": [
		{"name": "child", "value_type": "settings", "builder_id": "sub"}
	]}`, subSettingsResolver(t))
	exec := NewExecutor(b, KindCombine, RoleOrdinary)

	out, err := exec.Execute(context.Background(), executor.Input{
		Ports: map[string]string{"settings": `{"@child": {"a": 3}}`},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":7}`, out.Ports["child"])
}

func TestExecutor_Split(t *testing.T) {
	b := mustBuilder(t, pathSettings, nil)
	exec := NewExecutor(b, KindSplit, RoleOrdinary)

	out, err := exec.Execute(context.Background(), executor.Input{
		Ports: map[string]string{"settings": `{"target": "/tmp/x/y.txt"}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.5", out.Ports["threshold"])
	assert.Equal(t, "/tmp/x/y.txt", out.Ports["target"])
	assert.Equal(t, "y.txt", out.Ports["target__file_name"])
	assert.Equal(t, "false", out.Ports["debug"])
	assert.Equal(t, "io.split", out.Ports[PortExecutorID])

	_, err = exec.Execute(context.Background(), executor.Input{})
	assert.ErrorIs(t, err, ErrMissingSettingsInput)
}

func TestExecutor_GetNames(t *testing.T) {
	b := mustBuilder(t, pathSettings, nil)
	exec := NewExecutor(b, KindGetNames, RoleOrdinary)

	out, err := exec.Execute(context.Background(), executor.Input{})
	require.NoError(t, err)
	assert.JSONEq(t, `["threshold", "target", "debug"]`, out.Ports[PortNames])
	assert.JSONEq(t, `["threshold", "target"]`, out.Ports[PortImportantNames])
}

func TestExecutor_CancelledContext(t *testing.T) {
	b := mustBuilder(t, pathSettings, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecutor(b, KindGetNames, RoleOrdinary).Execute(ctx, executor.Input{})
	assert.ErrorIs(t, err, context.Canceled)
}
