package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    TracingConfig
		wantErr bool
	}{
		{
			name: "defaults",
			want: DefaultConfig("svc"),
		},
		{
			name: "overrides",
			env: map[string]string{
				EnvEndpoint:    "collector:4318",
				EnvEnvironment: "production",
				EnvSampleRatio: "0.25",
			},
			want: TracingConfig{
				ServiceName:    "svc",
				ServiceVersion: "1.0.0",
				Environment:    "production",
				OTLPEndpoint:   "collector:4318",
				SampleRatio:    0.25,
			},
		},
		{name: "ratio out of range", env: map[string]string{EnvSampleRatio: "2"}, wantErr: true},
		{name: "ratio not a number", env: map[string]string{EnvSampleRatio: "all"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := ConfigFromEnv("svc")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShutdownTracing(t *testing.T) {
	assert.NoError(t, ShutdownTracing(nil, time.Second, nil))

	called := false
	err := ShutdownTracing(func(ctx context.Context) error {
		called = true
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	}, time.Second, nil)
	assert.NoError(t, err)
	assert.True(t, called)

	boom := errors.New("boom")
	err = ShutdownTracing(func(context.Context) error { return boom }, time.Second, nil)
	assert.ErrorIs(t, err, boom)
}
