package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBackendConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BackendConfig
		wantErr bool
		field   string
	}{
		{
			name: "valid child process",
			cfg: BackendConfig{
				ID:        "fs",
				Transport: TransportChildProcess,
				ChildProcess: &ChildProcessConfig{
					Command: "mcp-server-fs",
				},
			},
			wantErr: false,
		},
		{
			name: "valid event stream",
			cfg: BackendConfig{
				ID:        "weather",
				Transport: TransportEventStream,
				EventStream: &EventStreamConfig{
					BaseURL: "https://weather.example.com/sse",
				},
			},
			wantErr: false,
		},
		{
			name:    "bad id leading digit",
			cfg:     BackendConfig{ID: "1fs", Transport: TransportChildProcess, ChildProcess: &ChildProcessConfig{Command: "x"}},
			wantErr: true,
			field:   "id",
		},
		{
			name:    "id contains reserved namespace separator",
			cfg:     BackendConfig{ID: "ab__cd", Transport: TransportChildProcess, ChildProcess: &ChildProcessConfig{Command: "x"}},
			wantErr: true,
			field:   "id",
		},
		{
			name:    "id too long",
			cfg:     BackendConfig{ID: "a" + stringsRepeat("b", 64), Transport: TransportChildProcess, ChildProcess: &ChildProcessConfig{Command: "x"}},
			wantErr: true,
			field:   "id",
		},
		{
			name:    "missing command",
			cfg:     BackendConfig{ID: "fs", Transport: TransportChildProcess, ChildProcess: &ChildProcessConfig{}},
			wantErr: true,
			field:   "childProcess.command",
		},
		{
			name:    "missing child process block",
			cfg:     BackendConfig{ID: "fs", Transport: TransportChildProcess},
			wantErr: true,
			field:   "childProcess",
		},
		{
			name:    "missing base url",
			cfg:     BackendConfig{ID: "weather", Transport: TransportEventStream, EventStream: &EventStreamConfig{}},
			wantErr: true,
			field:   "eventStream.baseUrl",
		},
		{
			name:    "unknown transport",
			cfg:     BackendConfig{ID: "fs", Transport: "carrier-pigeon"},
			wantErr: true,
			field:   "transport",
		},
		{
			name: "bad env key",
			cfg: BackendConfig{
				ID:        "fs",
				Transport: TransportChildProcess,
				ChildProcess: &ChildProcessConfig{
					Command: "x",
					Env:     map[string]string{"1BAD": "v"},
				},
			},
			wantErr: true,
			field:   "childProcess.env",
		},
		{
			name:    "timeout out of bounds",
			cfg:     BackendConfig{ID: "fs", Transport: TransportChildProcess, ChildProcess: &ChildProcessConfig{Command: "x"}, RequestTimeout: 400 * 1e9},
			wantErr: true,
			field:   "requestTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateBackendConfig(tt.cfg)
			if !tt.wantErr {
				require.False(t, errs.HasErrors(), "unexpected errors: %v", errs)
				return
			}
			require.True(t, errs.HasErrors())
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected an error on field %q, got %v", tt.field, errs)
		})
	}
}

func TestBackendConfig_Effective(t *testing.T) {
	c := BackendConfig{}
	assert.Equal(t, DefaultRequestTimeout, c.EffectiveRequestTimeout())
	assert.Equal(t, DefaultMaxRetries, c.EffectiveMaxRetries())
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
