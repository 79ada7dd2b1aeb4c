package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
)

func TestParseSubmitOutput(t *testing.T) {
	id, err := ParseSubmitOutput("Submitted batch job 123456\n")
	require.NoError(t, err)
	assert.Equal(t, "123456", id)

	for _, bad := range []string{"", "Submitted batch job", "Submitted batch job abc", "sbatch: error\nSubmitted batch job 1"} {
		_, err := ParseSubmitOutput(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseQueue(t *testing.T) {
	got := ParseQueue("101 PENDING\n102 RUNNING\n\n103 CANCELLED+\nbroken\n104 COMPLETING\n")
	assert.Equal(t, map[string]backend.JobStatus{
		"101": backend.StatusPending,
		"102": backend.StatusRunning,
		"103": backend.StatusCancelled,
		"104": backend.StatusRunning,
	}, got)
}

func TestMapState(t *testing.T) {
	tests := []struct {
		in   string
		want backend.JobStatus
	}{
		{"PENDING", backend.StatusPending},
		{"pd", backend.StatusPending},
		{"RUNNING", backend.StatusRunning},
		{"COMPLETED", backend.StatusCompleted},
		{"CANCELLED", backend.StatusCancelled},
		{"TIMEOUT", backend.StatusFailed},
		{"OUT_OF_MEMORY", backend.StatusFailed},
		{"SPECIAL_EXIT", backend.StatusUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapState(tt.in), tt.in)
	}
}

func TestBuildJobScriptWithRenderScript(t *testing.T) {
	script := BuildJobScript(ScriptParams{
		Spec: backend.RenderSpec{
			FrameStart: 1, FrameEnd: 48,
			Directives: []backend.KV{{Key: "time", Value: "00:20:00"}, {Key: "account", Value: ""}},
		},
		BlendFile:    "/srv/render/my scene.blend",
		OutputPath:   "/srv/render/out/output_",
		EnvSetup:     "module load blender/4.1",
		Blender:      "blender",
		RenderScript: "/opt/batch_render.py",
	})

	assert.Equal(t, "#!/bin/bash\n"+
		"#SBATCH --time=00:20:00\n"+
		"#SBATCH --nodes=1\n"+
		"module load blender/4.1\n"+
		"blender -b '/srv/render/my scene.blend' -o '/srv/render/out/output_####' -P /opt/batch_render.py -- --frames 1..48 --cycles-device CPU\n",
		script)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "/plain/path.blend", shellQuote("/plain/path.blend"))
	assert.Equal(t, `'it'\''s.blend'`, shellQuote("it's.blend"))
	assert.Equal(t, "''", shellQuote(""))
}

func TestSlurmSchemaDirectives(t *testing.T) {
	cfg := backend.NewRenderConfig(SlurmSchema())
	var keys []string
	for _, kv := range cfg.Directives() {
		keys = append(keys, kv.Key)
	}
	assert.Equal(t, []string{"job-name", "time", "account", "partition", "qos"}, keys)
}
