package dispatch

import "github.com/Nanoseb/BlenderRemoteRender/internal/backend"

// Render config keys read by the dispatcher.
const (
	KeyJobName    = "job-name"
	KeyMaxJobs    = "max-nb-jobs"
	KeyFrameStart = "frame-start"
	KeyFrameEnd   = "frame-end"
)

// SlurmSchema returns the option schema of the Slurm backend. Directive fields
// become "#SBATCH --key=value" lines in the job script.
func SlurmSchema() backend.Schema {
	frameRange := &backend.IntRange{Min: 0, Max: backend.MaxFrame}
	return backend.Schema{
		Backend: "Slurm",
		Fields: []backend.Field{
			{Key: KeyJobName, Type: backend.TypeString, Default: "Blender_render", Label: "Job name", Directive: true},
			{Key: "time", Type: backend.TypeString, Default: "00:20:00", Label: "Run time", Directive: true},
			{Key: "account", Type: backend.TypeString, Default: "", Label: "Account", Directive: true},
			{Key: "partition", Type: backend.TypeString, Default: "standard", Label: "Partition", Directive: true},
			{Key: "qos", Type: backend.TypeString, Default: "standard", Label: "QOS", Directive: true},
			{Key: KeyMaxJobs, Type: backend.TypeInt, Default: 4, Label: "Max nb Jobs", Range: &backend.IntRange{Min: 1, Max: 10000}},
			{Key: KeyFrameStart, Type: backend.TypeInt, Default: 1, Label: "Start frame", Range: frameRange},
			{Key: KeyFrameEnd, Type: backend.TypeInt, Default: 250, Label: "End frame", Range: frameRange},
		},
	}
}
