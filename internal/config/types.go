package config

import "time"

// Config represents the complete remote-render server configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Backend   BackendConfig   `yaml:"backend"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Render    RenderConfig    `yaml:"render"`
	API       APIConfig       `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// ServerConfig defines the client-facing message socket.
type ServerConfig struct {
	Listen string `yaml:"listen"` // e.g. "tcp://*:31416"
}

// StorageConfig defines where the job registry lives.
type StorageConfig struct {
	Path           string `yaml:"path"`
	AllowNetworkFS bool   `yaml:"allow_network_fs"`
}

// BackendConfig selects the render backend variant.
type BackendConfig struct {
	Kind string `yaml:"kind"` // "slurm" or "cli"
}

// SchedulerConfig defines the batch scheduler commands.
type SchedulerConfig struct {
	SubmitCommand []string      `yaml:"submit_command"`
	ListCommand   []string      `yaml:"list_command"`
	CancelCommand []string      `yaml:"cancel_command"`
	Timeout       time.Duration `yaml:"timeout"`
	JobScript     string        `yaml:"job_script"`
	EnvSetup      string        `yaml:"env_setup"`
}

// RenderConfig defines the transfer root and render invocation.
type RenderConfig struct {
	Root         string `yaml:"root"`
	Blender      string `yaml:"blender"`
	RenderScript string `yaml:"render_script,omitempty"`
	OutputPrefix string `yaml:"output_prefix"`
	OutputExt    string `yaml:"output_ext"`
}

// APIConfig defines the operator HTTP API.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token. Empty disables authentication.
	APIKey string `yaml:"api_key"`
}

// Defaults returns a Config with the stock server settings.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "remote-render",
			LogLevel: "info",
		},
		Server: ServerConfig{
			Listen: "tcp://*:31416",
		},
		Storage: StorageConfig{
			Path: "./data/registry.db",
		},
		Backend: BackendConfig{
			Kind: "slurm",
		},
		Scheduler: SchedulerConfig{
			SubmitCommand: []string{"sbatch"},
			ListCommand:   []string{"squeue", "--me", "--noheader", "--format=%i %T"},
			CancelCommand: []string{"scancel"},
			Timeout:       60 * time.Second,
			JobScript:     "jobfile.slurm",
			EnvSetup:      "module load blender",
		},
		Render: RenderConfig{
			Root:         ".",
			Blender:      "blender",
			OutputPrefix: "output_",
			OutputExt:    ".png",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
