package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A .env file next to the
// config is loaded first; variables already set in the environment win.
// Relative storage and render paths resolve against the config directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	configDir := filepath.Dir(absPath)
	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Storage.Path = resolvePath(configDir, cfg.Storage.Path)
	cfg.Render.Root = resolvePath(configDir, cfg.Render.Root)
	return cfg, nil
}

// Parse decodes a YAML document over Defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $REMOTE_RENDER_CONFIG, ~/.config/remote-render/config.yaml,
// /etc/remote-render/config.yaml, ./config.yaml.
func Discover() (string, error) {
	if path := os.Getenv("REMOTE_RENDER_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	candidates := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "remote-render", "config.yaml"))
	}
	candidates = append(candidates, "/etc/remote-render/config.yaml", "./config.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $REMOTE_RENDER_CONFIG, %s)", strings.Join(candidates, ", "))
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the missing variable.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if !strings.Contains(cfg.Server.Listen, "://") {
		return fmt.Errorf("server.listen must be an endpoint like tcp://*:31416 (got %q)", cfg.Server.Listen)
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if _, err := backend.ParseKind(cfg.Backend.Kind); err != nil {
		return fmt.Errorf("backend.kind: %w", err)
	}

	s := cfg.Scheduler
	for name, argv := range map[string][]string{
		"scheduler.submit_command": s.SubmitCommand,
		"scheduler.list_command":   s.ListCommand,
		"scheduler.cancel_command": s.CancelCommand,
	} {
		if len(argv) == 0 || argv[0] == "" {
			return fmt.Errorf("%s must name a program", name)
		}
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("scheduler.timeout must be positive")
	}
	if s.JobScript == "" {
		return fmt.Errorf("scheduler.job_script is required")
	}

	if cfg.Render.Root == "" {
		return fmt.Errorf("render.root is required")
	}
	if cfg.Render.Blender == "" {
		return fmt.Errorf("render.blender is required")
	}
	if cfg.Render.OutputExt != "" && !strings.HasPrefix(cfg.Render.OutputExt, ".") {
		return fmt.Errorf("render.output_ext must start with a dot (got %q)", cfg.Render.OutputExt)
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey); len(matches) > 1 {
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
		}
	}

	return nil
}
