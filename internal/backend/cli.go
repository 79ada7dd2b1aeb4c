package backend

import "context"

// CLI is the local-execution variant. Only its option schema is defined;
// rendering operations report ErrNotImplemented.
type CLI struct {
	config *RenderConfig
}

// CLISchema returns the option schema of the CLI backend.
func CLISchema() Schema {
	return Schema{
		Backend: "CLI",
		Fields: []Field{
			{Key: "max-nb-jobs", Type: TypeInt, Default: 6, Label: "Simultaneous renders", Range: &IntRange{Min: 1, Max: 256}},
			{Key: "render-backend", Type: TypeString, Default: "GPU", Label: "Render backend (CPU CUDA OPTIX HIP ONEAPI METAL)"},
		},
	}
}

func NewCLI() *CLI {
	return &CLI{config: NewRenderConfig(CLISchema())}
}

func (c *CLI) Kind() Kind     { return KindCLI }
func (c *CLI) Schema() Schema { return c.config.Schema() }

func (c *CLI) MergeConfig(values map[string]any) error {
	return c.config.Merge(values)
}

func (c *CLI) StartRender(context.Context, string) (*Submission, error) {
	return nil, ErrNotImplemented
}

func (c *CLI) Status(context.Context, string) (*StatusReport, error) {
	return nil, ErrNotImplemented
}

func (c *CLI) CancelRender(context.Context, string) error {
	return ErrNotImplemented
}

func (c *CLI) ListRenderedOutputs(string) ([]string, error) {
	return nil, ErrNotImplemented
}
