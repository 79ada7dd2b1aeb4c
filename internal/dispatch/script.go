package dispatch

import (
	"fmt"
	"strings"

	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
)

// ScriptParams are the resolved inputs of one job script.
type ScriptParams struct {
	Spec         backend.RenderSpec
	BlendFile    string // absolute
	OutputPath   string // absolute, without frame number or extension
	EnvSetup     string
	Blender      string
	RenderScript string // optional frame-claiming loop passed to blender -P
}

// BuildJobScript renders the batch script. Rendering is forced onto the CPU
// because cluster nodes lack the client's GPU setup.
func BuildJobScript(p ScriptParams) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	for _, kv := range p.Spec.Directives {
		if kv.Value == "" {
			continue
		}
		fmt.Fprintf(&b, "#SBATCH --%s=%s\n", kv.Key, kv.Value)
	}
	b.WriteString("#SBATCH --nodes=1\n")
	if p.EnvSetup != "" {
		b.WriteString(p.EnvSetup + "\n")
	}

	blender := p.Blender
	if blender == "" {
		blender = "blender"
	}
	output := p.OutputPath + "####"
	if p.RenderScript != "" {
		fmt.Fprintf(&b, "%s -b %s -o %s -P %s -- --frames %d..%d --cycles-device CPU\n",
			blender, shellQuote(p.BlendFile), shellQuote(output), shellQuote(p.RenderScript),
			p.Spec.FrameStart, p.Spec.FrameEnd)
	} else {
		fmt.Fprintf(&b, "%s -b %s -o %s -s %d -e %d -a -- --cycles-device CPU\n",
			blender, shellQuote(p.BlendFile), shellQuote(output),
			p.Spec.FrameStart, p.Spec.FrameEnd)
	}
	return b.String()
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
