package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/fluffypony/universe/pkg/protocol"
)

// PromptRenderer renders a prompt from the current host state
type PromptRenderer func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)

// Prompt is a prompt template
type Prompt struct {
	name        PromptName
	description string
	args        []protocol.PromptArgument
	render      PromptRenderer
}

// Name returns the prompt name
func (p *Prompt) Name() string { return string(p.name) }

// Descriptor returns the prompts/list entry
func (p *Prompt) Descriptor() protocol.Prompt {
	return protocol.Prompt{
		Name:        string(p.name),
		Description: p.description,
		Arguments:   p.args,
	}
}

// Render produces the prompt messages
func (p *Prompt) Render(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
	return p.render(ctx, args)
}

func (r *Registry) promptCatalog() []*Prompt {
	return []*Prompt{
		{
			name:        PromptMiningOptimization,
			description: "Analyze mining performance and suggest optimizations",
			render:      r.renderMiningOptimization,
		},
	}
}

func activity(mining bool) string {
	if mining {
		return "ACTIVE"
	}
	return "STOPPED"
}

func (r *Registry) renderMiningOptimization(ctx context.Context, _ map[string]string) (*protocol.GetPromptResult, error) {
	status, err := r.miningStatus(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := r.collab.Settings.MiningConfig(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("# Tari Universe Mining Analysis\n\n")
	b.WriteString("## Current Status\n")
	fmt.Fprintf(&b, "- CPU Mining: %s (%.2f H/s)\n", activity(status.CPUMining.IsMining), status.CPUMining.HashRate)
	fmt.Fprintf(&b, "- GPU Mining: %s (%.2f H/s)\n", activity(status.GPUMining.IsMining), status.GPUMining.HashRate)
	fmt.Fprintf(&b, "- Total Hash Rate: %.2f H/s\n\n", status.Overall.TotalHashRate)
	b.WriteString("## Configuration\n")
	fmt.Fprintf(&b, "- Mining Mode: %s\n", cfg.Mode.DisplayName())
	fmt.Fprintf(&b, "- CPU Mining Enabled: %t\n", cfg.CPUMiningEnabled)
	fmt.Fprintf(&b, "- GPU Mining Enabled: %t\n", cfg.GPUMiningEnabled)
	fmt.Fprintf(&b, "- Custom CPU Usage: %d%%\n", cfg.CustomMaxCPUUsage)
	fmt.Fprintf(&b, "- Custom GPU Usage: %d%%\n\n", cfg.CustomMaxGPUUsage)
	b.WriteString("Please analyze this mining setup and suggest optimizations for better ")
	b.WriteString("performance, efficiency, or earnings. Consider the hardware capabilities, ")
	b.WriteString("current mining mode, and any configuration changes that might help.")

	return &protocol.GetPromptResult{
		Description: "Mining performance analysis",
		Messages: []protocol.PromptMessage{{
			Role:    "user",
			Content: protocol.Content{Type: "text", Text: b.String()},
		}},
	}, nil
}
