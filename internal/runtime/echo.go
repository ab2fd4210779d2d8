package runtime

import (
	"context"
	"fmt"
)

// EchoRuntime is a local runtime that echoes the prompt back as assistant
// text. Used by the CLI when no real runtime is configured, and by tests.
type EchoRuntime struct {
	// Prefix is prepended to the echoed text.
	Prefix string
}

func (r *EchoRuntime) Run(ctx context.Context, _ ThreadRef, cfg *AgentConfig) (<-chan Fragment, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil agent config")
	}
	out := make(chan Fragment, 4)
	go func() {
		defer close(out)
		for _, tool := range cfg.Tools {
			select {
			case out <- Fragment{Kind: FragmentStatus, Text: "tool available: " + tool.ToolID}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- Fragment{Kind: FragmentText, Text: r.Prefix + cfg.Prompt}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}
