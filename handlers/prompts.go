// ABOUTME: MCP prompt handlers for offline sync workflows
// ABOUTME: Builds triage prompts from the live queue and dead-letter list
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const PromptDeadLetterTriage = "dead-letter-triage"

type PromptHandlers struct {
	engine Engine
}

func NewPromptHandlers(engine Engine) *PromptHandlers {
	return &PromptHandlers{engine: engine}
}

// Prompts lists every prompt GetPrompt can serve.
func (h *PromptHandlers) Prompts() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        PromptDeadLetterTriage,
			Description: "Review items that failed to sync and decide whether to retry or purge them",
			Arguments: []*mcp.PromptArgument{
				{Name: "collection", Description: "Only triage this collection"},
			},
		},
	}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case PromptDeadLetterTriage:
		return h.getDeadLetterTriagePrompt(request.Params.Arguments)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func (h *PromptHandlers) getDeadLetterTriagePrompt(args map[string]string) (*mcp.GetPromptResult, error) {
	collection := args["collection"]
	status := h.engine.Status()

	var text strings.Builder
	text.WriteString("Offline sync state:\n")
	fmt.Fprintf(&text, "- Online: %t\n", status.Online)
	fmt.Fprintf(&text, "- Pending items: %d\n", status.Pending)
	fmt.Fprintf(&text, "- Max retries: %d\n", status.Config.MaxRetries)

	count := 0
	text.WriteString("\nDead letters:\n")
	for _, dl := range h.engine.DeadLetters() {
		if collection != "" && dl.Collection != collection {
			continue
		}
		count++
		fmt.Fprintf(&text, "- %s (%s, failed %s): %s\n", dl.Key(), dl.Operation, millisToString(dl.FailedAt), dl.LastError)
		if len(dl.Data) > 0 {
			fmt.Fprintf(&text, "  data: %s\n", dl.Data)
		}
	}
	if count == 0 {
		text.WriteString("- none\n")
	}

	text.WriteString("\nFor each dead letter, explain the likely cause of the failure")
	text.WriteString(" and recommend retrying it with the list_dead_letters and add_pending_item tools or discarding it.")

	desc := "Dead-letter triage"
	if collection != "" {
		desc += " for " + collection
	}

	return &mcp.GetPromptResult{
		Description: desc,
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: text.String()},
			},
		},
	}, nil
}
