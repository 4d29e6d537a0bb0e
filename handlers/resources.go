// ABOUTME: MCP resource handlers for exposing offline sync state
// ABOUTME: Provides read-only access to status, pending items, and dead letters via URI
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ResourceScheme      = "agencysync://"
	ResourceStatus      = ResourceScheme + "status"
	ResourcePending     = ResourceScheme + "pending"
	ResourceDeadLetters = ResourceScheme + "dead-letters"
)

type ResourceHandlers struct {
	engine Engine
}

func NewResourceHandlers(engine Engine) *ResourceHandlers {
	return &ResourceHandlers{engine: engine}
}

// Resources lists every resource ReadResource can serve.
func (h *ResourceHandlers) Resources() []*mcp.Resource {
	return []*mcp.Resource{
		{URI: ResourceStatus, Name: "status", Description: "Connectivity, queue size, and config of the offline engine", MIMEType: "application/json"},
		{URI: ResourcePending, Name: "pending", Description: "Pending mutations oldest first", MIMEType: "application/json"},
		{URI: ResourceDeadLetters, Name: "dead-letters", Description: "Items that exhausted their retries", MIMEType: "application/json"},
	}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, ResourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", ResourceScheme)
	}

	var v any
	switch uri {
	case ResourceStatus:
		v = h.engine.Status()
	case ResourcePending:
		v = h.engine.Pending()
	case ResourceDeadLetters:
		v = h.engine.DeadLetters()
	default:
		return nil, mcp.ResourceNotFoundError(uri)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
