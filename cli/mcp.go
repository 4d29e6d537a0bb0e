// ABOUTME: MCP server subcommand
// ABOUTME: Exposes the offline queue and snapshot pipeline as MCP tools over stdio
package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/agencysync/handlers"
)

// MCPCommand starts the MCP server on stdio
func MCPCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	exportDir := fs.String("export-dir", ".", "Directory export_data writes to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app.Log.Info().Msg("starting agencysync MCP server")

	if err := app.Engine.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	server := NewMCPServer(app, *exportDir)

	// The engine keeps probing and syncing while the client is connected
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := app.Engine.Run(runCtx); err != nil {
			app.Log.Error().Err(err).Msg("engine loop stopped")
		}
	}()

	return server.Run(ctx, &mcp.StdioTransport{})
}

// NewMCPServer registers every tool, resource, and prompt.
func NewMCPServer(app *App, exportDir string) *mcp.Server {
	syncHandlers := handlers.NewSyncHandlers(app.Engine)
	exportHandlers := handlers.NewExportHandlers(app.Snapshots, exportDir, app.ExportedBy())
	resourceHandlers := handlers.NewResourceHandlers(app.Engine)
	promptHandlers := handlers.NewPromptHandlers(app.Engine)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "agencysync",
		Version: Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "queue_status",
		Description: "Show connectivity, pending count, last sync, and engine config; optionally list pending items",
	}, syncHandlers.QueueStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_pending_item",
		Description: "Queue a create, update, or delete for an allowed collection; replaces any queued change for the same item",
	}, syncHandlers.AddPendingItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_pending_item",
		Description: "Discard a queued change by collection and id",
	}, syncHandlers.RemovePendingItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "synchronize",
		Description: "Replay the pending queue against the backend now",
	}, syncHandlers.Synchronize)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_connection",
		Description: "Probe the backend and update online state",
	}, syncHandlers.CheckConnection)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_dead_letters",
		Description: "List queued changes that exhausted their retries, optionally for one collection",
	}, syncHandlers.ListDeadLetters)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_data",
		Description: "Write a versioned JSON snapshot of tasks, projects, clients, documents, and posts",
	}, exportHandlers.ExportData)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "import_data",
		Description: "Import a snapshot file; collections the backend rejects are queued for offline sync",
	}, exportHandlers.ImportData)

	for _, resource := range resourceHandlers.Resources() {
		server.AddResource(resource, resourceHandlers.ReadResource)
	}
	for _, prompt := range promptHandlers.Prompts() {
		server.AddPrompt(prompt, promptHandlers.GetPrompt)
	}

	return server
}
