// ABOUTME: Entry point for the agencysync offline sync CLI and MCP server
// ABOUTME: Parses global flags, loads settings, and routes to subcommands
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/harperreed/agencysync/cli"
	"github.com/harperreed/agencysync/config"
)

const version = "0.2.0"

// appCommand needs the engine and storage opened.
type appCommand struct {
	run      func(context.Context, *cli.App, []string) error
	autoSync bool
}

var appCommands = map[string]appCommand{
	"status":       {run: cli.StatusCommand},
	"pending":      {run: cli.PendingCommand},
	"add":          {run: cli.AddCommand},
	"remove":       {run: cli.RemoveCommand},
	"sync":         {run: cli.SyncCommand},
	"check":        {run: cli.CheckCommand},
	"configure":    {run: cli.ConfigureCommand},
	"dead-letters": {run: cli.DeadLettersCommand},
	"export":       {run: cli.ExportCommand},
	"import":       {run: cli.ImportCommand},
	"history":      {run: cli.HistoryCommand},
	"charm":        {run: cli.CharmCommand},
	"daemon":       {run: cli.DaemonCommand, autoSync: true},
	"mcp":          {run: cli.MCPCommand, autoSync: true},
	"tui":          {run: cli.TUICommand, autoSync: true},
}

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	storageFlag := flag.String("storage", "", "Storage backend: badger, sqlite, or charm")
	backendURL := flag.String("backend-url", "", "Backend base URL")

	// Parse global flags; subcommand flags follow the command name
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("agencysync version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	cli.SetupLogging(*verbose)
	cli.Version = version

	settings, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}
	if *storageFlag != "" {
		settings.Storage = *storageFlag
	}
	if *backendURL != "" {
		settings.BackendURL = *backendURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, args[0], args[1:]); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *config.Settings, command string, args []string) error {
	switch command {
	case "help":
		printUsage()
		return nil
	case "login":
		return cli.LoginCommand(ctx, settings, args)
	case "backend":
		return cli.BackendCommand(ctx, settings, args)
	case "viz":
		return runViz(ctx, settings, args)
	}

	cmd, ok := appCommands[command]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}

	app, err := cli.OpenApp(settings, cli.AppOptions{AutoSync: cmd.autoSync})
	if err != nil {
		return err
	}
	defer app.Close()

	return cmd.run(ctx, app, args)
}

func runViz(ctx context.Context, settings *config.Settings, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("viz requires a subcommand (graph or dashboard)")
	}

	var run func(context.Context, *cli.App, []string) error
	switch args[0] {
	case "graph":
		run = cli.VizGraphCommand
	case "dashboard":
		run = cli.VizDashboardCommand
	default:
		return fmt.Errorf("unknown viz command: %s", args[0])
	}

	app, err := cli.OpenApp(settings, cli.AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()
	return run(ctx, app, args[1:])
}

func printUsage() {
	fmt.Printf(`agencysync v%s - Offline sync for the agency platform

USAGE:
  agencysync [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --verbose              Enable debug logging
  --storage <backend>    Storage backend: badger (default), sqlite, or charm
  --backend-url <url>    Backend base URL (default: %s)

QUEUE COMMANDS:
  agencysync status         Show connectivity, queue size, and config
    --json                    Print JSON
    --offline                 Skip the connectivity probe

  agencysync pending        List queued changes oldest first
    --collection <name>       Only this collection
    --data                    Include JSON bodies

  agencysync add            Queue a change
    --collection <name>       Collection (required, must be allowed)
    --id <id>                 Entity ID (generated for create when omitted)
    --operation <op>          create, update (default), or delete
    --data <json|@file>       JSON body

  agencysync remove <collection> <id>   Discard a queued change
  agencysync sync           Probe the backend and replay the queue now
  agencysync check          Probe the backend

  agencysync configure      Show or change engine config
    --collections <a,b>       Allow-list
    --interval <dur>          Periodic sync interval
    --max-retries <n>         Failures before an item is dead-lettered
    --retry-delay <dur>       Retry delay hint
    --prefix <prefix>         Storage key prefix

  agencysync dead-letters [list|retry|purge]
    retry <collection> <id>   Requeue one dead letter
    retry --all               Requeue every dead letter
    purge                     Discard all dead letters

SNAPSHOT COMMANDS:
  agencysync export         Write a JSON snapshot
    --entities <a,b>          Collections (default: tasks,projects,clients,documents,posts)
    --name <file>             File name (default: agency-export-<timestamp>.json)
    --dir <dir>               Output directory (default: .)
    --description <text>      Stored in metadata
    --stdout                  Print instead of writing a file

  agencysync import <file>  Import a snapshot; rejected collections are queued
    --entities <a,b>          Only these collections
    --check                   Validate and summarize without importing

  agencysync history        List recent sync passes
    --limit <n>               Max rows (default: 20)

SERVICES:
  agencysync daemon         Probe and sync in the background, serve the status API
    --addr <addr>             Status API address (default: %s)
    --token <token>           Require a bearer token on the status API

  agencysync backend        Run the local development backend
    --addr <addr>             Listen address (default: %s)
    --db <path>               Database path
    --token <token>           Require a bearer token on /api

  agencysync mcp            Start MCP server (for Claude Desktop integration)
  agencysync tui            Interactive queue dashboard

VIZ COMMANDS:
  agencysync viz graph      Queue graph grouped by collection
    --format <fmt>            dot (default), svg, png, jpg
    --output <file>           Output file (required for images)
  agencysync viz dashboard  Terminal dashboard

ACCOUNT:
  agencysync login          Save backend URL and token
  agencysync charm status|sync|host|reset   Manage --storage charm

EXAMPLES:
  # Allow tasks and posts to queue offline
  agencysync configure --collections tasks,posts

  # Queue an update and replay it
  agencysync add --collection tasks --id 42 --data '{"id":"42","title":"Kickoff"}'
  agencysync sync

  # Snapshot everything, then restore only clients
  agencysync export --name weekly
  agencysync import --entities clients weekly.json

`, version, config.DefaultBackendURL, config.DefaultStatusAddr, config.DefaultBackendAddr)
}
