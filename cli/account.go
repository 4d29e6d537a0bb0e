// ABOUTME: Credential and replicated-storage CLI commands
// ABOUTME: Stores the backend bearer token and manages the Charm-backed queue store
package cli

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/harperreed/agencysync/backend"
	"github.com/harperreed/agencysync/charm"
	"github.com/harperreed/agencysync/config"
)

// LoginCommand saves the backend URL and bearer token, then verifies them.
func LoginCommand(ctx context.Context, settings *config.Settings, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	backendURL := fs.String("backend-url", settings.BackendURL, "Backend base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := promptSecret(os.Stdin, "Token: ")
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	settings.BackendURL = strings.TrimRight(*backendURL, "/")
	settings.Token = token
	if _, err := settings.EnsureDeviceID(); err != nil {
		return err
	}
	if err := settings.Save(); err != nil {
		return err
	}
	fmt.Printf("✓ Credentials saved to %s\n", config.Path())

	api := backend.NewClient(settings.BackendURL, backend.WithToken(token), backend.WithTimeout(settings.Timeout()))
	if err := api.Ping(ctx); err != nil {
		fmt.Printf("✗ Backend not reachable yet: %v\n", err)
		fmt.Println("  Changes will queue offline until it is.")
		return nil
	}
	fmt.Printf("✓ Connected to %s\n", settings.BackendURL)
	return nil
}

// promptSecret reads a line without echo when stdin is a terminal.
func promptSecret(in *os.File, prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(in.Fd())) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return readLine(in)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// CharmCommand manages the Charm KV store used by --storage charm.
func CharmCommand(_ context.Context, app *App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("charm requires a subcommand (status, sync, host, reset)")
	}

	client, ok := app.Store.KV().(*charm.Client)
	if !ok {
		return fmt.Errorf("storage backend is %q; run with --storage charm", app.Settings.Storage)
	}

	switch args[0] {
	case "status":
		cfg := client.Config()
		id, err := client.ID()
		if err != nil {
			id = "not linked (" + err.Error() + ")"
		}
		app.printf("Host:       %s\n", cfg.Host)
		app.printf("User:       %s\n", id)
		app.printf("Database:   %s\n", cfg.Database)
		app.printf("Auto-sync:  %t\n", cfg.AutoSync)
		keys, err := client.Keys("")
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}
		app.printf("Keys:       %d\n", len(keys))
		return nil

	case "sync":
		if err := client.Sync(); err != nil {
			return fmt.Errorf("charm sync failed: %w", err)
		}
		// Another device may have changed the queue
		if err := app.Engine.Load(); err != nil {
			return err
		}
		app.printf("✓ Synced; %d pending\n", app.Engine.PendingCount())
		return nil

	case "host":
		fs := flag.NewFlagSet("charm host", flag.ContinueOnError)
		autoSync := fs.Bool("auto-sync", client.Config().AutoSync, "Push every write immediately")
		database := fs.String("db", client.Config().Database, "Charm database for this workspace")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		cfg := *client.Config()
		if fs.NArg() > 0 {
			cfg.Host = fs.Arg(0)
		}
		cfg.AutoSync = *autoSync
		cfg.Database = *database
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save charm config: %w", err)
		}
		app.printf("✓ Charm host %s, database %s (auto-sync %t); takes effect on next start\n", cfg.Host, cfg.Database, cfg.AutoSync)
		return nil

	case "reset":
		fs := flag.NewFlagSet("charm reset", flag.ContinueOnError)
		yes := fs.Bool("yes", false, "Confirm wiping the replicated store")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if !*yes {
			return fmt.Errorf("reset deletes the queue on every linked device; pass --yes to confirm")
		}
		if err := client.Reset(); err != nil {
			return fmt.Errorf("charm reset failed: %w", err)
		}
		app.println("✓ Charm store reset")
		return nil

	default:
		return fmt.Errorf("unknown charm command: %s", args[0])
	}
}
