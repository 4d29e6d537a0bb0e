// ABOUTME: Offline queue CLI commands
// ABOUTME: Status, pending listing, add/remove, manual sync, probes, config, and dead letters
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/term"

	"github.com/harperreed/agencysync/models"
	offline "github.com/harperreed/agencysync/sync"
)

// StatusCommand probes the backend and prints the engine status.
func StatusCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print status as JSON (default when stdout is not a terminal)")
	noProbe := fs.Bool("offline", false, "Skip the connectivity probe")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*noProbe {
		app.Engine.CheckConnection(ctx)
	}
	status := app.Engine.Status()

	if *asJSON || !isTerminal(app) {
		return writeJSON(app, status)
	}

	connection := "✗ offline"
	if status.Online {
		connection = "✓ online"
	}
	app.printf("Backend:      %s (%s)\n", app.Settings.BackendURL, connection)
	app.printf("Pending:      %d\n", status.Pending)
	app.printf("Dead letters: %d\n", status.DeadLetters)
	if status.LastSync != nil {
		app.printf("Last sync:    %s\n", status.LastSync.Local().Format(time.DateTime))
	} else {
		app.printf("Last sync:    never\n")
	}
	if status.LastResult != nil {
		app.printf("Last pass:    %s\n", status.LastResult.Summary())
	}
	app.printf("Collections:  %s\n", joinOrDash(status.Config.Collections))
	app.printf("Interval:     %s, max retries %d\n", status.Config.SyncInterval, status.Config.MaxRetries)
	return nil
}

// PendingCommand lists queued mutations in replay order.
func PendingCommand(_ context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	collection := fs.String("collection", "", "Only show this collection")
	showData := fs.Bool("data", false, "Print each item's JSON body")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var items []models.PendingItem
	for _, item := range app.Engine.Pending() {
		if *collection == "" || item.Collection == *collection {
			items = append(items, item)
		}
	}

	if len(items) == 0 {
		app.println("No pending items")
		return nil
	}

	w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COLLECTION\tID\tOPERATION\tQUEUED\tRETRIES")
	_, _ = fmt.Fprintln(w, "----------\t--\t---------\t------\t-------")
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			item.Collection, item.ID, item.Operation,
			item.QueuedAt().Local().Format(time.DateTime), item.Retries)
		if *showData && len(item.Data) > 0 {
			_, _ = fmt.Fprintf(w, "\t%s\t\t\t\n", item.Data)
		}
	}
	_ = w.Flush()

	app.printf("\nTotal: %d pending\n", len(items))
	return nil
}

// AddCommand queues a mutation for a collection.
func AddCommand(_ context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	collection := fs.String("collection", "", "Collection name (required)")
	id := fs.String("id", "", "Entity ID (generated for create when omitted)")
	operation := fs.String("operation", "update", "Operation: create, update, or delete")
	data := fs.String("data", "", "JSON body, or @file to read it from a file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *collection == "" {
		return fmt.Errorf("--collection is required")
	}
	op, err := models.ParseOperation(*operation)
	if err != nil {
		return err
	}

	body, err := readData(*data)
	if err != nil {
		return err
	}

	if *id == "" {
		if op != models.OperationCreate {
			return fmt.Errorf("--id is required for %s", op)
		}
		if v := gjson.GetBytes(body, "id"); v.Exists() {
			*id = v.String()
		} else {
			*id = uuid.New().String()
		}
	}

	item := models.PendingItem{
		ID:         *id,
		Collection: *collection,
		Operation:  op,
		Data:       body,
	}
	if err := app.Engine.AddPendingItem(item); err != nil {
		return fmt.Errorf("failed to queue item: %w", err)
	}

	app.printf("✓ Queued %s of %s\n", op, models.ItemKey(*id, *collection))
	app.printf("  Pending: %d\n", app.Engine.PendingCount())
	return nil
}

// RemoveCommand discards a queued mutation.
func RemoveCommand(_ context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: remove <collection> <id>")
	}

	collection, id := fs.Arg(0), fs.Arg(1)
	removed, err := app.Engine.RemovePendingItem(id, collection)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if !removed {
		return fmt.Errorf("no pending item %s", models.ItemKey(id, collection))
	}

	app.printf("✓ Removed %s\n", models.ItemKey(id, collection))
	return nil
}

// SyncCommand probes the backend and runs one drain pass.
func SyncCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !app.Engine.CheckConnection(ctx) {
		return fmt.Errorf("backend %s is unreachable; %d item(s) stay queued", app.Settings.BackendURL, app.Engine.PendingCount())
	}
	if app.Engine.PendingCount() == 0 {
		app.println("✓ Nothing to sync")
		return nil
	}

	if !app.Engine.Synchronize(ctx) {
		return fmt.Errorf("sync pass did not run")
	}

	result, _ := app.Engine.LastResult()
	mark := "✓"
	if result.Failed > 0 || result.Dropped > 0 {
		mark = "✗"
	}
	app.printf("%s %s\n", mark, result.Summary())
	if result.Remaining > 0 {
		app.printf("  %d item(s) still pending\n", result.Remaining)
	}
	return nil
}

// CheckCommand runs a single connectivity probe.
func CheckCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app.Engine.CheckConnection(ctx) {
		app.printf("✓ %s is reachable\n", app.Settings.BackendURL)
		return nil
	}
	return fmt.Errorf("%s is unreachable", app.Settings.BackendURL)
}

// ConfigureCommand updates the engine config; omitted flags keep their values.
func ConfigureCommand(_ context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("configure", flag.ContinueOnError)
	collections := fs.String("collections", "", "Comma-separated collection allow-list")
	interval := fs.Duration("interval", 0, "Periodic sync interval (e.g. 30s, 5m)")
	maxRetries := fs.Int("max-retries", -1, "Failures allowed before an item is dead-lettered")
	retryDelay := fs.Duration("retry-delay", -1, "Retry delay hint")
	prefix := fs.String("prefix", "", "Storage key prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var update models.ConfigUpdate
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["collections"] {
		update.Collections = splitList(*collections)
	}
	if set["interval"] {
		update.SyncInterval = interval
	}
	if set["max-retries"] {
		update.MaxRetries = maxRetries
	}
	if set["retry-delay"] {
		update.RetryDelay = retryDelay
	}
	if set["prefix"] {
		update.StoragePrefix = prefix
	}

	if len(set) > 0 {
		if err := app.Engine.Configure(update); err != nil {
			return fmt.Errorf("failed to configure: %w", err)
		}
		app.println("✓ Configuration saved")
	}

	cfg := app.Engine.Config()
	app.printf("  Collections: %s\n", joinOrDash(cfg.Collections))
	app.printf("  Interval:    %s\n", cfg.SyncInterval)
	app.printf("  Max retries: %d\n", cfg.MaxRetries)
	app.printf("  Retry delay: %s\n", cfg.RetryDelay)
	app.printf("  Prefix:      %s\n", cfg.StoragePrefix)
	return nil
}

// DeadLettersCommand lists, retries, or purges items that exhausted their retries.
func DeadLettersCommand(_ context.Context, app *App, args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		dead := app.Engine.DeadLetters()
		if len(dead) == 0 {
			app.println("No dead letters")
			return nil
		}
		w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "COLLECTION\tID\tOPERATION\tFAILED\tERROR")
		_, _ = fmt.Fprintln(w, "----------\t--\t---------\t------\t-----")
		for _, dl := range dead {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				dl.Collection, dl.ID, dl.Operation,
				time.UnixMilli(dl.FailedAt).Local().Format(time.DateTime), dl.LastError)
		}
		_ = w.Flush()
		return nil

	case "retry":
		fs := flag.NewFlagSet("dead-letters retry", flag.ContinueOnError)
		all := fs.Bool("all", false, "Requeue every dead letter")
		if err := fs.Parse(args); err != nil {
			return err
		}
		var targets []models.DeadLetter
		if *all {
			targets = app.Engine.DeadLetters()
		} else {
			if fs.NArg() != 2 {
				return fmt.Errorf("usage: dead-letters retry <collection> <id> | --all")
			}
			targets = []models.DeadLetter{{PendingItem: models.PendingItem{Collection: fs.Arg(0), ID: fs.Arg(1)}}}
		}
		for _, dl := range targets {
			if err := app.Engine.RetryDeadLetter(dl.ID, dl.Collection); err != nil {
				if errors.Is(err, offline.ErrNotFound) {
					return fmt.Errorf("no dead letter %s", dl.Key())
				}
				return fmt.Errorf("failed to requeue %s: %w", dl.Key(), err)
			}
			app.printf("✓ Requeued %s\n", dl.Key())
		}
		return nil

	case "purge":
		n, err := app.Engine.PurgeDeadLetters()
		if err != nil {
			return fmt.Errorf("failed to purge dead letters: %w", err)
		}
		app.printf("✓ Purged %d dead letter(s)\n", n)
		return nil

	default:
		return fmt.Errorf("unknown dead-letters command: %s", sub)
	}
}

// readData accepts inline JSON or @path.
func readData(arg string) (json.RawMessage, error) {
	if arg == "" {
		return nil, nil
	}
	raw := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read data file: %w", err)
		}
		raw = b
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("--data is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func isTerminal(app *App) bool {
	f, ok := app.Out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeJSON(app *App, v any) error {
	enc := json.NewEncoder(app.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
