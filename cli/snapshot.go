// ABOUTME: Snapshot and history CLI commands
// ABOUTME: Exports collections to a versioned JSON file, imports one back, and lists sync passes
package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harperreed/agencysync/db"
	"github.com/harperreed/agencysync/export"
	"github.com/harperreed/agencysync/handlers"
	"github.com/harperreed/agencysync/models"
)

// ExportCommand writes a snapshot of the chosen collections.
func ExportCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	entities := fs.String("entities", "", "Comma-separated collections (default: all)")
	name := fs.String("name", "", "File name, .json is appended (default: agency-export-<timestamp>)")
	dir := fs.String("dir", ".", "Output directory")
	description := fs.String("description", "", "Description stored in metadata")
	stdout := fs.Bool("stdout", false, "Print the document instead of writing a file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	collections := exportableNames()
	if *entities != "" {
		collections = splitList(*entities)
		for _, c := range collections {
			if !models.IsExportable(c) {
				return fmt.Errorf("unknown collection %q (exportable: %s)", c, joinOrDash(exportableNames()))
			}
		}
	}

	opts := export.ExportOptions{
		Description: *description,
		ExportedBy:  app.ExportedBy(),
	}
	if !*stdout {
		opts.Dir = *dir
		opts.FileName = *name
		if opts.FileName == "" {
			opts.FileName = handlers.DefaultExportName(time.Now())
		}
	}

	data, err := app.Snapshots.Export(ctx, collections, opts)
	if err != nil {
		return err
	}

	if *stdout {
		_, err := app.Out.Write(append(data, '\n'))
		return err
	}
	app.printf("✓ Export written to %s (%d bytes)\n", export.FilePath(opts.Dir, opts.FileName), len(data))
	return nil
}

// ImportCommand delivers a snapshot to the backend, queueing what cannot be sent now.
func ImportCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	entities := fs.String("entities", "", "Comma-separated collections to import (default: all in file)")
	check := fs.Bool("check", false, "Validate the file and list its contents without importing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: import [flags] <file>")
	}
	path := fs.Arg(0)

	if *check {
		file, err := export.ReadFile(path)
		if err != nil {
			return err
		}
		app.printf("✓ %s is a version %s snapshot from %s\n", path, file.Version,
			time.UnixMilli(file.Timestamp).Local().Format(time.DateTime))
		if file.Metadata.Description != "" {
			app.printf("  %s\n", file.Metadata.Description)
		}
		for _, name := range exportableNames() {
			if records, ok := file.Entities[name]; ok {
				app.printf("  %-10s %d record(s)\n", name, len(records))
			}
		}
		return nil
	}

	opts := export.ImportOptions{
		Progress: func(collection string, done, total int) {
			app.Log.Info().Str("collection", collection).Msgf("imported %d/%d", done, total)
		},
	}
	if *entities != "" {
		opts.Entities = splitList(*entities)
	}

	result := app.Snapshots.ImportFile(ctx, path, opts)
	if !result.Success {
		return fmt.Errorf("import failed: %s", result.Message)
	}

	app.printf("✓ %s\n", result.Message)
	for _, c := range result.Synced {
		app.printf("  %-10s synced\n", c)
	}
	for _, c := range result.Queued {
		app.printf("  %-10s queued for sync\n", c)
	}
	for _, c := range result.Failed {
		app.printf("  %-10s failed\n", c)
	}
	return nil
}

// HistoryCommand lists recorded sync passes, newest first.
func HistoryCommand(_ context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "Maximum passes to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runs, err := db.ListSyncRuns(app.History, *limit)
	if err != nil {
		return fmt.Errorf("failed to list sync history: %w", err)
	}
	if len(runs) == 0 {
		app.println("No sync passes recorded")
		return nil
	}

	w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tDURATION\tATTEMPTED\tSYNCED\tFAILED\tDEAD\tREMAINING")
	for _, run := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			run.StartedAt.Local().Format(time.DateTime),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			run.Attempted, run.Synced, run.Failed, run.Dropped, run.Remaining)
	}
	return w.Flush()
}

func exportableNames() []string {
	names := make([]string, 0, len(models.ExportableEntities))
	for _, e := range models.ExportableEntities {
		names = append(names, string(e))
	}
	return names
}
