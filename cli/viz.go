// ABOUTME: Visualization CLI commands
// ABOUTME: Handles the queue graph and the terminal dashboard
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harperreed/agencysync/db"
	"github.com/harperreed/agencysync/viz"
)

// VizGraphCommand renders pending items and dead letters grouped by collection.
func VizGraphCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("viz graph", flag.ContinueOnError)
	output := fs.String("output", "", "Output file (default: stdout)")
	format := fs.String("format", "dot", "Output format: dot, svg, png, or jpg")

	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := viz.ParseFormat(*format)
	if err != nil {
		return err
	}

	generator := viz.NewGraphGenerator(app.Engine.Pending(), app.Engine.DeadLetters())

	var out []byte
	if *format == "dot" || *format == "" {
		dot, err := generator.GenerateQueueGraph()
		if err != nil {
			return err
		}
		out = []byte(dot)
	} else {
		if *output == "" {
			return fmt.Errorf("--output is required for %s", *format)
		}
		out, err = generator.Render(ctx, f)
		if err != nil {
			return err
		}
	}

	if *output != "" {
		if err := os.WriteFile(*output, out, 0644); err != nil {
			return err
		}
		app.printf("✓ Graph written to %s\n", *output)
		return nil
	}

	app.println(string(out))
	return nil
}

// VizDashboardCommand prints the queue dashboard.
func VizDashboardCommand(_ context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("viz dashboard", flag.ContinueOnError)
	runs := fs.Int("runs", 5, "Recent sync passes to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	history, err := db.ListSyncRuns(app.History, *runs)
	if err != nil {
		return fmt.Errorf("failed to load sync history: %w", err)
	}

	stats := viz.GenerateDashboardStats(app.Engine.Status(), app.Engine.Pending(), history, time.Now())
	_, err = fmt.Fprint(app.Out, viz.RenderDashboard(stats))
	return err
}
