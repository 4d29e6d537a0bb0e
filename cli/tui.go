// ABOUTME: Interactive dashboard subcommand
// ABOUTME: Runs the bubbletea queue view with the engine syncing in the background
package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harperreed/agencysync/tui"
)

// TUICommand opens the queue dashboard.
func TUICommand(ctx context.Context, app *App, _ []string) error {
	if err := app.Engine.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := app.Engine.Run(runCtx); err != nil {
			app.Log.Error().Err(err).Msg("engine loop stopped")
		}
	}()

	sub := app.Publisher.Subscribe()
	defer app.Publisher.Unsubscribe(sub)

	p := tea.NewProgram(tui.NewModel(runCtx, app.Engine, sub), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
