package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/psds-microservice/operator-console/internal/application"
	"github.com/psds-microservice/operator-console/internal/config"
	"github.com/psds-microservice/operator-console/internal/tui"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the console in the terminal",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// stdout занят экраном TUI: логи только в файл
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(os.TempDir(), "operator-console.log")
	}
	core, err := application.NewCore(cfg, application.WithFileLogOnly())
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			core.Log.WithError(err).Warn("close console")
		}
	}()
	if err := core.Console.Start(); err != nil {
		return fmt.Errorf("dialogs session: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return tui.Run(ctx, core.Console)
}
