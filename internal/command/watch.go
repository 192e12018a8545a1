package command

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/codeforge/internal/config"
	"github.com/kingrea/codeforge/internal/tui"
)

// NewWatchCmd opens the interactive job view.
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow a running worker in an interactive view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			conn, err := dialWorker(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()

			app := tui.New(conn,
				tui.WithLanguage(cfg.Project.Generation.Language),
				tui.WithContext(cmd.Context()),
			)
			program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = program.Run()
			return err
		},
	}
}
