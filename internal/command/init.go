package command

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kingrea/codeforge/internal/config"
)

// NewInitCmd creates the .codeforge directory with a default config.
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .codeforge/ with a default config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(cmd)
			if err != nil {
				return err
			}
			if err := config.InitDir(dir); err != nil {
				return fmt.Errorf("initializing %s: %w", config.Dir, err)
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized %s\n", filepath.Join(dir, config.Dir))
			fmt.Fprintf(out, "  config:    %s\n", cfg.ProjectConfigPath())
			fmt.Fprintf(out, "  providers: %s\n", cfg.ProvidersDir())
			fmt.Fprintf(out, "  logs:      %s\n", cfg.LogsDir())
			if cfg.APIKey == "" {
				fmt.Fprintln(out, "Set OPENAI_API_KEY (or add it to .codeforge/.env) before running `codeforge serve`.")
			}
			return nil
		},
	}
}
