package command

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/codeforge/internal/client"
	"github.com/kingrea/codeforge/internal/config"
)

const AppName = "codeforge"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

const defaultReplyTimeout = 10 * time.Second

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "codeforge - LLM-backed code generation worker",
		Long:          "codeforge scaffolds a project from a prompt, plans the build order and generates each file, driven by a long-running worker.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("dir", "", "project directory (defaults to the working directory)")
	cmd.PersistentFlags().String("addr", "", "worker address host:port (defaults to the project config)")
	cmd.PersistentFlags().Duration("timeout", defaultReplyTimeout, "how long to wait for the worker to reply")

	cmd.AddCommand(
		NewInitCmd(),
		NewServeCmd(),
		NewSendCmd(),
		NewWatchCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}

func projectDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir = strings.TrimSpace(dir); dir != "" {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return cwd, nil
}

func workerAddress(cmd *cobra.Command) (string, int, error) {
	addr, _ := cmd.Flags().GetString("addr")
	dir, err := projectDir(cmd)
	if err != nil {
		return "", 0, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return "", 0, err
	}
	if addr = strings.TrimSpace(addr); addr == "" {
		addr = cfg.ServerAddress()
	}
	return addr, cfg.Project.Server.MaxFrameBytes, nil
}

func dialWorker(cmd *cobra.Command) (*client.Client, error) {
	addr, maxFrame, err := workerAddress(cmd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultDialTimeout)
	defer cancel()
	return client.Dial(ctx, addr, maxFrame)
}

func replyTimeout(cmd *cobra.Command) time.Duration {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		return defaultReplyTimeout
	}
	return timeout
}
