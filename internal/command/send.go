package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/codeforge/internal/client"
	"github.com/kingrea/codeforge/internal/interfaces"
	"github.com/kingrea/codeforge/internal/wire"
)

// NewSendCmd groups the one-shot commands sent to a running worker.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a command to a running worker",
	}
	cmd.PersistentFlags().Bool("json", false, "print the worker's reply as JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "prompt <text|->",
			Short: "Set the project prompt and queue the scaffold job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				text, err := argOrStdin(cmd, args[0])
				if err != nil {
					return err
				}
				return sendAndAwait(cmd, wire.ClientMsg{InitPrompt: &wire.InitPrompt{Prompt: text}})
			},
		},
		&cobra.Command{
			Use:   "interface <file>",
			Short: "Register an interface from a YAML or JSON file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := readInput(cmd, args[0])
				if err != nil {
					return err
				}
				iface, err := interfaces.Parse(data)
				if err != nil {
					return err
				}
				return sendAndAwait(cmd, wire.ClientMsg{AddInterface: &wire.AddInterface{Interface: iface}})
			},
		},
		&cobra.Command{
			Use:   "remove-interface <name>",
			Short: "Remove a registered interface",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndAwait(cmd, wire.ClientMsg{RemoveInterface: &wire.RemoveInterface{InterfaceName: args[0]}})
			},
		},
		&cobra.Command{
			Use:   "schema <interface> <name> <file|->",
			Short: "Attach a schema to an interface",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := readInput(cmd, args[2])
				if err != nil {
					return err
				}
				return sendAndAwait(cmd, wire.ClientMsg{AddSchema: &wire.AddSchema{
					InterfaceName: args[0],
					SchemaName:    args[1],
					Schema:        string(data),
				}})
			},
		},
		&cobra.Command{
			Use:   "remove-schema <interface> <name>",
			Short: "Remove a schema from an interface",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndAwait(cmd, wire.ClientMsg{RemoveSchema: &wire.RemoveSchema{InterfaceName: args[0], SchemaName: args[1]}})
			},
		},
		&cobra.Command{
			Use:   "start <job-id>",
			Short: "Start a queued job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndAwait(cmd, wire.ClientMsg{StartJob: &wire.StartJob{JobID: args[0]}})
			},
		},
		&cobra.Command{
			Use:   "stop <job-id>",
			Short: "Stop a running job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndAwait(cmd, wire.ClientMsg{StopJob: &wire.StopJob{JobID: args[0]}})
			},
		},
		&cobra.Command{
			Use:   "retry <job-id>",
			Short: "Requeue a stopped or finished job and start it again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndAwait(cmd, wire.ClientMsg{RetryJob: &wire.RetryJob{JobID: args[0]}})
			},
		},
		&cobra.Command{
			Use:   "add-file <name> <file|->",
			Short: "Add or replace a source file in the codebase",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := readInput(cmd, args[1])
				if err != nil {
					return err
				}
				return sendAndAwait(cmd, wire.ClientMsg{AddSourceFile: &wire.AddSourceFile{Filename: args[0], File: string(data)}})
			},
		},
		&cobra.Command{
			Use:   "remove-file <name>",
			Short: "Remove a source file from the codebase",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return sendAndAwait(cmd, wire.ClientMsg{RemoveSourceFile: &wire.RemoveSourceFile{Filename: args[0]}})
			},
		},
		&cobra.Command{
			Use:   "scaffold <file|->",
			Short: "Replace the project scaffold",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := readInput(cmd, args[0])
				if err != nil {
					return err
				}
				return sendAndAwait(cmd, wire.ClientMsg{UpdateScaffold: &wire.UpdateScaffold{Scaffold: string(data)}})
			},
		},
	)
	return cmd
}

// sendAndAwait sends msg and waits for the worker's ack or rejection.
func sendAndAwait(cmd *cobra.Command, msg wire.ClientMsg) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	conn, err := dialWorker(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()
	return exchange(cmd.Context(), conn, msg, replyTimeout(cmd), cmd.OutOrStdout(), asJSON(cmd))
}

// exchange sends msg and waits for the first reply naming the same command.
// Acks and command errors are broadcast to every client and carry no
// correlation id, so two senders issuing the same command at once may each
// report the other's reply.
func exchange(ctx context.Context, conn *client.Client, msg wire.ClientMsg, timeout time.Duration, out io.Writer, jsonOut bool) error {
	command := msg.Kind()
	if err := conn.Send(msg); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reply, err := conn.Await(ctx, func(m wire.ServerMsg) bool {
		return isReplyTo(command, m)
	})
	if err != nil {
		return fmt.Errorf("waiting for %s reply: %w", command, err)
	}
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reply); err != nil {
			return err
		}
	}
	if ce := reply.CommandError; ce != nil {
		return fmt.Errorf("%s rejected (%s): %s", ce.Command, ce.Kind, ce.Message)
	}
	if !jsonOut {
		fmt.Fprintf(out, "%s ok\n", command)
	}
	return nil
}

// isReplyTo matches a server message to a command by name only.
func isReplyTo(command string, m wire.ServerMsg) bool {
	switch {
	case m.CommandError != nil:
		return m.CommandError.Command == command
	case m.CommandAck != nil:
		return m.CommandAck.Command == command
	case m.InitPromptAck != nil:
		return command == "initPrompt"
	case m.AddInterfaceAck != nil:
		return command == "addInterface"
	case m.AddSchemaAck != nil:
		return command == "addSchema"
	}
	return false
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func argOrStdin(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
