package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/codeforge/internal/config"
	"github.com/kingrea/codeforge/internal/interfaces"
	"github.com/kingrea/codeforge/internal/jobs"
	"github.com/kingrea/codeforge/internal/llm"
	"github.com/kingrea/codeforge/internal/logbook"
	"github.com/kingrea/codeforge/internal/logging"
	"github.com/kingrea/codeforge/internal/planner"
	"github.com/kingrea/codeforge/internal/server"
	"github.com/kingrea/codeforge/internal/statusapi"
	"github.com/kingrea/codeforge/internal/worker"
)

const shutdownGrace = 2 * time.Second

// NewServeCmd runs the worker until interrupted.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the code generation worker",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().BoolP("verbose", "v", false, "mirror the log to stderr")
	cmd.Flags().Bool("status", false, "enable the HTTP status API regardless of config")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
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
	if status, _ := cmd.Flags().GetBool("status"); status {
		cfg.Project.Status.Enabled = true
	}

	var logOpts []logging.Option
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logOpts = append(logOpts, logging.WithTee(cmd.ErrOrStderr()))
	}
	logger, err := logging.New(dir, logOpts...)
	if err != nil {
		return err
	}
	defer logger.Close()

	if cfg.APIKey == "" {
		logger.Printf("warning: OPENAI_API_KEY is not set; generation requests will be rejected")
	}
	backend, err := llm.NewClient(llm.ClientSettings{
		BaseURL:     cfg.Project.LLM.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Project.LLM.Model,
		Temperature: cfg.Project.LLM.Temperature,
		TopP:        cfg.Project.LLM.TopP,
	})
	if err != nil {
		return err
	}

	serverSettings := server.SettingsFromConfig(cfg)
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		host, rawPort, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid --addr %q: %w", addr, err)
		}
		port, err := strconv.Atoi(rawPort)
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("invalid --addr port %q", rawPort)
		}
		if host != "" {
			serverSettings.Host = host
		}
		serverSettings.Port = port
	}
	st, err := assemble(cfg, backend, logger, serverSettings, statusapi.SettingsFromConfig(cfg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return st.run(ctx, func(addr string) {
		fmt.Fprintf(cmd.OutOrStdout(), "codeforge worker listening on %s\n", addr)
		if a := st.status.Addr(); a != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "status API on http://%s\n", a)
		}
	})
}

// stack is one assembled worker with its listeners.
type stack struct {
	worker  *worker.Worker
	server  *server.Server
	status  *statusapi.Server
	journal *logbook.Logbook
	logger  *logging.Logger

	statusEnabled bool
}

func assemble(cfg *config.Config, backend llm.Backend, logger *logging.Logger, serverSettings server.Settings, statusSettings statusapi.Settings) (*stack, error) {
	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		return nil, err
	}
	scripts, err := interfaces.LoadProviderDir(cfg.ProvidersDir())
	if err != nil {
		return nil, err
	}
	for _, script := range scripts {
		logger.Printf("loaded interface provider %s for %q", script.Path(), script.CustomType())
	}
	registry := interfaces.NewRegistry(interfaces.WithScripts(scripts...), interfaces.WithLogger(logger))

	gen := llm.NewRetryingGenerator(backend,
		llm.WithMaxAttempts(cfg.Project.Generation.MaxAttempts),
		llm.WithGeneratorLogger(logger),
	)
	plan := planner.New(gen,
		planner.WithRegistry(registry),
		planner.WithLanguage(cfg.Project.Generation.Language, cfg.Project.Generation.Extension),
		planner.WithLogger(logger),
	)
	w := worker.New(plan,
		worker.WithLogger(logger),
		worker.WithJournal(journal),
		worker.WithMaxInFlight(cfg.Project.Generation.MaxInFlight),
		worker.WithAutoStart(cfg.Project.Generation.AutoStart),
	)
	srv := server.New(serverSettings, w,
		server.WithLogger(logger),
		server.WithQueueSnapshot(func() *jobs.JobSet { return w.Snapshot().Jobs }),
	)
	status := statusapi.New(statusSettings, w,
		statusapi.WithJournal(journal),
		statusapi.WithLogger(logger),
	)
	return &stack{
		worker:        w,
		server:        srv,
		status:        status,
		journal:       journal,
		logger:        logger,
		statusEnabled: statusSettings.Enabled,
	}, nil
}

// run binds the listeners, calls ready with the worker address and blocks
// until ctx is cancelled or a component fails.
func (s *stack) run(ctx context.Context, ready func(addr string)) error {
	if err := s.server.Listen(); err != nil {
		return err
	}
	if s.statusEnabled {
		if err := s.status.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := s.status.Shutdown(shutdownCtx); err != nil {
				s.logger.Printf("statusapi: shutdown: %v", err)
			}
		}()
	}
	s.journal.Info("worker started on %s", s.server.Addr())
	if ready != nil {
		ready(s.server.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return s.server.Serve(gctx, s.worker.Outbox())
	})
	err := g.Wait()
	s.journal.Info("worker stopped")
	if cerr := s.journal.Close(); cerr != nil {
		s.logger.Printf("logbook: close: %v", cerr)
	}
	return err
}
