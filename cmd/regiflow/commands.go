package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/eleven-am/regiflow"
	"github.com/eleven-am/regiflow/internal/adapters/executors"
	"github.com/eleven-am/regiflow/internal/adapters/validator"
	"github.com/eleven-am/regiflow/internal/definitions"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/xjson"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configPath string
	envFile    string
	dataDir    string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "regiflow",
		Short:         "Workflow engine for the RegiFlow backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file of template variables (env.NAME)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "data directory, overrides the config file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "text or json")

	root.AddCommand(
		newServeCommand(opts),
		newValidateCommand(opts),
		newRunCommand(opts),
		newSeedCommand(opts),
	)
	return root
}

func (o *globalOptions) load(cmd *cobra.Command) (*regiflow.Config, error) {
	envFlag := cmd.Flag("env-file")
	config, err := loadConfig(o.configPath, o.envFile, envFlag != nil && envFlag.Changed)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		config.DataDir = o.dataDir
	}

	logger, err := newLogger(o.logLevel, o.logFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	config.Logger = logger
	return config, nil
}

// openManager builds a manager, locking the data directory when workflows
// are persisted there. The returned func stops the manager and unlocks.
func openManager(config *regiflow.Config) (*regiflow.Manager, func(), error) {
	unlock := func() {}
	if config.Storage.Backend == regiflow.StorageBadger && !config.Storage.InMemory {
		lock, err := lockDataDir(config.DataDir)
		if err != nil {
			return nil, nil, err
		}
		unlock = func() { _ = lock.Unlock() }
	}

	manager, err := regiflow.NewWithConfig(config)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	return manager, func() {
		if err := manager.Stop(); err != nil {
			config.Logger.Warn("shutdown finished with errors", "error", err)
		}
		unlock()
	}, nil
}

func seedersFor(embedded bool, paths []string) ([]regiflow.Seeder, error) {
	var seeders []regiflow.Seeder
	if embedded {
		seeders = append(seeders, regiflow.EmbeddedWorkflows())
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			seeders = append(seeders, regiflow.WorkflowsFromDir(path))
		} else {
			seeders = append(seeders, regiflow.WorkflowsFromFile(path))
		}
	}
	return seeders, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := xjson.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		addr  string
		seed  bool
		paths []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks, schedules and the management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				config.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager, cleanup, err := openManager(config)
			if err != nil {
				return err
			}
			defer cleanup()

			seeders, err := seedersFor(seed, paths)
			if err != nil {
				return err
			}
			if len(seeders) > 0 {
				report, err := manager.Seed(ctx, seeders...)
				if err != nil {
					return err
				}
				config.Logger.Info("workflows installed",
					"created", len(report.Created),
					"updated", len(report.Updated),
					"unchanged", len(report.Unchanged),
					"activated", len(report.Activated))
			}

			if err := manager.Start(ctx); err != nil {
				return err
			}
			if err := manager.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config file")
	cmd.Flags().BoolVar(&seed, "seed", false, "install the bundled workflows before serving")
	cmd.Flags().StringSliceVar(&paths, "definitions", nil, "definition files or directories to install")
	return cmd
}

func newValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate PATH...",
		Short: "Check workflow definition files without installing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load(cmd)
			if err != nil {
				return err
			}

			registry := executors.NewStandardRegistry(executors.Dependencies{
				HTTP:              config.HTTP,
				Env:               config.Env,
				ConditionalPolicy: config.Engine.ConditionalPolicy,
				Logger:            config.Logger,
			})
			graphs := validator.New(registry, config.Logger)

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				defs, err := loadPath(path)
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					failed++
					continue
				}
				for _, def := range defs {
					if err := graphs.Validate(def); err != nil {
						fmt.Fprintf(out, "FAIL %s (%s): %v\n", def.ID, path, err)
						failed++
						continue
					}
					fmt.Fprintf(out, "ok   %s (%s): %d nodes, %d edges\n", def.ID, path, len(def.Nodes), len(def.Edges))
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d definition(s) failed validation", failed)
			}
			return nil
		},
	}
}

func loadPath(path string) ([]*domain.WorkflowDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return definitions.LoadDir(path)
	}
	return definitions.LoadFile(path)
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		payload    string
		noEmbedded bool
		paths      []string
	)

	cmd := &cobra.Command{
		Use:   "run WORKFLOW_ID",
		Short: "Run one workflow in memory and print the execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load(cmd)
			if err != nil {
				return err
			}
			config.Storage = regiflow.StorageConfig{Backend: regiflow.StorageMemory}
			config.Dispatcher.WaitForCompletion = true
			config.Dispatcher.IdempotencyWindow = 0
			config.RateLimiter.Enabled = false

			input := regiflow.Item{}
			if payload != "" {
				decoded, err := xjson.DecodeObject([]byte(payload))
				if err != nil {
					return fmt.Errorf("payload must be a JSON object: %w", err)
				}
				input = decoded
			}

			manager, cleanup, err := openManager(config)
			if err != nil {
				return err
			}
			defer cleanup()

			seeders, err := seedersFor(!noEmbedded, paths)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := manager.Seed(ctx, seeders...); err != nil {
				return err
			}

			result, err := manager.Dispatcher().DispatchManual(ctx, args[0], input)
			if err != nil {
				return err
			}
			exec, err := manager.Executions().Get(ctx, result.ExecutionID)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), exec); err != nil {
				return err
			}
			if exec.Status == regiflow.ExecutionFailed {
				return fmt.Errorf("execution %s failed: %s", exec.ID, exec.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&payload, "payload", "p", "", "trigger payload as a JSON object")
	cmd.Flags().BoolVar(&noEmbedded, "no-embedded", false, "do not load the bundled workflows")
	cmd.Flags().StringSliceVar(&paths, "definitions", nil, "definition files or directories to load")
	return cmd
}

func newSeedCommand(opts *globalOptions) *cobra.Command {
	var (
		noEmbedded bool
		paths      []string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Install workflow definitions into the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.load(cmd)
			if err != nil {
				return err
			}

			seeders, err := seedersFor(!noEmbedded, paths)
			if err != nil {
				return err
			}
			if len(seeders) == 0 {
				return errors.New("nothing to seed")
			}

			manager, cleanup, err := openManager(config)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := manager.Seed(cmd.Context(), seeders...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&noEmbedded, "no-embedded", false, "do not install the bundled workflows")
	cmd.Flags().StringSliceVar(&paths, "definitions", nil, "definition files or directories to install")
	return cmd
}
