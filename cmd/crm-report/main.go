package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/crm-report/internal/config"
	"github.com/Sternrassler/crm-report/internal/server"
	"github.com/Sternrassler/crm-report/pkg/client"
	"github.com/Sternrassler/crm-report/pkg/logging"
	"github.com/Sternrassler/crm-report/pkg/report"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "crm-report",
		Short:         "Aggregate contact, deal and score metrics from a Bitrix24 portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"Path to a YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"Path to a .env file loaded before reading the environment")

	rootCmd.AddCommand(newRunCmd(opts), newServeCmd(opts))

	return rootCmd
}

func newRunCmd(opts *options) *cobra.Command {
	var indent, failOnError bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build one report and print it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			rep := a.orchestrator.Build(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			if indent {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(rep); err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}

			if failOnError {
				if errs := rep.Errors(); len(errs) > 0 {
					return fmt.Errorf("%d aggregate(s) failed", len(errs))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&indent, "indent", false, "Indent the JSON output")
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "Exit non-zero when any aggregate failed")

	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve reports over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			deps := server.Dependencies{Reports: a.orchestrator}
			if a.redis != nil {
				deps.Redis = server.RedisPinger(a.redis)
			}

			api := server.NewWebAPI(a.logger, server.Config{
				Addr:         a.config.Server.Addr,
				Dependencies: deps,
			})
			return api.Start(cmd.Context())
		},
	}
}

// app holds the wired services of one command invocation.
type app struct {
	config       *config.Config
	logger       zerolog.Logger
	redis        *redis.Client
	orchestrator *report.Orchestrator
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

func setup(ctx context.Context, opts *options) (*app, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}

	logger := logging.Setup(cfg.LoggingConfig())

	a := &app{config: cfg, logger: logger}

	if redisOpts := cfg.RedisOptions(); redisOpts != nil {
		a.redis = redis.NewClient(redisOpts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// The tracker fails open; a missing Redis only disables it.
			logger.Warn().Err(err).Str("addr", redisOpts.Addr).Msg("Redis unreachable, operating time tracking degraded")
		} else {
			logger.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis")
		}
	}

	bitrix, err := client.New(cfg.ClientConfig(a.redis))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create Bitrix24 client: %w", err)
	}

	reportCfg, err := cfg.ReportConfig()
	if err != nil {
		a.close()
		return nil, err
	}

	a.orchestrator, err = report.NewOrchestrator(bitrix, reportCfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create report orchestrator: %w", err)
	}

	return a, nil
}
