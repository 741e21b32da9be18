package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/mbd888/chargeguard/internal/config"
	"github.com/mbd888/chargeguard/internal/dispute"
	"github.com/mbd888/chargeguard/internal/logging"
	"github.com/mbd888/chargeguard/internal/merchant"
	"github.com/mbd888/chargeguard/internal/processor"
	"github.com/mbd888/chargeguard/internal/retry"
	"github.com/mbd888/chargeguard/internal/signals"
)

// engine is the slice of dispute.Service the CLI drives.
type engine interface {
	Queue(ctx context.Context, merchantID string) (*dispute.Queue, error)
	Sweep(ctx context.Context) (*dispute.SweepReport, error)
	Readiness(ctx context.Context, id string) (*dispute.ReadinessResult, error)
	ProposeReasons(ctx context.Context, merchantID string, opts dispute.OptimizeOptions) (*dispute.OptimizeResult, error)
	OptimizeReasons(ctx context.Context, merchantID string, opts dispute.OptimizeOptions) (*dispute.OptimizeResult, error)
}

// opener builds an engine and returns a cleanup func.
type opener func(ctx context.Context) (engine, func(), error)

func newRootCmd(open opener) *cobra.Command {
	if open == nil {
		open = openPostgres
	}

	var output string
	root := &cobra.Command{
		Use:           "disputectl",
		Short:         "Operate the dispute automation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, err := parseFormat(output)
			return err
		},
	}
	root.PersistentFlags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or json")

	// run opens the engine, calls fn and renders its result.
	run := func(cmd *cobra.Command, fn func(ctx context.Context, e engine) (any, error)) error {
		format, err := parseFormat(output)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, cleanup, err := open(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		v, err := fn(ctx, e)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), format, v)
	}

	root.AddCommand(
		queueCmd(run),
		sweepCmd(run),
		readinessCmd(run),
		optimizeCmd(run),
	)
	return root
}

type runner func(cmd *cobra.Command, fn func(ctx context.Context, e engine) (any, error)) error

func queueCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "queue <merchant-id>",
		Short: "Show a merchant's open disputes by priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, e engine) (any, error) {
				return e.Queue(ctx, args[0])
			})
		},
	}
}

func sweepCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Retry submission for every open, unsubmitted dispute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, e engine) (any, error) {
				return e.Sweep(ctx)
			})
		},
	}
}

func readinessCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "readiness <dispute-id>",
		Short: "Explain whether a dispute can be auto-submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, e engine) (any, error) {
				return e.Readiness(ctx, args[0])
			})
		},
	}
}

func optimizeCmd(run runner) *cobra.Command {
	var (
		opts    dispute.OptimizeOptions
		winRate float64
		apply   bool
	)
	cmd := &cobra.Command{
		Use:   "optimize <merchant-id>",
		Short: "Recompute a merchant's auto-submit reasons from decided disputes",
		Long: `Aggregates won and lost disputes per reason code and proposes an
auto-submit allow-list. Nothing is written unless --apply is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts = opts.WinRate(winRate)
			return run(cmd, func(ctx context.Context, e engine) (any, error) {
				if apply {
					return e.OptimizeReasons(ctx, args[0], opts)
				}
				return e.ProposeReasons(ctx, args[0], opts)
			})
		},
	}
	cmd.Flags().IntVar(&opts.MinCases, "min-cases", dispute.DefaultMinCases, "Decided disputes required before a reason is judged")
	cmd.Flags().Float64Var(&winRate, "min-win-rate", dispute.DefaultMinWinRatePct, "Win rate (percent) below which a reason is risky")
	cmd.Flags().BoolVar(&apply, "apply", false, "Persist the proposed allow-list")
	return cmd
}

// openPostgres wires a dispute service against DATABASE_URL. Stripe is only
// contacted by sweep.
func openPostgres(ctx context.Context) (engine, func(), error) {
	cfg := config.Read()
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	// Logs go to stderr so stdout stays machine-readable.
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	rps := cfg.StripeRPS
	if rps <= 0 {
		rps = processor.DefaultRPS
	}
	proc := processor.New(processor.Config{
		SecretKey: cfg.StripeSecretKey,
		RPS:       rps,
		Burst:     processor.DefaultBurst,
		Retry:     retry.DefaultPolicy,
	}, logger)

	merchants := merchant.NewPostgresStore(db)
	svc := dispute.NewService(dispute.NewPostgresStore(db), merchants, proc, logger).
		WithSignals(signals.NewService(signals.NewPostgresStore(db), logger))
	if cfg.SweepConcurrency > 0 {
		svc = svc.WithSweepConcurrency(cfg.SweepConcurrency)
	}

	return svc, func() { _ = db.Close() }, nil
}
