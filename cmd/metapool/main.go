package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/defistate/metapool-go/cmd/metapool/config"
	"github.com/defistate/metapool-go/factory"
)

func main() {
	root := &cobra.Command{
		Use:          "metapool",
		Short:        "Concentrated liquidity manager simulator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a scenario against fresh pools and managers",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("scenario", "scenario.yaml", "scenario YAML path")
	simulateCmd.Flags().String("events-out", "", "append committed events to this JSONL file")
	simulateCmd.Flags().String("pg-dsn", "", "Postgres DSN for event storage")
	simulateCmd.Flags().String("run-id", "", "run identifier for stored events, defaults to a timestamp")
	simulateCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address and wait for a signal")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	root.AddCommand(newAddressCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sc, err := config.LoadScenario(cfg.Scenario)
	if err != nil {
		return err
	}
	if cfg.RunID == "" {
		cfg.RunID = time.Now().UTC().Format("20060102T150405Z")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	logger.Info("simulation start",
		zap.String("scenario", cfg.Scenario),
		zap.String("run_id", cfg.RunID),
		zap.Int("steps", len(sc.Steps)),
		zap.String("events_out", cfg.EventsOut),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	r, err := newRunner(ctx, sc, runnerConfig{
		EventsOut: cfg.EventsOut,
		PGDSN:     cfg.PGDSN,
		RunID:     cfg.RunID,
		Registry:  reg,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Run(ctx); err != nil {
		return err
	}
	printReport(os.Stdout, r)

	if cfg.MetricsAddr == "" {
		return nil
	}
	return serveMetrics(ctx, cfg.MetricsAddr, reg, logger)
}

func newAddressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address <factory> <tokenA> <tokenB>",
		Short: "Print the deterministic manager address for a pair",
		Args:  cobra.ExactArgs(3),
		RunE:  runAddress,
	}
	cmd.Flags().String("init-code-hash", "", "manager init code hash, defaults to the built-in one")
	return cmd
}

func runAddress(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		if !common.IsHexAddress(arg) {
			return fmt.Errorf("invalid address %q", arg)
		}
	}
	pair, err := factory.SortTokens(common.HexToAddress(args[1]), common.HexToAddress(args[2]))
	if err != nil {
		return err
	}

	hash := factory.DefaultInitCodeHash
	if raw, _ := cmd.Flags().GetString("init-code-hash"); raw != "" {
		hash = common.HexToHash(raw)
	}
	fmt.Fprintln(cmd.OutOrStdout(), factory.ManagerAddress(common.HexToAddress(args[0]), pair, hash).Hex())
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// sugared adapts a zap logger to the key-value Logger the packages accept.
type sugared struct {
	s *zap.SugaredLogger
}

func newSugared(l *zap.Logger) sugared { return sugared{s: l.Sugar()} }

func (l sugared) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l sugared) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l sugared) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l sugared) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
