package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/breakpoint/internal/auth"
	"github.com/torosent/breakpoint/internal/config"
	"github.com/torosent/breakpoint/internal/feeder"
	"github.com/torosent/breakpoint/internal/httpclient"
	"github.com/torosent/breakpoint/internal/invoker"
	"github.com/torosent/breakpoint/internal/logging"
	"github.com/torosent/breakpoint/internal/output"
	"github.com/torosent/breakpoint/internal/report"
	"github.com/torosent/breakpoint/internal/runner"
	"github.com/torosent/breakpoint/internal/telemetry"
	"github.com/torosent/breakpoint/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	client := httpclient.NewClient(cfg.Timeout)
	if err := preflight(ctx, client, cfg); err != nil {
		return err
	}

	builder, err := httpclient.NewRequestBuilder(cfg)
	if err != nil {
		return err
	}

	dataFeeder, err := feeder.New(cfg.Feeder)
	if err != nil {
		return err
	}
	if dataFeeder != nil {
		defer dataFeeder.Close()
		builder.WithFeeder(dataFeeder)
	}

	authProvider, err := auth.New(cfg.Auth)
	if err != nil {
		return err
	}
	if authProvider != nil {
		defer authProvider.Close()
		builder.WithAuth(authProvider)
	}

	httpInvoker, err := invoker.NewHTTP(client, builder, invoker.HTTPOptions{
		Timeout:         cfg.Timeout,
		ErrorDetailPath: cfg.ErrorDetailPath,
		Tracer:          tp.Tracer(),
		Propagate:       tp.ShouldPropagate(),
	})
	if err != nil {
		return err
	}

	opts := runner.OptionsFromConfig(cfg)
	opts.Invoker = invoker.WithLogging(httpInvoker, logger)
	opts.Logger = logger
	opts.Tracer = tp.Tracer()

	if cfg.MetricsAddr != "" {
		exporter := telemetry.NewExporter()
		srv, err := telemetry.Serve(cfg.MetricsAddr, exporter, logger)
		if err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics shutdown", zap.Error(err))
			}
		}()
		opts.Observers = append(opts.Observers, exporter)
	}

	var progress *output.ProgressReporter
	if cfg.Output.File == "" && (cfg.Output.Format == "" || cfg.Output.Format == config.OutputFormatText) {
		progress = output.NewProgressReporter(progressInterval, stdout)
		progress.Start()
		defer progress.Stop()
		opts.Observers = append(opts.Observers, progress)
	}

	r, err := runner.New(opts)
	if err != nil {
		return err
	}

	runID := ulid.Make().String()
	logger.Info("run starting",
		zap.String("run_id", runID),
		zap.String("method", builder.Method()),
		zap.String("url", builder.URL()),
	)

	started := time.Now()
	result, runErr := r.Run(ctx)
	finished := time.Now()
	if progress != nil {
		progress.Stop()
	}

	rpt, err := report.NewBuilder(runID, report.Target{Method: builder.Method(), URL: builder.URL()}).
		SetTimes(started, finished).
		FromResult(result).
		Build()
	if err != nil {
		return errors.Join(runErr, err)
	}

	if cfg.Output.File != "" {
		if err := output.WriteReportFile(cfg.Output.File, cfg.Output.Format, rpt); err != nil {
			return errors.Join(runErr, err)
		}
		logger.Info("report written", zap.String("path", cfg.Output.File))
	} else if err := output.Write(stdout, cfg.Output.Format, rpt); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
