// Command stats runs a master reporter printing received stats as JSON
// lines on stdout, and two slaves reporting to it.
//
//	go run ./example/stats [config.toml]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zereker/testwire/reporting"
)

func main() {
	if err := run(); err != nil {
		slog.Error("stats example failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := reporting.DefaultConfig()
	if len(os.Args) > 1 {
		var err error
		if cfg, err = reporting.LoadConfig(os.Args[1]); err != nil {
			return err
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	metrics := reporting.NewMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	out := reporting.NewStreamReporter(os.Stdout)
	if err := out.Start(ctx); err != nil {
		return err
	}
	defer out.Stop(ctx)

	master := cfg.Master.NewMaster(logger,
		reporting.MasterMetricsOption(metrics),
		reporting.MasterSinkReporterOption(out),
	)
	if err := master.Start(ctx); err != nil {
		return err
	}
	defer master.Stop(ctx)

	cfg.Slave.Port = master.Port()
	for i := 0; i < 2; i++ {
		slave := cfg.Slave.NewSlave(logger, reporting.SlaveMetricsOption(metrics))
		if err := slave.Start(ctx); err != nil {
			return err
		}

		err := reporting.Profile(ctx, slave, fmt.Sprintf("slave-%d", i), func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			return reporting.Info(ctx, slave, fmt.Sprintf("hello from slave %d", i), true)
		})
		if err != nil {
			return err
		}
		if err := slave.Stop(ctx); err != nil {
			return err
		}
	}

	// Give the master time to drain the closed connections.
	time.Sleep(100 * time.Millisecond)
	return nil
}
