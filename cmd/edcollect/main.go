// Command edcollect runs the EDC multi-stream collector: it resolves
// the set of active streams, opens one feed per stream, and persists
// every activity exactly once to the configured sink.
//
// Logging:
//   - Base logger is created here from the config's logging section
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"edcollect/internal/config"
	"edcollect/internal/directory"
	"edcollect/internal/feed"
	feedhttp "edcollect/internal/feed/http"
	"edcollect/internal/logging"
	"edcollect/internal/pipeline"
	"edcollect/internal/sink"
	sinkfile "edcollect/internal/sink/file"
	sinkrelational "edcollect/internal/sink/relational"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "edcollect",
		Short: "Multi-stream activity collector",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start consuming all configured or discovered streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, configPath)
		},
	}
	runCmd.Flags().String("config", "./edc.yaml", "path to the collector configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	logger.Info("starting collector",
		"version", version,
		"account", cfg.Account.MachineName,
		"storage", cfg.Collector.Storage)

	// Resolve streams: static config wins, otherwise discovery.
	dir := directory.New(directory.Config{
		BaseURL:  cfg.BaseURL(),
		UserName: cfg.Account.UserName,
		Password: cfg.Account.Password,
		Limit:    cfg.Collector.DiscoveryLimit,
		Static:   staticStreams(cfg),
		Logger:   logger,
	})
	streams, err := dir.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve streams: %w", err)
	}
	if len(streams) == 0 {
		return fmt.Errorf("no active streams found")
	}

	snk, err := openSink(cfg, logger)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	if c, ok := snk.(io.Closer); ok {
		defer c.Close()
	}

	pipe := pipeline.New(pipeline.Config{
		Streams:      streams,
		NewFeed:      feedFactory(cfg, logger),
		Sink:         snk,
		BufferSize:   cfg.Collector.BufferSize,
		PollInterval: cfg.Collector.PollInterval.Std(),
		Logger:       logger,
	})

	// Blocks until an interrupt cancels ctx and the buffer is drained.
	if err := pipe.Run(ctx); err != nil {
		return err
	}

	logger.Info("collector stopped")
	return nil
}

func staticStreams(cfg *config.Config) []directory.StaticStream {
	static := make([]directory.StaticStream, 0, len(cfg.Streams))
	for _, s := range cfg.Streams {
		static = append(static, directory.StaticStream{ID: s.ID, Name: s.Name})
	}
	return static
}

func feedFactory(cfg *config.Config, logger *slog.Logger) pipeline.FeedFactory {
	return func(st directory.Stream) feed.Feed {
		return feedhttp.New(feedhttp.Config{
			StreamID: st.ID,
			URL:      fmt.Sprintf("%s/%d/stream.xml", cfg.BaseURL(), st.ID),
			UserName: cfg.Account.UserName,
			Password: cfg.Account.Password,
			Logger:   logger,
		})
	}
}

func openSink(cfg *config.Config, logger *slog.Logger) (sink.Sink, error) {
	switch cfg.Collector.Storage {
	case config.StorageFiles:
		return sinkfile.New(sinkfile.Config{
			OutBox: cfg.Collector.OutBox,
			Logger: logger,
		})
	case config.StorageDatabase:
		return sinkrelational.New(sinkrelational.Config{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN(),
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Collector.Storage)
	}
}
