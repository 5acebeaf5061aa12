// Package cli wires the sync core into a command line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gymdesk/gymsync/internal/cache"
	"github.com/gymdesk/gymsync/internal/channel"
	"github.com/gymdesk/gymsync/internal/clock"
	"github.com/gymdesk/gymsync/internal/config"
	"github.com/gymdesk/gymsync/internal/db"
	"github.com/gymdesk/gymsync/internal/drain"
	"github.com/gymdesk/gymsync/internal/logging"
	"github.com/gymdesk/gymsync/internal/metrics"
	"github.com/gymdesk/gymsync/internal/probe"
	"github.com/gymdesk/gymsync/internal/queue"
	"github.com/gymdesk/gymsync/internal/remotedb"
	"github.com/gymdesk/gymsync/internal/replay"
	"github.com/gymdesk/gymsync/internal/report"
)

// Version is set at build time.
var Version = "0.1.0"

var configFile string

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gymsync",
		Short: "Offline-tolerant sync core for the front desk",
		Long: `gymsync keeps the front desk working through outages: writes and
notifications queue locally and are replayed once their remote
collaborators are reachable again.`,
		Version: Version,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildRetryDeadCommand())
	rootCmd.AddCommand(buildEnqueueMessageCommand())

	return rootCmd
}

// core holds everything the commands share.
type core struct {
	cfg      *config.Config
	database *db.DB
	store    *queue.Store
	gateway  *channel.Gateway
	prober   *probe.Prober
	reporter *report.Reporter
}

func openCore() (*core, error) {
	// Optional; real deployments configure via file or environment.
	godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logging.Init(os.Stdout, cfg.LogLevel)

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		database.Close()
		return nil, err
	}

	store := queue.NewStore(database, queue.StoreConfig{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		BaseBackoff:  cfg.Retry.BaseBackoff(),
		MaxBackoff:   cfg.Retry.MaxBackoff(),
		DedupEnabled: cfg.Queue.DedupEnabled,
	})

	gateway := channel.NewGateway(cfg.Channel)
	prober, err := probe.New(probe.Config{
		InternetEndpoint: cfg.Probe.InternetEndpoint,
		InternetTimeout:  cfg.Probe.Timeout(),
		RemoteDSN:        cfg.Remote.DSN,
		RemoteTimeout:    cfg.Remote.ProbeTimeout(),
	}, gateway)
	if err != nil {
		database.Close()
		return nil, err
	}

	return &core{
		cfg:      cfg,
		database: database,
		store:    store,
		gateway:  gateway,
		prober:   prober,
		reporter: report.New(cfg, store, prober),
	}, nil
}

func (c *core) close() {
	c.prober.Close()
	c.database.Close()
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the drain engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine()
		},
	}
}

func runEngine() error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeClock, err := clock.New(ctx, c.database)
	if err != nil {
		return err
	}
	logging.Info("sync core starting", logging.Fields{
		"version":  Version,
		"node_id":  nodeClock.NodeID(),
		"data_dir": c.cfg.DataDir,
	})

	registry := replay.NewRegistry()
	if err := registry.Register(channel.NewHandler(c.gateway)); err != nil {
		return err
	}
	if c.cfg.Remote.DSN != "" {
		replayer, err := remotedb.New(c.cfg.Remote.DSN)
		if err != nil {
			return err
		}
		defer replayer.Close()
		if err := registry.Register(replayer); err != nil {
			return err
		}
	} else {
		logging.Warn("remote dsn not configured, remote replays stay queued", nil)
	}

	var collector *metrics.Collector
	var metricsSrv *metrics.Server
	if c.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		collector = metrics.NewCollector(reg)
		metricsSrv = metrics.NewServer(c.cfg.Metrics.ListenAddr, reg, c.reporter.Snapshot)
		metricsSrv.Start()
	}

	reads := cache.New(c.database)
	if pruned, err := reads.Prune(ctx, 7*24*time.Hour); err == nil && pruned > 0 {
		logging.Info("pruned stale cache entries", logging.Fields{"count": pruned})
	}

	engine := drain.New(c.cfg, c.store, c.prober, registry, collector)
	engine.Start(ctx)
	engine.TriggerNow()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("shutdown signal received", logging.Fields{"signal": sig.String()})

	engine.Stop()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the connectivity and queue snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer c.close()

			snap, err := c.reporter.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func buildRetryDeadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-dead",
		Short: "Requeue dead operations for a fresh round of attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore()
			if err != nil {
				return err
			}
			defer c.close()

			n, err := c.store.RetryDead(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d dead operations\n", n)
			return nil
		},
	}
}

func buildEnqueueMessageCommand() *cobra.Command {
	var to, template, body string

	cmd := &cobra.Command{
		Use:   "enqueue-message",
		Short: "Queue a notification for delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" || body == "" {
				return fmt.Errorf("--to and --body are required")
			}

			c, err := openCore()
			if err != nil {
				return err
			}
			defer c.close()

			id, err := channel.EnqueueMessage(cmd.Context(), c.store, channel.Message{
				To:       to,
				Template: template,
				Body:     body,
			}, c.cfg.Queue.ChannelTTL())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued message %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "recipient")
	cmd.Flags().StringVar(&template, "template", "", "message template name")
	cmd.Flags().StringVar(&body, "body", "", "message body")

	return cmd
}
