package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/msgsock"
	"github.com/Zereker/msgsock/internal/config"
)

// serveFlagKeys maps config keys to the serve flags overriding them.
var serveFlagKeys = map[string]string{
	"bind_address":    "bind",
	"port":            "port",
	"magic":           "magic",
	"max_payload":     "max-payload",
	"idle_timeout":    "idle-timeout",
	"write_timeout":   "write-timeout",
	"text_encoding":   "text-encoding",
	"echo":            "echo",
	"metrics.enabled": "metrics",
	"metrics.address": "metrics-addr",
}

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the message service",
		Long: `Listen for a client and log every message it sends. With --echo
each message is sent back to the client.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(v, cmd.Flags(), serveFlagKeys)

			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}

			logger, err := config.NewLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("bind", msgsock.DefaultBindAddress, "Interface to listen on")
	flags.Int("port", msgsock.DefaultPort, "TCP port to listen on")
	flags.Uint32("magic", msgsock.DefaultMagic, "Frame header magic (decimal or 0x-prefixed hex)")
	flags.Int("max-payload", 0, "Largest payload accepted or sent, 0 for no limit")
	flags.Duration("idle-timeout", 0, "Drop a client silent for this long, 0 waits forever")
	flags.Duration("write-timeout", 0, "Fail sends blocked for this long, 0 waits forever")
	flags.String("text-encoding", msgsock.UTF8.Name(), "Message text encoding: utf-8 or utf-16le")
	flags.Bool("echo", false, "Send every received message back to the client")
	flags.Bool("metrics", false, "Serve Prometheus metrics over HTTP")
	flags.String("metrics-addr", ":9100", "Listen address of the metrics endpoint")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	opts, err := cfg.ServiceOptions()
	if err != nil {
		return err
	}

	var svc *msgsock.Service
	onMessage := func(text string) {
		logger.Info("receive message", "message", text)
		if cfg.Echo && !svc.SendMessage(text) {
			logger.Warn("echo failed")
		}
	}

	// Each run gets its own registry so serve can be called more than once
	// in a process without duplicate registration panics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts = append(opts,
		msgsock.ServiceLoggerOption(logger),
		msgsock.OnMessageReceivedOption(onMessage),
		msgsock.MetricsRegistererOption(reg),
	)
	svc = msgsock.NewService(opts...)

	if err = svc.StartService(cfg.BindAddress, cfg.Port); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		group.Go(func() error {
			logger.Info("serving metrics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return svc.Close()
	})

	return group.Wait()
}

// bindFlags binds the flags of the command being run. Commands share config
// keys, so binding happens at run time rather than at construction.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		mustBind(v, key, flags.Lookup(name))
	}
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(errors.Wrapf(err, "binding flag %s", flag.Name))
	}
}
