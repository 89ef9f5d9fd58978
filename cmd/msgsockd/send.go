package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Zereker/msgsock"
	"github.com/Zereker/msgsock/internal/config"
)

func sendCmd(v *viper.Viper) *cobra.Command {
	var (
		address string
		wait    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send MESSAGE...",
		Short: "Send messages to a running service",
		Long: `Connect to a msgsockd service, send each argument as one message
and print every message received until --wait expires.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(v, cmd.Flags(), map[string]string{
				"port":          "port",
				"magic":         "magic",
				"text_encoding": "text-encoding",
			})

			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}

			logger, err := config.NewLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}

			if address == "" {
				address = net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port))
			}

			return send(cmd.Context(), cfg, logger, cmd.OutOrStdout(), address, args, wait)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Service address (default 127.0.0.1:<port>)")
	cmd.Flags().DurationVarP(&wait, "wait", "w", time.Second, "How long to wait for replies")
	cmd.Flags().Int("port", msgsock.DefaultPort, "Service port when --address is not set")
	cmd.Flags().Uint32("magic", msgsock.DefaultMagic, "Frame header magic")
	cmd.Flags().String("text-encoding", msgsock.UTF8.Name(), "Message text encoding: utf-8 or utf-16le")

	return cmd
}

func send(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer,
	address string, messages []string, wait time.Duration) error {
	enc, err := msgsock.LookupTextEncoding(cfg.TextEncoding)
	if err != nil {
		return err
	}

	onMessage := func(payload []byte) error {
		text, err := enc.Decode(payload)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, text)
		return err
	}

	opts := append(cfg.ConnOptions(),
		msgsock.LoggerOption(logger),
		msgsock.OnMessageOption(onMessage),
	)

	conn, err := msgsock.Dial(ctx, address, opts...)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- conn.Run(runCtx)
	}()

	for _, msg := range messages {
		payload, err := enc.Encode(msg)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			continue
		}
		if err = conn.Write(payload); err != nil {
			return errors.Wrap(err, "send")
		}
	}

	select {
	case <-time.After(wait):
	case <-done:
		return nil
	}

	cancel()
	<-done
	return nil
}
