/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_graphics/internal/config"
	"github.com/friendsincode/grimnir_graphics/internal/playbackclient"
	"github.com/friendsincode/grimnir_graphics/internal/server"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping playback servers on the message bus",
	Long:  "Ping playback servers and optionally list the instances they report.",
	Args:  cobra.NoArgs,
	RunE:  runPing,
}

var (
	pingServer  string
	pingTimeout time.Duration
	pingStatus  bool
	pingChannel string
)

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().StringVar(&pingServer, "server", "", "Server name (default every server)")
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 3*time.Second, "How long to wait for replies")
	pingCmd.Flags().BoolVar(&pingStatus, "status", false, "Also request instance statuses")
	pingCmd.Flags().StringVar(&pingChannel, "channel", "", "Channel for --status (default every channel)")
}

func runPing(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.Transport == config.TransportLocal {
		return fmt.Errorf("ping needs a shared transport, set GRIMNIR_TRANSPORT to nats or redis")
	}

	hostname, _ := os.Hostname()
	name := fmt.Sprintf("cli-%s-%s", hostname, uuid.NewString()[:8])
	transport, err := server.NewTransport(cfg, name, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	client := playbackclient.New(playbackclient.Config{
		Name:         name,
		Server:       pingServer,
		ComputerName: hostname,
	}, transport, logger)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	defer client.Close()

	pong, err := client.WaitForPong(ctx)
	if err != nil {
		return fmt.Errorf("no playback server answered: %w", err)
	}
	logger.Debug().Str("server", pong.ServerName).Msg("pong received")

	if pingStatus {
		if err := client.RequestStatus(ctx, uuid.Nil, pingChannel); err != nil {
			return fmt.Errorf("request status: %w", err)
		}
	}
	// Collect the remaining replies until the deadline.
	<-ctx.Done()

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tPID\tCONTENT\tLAST PONG")
	for _, s := range client.Servers() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Name, s.ProcessID, s.ContentPath, s.LastPong.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if pingStatus {
		fmt.Fprintln(out)
		tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INSTANCE\tCHANNEL\tASSET\tSTATUS")
		for _, st := range client.Statuses() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", st.InstanceID, st.Channel, st.AssetPath, st.Status)
		}
		return tw.Flush()
	}
	return nil
}
