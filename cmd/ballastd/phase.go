package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"ballast/api/grpcserver"
	"ballast/infra/memory"
)

var (
	remoteAddr    string
	remoteTimeout time.Duration
)

func init() {
	cmd := newPhaseCmd()
	cmd.PersistentFlags().StringVar(&remoteAddr, "addr", "localhost:50051", "Diagnostics gRPC address")
	cmd.PersistentFlags().DurationVar(&remoteTimeout, "timeout", 5*time.Second, "Call timeout")
	rootCmd.AddCommand(cmd)
}

func newPhaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase [allocation|steady|deallocation]",
		Short: "Show or advance a running server's phase",
		Long: `Without arguments phase prints the server's current phase. With a phase
name it asks the server to advance; phases only move forward.

Example:
  ballastd phase
  ballastd phase deallocation --addr 10.0.0.4:50051`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *grpcserver.Client) error {
				var (
					p   string
					err error
				)
				if len(args) == 0 {
					p, err = c.GetPhase(ctx)
				} else {
					target, ok := memory.ParsePhase(args[0])
					if !ok {
						return fmt.Errorf("unknown phase %q", args[0])
					}
					p, err = c.AdvancePhase(ctx, target)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "pools",
		Short: "List a running server's pools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *grpcserver.Client) error {
				pools, err := c.ListPools(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pools)
			})
		},
	})
	return cmd
}

func withClient(ctx context.Context, fn func(context.Context, *grpcserver.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := grpc.NewClient(remoteAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", remoteAddr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	return fn(ctx, grpcserver.NewClient(conn))
}
