package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"jobmate/analysis-service/internal/grpcserver"
)

var (
	grpcAddr    string
	callTimeout time.Duration
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue APPLICATION_ID",
	Short: "Enqueue an analysis on a running service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *grpcserver.Client) error {
			id, err := c.EnqueueAnalysis(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status ANALYSIS_JOB_ID",
	Short: "Print the status of an analysis job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *grpcserver.Client) error {
			st, err := c.GetAnalysisStatus(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(st)
		})
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest APPLICATION_ID",
	Short: "Print the latest completed analysis of an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *grpcserver.Client) error {
			res, err := c.GetLatestResult(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel ANALYSIS_JOB_ID",
	Short: "Request cancellation of an analysis job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *grpcserver.Client) error {
			return c.RequestCancellation(ctx, args[0])
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{enqueueCmd, statusCmd, latestCmd, cancelCmd} {
		c.Flags().StringVar(&grpcAddr, "addr", "localhost:9083", "gRPC address of the analysis service")
		c.Flags().DurationVar(&callTimeout, "timeout", 10*time.Second, "call timeout")
		rootCmd.AddCommand(c)
	}
}

func withClient(ctx context.Context, fn func(context.Context, *grpcserver.Client) error) error {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", grpcAddr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return fn(ctx, grpcserver.NewClient(conn))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
