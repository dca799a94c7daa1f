// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package main is the entry point for orchctl, the administrative CLI
// (§6.4) for inspecting and repairing pool queues and their dead-letter
// sets, styled after the teacher's Cobra-based cmd/server but as its own
// separate, read/repair-oriented entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/queue"
	"github.com/eafonin/nessus-orchestrator/internal/registry"
)

var redisURL string
var registryPath string

var rootCmd = &cobra.Command{
	Use:   "orchctl",
	Short: "Administrative CLI for the scan-orchestration queues",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", "redis://127.0.0.1:6379/0", "Redis connection URL")
	rootCmd.PersistentFlags().StringVar(&registryPath, "pools-config", "/etc/nessus-orchestrator/pools.yaml", "Scanner pool topology YAML")

	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(listDLQCmd())
	rootCmd.AddCommand(inspectDLQCmd())
	rootCmd.AddCommand(retryDLQCmd())
	rootCmd.AddCommand(purgeDLQCmd())
}

func fail(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}

func connect() (*queue.Manager, []string) {
	c, err := kv.NewFromURL(redisURL)
	if err != nil {
		fail(2, "failed to connect to redis: %v", err)
	}
	cfg, err := registry.LoadConfig(registryPath)
	if err != nil {
		fail(2, "failed to load pool topology: %v", err)
	}
	pools := make([]string, 0, len(cfg))
	for p := range cfg {
		pools = append(pools, p)
	}
	return queue.New(c), pools
}

func statsCmd() *cobra.Command {
	var pool string
	var allPools bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and DLQ size per pool",
		Run: func(cmd *cobra.Command, args []string) {
			if pool == "" && !allPools {
				fail(1, "specify --pool P or --all-pools")
			}
			q, pools := connect()
			if pool != "" {
				pools = []string{pool}
			}
			ctx := context.Background()
			for _, p := range pools {
				depth, err := q.GetDepth(ctx, p)
				if err != nil {
					fail(2, "reading queue depth for %s: %v", p, err)
				}
				dlq, err := q.GetDLQSize(ctx, p)
				if err != nil {
					fail(2, "reading DLQ size for %s: %v", p, err)
				}
				fmt.Printf("%s\tqueue_depth=%d\tdlq_size=%d\n", p, depth, dlq)
			}
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "Pool name")
	cmd.Flags().BoolVar(&allPools, "all-pools", false, "Report every configured pool")
	return cmd
}

func listDLQCmd() *cobra.Command {
	var pool string
	var limit int64
	cmd := &cobra.Command{
		Use:   "list-dlq",
		Short: "List dead-letter entries for a pool",
		Run: func(cmd *cobra.Command, args []string) {
			if pool == "" {
				fail(1, "--pool is required")
			}
			q, _ := connect()
			entries, err := q.ListDLQ(context.Background(), pool, limit)
			if err != nil {
				fail(2, "listing DLQ: %v", err)
			}
			enc := json.NewEncoder(os.Stdout)
			for _, e := range entries {
				_ = enc.Encode(e)
			}
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "Pool name")
	cmd.Flags().Int64Var(&limit, "limit", 50, "Maximum entries to list")
	return cmd
}

func inspectDLQCmd() *cobra.Command {
	var pool string
	cmd := &cobra.Command{
		Use:   "inspect-dlq TASK_ID",
		Short: "Show the dead-letter entry for one task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if pool == "" {
				fail(1, "--pool is required")
			}
			q, _ := connect()
			entries, err := q.ListDLQ(context.Background(), pool, 1<<31)
			if err != nil {
				fail(2, "listing DLQ: %v", err)
			}
			for _, e := range entries {
				if e.TaskID == args[0] {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					_ = enc.Encode(e)
					return
				}
			}
			fail(1, "no DLQ entry for task %s in pool %s", args[0], pool)
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "Pool name")
	return cmd
}

func retryDLQCmd() *cobra.Command {
	var pool string
	var yes bool
	cmd := &cobra.Command{
		Use:   "retry-dlq TASK_ID",
		Short: "Move a dead-letter entry back onto the pool's queue",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if pool == "" {
				fail(1, "--pool is required")
			}
			if !yes {
				fail(1, "retry-dlq is destructive; pass --yes to confirm")
			}
			q, _ := connect()
			if err := q.RetryDLQ(context.Background(), pool, args[0]); err != nil {
				fail(2, "retrying task %s: %v", args[0], err)
			}
			fmt.Printf("requeued %s onto %s\n", args[0], pool)
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "Pool name")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the retry")
	return cmd
}

func purgeDLQCmd() *cobra.Command {
	var pool string
	var confirm bool
	cmd := &cobra.Command{
		Use:   "purge-dlq",
		Short: "Delete every dead-letter entry for a pool",
		Run: func(cmd *cobra.Command, args []string) {
			if pool == "" {
				fail(1, "--pool is required")
			}
			if !confirm {
				fail(1, "purge-dlq is destructive; pass --confirm")
			}
			q, _ := connect()
			if err := q.PurgeDLQ(context.Background(), pool); err != nil {
				fail(2, "purging DLQ for %s: %v", pool, err)
			}
			fmt.Printf("purged DLQ for %s\n", pool)
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "Pool name")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm the purge")
	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
