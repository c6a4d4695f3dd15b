// Command nitrogenctl is the CLI client for a running nitrogend
// daemon: it queries status/stats and requests shutdown over the
// control socket.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ghostkellz/nitrogen/internal/control"
	"github.com/spf13/cobra"
)

var socketPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nitrogenctl",
		Short: "Control a running nitrogend daemon",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "", "control socket path (empty uses the spec default)")

	root.AddCommand(newPingCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newStopCmd())

	return root
}

func resolveSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	return control.SocketPath()
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check whether nitrogend is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := control.NewClient(resolveSocketPath()).Ping(); err != nil {
				return fmt.Errorf("daemon not reachable: %w", err)
			}
			fmt.Println("pong")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the running pipeline's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := control.NewClient(resolveSocketPath()).Status()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(status)
			}
			fmt.Printf("state:    %s\n", status.State)
			fmt.Printf("running:  %t\n", status.Running)
			fmt.Printf("pid:      %d\n", status.PID)
			fmt.Printf("uptime:   %.1fs\n", status.UptimeSeconds)
			if status.Source != nil {
				fmt.Printf("source:   %s\n", *status.Source)
			}
			if status.Resolution != nil {
				fmt.Printf("resolution: %dx%d\n", status.Resolution[0], status.Resolution[1])
			}
			if status.FPS != nil {
				fmt.Printf("fps:      %d\n", *status.FPS)
			}
			if status.CameraName != nil {
				fmt.Printf("camera:   %s\n", *status.CameraName)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON instead of a formatted summary")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the running pipeline's statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := control.NewClient(resolveSocketPath()).Stats()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(stats)
			}
			fmt.Printf("frames processed: %d\n", stats.FramesProcessed)
			fmt.Printf("frames dropped:   %d\n", stats.FramesDropped)
			fmt.Printf("frames failed:    %d\n", stats.FramesFailed)
			fmt.Printf("fps:              %.2f / %d target\n", stats.ActualFPS, stats.TargetFPS)
			fmt.Printf("elapsed:          %.1fs\n", stats.ElapsedSeconds)
			fmt.Printf("resolution:       %dx%d\n", stats.Resolution[0], stats.Resolution[1])
			fmt.Printf("codec:            %s\n", stats.Codec)
			fmt.Printf("bitrate:          %d kbps\n", stats.BitrateKbps)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON instead of a formatted summary")
	return cmd
}

func newStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask nitrogend to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := control.NewClient(resolveSocketPath()).Stop(force); err != nil {
				return err
			}
			fmt.Println("stopping")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "request ForceStop instead of Stop")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
