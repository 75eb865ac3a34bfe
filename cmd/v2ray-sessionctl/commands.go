package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"v2ray-session/internal/bridge"
	"v2ray-session/internal/ipc"
)

func readConfig(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}
	return string(b), nil
}

func startCmd() *cobra.Command {
	var (
		remark        string
		configFile    string
		blockedApps   []string
		bypassSubnets []string
		proxyOnly     bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session with a proxy config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := readConfig(configFile)
			if err != nil {
				return err
			}
			args := map[string]any{
				"remark":    remark,
				"config":    config,
				"proxyOnly": proxyOnly,
			}
			if len(blockedApps) > 0 {
				args["blocked_apps"] = toAny(blockedApps)
			}
			if len(bypassSubnets) > 0 {
				args["bypass_subnets"] = toAny(bypassSubnets)
			}
			_, err = invoke(cmd, bridge.MethodStart, args)
			return err
		},
	}
	cmd.Flags().StringVar(&remark, "remark", "", "Session label shown by the OS")
	cmd.Flags().StringVar(&configFile, "config-file", "", "Proxy config JSON file, - for stdin")
	cmd.Flags().StringSliceVar(&blockedApps, "blocked-app", nil, "App excluded from the tunnel (repeatable)")
	cmd.Flags().StringSliceVar(&bypassSubnets, "bypass-subnet", nil, "CIDR routed outside the tunnel (repeatable)")
	cmd.Flags().BoolVar(&proxyOnly, "proxy-only", false, "Run the local proxy without a system tunnel")
	_ = cmd.MarkFlagRequired("remark")
	_ = cmd.MarkFlagRequired("config-file")
	return cmd
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := invoke(cmd, bridge.MethodStop, nil)
			return err
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Ask the daemon to re-send its current snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := invoke(cmd, bridge.MethodInitialize, nil)
			return err
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check whether the system still holds a live tunnel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := invoke(cmd, bridge.MethodCheckState, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func delayCmd() *cobra.Command {
	var configFile, url string
	cmd := &cobra.Command{
		Use:   "delay",
		Short: "Measure server delay in milliseconds",
		Long: `Measure the delay of a proxy config with a throw-away instance, or of
the connected session when --config-file is omitted. -1 means the probe failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				res any
				err error
			)
			if configFile == "" {
				res, err = invoke(cmd, bridge.MethodConnectedServerDelay, map[string]any{"url": url})
			} else {
				config, rerr := readConfig(configFile)
				if rerr != nil {
					return rerr
				}
				res, err = invoke(cmd, bridge.MethodServerDelay, map[string]any{"config": config, "url": url})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config-file", "", "Proxy config JSON file to probe")
	cmd.Flags().StringVar(&url, "url", "https://www.google.com/generate_204", "Probe target")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the daemon's xray-core version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := invoke(cmd, bridge.MethodCoreVersion, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print snapshots as the daemon emits them",
		Long: `Print one tab-separated line per snapshot: duration, upload rate,
download rate, total upload, total download, state. Stops on Ctrl-C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := ipc.Dial(socketPath)
			if err != nil {
				return err
			}
			defer c.Close()

			stream, err := c.Subscribe(cmd.Context())
			if err != nil {
				return err
			}
			for {
				tuple, err := stream.Recv()
				if err != nil {
					if cmd.Context().Err() != nil || err == io.EOF {
						return nil
					}
					return err
				}
				printTuple(cmd, tuple)
			}
		},
	}
}
