// Command v2ray-sessionctl drives a running v2ray-sessiond.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"v2ray-session/internal/core"
	"v2ray-session/internal/ipc"
)

var (
	socketPath string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "v2ray-sessionctl",
	Short: "Control a v2ray-sessiond tunnel session",
	Long: `v2ray-sessionctl sends commands to a running v2ray-sessiond over its
Unix socket and prints the results.

Examples:
  v2ray-sessionctl start --remark tokyo --config-file tokyo.json
  v2ray-sessionctl watch
  v2ray-sessionctl stop`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", core.DefaultConfig().IPC.Socket, "Daemon socket path")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Per-command timeout")

	rootCmd.AddCommand(startCmd(), stopCmd(), initCmd(), checkCmd(), delayCmd(), versionCmd(), watchCmd())
}

// invoke runs one bridge method and returns its result.
func invoke(cmd *cobra.Command, method string, args map[string]any) (any, error) {
	c, err := ipc.Dial(socketPath)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	res, err := c.Invoke(ctx, method, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", core.CodeOf(err), core.MessageOf(err))
	}
	return res, nil
}

func printTuple(cmd *cobra.Command, tuple []string) {
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(tuple, "\t"))
}
