package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmdsense/suggestd/internal/client"
	"github.com/cmdsense/suggestd/internal/config"
)

// socketPath is resolved once per invocation from --socket or the default
// data directory, per spec.md §6.2.
var socketPath string

var rootCmd = &cobra.Command{
	Use:   "suggestctl",
	Short: "operator CLI for the suggestd command suggestion daemon",
	Long: styleBold.Render("suggestctl") + ` drives the suggestd protocol server directly:
ping its liveness, inspect status, feed it log/suggest/search/explain/
feedback requests, and request a graceful shutdown.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path (default: $SUGGESTD_HOME/daemon.sock)")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(shutdownCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(styleError.Render("error: " + err.Error()))
		os.Exit(1)
	}
}

// dial resolves the socket path and connects, per §6.2's per-user endpoint.
func dial() (*client.Client, error) {
	path := socketPath
	if path == "" {
		path = config.DefaultPaths().SocketPath()
	}
	return client.Dial(path)
}

// withTimeout builds a context bounded by d for one client call.
func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
