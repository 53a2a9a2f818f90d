package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cmdsense/suggestd/internal/protocol"
)

var (
	logCWD       string
	logExitCode  int32
	logHasExit   bool
	logSessionID string
	logShellKind string
)

var logCmd = &cobra.Command{
	Use:   "log <command>",
	Short: "report one observed command to the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		session := logSessionID
		if session == "" {
			session = uuid.NewString()
		}

		req := protocol.LogRequest{
			Command:   args[0],
			CWD:       logCWD,
			SessionID: session,
			ShellKind: logShellKind,
		}
		if logHasExit {
			req.ExitCode = &logExitCode
		}

		ctx, cancel := withTimeout(1 * time.Second)
		defer cancel()

		resp, err := c.Log(ctx, req)
		if err != nil {
			return err
		}
		if resp.Rejected != "" {
			fmt.Println(styleWarn.Render("rejected: " + resp.Rejected))
			return nil
		}
		fmt.Printf("logged as event %d\n", resp.ID)
		return nil
	},
}

func init() {
	logCmd.Flags().StringVar(&logCWD, "cwd", "", "working directory the command ran in")
	logCmd.Flags().Int32Var(&logExitCode, "exit-code", 0, "exit code of the command")
	logCmd.Flags().BoolVar(&logHasExit, "has-exit-code", false, "set when --exit-code should be sent")
	logCmd.Flags().StringVar(&logSessionID, "session", "", "session id (random uuid if omitted)")
	logCmd.Flags().StringVar(&logShellKind, "shell", "", "shell kind: zsh, bash, fish, other")
	logCmd.MarkFlagRequired("cwd")
}
