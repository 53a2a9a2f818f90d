package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "request a graceful daemon shutdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		if err := c.Shutdown(ctx); err != nil {
			return err
		}
		fmt.Println(styleOK.Render("shutdown requested"))
		return nil
	},
}
