package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "check daemon liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := withTimeout(5 * time.Second)
		defer cancel()

		if err := c.Ping(ctx); err != nil {
			return err
		}
		fmt.Println(styleOK.Render("ok"))
		return nil
	},
}
