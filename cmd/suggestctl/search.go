package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmdsense/suggestd/internal/protocol"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "full-text search over stored commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		resp, err := c.Search(ctx, protocol.SearchRequest{Query: args[0], Limit: searchLimit})
		if err != nil {
			return err
		}
		if len(resp.Events) == 0 {
			fmt.Println(styleDim.Render("(no matches)"))
			return nil
		}
		for _, ev := range resp.Events {
			fmt.Printf("%8d  %-12s  %s\n", ev.ID, ev.CWD, ev.Command)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")
}
