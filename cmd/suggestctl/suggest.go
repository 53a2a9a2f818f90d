package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmdsense/suggestd/internal/protocol"
)

var (
	suggestCWD     string
	suggestHistory string
	suggestLimit   int
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <partial>",
	Short: "request ranked completions for a partially typed command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		var history []string
		if suggestHistory != "" {
			history = strings.Split(suggestHistory, ",")
		}

		ctx, cancel := withTimeout(5 * time.Second)
		defer cancel()

		resp, err := c.Suggest(ctx, protocol.SuggestRequest{
			Partial: args[0],
			CWD:     suggestCWD,
			History: history,
			Limit:   suggestLimit,
		})
		if err != nil {
			return err
		}

		if len(resp.Degraded) > 0 {
			fmt.Println(styleWarn.Render("degraded: " + strings.Join(resp.Degraded, ", ")))
		}
		if len(resp.Candidates) == 0 {
			fmt.Println(styleDim.Render("(no candidates)"))
			return nil
		}
		for i, cand := range resp.Candidates {
			fmt.Printf("%2d. %-40s  conf=%.2f risk=%.2f  %s  [%s]\n",
				i+1, cand.Command, cand.Confidence, cand.Risk, styleDim.Render(cand.Source), cand.ExplainID)
		}
		return nil
	},
}

func init() {
	suggestCmd.Flags().StringVar(&suggestCWD, "cwd", "", "current working directory")
	suggestCmd.Flags().StringVar(&suggestHistory, "history", "", "comma-separated recent commands, most recent last")
	suggestCmd.Flags().IntVar(&suggestLimit, "limit", 0, "cap on returned candidates (0 = server default)")
	suggestCmd.MarkFlagRequired("cwd")
}
