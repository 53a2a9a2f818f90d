package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var explainCmd = &cobra.Command{
	Use:   "explain <explain_id>",
	Short: "show the scoring breakdown behind a previously emitted candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		resp, err := c.Explain(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("tiers:       %s\n", strings.Join(resp.Tiers, ", "))
		fmt.Println("factors:")
		keys := make([]string, 0, len(resp.Factors))
		for k := range resp.Factors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-12s %.4f\n", k, resp.Factors[k])
		}
		fmt.Printf("final score: %.4f\n", resp.FinalScore)
		return nil
	},
}
