package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show daemon uptime, counters, and degraded subsystems",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		st, err := c.Status(ctx)
		if err != nil {
			return err
		}

		fmt.Println(styleHeader.Render("suggestd status"))
		fmt.Printf("  uptime               %s\n", time.Duration(st.UptimeS*float64(time.Second)).Round(time.Second))
		fmt.Printf("  events stored        %s\n", humanize.Comma(st.EventsStored))
		fmt.Printf("  suggestions served   %s\n", humanize.Comma(st.SuggestionsServed))
		fmt.Printf("  encode queue         %s / %s (dropped %s)\n",
			humanize.Comma(int64(st.QueueDepth)), humanize.Comma(int64(st.QueueCapacity)), humanize.Comma(st.QueueDropped))

		if len(st.Degraded) == 0 {
			fmt.Println("  degraded tiers       " + styleOK.Render("none"))
			return nil
		}
		fmt.Print("  degraded tiers       ")
		for i, d := range st.Degraded {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Print(styleWarn.Render(d))
		}
		fmt.Println()
		return nil
	},
}
