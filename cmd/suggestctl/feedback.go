package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmdsense/suggestd/internal/protocol"
)

var feedbackAccepted bool

var feedbackCmd = &cobra.Command{
	Use:   "feedback <explain_id>",
	Short: "record whether a previously suggested candidate was accepted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		if err := c.Feedback(ctx, protocol.FeedbackRequest{ExplainID: args[0], Accepted: feedbackAccepted}); err != nil {
			return err
		}
		fmt.Println(styleOK.Render("ok"))
		return nil
	},
}

func init() {
	feedbackCmd.Flags().BoolVar(&feedbackAccepted, "accepted", true, "whether the candidate was accepted")
}
