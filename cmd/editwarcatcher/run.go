package main

import (
	"github.com/spf13/cobra"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch recent changes once, record reverts and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, appOptions{withFeed: true})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Run(cmd.Context())
			a.pushMetrics("run")
			if err != nil {
				return err
			}
			return a.writeReport(cmd.OutOrStdout(), res)
		},
	}
}

func newDetectCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Report over the stored revert history without fetching",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Detect(cmd.Context())
			a.pushMetrics("detect")
			if err != nil {
				return err
			}
			return a.writeReport(cmd.OutOrStdout(), res)
		},
	}
}
