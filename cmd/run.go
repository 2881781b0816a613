package cmd

import (
	"log"

	"github.com/majordomo-bot/majordomo/majordomo"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the MajorDomo bot and (optionally) the operator API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			md, err := majordomo.New(cfg)
			if err != nil {
				log.Fatalf("error creating majordomo: %s", err.Error())
			}

			if err = md.Run(ctx); err != nil {
				log.Fatalf("error running majordomo: %s", err.Error())
			}
		},
	}
)

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
