package cmd

import (
	"log"

	"github.com/CApy-RPI/mvp/capy"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot, reminder scheduler and (optionally) the API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := capy.New(cfg)
			if err != nil {
				log.Fatalf("error creating capy: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running capy: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
