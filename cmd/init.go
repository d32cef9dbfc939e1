package cmd

import (
	"fmt"
	"log"

	"github.com/CApy-RPI/mvp/capy"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and run migrations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable CAPY_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable CAPY_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		db, err := capy.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			defer sqlDB.Close()
		}

		out := cmd.OutOrStdout()

		var events, users int64
		if err = db.WithContext(ctx).Model(&capy.Event{}).Count(&events).Error; err != nil {
			log.Fatalf("Error counting events: %v", err)
		}
		if err = db.WithContext(ctx).Model(&capy.User{}).Count(&users).Error; err != nil {
			log.Fatalf("Error counting profiles: %v", err)
		}
		fmt.Fprintf(out, "Database ready (%d events, %d profiles).\n", events, users)

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
