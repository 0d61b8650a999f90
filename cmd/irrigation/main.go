package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prite36/multichannel-irrigation/internal/config"
	"github.com/prite36/multichannel-irrigation/internal/service"
)

var rootCmd = &cobra.Command{
	Use:   "irrigation",
	Short: "Multi-channel irrigation controller",
	Long:  "Drives up to a handful of valve relays from weekly schedules, with MQTT, Slack and HTTP control.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the irrigation controller",
	Long:  "Start the tick driver, the HTTP API and the MQTT bridge, and run until interrupted",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schedulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := service.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	return app.Start()
}
