package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// @title Incident Dispatch API
// @version 1.0
// @description Real-time dispatch offers and incident chat coordination.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
var rootCmd = &cobra.Command{
	Use:   "incident-dispatch",
	Short: "Dispatch offers and incident chat",
	Long: "Dispatch offers and incident chat.\n\n" +
		"Configuration is read from environment variables and an optional .env file.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
