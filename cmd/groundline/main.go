// Command groundline serves grounded answers from a locally indexed
// reference corpus. It is a thin shell over the query pipeline; all safety
// behavior lives in the pipeline packages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundline/groundline/pkg/config"
	"github.com/groundline/groundline/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "groundline",
		Short:         "Offline grounded question answering over an indexed corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(askCmd(), replCmd(), statusCmd(), indexCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}
	logger.Setup(os.Stderr, cfg.LogJSON, cfg.LogDebug)
	return cfg, nil
}
