package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "kepler",
		Short: "An autonomous research agent with persistent memory",
		Long: `Kepler runs an autonomous research agent. On a fixed cadence it prompts a
language model with its goal and its accumulated memory, folds the structured
response back into that memory, records findings and connections as files,
enriches its reasoning with web search results, and can fine-tune the model
on its own interaction history.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"path to the YAML configuration file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kepler version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kepler %s\n", version)
		},
	}
}
