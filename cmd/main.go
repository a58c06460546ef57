package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/deckforge/deckforge/cmd/service"
)

func main() {
	root := &cobra.Command{
		Use:          "deckforge",
		Short:        "turn documents into presentations with a remote generation service",
		SilenceUsage: true,
	}

	root.AddCommand(service.NewCommands()...)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
