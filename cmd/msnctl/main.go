package main

import (
	"fmt"
	"os"

	"github.com/danmuck/msnctl/internal/logging"
	"github.com/spf13/cobra"
)

func NewMsnctlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "msnctl",
		Short:         "MSNP13 notification-server client",
		Example:       "msnctl login --config msnctl.toml",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		NewLoginCommand(),
		NewChallengeCommand(),
	)

	return cmd
}

func main() {
	logging.ConfigureRuntime()
	cmd := NewMsnctlCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "msnctl: %v\n", err)
		os.Exit(1)
	}
}
