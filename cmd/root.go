package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func Execute() error {
	return ExecuteContext(context.Background())
}

func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cocode",
		Short:         "Collaborative document editing with AI agents",
		Long:          "cocode joins shared rooms where several people edit one document at once, delegates prompts to an AI agent running on the relay, and runs that relay.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(app),
		newJoinCmd(app),
		newPromptCmd(app),
		newRoomsCmd(app),
		newServeCmd(app),
	)

	return rootCmd
}
