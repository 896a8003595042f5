package cmd

import (
	"fmt"
	"strings"

	"github.com/bnema/cocode-cli/internal/application"
	"github.com/spf13/cobra"
)

func newConfigCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change preferences",
	}

	cmd.AddCommand(
		newConfigGetCmd(app),
		newConfigSetCmd(app),
		newConfigTokenCmd(app),
	)

	return cmd
}

func settingKeysHelp() string {
	return "Keys: " + strings.Join(application.SettingKeys(), ", ")
}

func newConfigGetCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a preference",
		Long:  settingKeysHelp(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := app.settings.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	}
}

func newConfigSetCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a preference",
		Long:  settingKeysHelp(),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.settings.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			value, err := app.settings.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], value)
			return err
		},
	}
}

func newConfigTokenCmd(app *app) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "token [value]",
		Short: "Store the API token used for the relay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case remove && len(args) > 0:
				return fmt.Errorf("pass either a token or --remove, not both")
			case remove:
				if err := app.settings.SetToken(cmd.Context(), ""); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "token removed")
				return err
			case len(args) == 0:
				return fmt.Errorf("a token value is required (or pass --remove)")
			}

			if err := app.settings.SetToken(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "token stored")
			return err
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the stored token")

	return cmd
}
