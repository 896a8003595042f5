package cmd

import (
	"encoding/json"
	"fmt"

	statusadapter "github.com/bnema/cocode-cli/internal/adapters/render/status"
	"github.com/bnema/cocode-cli/internal/application"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/spf13/cobra"
)

func newRoomsCmd(app *app) *cobra.Command {
	var (
		page     int
		pageSize int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List rooms, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ep, err := app.resolve(cmd.Context())
			if err != nil {
				return err
			}

			result, err := application.NewRoomHistory(app.apiClient(ep)).Page(cmd.Context(), domain.PageRequest{
				Page:     page,
				PageSize: pageSize,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			rendered, err := app.roomRenderer(result, statusadapter.RenderOptions{Now: app.now()})
			if err != nil {
				return fmt.Errorf("render rooms: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().IntVar(&page, "page", domain.DefaultPage, "Page number, starting at 1")
	cmd.Flags().IntVar(&pageSize, "page-size", domain.DefaultPageSize, "Rooms per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the page as JSON")

	return cmd
}
