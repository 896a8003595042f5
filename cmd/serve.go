package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	badgerstore "github.com/bnema/cocode-cli/internal/adapters/store/badger"
	"github.com/bnema/cocode-cli/internal/relay"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"
)

func newServeCmd(app *app) *cobra.Command {
	var (
		listen     string
		dataDir    string
		token      string
		inMemory   bool
		agentDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay: document sync, task API and the demo agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := pslog.Ctx(ctx)

			if dataDir == "" {
				dataDir = filepath.Join(app.configDir, "relay")
			}
			store, err := badgerstore.Open(badgerstore.Config{
				Path:     dataDir,
				InMemory: inMemory,
				Logger:   log.With("component", "badger"),
			})
			if err != nil {
				return fmt.Errorf("open relay store: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Warn("close relay store", "err", err)
				}
			}()

			cfg := relay.DefaultConfig()
			cfg.Token = token
			cfg.AgentDelay = agentDelay

			if inMemory {
				log.Info("relay storage is in memory")
			} else {
				log.Info("relay storage", "path", dataDir)
			}
			return relay.NewServer(cfg, store).ListenAndServe(ctx, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", envOrDefault("COCODE_LISTEN", "127.0.0.1:3001"), "Address to listen on")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Relay database directory (default ~/.cocode/relay)")
	cmd.Flags().StringVar(&token, "token", envOrDefault("COCODE_RELAY_TOKEN", ""), "Bearer token required from clients (empty disables auth)")
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "Keep everything in memory; nothing survives a restart")
	cmd.Flags().DurationVar(&agentDelay, "agent-delay", relay.DefaultConfig().AgentDelay, "How long the demo agent works on a task")

	return cmd
}
