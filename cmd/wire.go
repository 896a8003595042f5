package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/cocode-cli/internal/adapters/httpapi"
	statusadapter "github.com/bnema/cocode-cli/internal/adapters/render/status"
	tomlrepo "github.com/bnema/cocode-cli/internal/adapters/repo/toml"
	filestore "github.com/bnema/cocode-cli/internal/adapters/secrets/file"
	wstransport "github.com/bnema/cocode-cli/internal/adapters/websocket"
	"github.com/bnema/cocode-cli/internal/application"
	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/spf13/viper"
)

type app struct {
	settings     *application.Settings
	configDir    string
	roomRenderer func(domain.RoomPage, statusadapter.RenderOptions) (string, error)
	now          func() time.Time
	clock        ports.Clock
	pollOptions  application.PollOptions
	newTransport func(syncURL string, tokens ports.TokenSource) ports.SyncTransport
}

// endpoints is what a command needs to reach the relay.
type endpoints struct {
	APIURL  string
	SyncURL string
	Prefs   domain.Preferences
}

func wireApp() (*app, error) {
	repo, err := tomlrepo.NewRepository(viper.New())
	if err != nil {
		return nil, fmt.Errorf("wire preferences repository: %w", err)
	}

	configDir, err := tomlrepo.ConfigDir()
	if err != nil {
		return nil, err
	}
	secretStore := filestore.NewStore(filepath.Join(configDir, "secrets"))

	return &app{
		settings:     application.NewSettings(repo, secretStore, os.Getenv("COCODE_TOKEN")),
		configDir:    configDir,
		roomRenderer: statusadapter.RenderRooms,
		now:          time.Now,
		clock:        ports.SystemClock{},
		pollOptions:  application.DefaultPollOptions(),
		newTransport: func(syncURL string, tokens ports.TokenSource) ports.SyncTransport {
			return wstransport.NewTransport(wstransport.Config{URL: syncURL, Tokens: tokens})
		},
	}, nil
}

// resolve loads preferences and applies the environment overrides.
func (a *app) resolve(ctx context.Context) (endpoints, error) {
	prefs, err := a.settings.Preferences(ctx)
	if err != nil {
		return endpoints{}, err
	}

	apiURL := envOrDefault("COCODE_API_URL", prefs.APIBaseURL)
	syncURL := os.Getenv("COCODE_SYNC_URL")
	if syncURL == "" {
		syncURL, err = domain.SyncURL(apiURL)
		if err != nil {
			return endpoints{}, fmt.Errorf("derive sync url: %w", err)
		}
	}
	prefs.DisplayName = envOrDefault("COCODE_NAME", prefs.DisplayName)

	return endpoints{APIURL: apiURL, SyncURL: syncURL, Prefs: prefs}, nil
}

func (a *app) apiClient(ep endpoints) *httpapi.Client {
	return httpapi.NewClient(ep.APIURL, a.settings)
}

func (a *app) sessionManager(ep endpoints) *application.SessionManager {
	return application.NewSessionManager(a.newTransport(ep.SyncURL, a.settings), application.ProviderConfig{
		User:  domain.PresenceUser{Name: displayName(ep.Prefs)},
		Clock: a.clock,
	})
}

func displayName(prefs domain.Preferences) string {
	if prefs.DisplayName != "" {
		return prefs.DisplayName
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anonymous"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
