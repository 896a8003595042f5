package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
)

// TokenSecretKey is where the API token lives in the secret store.
const TokenSecretKey = "cocode/api_token"

const (
	SettingAgentMode   = "agent_mode"
	SettingDisplayName = "display_name"
	SettingAPIBaseURL  = "api_base_url"
)

var ErrUnknownSetting = errors.New("unknown setting")

// SettingKeys lists the keys accepted by Get and Set.
func SettingKeys() []string {
	return []string{SettingAgentMode, SettingDisplayName, SettingAPIBaseURL}
}

type Settings struct {
	prefs    ports.PreferencesRepository
	secrets  ports.SecretStore
	envToken string
}

var _ ports.TokenSource = (*Settings)(nil)

// NewSettings reads preferences from prefs and the API token from secrets.
// A non-empty envToken takes precedence over the stored token.
func NewSettings(prefs ports.PreferencesRepository, secrets ports.SecretStore, envToken string) *Settings {
	return &Settings{
		prefs:    prefs,
		secrets:  secrets,
		envToken: strings.TrimSpace(envToken),
	}
}

func (s *Settings) Preferences(ctx context.Context) (domain.Preferences, error) {
	prefs, err := s.prefs.Load(ctx)
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	return prefs, nil
}

func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	prefs, err := s.Preferences(ctx)
	if err != nil {
		return "", err
	}

	switch key {
	case SettingAgentMode:
		return string(prefs.AgentMode), nil
	case SettingDisplayName:
		return prefs.DisplayName, nil
	case SettingAPIBaseURL:
		return prefs.APIBaseURL, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownSetting, key)
	}
}

func (s *Settings) Set(ctx context.Context, key, value string) error {
	prefs, err := s.Preferences(ctx)
	if err != nil {
		return err
	}

	switch key {
	case SettingAgentMode:
		mode, err := domain.ParseAgentMode(value)
		if err != nil {
			return err
		}
		prefs.AgentMode = mode
	case SettingDisplayName:
		prefs.DisplayName = strings.TrimSpace(value)
	case SettingAPIBaseURL:
		base := strings.TrimRight(strings.TrimSpace(value), "/")
		if _, err := domain.SyncURL(base); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		prefs.APIBaseURL = base
	default:
		return fmt.Errorf("%w %q", ErrUnknownSetting, key)
	}

	if err := s.prefs.Save(ctx, prefs); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// SetToken stores the API token. An empty token removes it.
func (s *Settings) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		if err := s.secrets.Delete(ctx, TokenSecretKey); err != nil {
			return fmt.Errorf("delete api token: %w", err)
		}
		return nil
	}
	if err := s.secrets.Put(ctx, TokenSecretKey, token); err != nil {
		return fmt.Errorf("store api token: %w", err)
	}
	return nil
}

func (s *Settings) Token(ctx context.Context) (string, error) {
	if s.envToken != "" {
		return s.envToken, nil
	}
	token, err := s.secrets.Get(ctx, TokenSecretKey)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read api token: %w", err)
	}
	return strings.TrimSpace(token), nil
}
