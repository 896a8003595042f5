package domain

import (
	"fmt"
	"net/url"
	"strings"
)

const DefaultAPIBaseURL = "http://localhost:3001"

type Preferences struct {
	AgentMode   AgentMode
	DisplayName string
	APIBaseURL  string
}

func DefaultPreferences() Preferences {
	return Preferences{
		AgentMode:  AgentModeParallel,
		APIBaseURL: DefaultAPIBaseURL,
	}
}

// SyncURL derives the websocket sync endpoint from an http(s) API base URL.
func SyncURL(apiBaseURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(apiBaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("api base url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("api base url host is required")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/crdt"
	return parsed.String(), nil
}
