package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version     int               `toml:"version"`
	Preferences preferencesSchema `toml:"preferences"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported preferences schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type preferencesSchema struct {
	AgentMode   string `toml:"agent_mode"`
	DisplayName string `toml:"display_name,omitempty"`
	APIBaseURL  string `toml:"api_base_url"`
}
