package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configName      = "config"
	configType      = "toml"
	prefsPathKey    = "preferences.path"
	prefsFileMode   = 0o600
	prefsDirMode    = 0o700
	prefsConfigDir  = ".cocode"
	prefsConfigFile = "preferences.toml"
	tempFilePattern = ".preferences-*.toml.tmp"
)

type Repository struct {
	prefsPath string
	mu        *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.PreferencesRepository = (*Repository)(nil)

// ConfigDir is the directory holding config.toml, preferences and secrets.
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, prefsConfigDir), nil
}

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(configDir)
	cfg.SetDefault(prefsPathKey, filepath.Join(configDir, prefsConfigFile))

	err = cfg.ReadInConfig()
	if err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	prefsPath := cfg.GetString(prefsPathKey)
	if prefsPath == "" {
		return nil, errors.New("preferences path is empty")
	}
	prefsPath, err = normalizePath(prefsPath)
	if err != nil {
		return nil, err
	}

	return &Repository{prefsPath: prefsPath, mu: lockForPath(prefsPath)}, nil
}

func (r *Repository) Path() string {
	return r.prefsPath
}

// Load returns the stored preferences. A missing file yields the defaults.
func (r *Repository) Load(ctx context.Context) (domain.Preferences, error) {
	if err := ctx.Err(); err != nil {
		return domain.Preferences{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.Preferences{}, err
	}
	return fromSchema(file.Preferences), nil
}

func (r *Repository) Save(ctx context.Context, prefs domain.Preferences) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}
	file.Preferences = toSchema(prefs)

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *Repository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.prefsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file := fileSchema{}
			file.applyDefaults()
			return file, nil
		}
		return fileSchema{}, fmt.Errorf("read preferences file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode preferences file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve preferences path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (r *Repository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.prefsPath), prefsDirMode); err != nil {
		return fmt.Errorf("create preferences directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode preferences file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.prefsPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp preferences file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp preferences file: %w", err)
	}

	if err := tempFile.Chmod(prefsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp preferences file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp preferences file: %w", err)
	}

	if err := os.Rename(tempName, r.prefsPath); err != nil {
		return fmt.Errorf("replace preferences file: %w", err)
	}

	cleanup = false
	return nil
}

func toSchema(prefs domain.Preferences) preferencesSchema {
	return preferencesSchema{
		AgentMode:   string(prefs.AgentMode),
		DisplayName: prefs.DisplayName,
		APIBaseURL:  prefs.APIBaseURL,
	}
}

// fromSchema fills blank or unreadable fields with the defaults so that a
// hand-edited file never yields an unusable agent mode.
func fromSchema(s preferencesSchema) domain.Preferences {
	prefs := domain.DefaultPreferences()
	if mode, err := domain.ParseAgentMode(s.AgentMode); err == nil {
		prefs.AgentMode = mode
	}
	prefs.DisplayName = s.DisplayName
	if s.APIBaseURL != "" {
		prefs.APIBaseURL = s.APIBaseURL
	}
	return prefs
}
