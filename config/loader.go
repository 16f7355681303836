package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "hitlflow.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/hitlflow"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	// home and workDir override the user's home and the current directory
	home    string
	workDir string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/hitlflow/config.yaml)
// 3. Project config (hitlflow.yaml in current or parent directories)
// 4. Explicit config file, when path is not empty
//
// It returns the merged config and the path of the most specific file
// that was loaded, which is the one worth watching for policy changes.
func (l *Loader) Load(path string) (*Config, string, error) {
	config := DefaultConfig()
	var source string

	// Load user config
	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		if err := mergeFile(config, userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			source = userConfigPath
		} else if !os.IsNotExist(err) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	// Load project config
	if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
		if err := mergeFile(config, projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			source = projectConfigPath
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	// Explicit file must load
	if path != "" {
		if err := mergeFile(config, path); err != nil {
			return nil, "", err
		}
		l.logger.Debug("Loaded config file", slog.String("path", path))
		source = path
	}

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, "", err
	}

	return config, source, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("cannot determine home directory")
	}

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	if err := DefaultConfig().SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// mergeFile overlays the keys a file sets onto config. A file that fails
// to parse leaves config untouched.
func mergeFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	next := *config
	if err := next.Merge(ExpandEnv(data)); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	*config = next
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home := l.home
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for hitlflow.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	dir := l.workDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = cwd
	}

	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
