package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/taskmaster-dev/taskmaster/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., TASKMASTER_AUTH__ENDPOINT → auth.endpoint)
const envPrefix = "TASKMASTER_"

// loadConfig loads application configuration from various sources with precedence:
// config file → environment variables → CLI flags → defaults
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	// 1. Load from config file; the per-user default is optional, an
	// explicitly passed path is not.
	path := configPath
	if path == "" {
		if p := defaultConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// 2. Load from environment variables
	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			stripped := strings.TrimPrefix(key, envPrefix)
			nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
			return nested, value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	// 3. Load from CLI flags if provided
	if cmd != nil {
		flagValues := extractAndTransformFlags(cmd)
		if err := k.Load(confmap.Provider(flagValues, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// defaultConfigPath returns the per-user config file location, empty when the
// user config directory cannot be determined.
func defaultConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, "taskmaster", "config.toml")
}

// extractAndTransformFlags transforms CLI flag names to match config structure.
// Includes parent flags. Examples: --auth--endpoint → auth.endpoint, --log-level → log_level
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			key = strings.ReplaceAll(key, "-", "_")
			values[key] = value
		}
	}

	return values
}
